package ews

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"exchangesync/interfaces"
	syncerrors "exchangesync/internal/errors"
	"exchangesync/internal/logger"
	"exchangesync/internal/tracing"
)

// Service speaks the Exchange Web Services SOAP surface for servers too
// old for native item sync. Callers get the same contract as the native
// path: opaque server ids in, typed errors out.
type Service struct {
	executor      interfaces.SOAPExecutor
	schemaVersion string
	log           logger.Logger
}

func NewService(executor interfaces.SOAPExecutor, legacy bool, log logger.Logger) *Service {
	schemaVersion := SchemaVersionModern
	if legacy {
		schemaVersion = SchemaVersionLegacy
	}
	return &Service{executor: executor, schemaVersion: schemaVersion, log: log}
}

// ItemID is the identity pair EWS assigns to every item.
type ItemID struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr"`
}

// Item is the subset of item fields the entity services consume.
type Item struct {
	ItemID           ItemID `xml:"ItemId"`
	ItemClass        string `xml:"ItemClass"`
	Subject          string `xml:"Subject"`
	Body             string `xml:"Body"`
	DueDate          string `xml:"DueDate"`
	PercentComplete  int    `xml:"PercentComplete"`
	IsComplete       bool   `xml:"IsComplete"`
	LastModifiedTime string `xml:"LastModifiedTime"`
}

// responseMessage is the common ResponseClass/ResponseCode wrapper every
// operation response repeats.
type responseMessage struct {
	ResponseClass string `xml:"ResponseClass,attr"`
	ResponseCode  string `xml:"ResponseCode"`
	MessageText   string `xml:"MessageText"`
	Messages      []Item `xml:"Items>Message"`
	Tasks         []Item `xml:"Items>Task"`
	RootMessages  []Item `xml:"RootFolder>Items>Message"`
	RootTasks     []Item `xml:"RootFolder>Items>Task"`
}

func (r responseMessage) items() []Item {
	out := make([]Item, 0, len(r.Messages)+len(r.Tasks)+len(r.RootMessages)+len(r.RootTasks))
	out = append(out, r.Messages...)
	out = append(out, r.Tasks...)
	out = append(out, r.RootMessages...)
	out = append(out, r.RootTasks...)
	return out
}

type createItemResponse struct {
	Messages []responseMessage `xml:"Body>CreateItemResponse>ResponseMessages>CreateItemResponseMessage"`
}

type updateItemResponse struct {
	Messages []responseMessage `xml:"Body>UpdateItemResponse>ResponseMessages>UpdateItemResponseMessage"`
}

type deleteItemResponse struct {
	Messages []responseMessage `xml:"Body>DeleteItemResponse>ResponseMessages>DeleteItemResponseMessage"`
}

type moveItemResponse struct {
	Messages []responseMessage `xml:"Body>MoveItemResponse>ResponseMessages>MoveItemResponseMessage"`
}

type findItemResponse struct {
	Messages []responseMessage `xml:"Body>FindItemResponse>ResponseMessages>FindItemResponseMessage"`
}

type getItemResponse struct {
	Messages []responseMessage `xml:"Body>GetItemResponse>ResponseMessages>GetItemResponseMessage"`
}

// CreateNote saves a sticky note into the Notes folder and returns the
// assigned item id.
func (s *Service) CreateNote(ctx context.Context, subject, body string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EWSService.CreateNote")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	msg, err := s.call(ctx, span, ActionCreateItem, CreateNoteRequest(subject, body), func(raw string) ([]responseMessage, error) {
		var resp createItemResponse
		return resp.Messages, xml.Unmarshal([]byte(raw), &resp)
	})
	if err != nil {
		return "", err
	}
	return firstItemID(msg)
}

// CreateTask saves a task, omitting the due date entirely when nil.
func (s *Service) CreateTask(ctx context.Context, subject, body string, dueDate *time.Time) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EWSService.CreateTask")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	msg, err := s.call(ctx, span, ActionCreateItem, CreateTaskRequest(subject, body, dueDate), func(raw string) ([]responseMessage, error) {
		var resp createItemResponse
		return resp.Messages, xml.Unmarshal([]byte(raw), &resp)
	})
	if err != nil {
		return "", err
	}
	return firstItemID(msg)
}

// UpdateNote replaces a note's subject and body. The current change key
// is resolved first so the overwrite lands on the live revision.
func (s *Service) UpdateNote(ctx context.Context, itemID, subject, body string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EWSService.UpdateNote")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, itemID)

	changeKey, err := s.resolveChangeKey(ctx, itemID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	_, err = s.call(ctx, span, ActionUpdateItem, UpdateNoteRequest(itemID, changeKey, subject, body), func(raw string) ([]responseMessage, error) {
		var resp updateItemResponse
		return resp.Messages, xml.Unmarshal([]byte(raw), &resp)
	})
	return err
}

// CompleteTask marks a task 100% complete.
func (s *Service) CompleteTask(ctx context.Context, itemID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EWSService.CompleteTask")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, itemID)

	changeKey, err := s.resolveChangeKey(ctx, itemID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	_, err = s.call(ctx, span, ActionUpdateItem, CompleteTaskRequest(itemID, changeKey, time.Now()), func(raw string) ([]responseMessage, error) {
		var resp updateItemResponse
		return resp.Messages, xml.Unmarshal([]byte(raw), &resp)
	})
	return err
}

// DeleteItem removes an item, recoverably unless hard is set.
func (s *Service) DeleteItem(ctx context.Context, itemID string, hard bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EWSService.DeleteItem")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, itemID)
	span.SetTag("hard", hard)

	_, err := s.call(ctx, span, ActionDeleteItem, DeleteItemRequest(itemID, hard), func(raw string) ([]responseMessage, error) {
		var resp deleteItemResponse
		return resp.Messages, xml.Unmarshal([]byte(raw), &resp)
	})
	return err
}

// MoveItem relocates an item into a distinguished folder and returns the
// new id the destination assigned. The old id is dead after this call.
func (s *Service) MoveItem(ctx context.Context, itemID, distinguishedFolderID string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EWSService.MoveItem")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, itemID)
	span.SetTag("destination", distinguishedFolderID)

	msg, err := s.call(ctx, span, ActionMoveItem, MoveItemRequest(itemID, distinguishedFolderID), func(raw string) ([]responseMessage, error) {
		var resp moveItemResponse
		return resp.Messages, xml.Unmarshal([]byte(raw), &resp)
	})
	if err != nil {
		return "", err
	}
	return firstItemID(msg)
}

// FindItems lists the items in a distinguished folder.
func (s *Service) FindItems(ctx context.Context, distinguishedFolderID string) ([]Item, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EWSService.FindItems")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder", distinguishedFolderID)

	msg, err := s.call(ctx, span, ActionFindItem, FindItemRequest(distinguishedFolderID), func(raw string) ([]responseMessage, error) {
		var resp findItemResponse
		return resp.Messages, xml.Unmarshal([]byte(raw), &resp)
	})
	if err != nil {
		return nil, err
	}
	items := msg.items()
	span.LogFields(tracingLog.Int("items", len(items)))
	return items, nil
}

// resolveChangeKey fetches the live change key for an item id.
func (s *Service) resolveChangeKey(ctx context.Context, itemID string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EWSService.resolveChangeKey")
	defer span.Finish()

	msg, err := s.call(ctx, span, ActionGetItem, GetItemRequest(itemID), func(raw string) ([]responseMessage, error) {
		var resp getItemResponse
		return resp.Messages, xml.Unmarshal([]byte(raw), &resp)
	})
	if err != nil {
		return "", err
	}
	items := msg.items()
	if len(items) == 0 || items[0].ItemID.ChangeKey == "" {
		return "", syncerrors.MissingField("ChangeKey")
	}
	return items[0].ItemID.ChangeKey, nil
}

// call executes one SOAP round trip and normalizes the response wrapper.
func (s *Service) call(ctx context.Context, span opentracing.Span, action, body string, parse func(string) ([]responseMessage, error)) (responseMessage, error) {
	envelope := Envelope(s.schemaVersion, body)

	raw, err := s.executor.ExecuteSOAP(ctx, action, envelope)
	if err != nil {
		tracing.TraceErr(span, err)
		return responseMessage{}, err
	}

	messages, err := parse(raw)
	if err != nil {
		err = errors.Wrap(syncerrors.ErrServerRejected, "malformed SOAP response: "+err.Error())
		tracing.TraceErr(span, err)
		return responseMessage{}, err
	}
	if len(messages) == 0 {
		err := errors.Wrap(syncerrors.ErrServerRejected, "SOAP response carried no response message")
		tracing.TraceErr(span, err)
		return responseMessage{}, err
	}

	msg := messages[0]
	if msg.ResponseClass != "Success" {
		err := responseError(msg)
		tracing.TraceErr(span, err)
		return responseMessage{}, err
	}
	return msg, nil
}

// responseError maps an EWS response code to the shared error taxonomy.
func responseError(msg responseMessage) error {
	switch msg.ResponseCode {
	case "ErrorItemNotFound", "ErrorItemNotFoundInStore":
		return errors.Wrap(syncerrors.ErrItemNotFound, msg.ResponseCode)
	case "ErrorQuotaExceeded":
		return errors.Wrap(syncerrors.ErrSizeExceeded, msg.ResponseCode)
	}
	if msg.MessageText != "" {
		return errors.Wrapf(syncerrors.ErrServerRejected, "%s: %s", msg.ResponseCode, msg.MessageText)
	}
	return errors.Wrap(syncerrors.ErrServerRejected, msg.ResponseCode)
}

func firstItemID(msg responseMessage) (string, error) {
	items := msg.items()
	if len(items) == 0 || items[0].ItemID.ID == "" {
		return "", syncerrors.MissingField("ItemId")
	}
	return items[0].ItemID.ID, nil
}
