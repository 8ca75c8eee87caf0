package notes

import (
	"context"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"exchangesync/interfaces"
	"exchangesync/internal/enum"
	syncerrors "exchangesync/internal/errors"
	"exchangesync/internal/logger"
	"exchangesync/internal/models"
	"exchangesync/internal/tracing"
	"exchangesync/internal/utils"
	"exchangesync/services/activesync"
	"exchangesync/services/ews"
)

// moveStatusSuccess is the MoveItems per-item success code. MoveItems
// numbers its statuses differently from Sync: 3 is the good one.
const moveStatusSuccess = 3

// soapBackend is the slice of the EWS surface the notes path needs.
type soapBackend interface {
	CreateNote(ctx context.Context, subject, body string) (string, error)
	UpdateNote(ctx context.Context, itemID, subject, body string) error
	DeleteItem(ctx context.Context, itemID string, hard bool) error
	MoveItem(ctx context.Context, itemID, distinguishedFolderID string) (string, error)
	FindItems(ctx context.Context, distinguishedFolderID string) ([]ews.Item, error)
}

// Service synchronizes notes. Every public operation dispatches on the
// detected server version: native collection sync when the server
// supports it, the SOAP fallback below the threshold, with an identical
// caller-visible contract either way.
type Service struct {
	accountID string
	detector  interfaces.VersionDetector
	folders   interfaces.FolderResolver
	syncKeys  interfaces.SyncKeyManager
	executor  interfaces.CommandExecutor
	soap      soapBackend
	publisher interfaces.EventPublisher
	log       logger.Logger
}

func NewService(
	accountID string,
	detector interfaces.VersionDetector,
	folders interfaces.FolderResolver,
	syncKeys interfaces.SyncKeyManager,
	executor interfaces.CommandExecutor,
	soap soapBackend,
	publisher interfaces.EventPublisher,
	log logger.Logger,
) *Service {
	return &Service{
		accountID: accountID,
		detector:  detector,
		folders:   folders,
		syncKeys:  syncKeys,
		executor:  executor,
		soap:      soap,
		publisher: publisher,
		log:       log,
	}
}

// useNative decides the protocol path for this connection. Detection
// failure falls back to the conservative version, which lands on the
// SOAP path.
func (s *Service) useNative(ctx context.Context) bool {
	if !s.detector.IsDetected() {
		if _, err := s.detector.Detect(ctx); err != nil && s.log != nil {
			s.log.Warnf("version detection failed for account %s, assuming %s: %v", s.accountID, s.detector.Version(), err)
		}
	}
	return activesync.SupportsNativeItemSync(s.detector.Version())
}

// fallback hands out the SOAP backend for legacy servers. With none wired
// the operation has no remaining path and surfaces a capability error.
func (s *Service) fallback() (soapBackend, error) {
	if s.soap == nil {
		return nil, errors.Wrap(syncerrors.ErrCapabilityUnsupported, "server version requires SOAP and no backend is configured")
	}
	return s.soap, nil
}

// CreateNote stores a note and returns the server-assigned id.
func (s *Service) CreateNote(ctx context.Context, subject, body string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.CreateNote")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)

	if !s.useNative(ctx) {
		soap, err := s.fallback()
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		return soap.CreateNote(ctx, subject, body)
	}

	folderID, err := s.folders.ResolveWellKnown(ctx, enum.FolderNotes)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	syncKey, err := s.syncKeys.Refresh(ctx, folderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	clientID := utils.GenerateClientID()
	commands := activesync.SyncAddCommand(clientID, activesync.NoteApplicationData(subject, body, nil))

	result, err := s.syncKeys.Sync(ctx, folderID, syncKey, interfaces.SyncOptions{Commands: commands})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	serverID, err := serverIDForClient(result.AddResponses, clientID, "Sync")
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	span.LogFields(tracingLog.String("server_id", serverID))
	return serverID, nil
}

// UpdateNote replaces the subject and body of an existing note.
func (s *Service) UpdateNote(ctx context.Context, serverID, subject, body string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.UpdateNote")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)
	tracing.TagEntity(span, serverID)

	if !s.useNative(ctx) {
		soap, err := s.fallback()
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		return soap.UpdateNote(ctx, serverID, subject, body)
	}

	folderID, err := s.folders.ResolveWellKnown(ctx, enum.FolderNotes)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	syncKey, err := s.syncKeys.Refresh(ctx, folderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	commands := activesync.SyncChangeCommand(serverID, activesync.NoteApplicationData(subject, body, nil))
	result, err := s.syncKeys.Sync(ctx, folderID, syncKey, interfaces.SyncOptions{Commands: commands})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := commandEchoError(result.ChangeResponses, serverID, "Sync"); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// DeleteNote moves the note to Deleted Items, recoverably.
func (s *Service) DeleteNote(ctx context.Context, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.DeleteNote")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)
	tracing.TagEntity(span, serverID)

	if !s.useNative(ctx) {
		soap, err := s.fallback()
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		return soap.DeleteItem(ctx, serverID, false)
	}
	return s.deleteFromCollection(ctx, span, enum.FolderNotes, serverID, true)
}

// DeleteNotePermanently removes the note from Deleted Items without
// recovery. A different collection and a different flag than DeleteNote,
// not a boolean variant of it.
func (s *Service) DeleteNotePermanently(ctx context.Context, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.DeleteNotePermanently")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)
	tracing.TagEntity(span, serverID)

	if !s.useNative(ctx) {
		soap, err := s.fallback()
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		return soap.DeleteItem(ctx, serverID, true)
	}
	return s.deleteFromCollection(ctx, span, enum.FolderDeletedItems, serverID, false)
}

func (s *Service) deleteFromCollection(ctx context.Context, span opentracing.Span, folderType enum.FolderType, serverID string, asMove bool) error {
	folderID, err := s.folders.ResolveWellKnown(ctx, folderType)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	syncKey, err := s.syncKeys.Refresh(ctx, folderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	_, err = s.syncKeys.Sync(ctx, folderID, syncKey, interfaces.SyncOptions{
		DeletesAsMoves: utils.Ptr(asMove),
		Commands:       activesync.SyncDeleteCommand(serverID),
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// RestoreNote moves a note from Deleted Items back to Notes. The server
// assigns a new identity on move; the returned id replaces the input id.
func (s *Service) RestoreNote(ctx context.Context, serverID string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.RestoreNote")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)
	tracing.TagEntity(span, serverID)

	if !s.useNative(ctx) {
		soap, err := s.fallback()
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		return soap.MoveItem(ctx, serverID, ews.FolderNotes)
	}

	deletedID, err := s.folders.ResolveWellKnown(ctx, enum.FolderDeletedItems)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	notesID, err := s.folders.ResolveWellKnown(ctx, enum.FolderNotes)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	body := activesync.MoveItemsRequest([]activesync.Move{{
		ServerID:       serverID,
		SourceFolderID: deletedID,
		DestFolderID:   notesID,
	}})
	respBody, err := s.executor.ExecuteCommand(ctx, "MoveItems", body)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	for _, resp := range activesync.ParseMoveResponse(respBody) {
		if resp.SrcMsgID != serverID {
			continue
		}
		if resp.Status != moveStatusSuccess {
			err := syncerrors.NewProtocolStatusError("MoveItems", resp.Status)
			tracing.TraceErr(span, err)
			return "", err
		}
		if resp.DstMsgID == "" {
			err := syncerrors.MissingField("DstMsgId")
			tracing.TraceErr(span, err)
			return "", err
		}
		span.LogFields(tracingLog.String("new_server_id", resp.DstMsgID))
		return resp.DstMsgID, nil
	}

	err = syncerrors.MissingField("Response")
	tracing.TraceErr(span, err)
	return "", err
}

// SyncNotes pulls additions from the Notes and Deleted Items collections
// and merges them, marking the latter soft-deleted.
func (s *Service) SyncNotes(ctx context.Context) ([]models.Note, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NoteService.SyncNotes")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)

	if !s.useNative(ctx) {
		return s.syncNotesSOAP(ctx, span)
	}

	if _, err := s.folders.SyncHierarchy(ctx); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var notes []models.Note

	live, err := s.syncCollection(ctx, enum.FolderNotes, false)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	notes = append(notes, live...)

	deleted, err := s.syncCollection(ctx, enum.FolderDeletedItems, true)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	notes = append(notes, deleted...)

	span.LogFields(tracingLog.Int("notes", len(notes)))
	return notes, nil
}

// syncCollection runs one incremental sync of a collection and maps its
// additions to notes.
func (s *Service) syncCollection(ctx context.Context, folderType enum.FolderType, softDeleted bool) ([]models.Note, error) {
	folderID, err := s.folders.ResolveWellKnown(ctx, folderType)
	if err != nil {
		return nil, err
	}
	syncKey, err := s.syncKeys.Refresh(ctx, folderID)
	if err != nil {
		return nil, err
	}

	result, err := s.syncKeys.Sync(ctx, folderID, syncKey, interfaces.SyncOptions{
		GetChanges: true,
		WindowSize: activesync.DefaultWindowSize,
		BodyType:   activesync.BodyTypePlainText,
	})
	if err != nil {
		return nil, err
	}

	var notes []models.Note
	for _, item := range append(result.Adds, result.Changes...) {
		// Deleted Items holds every item class; mail carries envelope
		// elements notes never do, skip it like the SOAP path does.
		if softDeleted && !isNoteData(item.Data) {
			continue
		}
		note := parseNote(item)
		note.Deleted = softDeleted
		notes = append(notes, note)
	}

	s.publishSynced(ctx, folderID, result)
	return notes, nil
}

// isNoteData reports whether an application-data block is a note rather
// than a message sharing the same folder.
func isNoteData(data string) bool {
	if _, ok := activesync.ExtractTag(data, "From"); ok {
		return false
	}
	if _, ok := activesync.ExtractTag(data, "To"); ok {
		return false
	}
	return true
}

// syncNotesSOAP is the legacy-server rendition of SyncNotes.
func (s *Service) syncNotesSOAP(ctx context.Context, span opentracing.Span) ([]models.Note, error) {
	soap, err := s.fallback()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var notes []models.Note

	live, err := soap.FindItems(ctx, ews.FolderNotes)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	for _, item := range live {
		notes = append(notes, noteFromEWS(item, false))
	}

	deleted, err := soap.FindItems(ctx, ews.FolderDeletedItems)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	for _, item := range deleted {
		// Deleted Items holds every item class; keep only sticky notes.
		if !strings.HasPrefix(item.ItemClass, "IPM.StickyNote") {
			continue
		}
		notes = append(notes, noteFromEWS(item, true))
	}

	span.LogFields(tracingLog.Int("notes", len(notes)))
	return notes, nil
}

func (s *Service) publishSynced(ctx context.Context, folderID string, result *interfaces.SyncResult) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishItemSynced(ctx, interfaces.ItemSyncedEvent{
		AccountID:    s.accountID,
		CollectionID: folderID,
		ItemType:     "note",
		Added:        len(result.Adds),
		Changed:      len(result.Changes),
		Deleted:      len(result.Deletes),
		SyncKey:      result.SyncKey,
	})
	if err != nil && s.log != nil {
		s.log.Warnf("publishing note sync event for account %s: %v", s.accountID, err)
	}
}

// parseNote maps one Add/Change block's application data to a note.
func parseNote(item interfaces.SyncItem) models.Note {
	note := models.Note{ServerID: item.ServerID}
	if v, ok := activesync.ExtractTag(item.Data, "Subject"); ok {
		note.Subject = activesync.UnescapeXML(v)
	}
	if body, ok := activesync.ExtractTag(item.Data, "Body"); ok {
		if data, ok := activesync.ExtractTag(body, "Data"); ok {
			note.Body = activesync.UnescapeXML(data)
		}
	}
	for _, c := range activesync.ExtractAllTags(item.Data, "Category") {
		note.Categories = append(note.Categories, activesync.UnescapeXML(c))
	}
	if v, ok := activesync.ExtractTag(item.Data, "LastModifiedDate"); ok {
		if ts, err := time.Parse("2006-01-02T15:04:05.000Z", strings.TrimSpace(v)); err == nil {
			note.LastModified = &ts
		}
	}
	return note
}

func noteFromEWS(item ews.Item, deleted bool) models.Note {
	note := models.Note{
		ServerID: item.ItemID.ID,
		Subject:  item.Subject,
		Body:     item.Body,
		Deleted:  deleted,
	}
	if ts, err := time.Parse("2006-01-02T15:04:05Z", item.LastModifiedTime); err == nil {
		note.LastModified = &ts
	}
	return note
}

// serverIDForClient matches an Add echo back to its client id and checks
// its status.
func serverIDForClient(echoes []interfaces.SyncItem, clientID, command string) (string, error) {
	for _, echo := range echoes {
		if echo.ClientID != clientID {
			continue
		}
		if echo.Status != 0 && echo.Status != syncerrors.StatusSuccess {
			return "", syncerrors.NewProtocolStatusError(command, echo.Status)
		}
		if echo.ServerID == "" {
			return "", syncerrors.MissingField("ServerId")
		}
		return echo.ServerID, nil
	}
	return "", errors.Wrap(syncerrors.ErrMissingResponseField, "no Add response for client id")
}

// commandEchoError checks the status of a Change/Fetch echo when the
// server sent one; absence of an echo is success.
func commandEchoError(echoes []interfaces.SyncItem, serverID, command string) error {
	for _, echo := range echoes {
		if echo.ServerID != serverID {
			continue
		}
		if echo.Status != 0 && echo.Status != syncerrors.StatusSuccess {
			return syncerrors.NewProtocolStatusError(command, echo.Status)
		}
	}
	return nil
}
