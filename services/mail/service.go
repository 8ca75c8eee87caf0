package mail

import (
	"context"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"exchangesync/interfaces"
	syncerrors "exchangesync/internal/errors"
	"exchangesync/internal/logger"
	"exchangesync/internal/models"
	"exchangesync/internal/tracing"
	"exchangesync/internal/utils"
	"exchangesync/services/activesync"
)

// Search responses use their own status numbering; 1 is still success.
const searchStatusSuccess = 1

// moveStatusSuccess is the MoveItems per-item success code.
const moveStatusSuccess = 3

// Service covers mail sync, fetch, move, delete and search. Mail is
// native-protocol only: every supported server level carries the Email
// collection.
type Service struct {
	accountID string
	syncKeys  interfaces.SyncKeyManager
	executor  interfaces.CommandExecutor
	publisher interfaces.EventPublisher
	log       logger.Logger
}

func NewService(
	accountID string,
	syncKeys interfaces.SyncKeyManager,
	executor interfaces.CommandExecutor,
	publisher interfaces.EventPublisher,
	log logger.Logger,
) *Service {
	return &Service{
		accountID: accountID,
		syncKeys:  syncKeys,
		executor:  executor,
		publisher: publisher,
		log:       log,
	}
}

// SyncFolder runs one incremental mail sync of a folder and returns the
// parsed additions and changes. Deletions come back with only the server
// id and the Deleted flag set.
func (s *Service) SyncFolder(ctx context.Context, folderID string) ([]models.EmailMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailService.SyncFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)
	tracing.TagCollection(span, folderID)

	syncKey, err := s.syncKeys.Refresh(ctx, folderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	result, err := s.syncKeys.Sync(ctx, folderID, syncKey, interfaces.SyncOptions{
		GetChanges: true,
		WindowSize: activesync.DefaultWindowSize,
		BodyType:   activesync.BodyTypeHTML,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var messages []models.EmailMessage
	for _, item := range append(result.Adds, result.Changes...) {
		msg := parseEmail(item)
		msg.FolderID = folderID
		messages = append(messages, msg)
	}
	for _, serverID := range result.Deletes {
		messages = append(messages, models.EmailMessage{
			ServerID: serverID,
			FolderID: folderID,
			Deleted:  true,
		})
	}

	s.publishSynced(ctx, folderID, result)
	span.LogFields(tracingLog.Int("messages", len(messages)))
	return messages, nil
}

// FetchMessage retrieves one message's full MIME body and parses it.
func (s *Service) FetchMessage(ctx context.Context, folderID, serverID string) (*models.EmailMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailService.FetchMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)
	tracing.TagCollection(span, folderID)
	tracing.TagEntity(span, serverID)

	syncKey, err := s.syncKeys.Refresh(ctx, folderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	result, err := s.syncKeys.Sync(ctx, folderID, syncKey, interfaces.SyncOptions{
		Commands: activesync.SyncFetchCommand(serverID),
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	for _, echo := range result.FetchResponses {
		if echo.ServerID != serverID {
			continue
		}
		if echo.Status != 0 && echo.Status != syncerrors.StatusSuccess {
			err := syncerrors.NewProtocolStatusError("Sync", echo.Status)
			tracing.TraceErr(span, err)
			return nil, err
		}
		msg := parseEmail(interfaces.SyncItem{ServerID: serverID, Data: echo.Data})
		msg.FolderID = folderID
		enrichFromMIME(&msg, echo.Data)
		return &msg, nil
	}

	err = errors.Wrap(syncerrors.ErrItemNotFound, serverID)
	tracing.TraceErr(span, err)
	return nil, err
}

// MoveMessages issues one batched MoveItems request. Responses arrive
// unordered; results are correlated by source id and carry the new
// identity the destination assigned.
func (s *Service) MoveMessages(ctx context.Context, moves []interfaces.MessageMove, destFolderID string) ([]interfaces.MoveResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailService.MoveMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)
	span.LogFields(tracingLog.Int("moves", len(moves)))

	if len(moves) == 0 {
		return nil, nil
	}

	wireMoves := make([]activesync.Move, 0, len(moves))
	for _, m := range moves {
		wireMoves = append(wireMoves, activesync.Move{
			ServerID:       m.ServerID,
			SourceFolderID: m.SourceFolderID,
			DestFolderID:   destFolderID,
		})
	}

	respBody, err := s.executor.ExecuteCommand(ctx, "MoveItems", activesync.MoveItemsRequest(wireMoves))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var results []interfaces.MoveResult
	for _, resp := range activesync.ParseMoveResponse(respBody) {
		result := interfaces.MoveResult{
			SourceID: resp.SrcMsgID,
			Status:   resp.Status,
		}
		if resp.Status == moveStatusSuccess {
			result.NewID = resp.DstMsgID
		}
		results = append(results, result)
	}
	return results, nil
}

// DeleteMessage deletes one message: through Deleted Items by default,
// permanently when hard is set.
func (s *Service) DeleteMessage(ctx context.Context, folderID, serverID string, hard bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailService.DeleteMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)
	tracing.TagCollection(span, folderID)
	tracing.TagEntity(span, serverID)
	span.SetTag("hard", hard)

	syncKey, err := s.syncKeys.Refresh(ctx, folderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	_, err = s.syncKeys.Sync(ctx, folderID, syncKey, interfaces.SyncOptions{
		DeletesAsMoves: utils.Ptr(!hard),
		Commands:       activesync.SyncDeleteCommand(serverID),
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// SearchGAL queries the global address list.
func (s *Service) SearchGAL(ctx context.Context, query string, limit int) ([]interfaces.GALEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailService.SearchGAL")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)

	respBody, err := s.executor.ExecuteCommand(ctx, "Search", activesync.SearchGALRequest(query, limit))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	status, results := activesync.ParseSearchResponse(respBody)
	if status != 0 && status != searchStatusSuccess {
		err := syncerrors.NewProtocolStatusError("Search", status)
		tracing.TraceErr(span, err)
		return nil, err
	}

	var entries []interfaces.GALEntry
	for _, r := range results {
		entry := interfaces.GALEntry{}
		if v, ok := activesync.ExtractTag(r.Properties, "DisplayName"); ok {
			entry.DisplayName = activesync.UnescapeXML(v)
		}
		if v, ok := activesync.ExtractTag(r.Properties, "EmailAddress"); ok {
			entry.Email = activesync.UnescapeXML(v)
		}
		if v, ok := activesync.ExtractTag(r.Properties, "Phone"); ok {
			entry.Phone = activesync.UnescapeXML(v)
		}
		if v, ok := activesync.ExtractTag(r.Properties, "Office"); ok {
			entry.Office = activesync.UnescapeXML(v)
		}
		if entry.DisplayName == "" && entry.Email == "" {
			continue
		}
		entries = append(entries, entry)
	}
	span.LogFields(tracingLog.Int("entries", len(entries)))
	return entries, nil
}

// SearchMailbox runs a full-text search across the mailbox.
func (s *Service) SearchMailbox(ctx context.Context, query string, limit int) ([]models.EmailMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailService.SearchMailbox")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)

	respBody, err := s.executor.ExecuteCommand(ctx, "Search", activesync.SearchMailboxRequest(query, limit))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	status, results := activesync.ParseSearchResponse(respBody)
	if status != 0 && status != searchStatusSuccess {
		err := syncerrors.NewProtocolStatusError("Search", status)
		tracing.TraceErr(span, err)
		return nil, err
	}

	var messages []models.EmailMessage
	for _, r := range results {
		msg := parseEmail(interfaces.SyncItem{ServerID: r.ServerID, Data: r.Properties})
		msg.FolderID = r.FolderID
		if msg.ServerID == "" && msg.Subject == "" {
			continue
		}
		messages = append(messages, msg)
	}
	span.LogFields(tracingLog.Int("messages", len(messages)))
	return messages, nil
}

func (s *Service) publishSynced(ctx context.Context, folderID string, result *interfaces.SyncResult) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishItemSynced(ctx, interfaces.ItemSyncedEvent{
		AccountID:    s.accountID,
		CollectionID: folderID,
		ItemType:     "email",
		Added:        len(result.Adds),
		Changed:      len(result.Changes),
		Deleted:      len(result.Deletes),
		SyncKey:      result.SyncKey,
	})
	if err != nil && s.log != nil {
		s.log.Warnf("publishing mail sync event for account %s: %v", s.accountID, err)
	}
}

const emailTimeFormat = "2006-01-02T15:04:05.000Z"

// parseEmail maps one application-data block to a message.
func parseEmail(item interfaces.SyncItem) models.EmailMessage {
	msg := models.EmailMessage{ServerID: item.ServerID}
	if v, ok := activesync.ExtractTag(item.Data, "From"); ok {
		msg.From = activesync.UnescapeXML(v)
	}
	if v, ok := activesync.ExtractTag(item.Data, "To"); ok {
		msg.To = activesync.UnescapeXML(v)
	}
	if v, ok := activesync.ExtractTag(item.Data, "Subject"); ok {
		msg.Subject = utils.NormalizeEmailSubject(activesync.UnescapeXML(v))
	}
	if v, ok := activesync.ExtractTag(item.Data, "DateReceived"); ok {
		if ts, err := time.Parse(emailTimeFormat, strings.TrimSpace(v)); err == nil {
			msg.Date = &ts
		}
	}
	if v, ok := activesync.ExtractTag(item.Data, "Read"); ok {
		msg.Read = strings.TrimSpace(v) == "1"
	}
	if body, ok := activesync.ExtractTag(item.Data, "Body"); ok {
		data, _ := activesync.ExtractTag(body, "Data")
		bodyType, _ := activesync.ExtractTag(body, "Type")
		switch strings.TrimSpace(bodyType) {
		case "2":
			msg.BodyHTML = activesync.UnescapeXML(data)
		default:
			msg.BodyPlain = activesync.UnescapeXML(data)
		}
	}
	for _, att := range activesync.ExtractAllTags(item.Data, "DisplayName") {
		// DisplayName only occurs inside Attachment blocks for mail items
		msg.Attachments = append(msg.Attachments, activesync.UnescapeXML(att))
	}
	return msg
}

// enrichFromMIME fills body fields from raw MIME data when the fetch
// returned the full transport message instead of parsed elements.
func enrichFromMIME(msg *models.EmailMessage, data string) {
	raw, ok := activesync.ExtractTag(data, "MIMEData")
	if !ok || strings.TrimSpace(raw) == "" {
		return
	}

	envelope, err := enmime.ReadEnvelope(strings.NewReader(activesync.UnescapeXML(raw)))
	if err != nil {
		return
	}

	if msg.BodyPlain == "" {
		msg.BodyPlain = envelope.Text
	}
	if msg.BodyHTML == "" {
		msg.BodyHTML = envelope.HTML
	}
	if msg.From == "" {
		msg.From = envelope.GetHeader("From")
	}
	if msg.To == "" {
		msg.To = envelope.GetHeader("To")
	}
	if msg.Subject == "" {
		msg.Subject = utils.NormalizeEmailSubject(envelope.GetHeader("Subject"))
	}
	for _, att := range envelope.Attachments {
		msg.Attachments = append(msg.Attachments, att.FileName)
	}
}
