package tasks

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

// soapBackend is the slice of the EWS surface the tasks path needs.
type soapBackend interface {
	CreateTask(ctx context.Context, subject, body string, dueDate *time.Time) (string, error)
	CompleteTask(ctx context.Context, itemID string) error
	DeleteItem(ctx context.Context, itemID string, hard bool) error
	FindItems(ctx context.Context, distinguishedFolderID string) ([]ews.Item, error)
}

// Service synchronizes tasks, dispatching between the native collection
// sync and the SOAP fallback on the detected server version.
type Service struct {
	accountID string
	detector  interfaces.VersionDetector
	folders   interfaces.FolderResolver
	syncKeys  interfaces.SyncKeyManager
	soap      soapBackend
	publisher interfaces.EventPublisher
	log       logger.Logger
}

func NewService(
	accountID string,
	detector interfaces.VersionDetector,
	folders interfaces.FolderResolver,
	syncKeys interfaces.SyncKeyManager,
	soap soapBackend,
	publisher interfaces.EventPublisher,
	log logger.Logger,
) *Service {
	return &Service{
		accountID: accountID,
		detector:  detector,
		folders:   folders,
		syncKeys:  syncKeys,
		soap:      soap,
		publisher: publisher,
		log:       log,
	}
}

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

// CreateTask stores a task and returns the server-assigned id. A nil due
// date never reaches the wire.
func (s *Service) CreateTask(ctx context.Context, subject, body string, dueDate *time.Time) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TaskService.CreateTask")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)

	if !s.useNative(ctx) {
		soap, err := s.fallback()
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		return soap.CreateTask(ctx, subject, body, dueDate)
	}

	folderID, err := s.folders.ResolveWellKnown(ctx, enum.FolderTasks)
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
	commands := activesync.SyncAddCommand(clientID, activesync.TaskApplicationData(subject, body, dueDate, false))

	result, err := s.syncKeys.Sync(ctx, folderID, syncKey, interfaces.SyncOptions{Commands: commands})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	for _, echo := range result.AddResponses {
		if echo.ClientID != clientID {
			continue
		}
		if echo.Status != 0 && echo.Status != syncerrors.StatusSuccess {
			err := syncerrors.NewProtocolStatusError("Sync", echo.Status)
			tracing.TraceErr(span, err)
			return "", err
		}
		if echo.ServerID == "" {
			err := syncerrors.MissingField("ServerId")
			tracing.TraceErr(span, err)
			return "", err
		}
		span.LogFields(tracingLog.String("server_id", echo.ServerID))
		return echo.ServerID, nil
	}

	err = errors.Wrap(syncerrors.ErrMissingResponseField, "no Add response for client id")
	tracing.TraceErr(span, err)
	return "", err
}

// CompleteTask marks an existing task completed.
func (s *Service) CompleteTask(ctx context.Context, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TaskService.CompleteTask")
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
		return soap.CompleteTask(ctx, serverID)
	}

	folderID, err := s.folders.ResolveWellKnown(ctx, enum.FolderTasks)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	syncKey, err := s.syncKeys.Refresh(ctx, folderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	commands := activesync.SyncChangeCommand(serverID, activesync.TaskApplicationData("", "", nil, true))
	result, err := s.syncKeys.Sync(ctx, folderID, syncKey, interfaces.SyncOptions{Commands: commands})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	for _, echo := range result.ChangeResponses {
		if echo.ServerID == serverID && echo.Status != 0 && echo.Status != syncerrors.StatusSuccess {
			err := syncerrors.NewProtocolStatusError("Sync", echo.Status)
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}

// DeleteTask moves the task to Deleted Items.
func (s *Service) DeleteTask(ctx context.Context, serverID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TaskService.DeleteTask")
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

	folderID, err := s.folders.ResolveWellKnown(ctx, enum.FolderTasks)
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
		DeletesAsMoves: utils.Ptr(true),
		Commands:       activesync.SyncDeleteCommand(serverID),
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// SyncTasks pulls additions and changes from the Tasks collection.
func (s *Service) SyncTasks(ctx context.Context) ([]models.Task, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TaskService.SyncTasks")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)

	if !s.useNative(ctx) {
		soap, err := s.fallback()
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		items, err := soap.FindItems(ctx, ews.FolderTasks)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		var tasks []models.Task
		for _, item := range items {
			tasks = append(tasks, taskFromEWS(item))
		}
		span.LogFields(tracingLog.Int("tasks", len(tasks)))
		return tasks, nil
	}

	folderID, err := s.folders.ResolveWellKnown(ctx, enum.FolderTasks)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	syncKey, err := s.syncKeys.Refresh(ctx, folderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	result, err := s.syncKeys.Sync(ctx, folderID, syncKey, interfaces.SyncOptions{
		GetChanges: true,
		WindowSize: activesync.DefaultWindowSize,
		BodyType:   activesync.BodyTypePlainText,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var tasks []models.Task
	for _, item := range append(result.Adds, result.Changes...) {
		tasks = append(tasks, parseTask(item))
	}

	s.publishSynced(ctx, folderID, result)
	span.LogFields(tracingLog.Int("tasks", len(tasks)))
	return tasks, nil
}

func (s *Service) publishSynced(ctx context.Context, folderID string, result *interfaces.SyncResult) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishItemSynced(ctx, interfaces.ItemSyncedEvent{
		AccountID:    s.accountID,
		CollectionID: folderID,
		ItemType:     "task",
		Added:        len(result.Adds),
		Changed:      len(result.Changes),
		Deleted:      len(result.Deletes),
		SyncKey:      result.SyncKey,
	})
	if err != nil && s.log != nil {
		s.log.Warnf("publishing task sync event for account %s: %v", s.accountID, err)
	}
}

// parseTask maps one Add/Change block's application data to a task.
func parseTask(item interfaces.SyncItem) models.Task {
	task := models.Task{ServerID: item.ServerID}
	if v, ok := activesync.ExtractTag(item.Data, "Subject"); ok {
		task.Subject = activesync.UnescapeXML(v)
	}
	if body, ok := activesync.ExtractTag(item.Data, "Body"); ok {
		if data, ok := activesync.ExtractTag(body, "Data"); ok {
			task.Body = activesync.UnescapeXML(data)
		}
	}
	for _, c := range activesync.ExtractAllTags(item.Data, "Category") {
		task.Categories = append(task.Categories, activesync.UnescapeXML(c))
	}
	if v, ok := activesync.ExtractTag(item.Data, "UtcDueDate"); ok {
		if ts, err := time.Parse("2006-01-02T15:04:05.000Z", strings.TrimSpace(v)); err == nil {
			task.DueDate = &ts
		}
	}
	if v, ok := activesync.ExtractTag(item.Data, "Complete"); ok {
		task.Complete = strings.TrimSpace(v) == "1"
	}
	return task
}

func taskFromEWS(item ews.Item) models.Task {
	task := models.Task{
		ServerID: item.ItemID.ID,
		Subject:  item.Subject,
		Body:     item.Body,
		Complete: item.IsComplete || item.PercentComplete == 100,
	}
	if ts, err := time.Parse("2006-01-02T15:04:05Z", item.DueDate); err == nil {
		task.DueDate = &ts
	}
	if ts, err := time.Parse("2006-01-02T15:04:05Z", item.LastModifiedTime); err == nil {
		task.LastModified = &ts
	}
	return task
}
