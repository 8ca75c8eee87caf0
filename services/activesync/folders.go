package activesync

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"exchangesync/interfaces"
	syncerrors "exchangesync/internal/errors"
	"exchangesync/internal/enum"
	"exchangesync/internal/logger"
	"exchangesync/internal/models"
	"exchangesync/internal/tracing"
	"exchangesync/internal/utils"
)

// hierarchyCollectionID is the pseudo collection the folder hierarchy's
// own sync key is checkpointed under.
const hierarchyCollectionID = "__folder_hierarchy__"

// FolderSync status code for an expired hierarchy key.
const folderSyncStatusInvalidKey = 9

// FolderService keeps the folder forest current and resolves well-known
// folders by semantic type.
type FolderService struct {
	executor   interfaces.CommandExecutor
	folderRepo interfaces.FolderRepository
	syncRepo   interfaces.FolderSyncRepository
	publisher  interfaces.EventPublisher
	accountID  string
	log        logger.Logger

	mu           sync.Mutex
	hierarchyKey string
}

func NewFolderService(accountID string, executor interfaces.CommandExecutor, folderRepo interfaces.FolderRepository, syncRepo interfaces.FolderSyncRepository, publisher interfaces.EventPublisher, log logger.Logger) *FolderService {
	return &FolderService{
		executor:   executor,
		folderRepo: folderRepo,
		syncRepo:   syncRepo,
		publisher:  publisher,
		accountID:  accountID,
		log:        log,
	}
}

// SyncHierarchy runs one FolderSync exchange and returns the updated
// folder forest. The hierarchy key advances only on a confirmed success.
func (s *FolderService) SyncHierarchy(ctx context.Context) ([]models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderService.SyncHierarchy")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)

	key, err := s.currentHierarchyKey(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.LogFields(tracingLog.String("hierarchy_key", key))

	respBody, err := s.executor.ExecuteCommand(ctx, "FolderSync", FolderSyncRequest(key))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	parsed := ParseFolderSync(respBody)
	if parsed.Status == folderSyncStatusInvalidKey {
		s.resetHierarchyKey(ctx)
		err := syncerrors.NewProtocolStatusError("FolderSync", syncerrors.StatusInvalidSyncKey)
		tracing.TraceErr(span, err)
		return nil, err
	}
	if parsed.Status != syncerrors.StatusSuccess {
		err := syncerrors.NewProtocolStatusError("FolderSync", parsed.Status)
		tracing.TraceErr(span, err)
		return nil, err
	}
	if parsed.SyncKey == "" {
		err := syncerrors.MissingField("SyncKey")
		tracing.TraceErr(span, err)
		return nil, err
	}

	folders := make([]models.Folder, 0, len(parsed.Added))
	for _, info := range parsed.Added {
		folders = append(folders, models.Folder{
			AccountID:   s.accountID,
			ServerID:    info.ServerID,
			ParentID:    info.ParentID,
			DisplayName: info.DisplayName,
			Type:        enum.FolderType(info.Type),
		})
	}

	if s.folderRepo != nil && len(folders) > 0 {
		if err := s.folderRepo.UpsertFolders(ctx, s.accountID, folders); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}

	// drop folders the server removed, or their stale collection ids
	// keep resolving forever
	if s.folderRepo != nil && len(parsed.Deleted) > 0 {
		if err := s.folderRepo.DeleteFolders(ctx, s.accountID, parsed.Deleted); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}

	// checkpoint only after the response is fully applied
	if err := s.advanceHierarchyKey(ctx, parsed.SyncKey); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	span.LogFields(tracingLog.Int("folders", len(folders)))

	if s.publisher != nil {
		err := s.publisher.PublishFolderSynced(ctx, interfaces.FolderSyncedEvent{
			AccountID: s.accountID,
			Folders:   len(folders),
			SyncKey:   parsed.SyncKey,
		})
		if err != nil && s.log != nil {
			s.log.Warnf("publishing folder sync event for account %s: %v", s.accountID, err)
		}
	}

	if s.folderRepo != nil {
		return s.folderRepo.GetFolders(ctx, s.accountID)
	}
	return folders, nil
}

// ResolveWellKnown returns the server id of the folder with the given
// semantic type, syncing the hierarchy once when the local forest does
// not know it yet.
func (s *FolderService) ResolveWellKnown(ctx context.Context, folderType enum.FolderType) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderService.ResolveWellKnown")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.accountID)
	span.SetTag("folder.type", folderType.String())

	if s.folderRepo != nil {
		folder, err := s.folderRepo.GetFolderByType(ctx, s.accountID, folderType)
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		if folder != nil {
			return folder.ServerID, nil
		}
	}

	folders, err := s.SyncHierarchy(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	for _, folder := range folders {
		if folder.Type == folderType {
			return folder.ServerID, nil
		}
	}

	err = errors.Wrap(syncerrors.ErrFolderNotFound, folderType.String())
	tracing.TraceErr(span, err)
	return "", err
}

func (s *FolderService) currentHierarchyKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	key := s.hierarchyKey
	s.mu.Unlock()
	if key != "" {
		return key, nil
	}

	if s.syncRepo != nil {
		state, err := s.syncRepo.GetSyncState(ctx, s.accountID, hierarchyCollectionID)
		if err != nil {
			return "", err
		}
		if state != nil && state.SyncKey != "" {
			s.mu.Lock()
			s.hierarchyKey = state.SyncKey
			s.mu.Unlock()
			return state.SyncKey, nil
		}
	}
	return ZeroSyncKey, nil
}

func (s *FolderService) advanceHierarchyKey(ctx context.Context, newKey string) error {
	s.mu.Lock()
	s.hierarchyKey = newKey
	s.mu.Unlock()

	if s.syncRepo == nil {
		return nil
	}
	return s.syncRepo.SaveSyncState(ctx, &models.FolderSyncState{
		AccountID: s.accountID,
		FolderID:  hierarchyCollectionID,
		SyncKey:   newKey,
		LastSync:  utils.Now(),
	})
}

func (s *FolderService) resetHierarchyKey(ctx context.Context) {
	s.mu.Lock()
	s.hierarchyKey = ZeroSyncKey
	s.mu.Unlock()

	if s.syncRepo != nil {
		_ = s.syncRepo.SaveSyncState(ctx, &models.FolderSyncState{
			AccountID: s.accountID,
			FolderID:  hierarchyCollectionID,
			SyncKey:   ZeroSyncKey,
			LastSync:  utils.Now(),
		})
	}
}
