package activesync

import (
	"context"
	"strings"
	"sync"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"

	"exchangesync/interfaces"
	syncerrors "exchangesync/internal/errors"
	"exchangesync/internal/logger"
	"exchangesync/internal/models"
	"exchangesync/internal/tracing"
	"exchangesync/internal/utils"
)

// SyncKeyManager tracks the opaque sync token per collection. A token is
// advanced only after a response has been fully parsed and its status
// confirmed successful, and every advance is checkpointed to the durable
// store before it is returned to the caller.
type SyncKeyManager struct {
	executor interfaces.CommandExecutor
	syncRepo interfaces.FolderSyncRepository
	account  string
	log      logger.Logger

	mu   sync.Mutex
	keys map[string]string
}

func NewSyncKeyManager(accountID string, executor interfaces.CommandExecutor, syncRepo interfaces.FolderSyncRepository, log logger.Logger) *SyncKeyManager {
	return &SyncKeyManager{
		executor: executor,
		syncRepo: syncRepo,
		account:  accountID,
		log:      log,
		keys:     make(map[string]string),
	}
}

// Current returns the cached key for the collection, ZeroSyncKey when the
// collection has never synced.
func (m *SyncKeyManager) Current(collectionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.keys[collectionID]; ok && key != "" {
		return key
	}
	return ZeroSyncKey
}

// Refresh returns a current sync key for the collection, running the
// zero-key handshake when neither memory nor the checkpoint store has
// one. Create/update/delete commands must be issued against a current
// key even when the caller has no change history to reconcile.
func (m *SyncKeyManager) Refresh(ctx context.Context, collectionID string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncKeyManager.Refresh")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagCollection(span, collectionID)

	if key := m.Current(collectionID); key != ZeroSyncKey {
		return key, nil
	}

	// fall back to the durable checkpoint before going to the wire
	if m.syncRepo != nil {
		state, err := m.syncRepo.GetSyncState(ctx, m.account, collectionID)
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		if state != nil && state.SyncKey != "" && state.SyncKey != ZeroSyncKey {
			m.mu.Lock()
			m.keys[collectionID] = state.SyncKey
			m.mu.Unlock()
			return state.SyncKey, nil
		}
	}

	span.LogFields(tracingLog.String("handshake", "zero key"))

	result, err := m.Sync(ctx, collectionID, ZeroSyncKey, interfaces.SyncOptions{})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if result.SyncKey == "" || result.SyncKey == ZeroSyncKey {
		err := syncerrors.MissingField("SyncKey")
		tracing.TraceErr(span, err)
		return "", err
	}

	return result.SyncKey, nil
}

// Sync runs one incremental exchange from the given key. On the
// invalid-key status the collection is reset to UNSYNCED locally and the
// typed error is returned so the caller can restart from zero.
func (m *SyncKeyManager) Sync(ctx context.Context, collectionID, syncKey string, opts interfaces.SyncOptions) (*interfaces.SyncResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncKeyManager.Sync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagCollection(span, collectionID)
	span.LogFields(tracingLog.String("sync_key", syncKey))

	body := SyncRequest(SyncParams{
		SyncKey:        syncKey,
		CollectionID:   collectionID,
		WindowSize:     opts.WindowSize,
		GetChanges:     opts.GetChanges,
		DeletesAsMoves: opts.DeletesAsMoves,
		BodyType:       opts.BodyType,
		Commands:       opts.Commands,
	})

	respBody, err := m.executor.ExecuteCommand(ctx, "Sync", body)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	// An empty 200 response means "no changes": the key stays put.
	if strings.TrimSpace(respBody) == "" {
		return &interfaces.SyncResult{CollectionID: collectionID, SyncKey: syncKey}, nil
	}

	parsed := ParseSyncResponse(respBody)

	switch parsed.Status {
	case syncerrors.StatusSuccess:
		// fall through to advance below
	case syncerrors.StatusInvalidSyncKey:
		if resetErr := m.Reset(ctx, collectionID); resetErr != nil {
			tracing.TraceErr(span, resetErr)
		}
		err := syncerrors.NewProtocolStatusError("Sync", parsed.Status)
		tracing.TraceErr(span, err)
		return nil, err
	default:
		err := syncerrors.NewProtocolStatusError("Sync", parsed.Status)
		tracing.TraceErr(span, err)
		return nil, err
	}

	result := toSyncResult(collectionID, parsed)

	// Advance only now: response parsed, status confirmed.
	if result.SyncKey != "" {
		if err := m.advance(ctx, collectionID, result.SyncKey); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	} else {
		result.SyncKey = syncKey
	}

	span.LogFields(
		tracingLog.Int("adds", len(result.Adds)),
		tracingLog.Int("changes", len(result.Changes)),
		tracingLog.Int("deletes", len(result.Deletes)),
		tracingLog.String("next_key", result.SyncKey),
	)

	return result, nil
}

// Reset forces the collection back to the zero key. Calling it on an
// already-reset collection is a no-op, never a corruption.
func (m *SyncKeyManager) Reset(ctx context.Context, collectionID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncKeyManager.Reset")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagCollection(span, collectionID)

	m.mu.Lock()
	m.keys[collectionID] = ZeroSyncKey
	m.mu.Unlock()

	if m.syncRepo == nil {
		return nil
	}
	return m.syncRepo.SaveSyncState(ctx, &models.FolderSyncState{
		AccountID: m.account,
		FolderID:  collectionID,
		SyncKey:   ZeroSyncKey,
		LastSync:  utils.Now(),
	})
}

// advance moves the cached key and checkpoints it durably.
func (m *SyncKeyManager) advance(ctx context.Context, collectionID, newKey string) error {
	m.mu.Lock()
	m.keys[collectionID] = newKey
	m.mu.Unlock()

	if m.syncRepo == nil {
		return nil
	}
	return m.syncRepo.SaveSyncState(ctx, &models.FolderSyncState{
		AccountID: m.account,
		FolderID:  collectionID,
		SyncKey:   newKey,
		LastSync:  utils.Now(),
	})
}

func toSyncResult(collectionID string, parsed SyncResponse) *interfaces.SyncResult {
	result := &interfaces.SyncResult{
		CollectionID:  collectionID,
		SyncKey:       parsed.SyncKey,
		Deletes:       parsed.Deletes,
		MoreAvailable: parsed.MoreAvailable,
	}
	for _, item := range parsed.Adds {
		result.Adds = append(result.Adds, toSyncItem(item))
	}
	for _, item := range parsed.Changes {
		result.Changes = append(result.Changes, toSyncItem(item))
	}
	for _, item := range parsed.AddResponses {
		result.AddResponses = append(result.AddResponses, toSyncItem(item))
	}
	for _, item := range parsed.ChangeResponses {
		result.ChangeResponses = append(result.ChangeResponses, toSyncItem(item))
	}
	for _, item := range parsed.FetchResponses {
		result.FetchResponses = append(result.FetchResponses, toSyncItem(item))
	}
	return result
}

func toSyncItem(item CommandItem) interfaces.SyncItem {
	return interfaces.SyncItem{
		ServerID: item.ServerID,
		ClientID: item.ClientID,
		Status:   item.Status,
		Data:     item.Data,
	}
}
