package activesync

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"exchangesync/interfaces"
	syncerrors "exchangesync/internal/errors"
	"exchangesync/internal/logger"
	"exchangesync/internal/models"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

// fakeExecutor returns scripted responses in order and records every
// request body it saw.
type fakeExecutor struct {
	responses []string
	errs      []error
	commands  []string
	bodies    []string
}

func (f *fakeExecutor) ExecuteCommand(ctx context.Context, command, body string) (string, error) {
	f.commands = append(f.commands, command)
	f.bodies = append(f.bodies, body)
	idx := len(f.bodies) - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return "", nil
}

// memorySyncRepo is an in-memory FolderSyncRepository.
type memorySyncRepo struct {
	states map[string]*models.FolderSyncState
	saves  int
}

func newMemorySyncRepo() *memorySyncRepo {
	return &memorySyncRepo{states: make(map[string]*models.FolderSyncState)}
}

func (m *memorySyncRepo) key(accountID, folderID string) string {
	return accountID + "/" + folderID
}

func (m *memorySyncRepo) GetSyncState(ctx context.Context, accountID, folderID string) (*models.FolderSyncState, error) {
	return m.states[m.key(accountID, folderID)], nil
}

func (m *memorySyncRepo) SaveSyncState(ctx context.Context, state *models.FolderSyncState) error {
	m.saves++
	m.states[m.key(state.AccountID, state.FolderID)] = state
	return nil
}

func (m *memorySyncRepo) DeleteSyncState(ctx context.Context, accountID, folderID string) error {
	delete(m.states, m.key(accountID, folderID))
	return nil
}

func (m *memorySyncRepo) DeleteAccountSyncStates(ctx context.Context, accountID string) error {
	for k := range m.states {
		delete(m.states, k)
	}
	return nil
}

func syncResponseBody(collectionID, syncKey string, status int) string {
	return fmt.Sprintf(`<Sync xmlns="AirSync:"><Collections><Collection>
<SyncKey>%s</SyncKey><CollectionId>%s</CollectionId><Status>%d</Status>
</Collection></Collections></Sync>`, syncKey, collectionID, status)
}

func TestSyncKeyManager_CurrentDefaultsToZero(t *testing.T) {
	manager := NewSyncKeyManager("acct1", &fakeExecutor{}, newMemorySyncRepo(), getLogger())

	assert.Equal(t, ZeroSyncKey, manager.Current("c1"))
}

func TestSyncKeyManager_AdvancesOnlyOnSuccess(t *testing.T) {
	// Arrange
	executor := &fakeExecutor{responses: []string{syncResponseBody("c1", "key2", 1)}}
	repo := newMemorySyncRepo()
	manager := NewSyncKeyManager("acct1", executor, repo, getLogger())

	// Act
	result, err := manager.Sync(context.Background(), "c1", "key1", interfaces.SyncOptions{})

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "key2", result.SyncKey)
	assert.Equal(t, "key2", manager.Current("c1"))

	// the advance was checkpointed durably
	state, _ := repo.GetSyncState(context.Background(), "acct1", "c1")
	assert.NotNil(t, state)
	assert.Equal(t, "key2", state.SyncKey)
}

func TestSyncKeyManager_NoAdvanceOnServerRejection(t *testing.T) {
	// Arrange
	executor := &fakeExecutor{responses: []string{syncResponseBody("c1", "key9", 5)}}
	repo := newMemorySyncRepo()
	manager := NewSyncKeyManager("acct1", executor, repo, getLogger())

	// Act
	result, err := manager.Sync(context.Background(), "c1", "key1", interfaces.SyncOptions{})

	// Assert
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, ZeroSyncKey, manager.Current("c1"))
	assert.Equal(t, 0, repo.saves)

	var statusErr *syncerrors.ProtocolStatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 5, statusErr.Status)
}

func TestSyncKeyManager_InvalidKeyResets(t *testing.T) {
	// Arrange
	executor := &fakeExecutor{responses: []string{
		syncResponseBody("c1", "", 3),
		syncResponseBody("c1", "", 3),
	}}
	repo := newMemorySyncRepo()
	manager := NewSyncKeyManager("acct1", executor, repo, getLogger())

	// Act: two invalid-key statuses in a row
	_, err1 := manager.Sync(context.Background(), "c1", "stale", interfaces.SyncOptions{})
	_, err2 := manager.Sync(context.Background(), "c1", "stale", interfaces.SyncOptions{})

	// Assert: reset is idempotent, never corrupting to a non-zero token
	assert.True(t, errors.Is(err1, syncerrors.ErrInvalidSyncKey))
	assert.True(t, errors.Is(err2, syncerrors.ErrInvalidSyncKey))
	assert.Equal(t, ZeroSyncKey, manager.Current("c1"))

	state, _ := repo.GetSyncState(context.Background(), "acct1", "c1")
	assert.Equal(t, ZeroSyncKey, state.SyncKey)
}

func TestSyncKeyManager_EmptyBodyMeansNoChanges(t *testing.T) {
	// Arrange
	executor := &fakeExecutor{responses: []string{""}}
	manager := NewSyncKeyManager("acct1", executor, newMemorySyncRepo(), getLogger())

	// Act
	result, err := manager.Sync(context.Background(), "c1", "key1", interfaces.SyncOptions{})

	// Assert: the key stays put
	assert.NoError(t, err)
	assert.Equal(t, "key1", result.SyncKey)
	assert.Empty(t, result.Adds)
}

func TestSyncKeyManager_RefreshRunsZeroKeyHandshake(t *testing.T) {
	// Arrange
	executor := &fakeExecutor{responses: []string{syncResponseBody("c1", "key1", 1)}}
	manager := NewSyncKeyManager("acct1", executor, newMemorySyncRepo(), getLogger())

	// Act
	key, err := manager.Refresh(context.Background(), "c1")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "key1", key)
	assert.Len(t, executor.bodies, 1)
	assert.Contains(t, executor.bodies[0], "<SyncKey>0</SyncKey>")
}

func TestSyncKeyManager_RefreshPrefersCheckpoint(t *testing.T) {
	// Arrange
	executor := &fakeExecutor{}
	repo := newMemorySyncRepo()
	_ = repo.SaveSyncState(context.Background(), &models.FolderSyncState{
		AccountID: "acct1",
		FolderID:  "c1",
		SyncKey:   "key7",
	})
	manager := NewSyncKeyManager("acct1", executor, repo, getLogger())

	// Act
	key, err := manager.Refresh(context.Background(), "c1")

	// Assert: no wire traffic when the checkpoint store has a key
	assert.NoError(t, err)
	assert.Equal(t, "key7", key)
	assert.Empty(t, executor.bodies)
}

func TestSyncKeyManager_ResetIdempotent(t *testing.T) {
	// Arrange
	manager := NewSyncKeyManager("acct1", &fakeExecutor{}, newMemorySyncRepo(), getLogger())

	// Act
	err1 := manager.Reset(context.Background(), "c1")
	err2 := manager.Reset(context.Background(), "c1")

	// Assert
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Equal(t, ZeroSyncKey, manager.Current("c1"))
}

func TestSyncKeyManager_TransportErrorPropagates(t *testing.T) {
	// Arrange
	executor := &fakeExecutor{errs: []error{syncerrors.ErrConnectionTimeout}}
	manager := NewSyncKeyManager("acct1", executor, newMemorySyncRepo(), getLogger())

	// Act
	_, err := manager.Sync(context.Background(), "c1", "key1", interfaces.SyncOptions{})

	// Assert
	assert.True(t, errors.Is(err, syncerrors.ErrConnectionTimeout))
	assert.Equal(t, ZeroSyncKey, manager.Current("c1"))
}
