package notes

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"exchangesync/interfaces"
	"exchangesync/internal/enum"
	syncerrors "exchangesync/internal/errors"
	"exchangesync/internal/logger"
	"exchangesync/internal/models"
	"exchangesync/services/activesync"
	"exchangesync/services/ews"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

// fakeDetector reports a fixed, already-detected protocol version.
type fakeDetector struct {
	version string
}

func (f *fakeDetector) Detect(ctx context.Context) (string, error) { return f.version, nil }
func (f *fakeDetector) IsDetected() bool                           { return true }
func (f *fakeDetector) Version() string                            { return f.version }

// fakeFolders answers well-known lookups from a fixed table.
type fakeFolders struct {
	ids            map[enum.FolderType]string
	err            error
	hierarchySyncs int
}

func (f *fakeFolders) SyncHierarchy(ctx context.Context) ([]models.Folder, error) {
	f.hierarchySyncs++
	return nil, nil
}

func (f *fakeFolders) ResolveWellKnown(ctx context.Context, folderType enum.FolderType) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	id, ok := f.ids[folderType]
	if !ok {
		return "", errors.Wrap(syncerrors.ErrFolderNotFound, folderType.String())
	}
	return id, nil
}

// fakeSyncKeys records every Sync exchange and answers via an optional
// scripted handler.
type fakeSyncKeys struct {
	refreshKey  string
	collections []string
	keys        []string
	opts        []interfaces.SyncOptions
	syncFn      func(collectionID, syncKey string, opts interfaces.SyncOptions) (*interfaces.SyncResult, error)
}

func (f *fakeSyncKeys) Refresh(ctx context.Context, collectionID string) (string, error) {
	return f.refreshKey, nil
}

func (f *fakeSyncKeys) Sync(ctx context.Context, collectionID, syncKey string, opts interfaces.SyncOptions) (*interfaces.SyncResult, error) {
	f.collections = append(f.collections, collectionID)
	f.keys = append(f.keys, syncKey)
	f.opts = append(f.opts, opts)
	if f.syncFn != nil {
		return f.syncFn(collectionID, syncKey, opts)
	}
	return &interfaces.SyncResult{CollectionID: collectionID, SyncKey: syncKey}, nil
}

func (f *fakeSyncKeys) Current(collectionID string) string { return f.refreshKey }

func (f *fakeSyncKeys) Reset(ctx context.Context, collectionID string) error { return nil }

// fakeCommandExecutor records raw command exchanges.
type fakeCommandExecutor struct {
	responses []string
	commands  []string
	bodies    []string
}

func (f *fakeCommandExecutor) ExecuteCommand(ctx context.Context, command, body string) (string, error) {
	f.commands = append(f.commands, command)
	f.bodies = append(f.bodies, body)
	idx := len(f.bodies) - 1
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return "", nil
}

// fakeSoap records which EWS operations were dispatched to.
type fakeSoap struct {
	calls     []string
	createID  string
	moveID    string
	findItems map[string][]ews.Item
}

func (f *fakeSoap) CreateNote(ctx context.Context, subject, body string) (string, error) {
	f.calls = append(f.calls, "CreateNote")
	return f.createID, nil
}

func (f *fakeSoap) UpdateNote(ctx context.Context, itemID, subject, body string) error {
	f.calls = append(f.calls, "UpdateNote")
	return nil
}

func (f *fakeSoap) DeleteItem(ctx context.Context, itemID string, hard bool) error {
	if hard {
		f.calls = append(f.calls, "DeleteItem/hard")
	} else {
		f.calls = append(f.calls, "DeleteItem/soft")
	}
	return nil
}

func (f *fakeSoap) MoveItem(ctx context.Context, itemID, distinguishedFolderID string) (string, error) {
	f.calls = append(f.calls, "MoveItem/"+distinguishedFolderID)
	return f.moveID, nil
}

func (f *fakeSoap) FindItems(ctx context.Context, distinguishedFolderID string) ([]ews.Item, error) {
	f.calls = append(f.calls, "FindItems/"+distinguishedFolderID)
	return f.findItems[distinguishedFolderID], nil
}

// fakePublisher collects published events.
type fakePublisher struct {
	events []interfaces.ItemSyncedEvent
}

func (f *fakePublisher) PublishItemSynced(ctx context.Context, event interfaces.ItemSyncedEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) PublishFolderSynced(ctx context.Context, event interfaces.FolderSyncedEvent) error {
	return nil
}

func defaultFolders() *fakeFolders {
	return &fakeFolders{ids: map[enum.FolderType]string{
		enum.FolderNotes:        "notes123",
		enum.FolderDeletedItems: "deleted4",
	}}
}

func nativeService(folders *fakeFolders, syncKeys *fakeSyncKeys, executor *fakeCommandExecutor, soap *fakeSoap, publisher *fakePublisher) *Service {
	var pub interfaces.EventPublisher
	if publisher != nil {
		pub = publisher
	}
	return NewService("acct1", &fakeDetector{version: "14.1"}, folders, syncKeys, executor, soap, pub, getLogger())
}

func TestCreateNote_Native(t *testing.T) {
	// Arrange: a server echo that returns the assigned id for the add
	syncKeys := &fakeSyncKeys{
		refreshKey: "key456",
		syncFn: func(collectionID, syncKey string, opts interfaces.SyncOptions) (*interfaces.SyncResult, error) {
			clientID, _ := activesync.ExtractTag(opts.Commands, "ClientId")
			return &interfaces.SyncResult{
				CollectionID: collectionID,
				SyncKey:      "key457",
				AddResponses: []interfaces.SyncItem{
					{ClientID: clientID, ServerID: "srv77", Status: 1},
				},
			}, nil
		},
	}
	soap := &fakeSoap{}
	service := nativeService(defaultFolders(), syncKeys, &fakeCommandExecutor{}, soap, nil)

	// Act
	serverID, err := service.CreateNote(context.Background(), "Groceries", "milk")

	// Assert: the exchange targeted the resolved folder with the fresh key
	assert.NoError(t, err)
	assert.Equal(t, "srv77", serverID)
	assert.Equal(t, []string{"notes123"}, syncKeys.collections)
	assert.Equal(t, []string{"key456"}, syncKeys.keys)
	assert.Contains(t, syncKeys.opts[0].Commands, "<Add>")
	assert.Contains(t, syncKeys.opts[0].Commands, ">Groceries</Subject>")
	assert.Empty(t, soap.calls)
}

func TestCreateNote_SOAPBelowVersionThreshold(t *testing.T) {
	// Arrange
	syncKeys := &fakeSyncKeys{refreshKey: "key1"}
	soap := &fakeSoap{createID: "ews-note1"}
	service := NewService("acct1", &fakeDetector{version: "12.1"}, defaultFolders(), syncKeys, &fakeCommandExecutor{}, soap, nil, getLogger())

	// Act
	serverID, err := service.CreateNote(context.Background(), "Groceries", "milk")

	// Assert: nothing touched the native path
	assert.NoError(t, err)
	assert.Equal(t, "ews-note1", serverID)
	assert.Equal(t, []string{"CreateNote"}, soap.calls)
	assert.Empty(t, syncKeys.collections)
}

func TestCreateNote_FolderResolutionFailure(t *testing.T) {
	// Arrange: the mailbox has no Notes folder
	folders := &fakeFolders{ids: map[enum.FolderType]string{}}
	syncKeys := &fakeSyncKeys{refreshKey: "key1"}
	executor := &fakeCommandExecutor{}
	service := nativeService(folders, syncKeys, executor, &fakeSoap{}, nil)

	// Act
	_, err := service.CreateNote(context.Background(), "Groceries", "milk")

	// Assert: the failure surfaced before any wire traffic
	assert.True(t, errors.Is(err, syncerrors.ErrFolderNotFound))
	assert.Empty(t, syncKeys.collections)
	assert.Empty(t, executor.commands)
}

func TestCreateNote_MissingAddEcho(t *testing.T) {
	// Arrange: server accepts the sync but echoes nothing back
	syncKeys := &fakeSyncKeys{refreshKey: "key1"}
	service := nativeService(defaultFolders(), syncKeys, &fakeCommandExecutor{}, &fakeSoap{}, nil)

	// Act
	_, err := service.CreateNote(context.Background(), "Groceries", "milk")

	// Assert
	assert.True(t, errors.Is(err, syncerrors.ErrMissingResponseField))
}

func TestUpdateNote_Native(t *testing.T) {
	// Arrange
	syncKeys := &fakeSyncKeys{refreshKey: "key2"}
	service := nativeService(defaultFolders(), syncKeys, &fakeCommandExecutor{}, &fakeSoap{}, nil)

	// Act
	err := service.UpdateNote(context.Background(), "srv77", "New title", "new body")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, []string{"notes123"}, syncKeys.collections)
	assert.Contains(t, syncKeys.opts[0].Commands, "<Change>")
	assert.Contains(t, syncKeys.opts[0].Commands, "<ServerId>srv77</ServerId>")
}

func TestUpdateNote_ServerRejectsChange(t *testing.T) {
	// Arrange: the change echo carries a not-found status
	syncKeys := &fakeSyncKeys{
		refreshKey: "key2",
		syncFn: func(collectionID, syncKey string, opts interfaces.SyncOptions) (*interfaces.SyncResult, error) {
			return &interfaces.SyncResult{
				CollectionID: collectionID,
				SyncKey:      "key3",
				ChangeResponses: []interfaces.SyncItem{
					{ServerID: "srv77", Status: 8},
				},
			}, nil
		},
	}
	service := nativeService(defaultFolders(), syncKeys, &fakeCommandExecutor{}, &fakeSoap{}, nil)

	// Act
	err := service.UpdateNote(context.Background(), "srv77", "New title", "new body")

	// Assert
	var statusErr *syncerrors.ProtocolStatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 8, statusErr.Status)
}

func TestDeleteNote_TargetsNotesAsRecoverableMove(t *testing.T) {
	// Arrange
	syncKeys := &fakeSyncKeys{refreshKey: "key3"}
	service := nativeService(defaultFolders(), syncKeys, &fakeCommandExecutor{}, &fakeSoap{}, nil)

	// Act
	err := service.DeleteNote(context.Background(), "srv77")

	// Assert: Notes collection, DeletesAsMoves true
	assert.NoError(t, err)
	assert.Equal(t, []string{"notes123"}, syncKeys.collections)
	if assert.NotNil(t, syncKeys.opts[0].DeletesAsMoves) {
		assert.True(t, *syncKeys.opts[0].DeletesAsMoves)
	}
	assert.Contains(t, syncKeys.opts[0].Commands, "<Delete>")
	assert.Contains(t, syncKeys.opts[0].Commands, "<ServerId>srv77</ServerId>")
}

func TestDeleteNotePermanently_TargetsDeletedItemsHard(t *testing.T) {
	// Arrange
	syncKeys := &fakeSyncKeys{refreshKey: "key3"}
	service := nativeService(defaultFolders(), syncKeys, &fakeCommandExecutor{}, &fakeSoap{}, nil)

	// Act
	err := service.DeleteNotePermanently(context.Background(), "srv77")

	// Assert: Deleted Items collection, DeletesAsMoves false
	assert.NoError(t, err)
	assert.Equal(t, []string{"deleted4"}, syncKeys.collections)
	if assert.NotNil(t, syncKeys.opts[0].DeletesAsMoves) {
		assert.False(t, *syncKeys.opts[0].DeletesAsMoves)
	}
}

func TestDelete_SOAPDispatch(t *testing.T) {
	// Arrange
	soap := &fakeSoap{}
	service := NewService("acct1", &fakeDetector{version: "12.1"}, defaultFolders(), &fakeSyncKeys{}, &fakeCommandExecutor{}, soap, nil, getLogger())

	// Act
	err1 := service.DeleteNote(context.Background(), "srv77")
	err2 := service.DeleteNotePermanently(context.Background(), "srv77")

	// Assert
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Equal(t, []string{"DeleteItem/soft", "DeleteItem/hard"}, soap.calls)
}

func TestRestoreNote_Native(t *testing.T) {
	// Arrange
	executor := &fakeCommandExecutor{responses: []string{`<MoveItems xmlns="Move:">
<Response>
<SrcMsgId>srv77</SrcMsgId>
<Status>3</Status>
<DstMsgId>srv99</DstMsgId>
</Response>
</MoveItems>`}}
	service := nativeService(defaultFolders(), &fakeSyncKeys{}, executor, &fakeSoap{}, nil)

	// Act
	newID, err := service.RestoreNote(context.Background(), "srv77")

	// Assert: the move was Deleted Items -> Notes and the id changed
	assert.NoError(t, err)
	assert.Equal(t, "srv99", newID)
	assert.NotEqual(t, "srv77", newID)
	assert.Equal(t, []string{"MoveItems"}, executor.commands)
	assert.Contains(t, executor.bodies[0], "<SrcFldId>deleted4</SrcFldId>")
	assert.Contains(t, executor.bodies[0], "<DstFldId>notes123</DstFldId>")
}

func TestRestoreNote_MoveFailureStatus(t *testing.T) {
	// Arrange
	executor := &fakeCommandExecutor{responses: []string{`<MoveItems xmlns="Move:">
<Response>
<SrcMsgId>srv77</SrcMsgId>
<Status>1</Status>
</Response>
</MoveItems>`}}
	service := nativeService(defaultFolders(), &fakeSyncKeys{}, executor, &fakeSoap{}, nil)

	// Act
	_, err := service.RestoreNote(context.Background(), "srv77")

	// Assert
	var statusErr *syncerrors.ProtocolStatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 1, statusErr.Status)
}

func TestRestoreNote_NoMatchingResponse(t *testing.T) {
	// Arrange: the response correlates to a different item
	executor := &fakeCommandExecutor{responses: []string{`<MoveItems xmlns="Move:">
<Response>
<SrcMsgId>other</SrcMsgId>
<Status>3</Status>
<DstMsgId>x</DstMsgId>
</Response>
</MoveItems>`}}
	service := nativeService(defaultFolders(), &fakeSyncKeys{}, executor, &fakeSoap{}, nil)

	// Act
	_, err := service.RestoreNote(context.Background(), "srv77")

	// Assert
	assert.True(t, errors.Is(err, syncerrors.ErrMissingResponseField))
}

func TestRestoreNote_SOAPDispatch(t *testing.T) {
	// Arrange
	soap := &fakeSoap{moveID: "moved1"}
	service := NewService("acct1", &fakeDetector{version: "12.1"}, defaultFolders(), &fakeSyncKeys{}, &fakeCommandExecutor{}, soap, nil, getLogger())

	// Act
	newID, err := service.RestoreNote(context.Background(), "srv77")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "moved1", newID)
	assert.Equal(t, []string{"MoveItem/notes"}, soap.calls)
}

func TestSyncNotes_NoChanges(t *testing.T) {
	// Arrange: both collections come back empty with advanced keys
	folders := defaultFolders()
	syncKeys := &fakeSyncKeys{
		refreshKey: "key5",
		syncFn: func(collectionID, syncKey string, opts interfaces.SyncOptions) (*interfaces.SyncResult, error) {
			return &interfaces.SyncResult{CollectionID: collectionID, SyncKey: "key6"}, nil
		},
	}
	publisher := &fakePublisher{}
	service := nativeService(folders, syncKeys, &fakeCommandExecutor{}, &fakeSoap{}, publisher)

	// Act
	notes, err := service.SyncNotes(context.Background())

	// Assert: empty result, both collections exchanged, hierarchy refreshed
	assert.NoError(t, err)
	assert.Empty(t, notes)
	assert.Equal(t, 1, folders.hierarchySyncs)
	assert.Equal(t, []string{"notes123", "deleted4"}, syncKeys.collections)
	assert.True(t, syncKeys.opts[0].GetChanges)
	assert.Equal(t, activesync.DefaultWindowSize, syncKeys.opts[0].WindowSize)
	assert.Len(t, publisher.events, 2)
	assert.Equal(t, "note", publisher.events[0].ItemType)
}

func TestSyncNotes_MergesDeletedItemsAsSoftDeleted(t *testing.T) {
	// Arrange
	addFor := func(collectionID string) *interfaces.SyncResult {
		serverID := "live1"
		if collectionID == "deleted4" {
			serverID = "gone1"
		}
		return &interfaces.SyncResult{
			CollectionID: collectionID,
			SyncKey:      "key6",
			Adds: []interfaces.SyncItem{{
				ServerID: serverID,
				Data: `<ApplicationData><Subject>` + serverID + `</Subject>` +
					`<Body><Type>1</Type><Data>text</Data></Body></ApplicationData>`,
			}},
		}
	}
	syncKeys := &fakeSyncKeys{
		refreshKey: "key5",
		syncFn: func(collectionID, syncKey string, opts interfaces.SyncOptions) (*interfaces.SyncResult, error) {
			return addFor(collectionID), nil
		},
	}
	service := nativeService(defaultFolders(), syncKeys, &fakeCommandExecutor{}, &fakeSoap{}, nil)

	// Act
	notes, err := service.SyncNotes(context.Background())

	// Assert
	assert.NoError(t, err)
	assert.Len(t, notes, 2)
	assert.Equal(t, "live1", notes[0].ServerID)
	assert.False(t, notes[0].Deleted)
	assert.Equal(t, "gone1", notes[1].ServerID)
	assert.True(t, notes[1].Deleted)
	assert.Equal(t, "text", notes[0].Body)
}

func TestSyncNotes_SOAPFiltersDeletedItemsByClass(t *testing.T) {
	// Arrange: Deleted Items also holds mail, which must not surface
	soap := &fakeSoap{findItems: map[string][]ews.Item{
		ews.FolderNotes: {
			{ItemID: ews.ItemID{ID: "n1"}, ItemClass: "IPM.StickyNote", Subject: "keep"},
		},
		ews.FolderDeletedItems: {
			{ItemID: ews.ItemID{ID: "m1"}, ItemClass: "IPM.Note", Subject: "mail"},
			{ItemID: ews.ItemID{ID: "n2"}, ItemClass: "IPM.StickyNote", Subject: "trashed"},
		},
	}}
	service := NewService("acct1", &fakeDetector{version: "12.1"}, defaultFolders(), &fakeSyncKeys{}, &fakeCommandExecutor{}, soap, nil, getLogger())

	// Act
	notes, err := service.SyncNotes(context.Background())

	// Assert
	assert.NoError(t, err)
	assert.Len(t, notes, 2)
	assert.Equal(t, "n1", notes[0].ServerID)
	assert.False(t, notes[0].Deleted)
	assert.Equal(t, "n2", notes[1].ServerID)
	assert.True(t, notes[1].Deleted)
}

func TestParseNote_Categories(t *testing.T) {
	// Arrange
	item := interfaces.SyncItem{
		ServerID: "srv1",
		Data: `<ApplicationData>
<Subject>Groceries &amp; sundries</Subject>
<Body><Type>1</Type><Data>milk</Data></Body>
<Categories><Category>home</Category><Category>errands</Category></Categories>
<LastModifiedDate>2026-02-01T10:00:00.000Z</LastModifiedDate>
</ApplicationData>`,
	}

	// Act
	note := parseNote(item)

	// Assert
	assert.Equal(t, "Groceries & sundries", note.Subject)
	assert.Equal(t, "milk", note.Body)
	assert.Equal(t, []string{"home", "errands"}, note.Categories)
	if assert.NotNil(t, note.LastModified) {
		assert.Equal(t, 2026, note.LastModified.Year())
	}
}

func TestCreateNote_NoFallbackConfigured(t *testing.T) {
	// Arrange: a legacy server with no SOAP backend wired
	syncKeys := &fakeSyncKeys{refreshKey: "key1"}
	service := NewService("acct1", &fakeDetector{version: "12.1"}, defaultFolders(), syncKeys, &fakeCommandExecutor{}, nil, nil, getLogger())

	// Act
	_, err := service.CreateNote(context.Background(), "Groceries", "milk")

	// Assert: neither path can serve the operation, nothing hits the wire
	assert.True(t, errors.Is(err, syncerrors.ErrCapabilityUnsupported))
	assert.Empty(t, syncKeys.collections)
}

func TestSyncNotes_NativeFiltersMailInDeletedItems(t *testing.T) {
	// Arrange: Deleted Items mixes a deleted note with deleted mail
	syncKeys := &fakeSyncKeys{
		refreshKey: "key5",
		syncFn: func(collectionID, syncKey string, opts interfaces.SyncOptions) (*interfaces.SyncResult, error) {
			result := &interfaces.SyncResult{CollectionID: collectionID, SyncKey: "key6"}
			if collectionID == "deleted4" {
				result.Adds = []interfaces.SyncItem{
					{
						ServerID: "mail1",
						Data: `<ApplicationData><From>ada@example.com</From><To>bob@example.com</To>` +
							`<Subject>lunch?</Subject></ApplicationData>`,
					},
					{
						ServerID: "gone1",
						Data: `<ApplicationData><Subject>old list</Subject>` +
							`<Body><Type>1</Type><Data>eggs</Data></Body></ApplicationData>`,
					},
				}
			}
			return result, nil
		},
	}
	service := nativeService(defaultFolders(), syncKeys, &fakeCommandExecutor{}, &fakeSoap{}, nil)

	// Act
	notes, err := service.SyncNotes(context.Background())

	// Assert: the deleted note surfaces, the deleted mail does not
	assert.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Equal(t, "gone1", notes[0].ServerID)
	assert.True(t, notes[0].Deleted)
}
