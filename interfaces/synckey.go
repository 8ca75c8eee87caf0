package interfaces

import "context"

// SyncResult is the outcome of one incremental Sync exchange. Deletes are
// reported apart from adds/changes: callers apply them as a set
// difference, not positionally.
type SyncResult struct {
	CollectionID  string
	SyncKey       string
	Adds          []SyncItem
	Changes       []SyncItem
	Deletes       []string
	MoreAvailable bool
	// echoes of client-initiated commands, batched and unordered; match
	// them by ClientID (adds) or ServerID (changes, fetches)
	AddResponses    []SyncItem
	ChangeResponses []SyncItem
	FetchResponses  []SyncItem
}

// SyncItem is one Add/Change/Fetch block from a Sync response, with its
// raw ApplicationData left for the entity service to interpret.
type SyncItem struct {
	ServerID string
	ClientID string
	Status   int
	Data     string
}

// SyncOptions shape the Sync request body.
type SyncOptions struct {
	WindowSize int
	GetChanges bool
	// DeletesAsMoves is emitted only when non-nil: true = recoverable
	// delete through Deleted Items, false = permanent.
	DeletesAsMoves *bool
	BodyType       int
	// Commands is a pre-built Add/Change/Delete/Fetch command block.
	Commands string
}

// SyncKeyManager is the per-collection sync token state machine. A key
// advances only after the full response is parsed and its status is
// success; an invalid-key status resets the collection to the zero key.
type SyncKeyManager interface {
	// Refresh obtains a current key for a collection via the zero-key
	// handshake, required before create/update/delete commands when no
	// key is cached.
	Refresh(ctx context.Context, collectionID string) (string, error)
	// Sync runs one incremental exchange from the given key.
	Sync(ctx context.Context, collectionID, syncKey string, opts SyncOptions) (*SyncResult, error)
	// Current returns the cached key for the collection, "0" when unsynced.
	Current(collectionID string) string
	// Reset forces the collection back to the zero key. Idempotent.
	Reset(ctx context.Context, collectionID string) error
}
