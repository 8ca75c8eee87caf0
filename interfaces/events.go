package interfaces

import "context"

// ItemSyncedEvent is published after a collection's sync key advances.
type ItemSyncedEvent struct {
	AccountID    string `json:"accountId"`
	CollectionID string `json:"collectionId"`
	ItemType     string `json:"itemType"`
	Added        int    `json:"added"`
	Changed      int    `json:"changed"`
	Deleted      int    `json:"deleted"`
	SyncKey      string `json:"syncKey"`
}

// FolderSyncedEvent is published after a FolderSync exchange applies.
type FolderSyncedEvent struct {
	AccountID string `json:"accountId"`
	Folders   int    `json:"folders"`
	SyncKey   string `json:"syncKey"`
}

// EventPublisher fans sync outcomes out to downstream consumers. A nil
// or disabled publisher is a no-op.
type EventPublisher interface {
	PublishItemSynced(ctx context.Context, event ItemSyncedEvent) error
	PublishFolderSynced(ctx context.Context, event FolderSyncedEvent) error
}
