package models

import (
	"time"
)

// FolderSyncState is the durable checkpoint for one collection's sync
// key. It is written immediately after every confirmed key advance.
type FolderSyncState struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID string    `gorm:"column:account_id;type:varchar(50);index;not null"`
	FolderID  string    `gorm:"column:folder_id;type:varchar(64);index;not null"`
	SyncKey   string    `gorm:"column:sync_key;type:varchar(64);not null"`
	LastSync  time.Time `gorm:"column:last_sync;type:timestamp;not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (FolderSyncState) TableName() string {
	return "folder_sync_states"
}
