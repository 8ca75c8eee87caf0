package models

import (
	"time"

	"exchangesync/internal/enum"
)

// Folder is a server-side collection. Folders form a forest: ParentID
// references another folder's ServerID, the root has an empty parent.
type Folder struct {
	AccountID   string          `gorm:"column:account_id;type:varchar(50);primaryKey" json:"accountId"`
	ServerID    string          `gorm:"column:server_id;type:varchar(64);primaryKey" json:"serverId"`
	ParentID    string          `gorm:"column:parent_id;type:varchar(64);index" json:"parentId"`
	DisplayName string          `gorm:"column:display_name;type:varchar(255);not null" json:"displayName"`
	Type        enum.FolderType `gorm:"column:folder_type;not null" json:"type"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Folder) TableName() string {
	return "folders"
}
