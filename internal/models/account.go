package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"exchangesync/internal/utils"
)

// Account holds the connection context for one Exchange mailbox. One
// client instance owns one account; accounts are never shared.
type Account struct {
	ID string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	// Exchange endpoint configuration
	ServerURL string `gorm:"column:server_url;type:varchar(255);not null" json:"serverUrl"`
	Username  string `gorm:"column:username;type:varchar(255);not null" json:"username"`
	Password  string `gorm:"column:password;type:varchar(255);not null" json:"-"`
	Domain    string `gorm:"column:domain;type:varchar(255)" json:"domain"`
	// Device identity presented to the server
	DeviceID   string `gorm:"column:device_id;type:varchar(64);not null" json:"deviceId"`
	DeviceType string `gorm:"column:device_type;type:varchar(32);not null;default:'GoMail'" json:"deviceType"`
	// TLS trust policy
	AllowInsecureTLS bool `gorm:"column:allow_insecure_tls;not null;default:false" json:"allowInsecureTls"`
	// Other configuration
	SyncFolders  pq.StringArray `gorm:"column:sync_folders;type:text[]" json:"syncFolders"`
	EmailAddress string         `gorm:"column:email_address;type:varchar(255);index" json:"emailAddress"`
	DisplayName  string         `gorm:"column:display_name;type:varchar(255)" json:"displayName"`
	// Status information
	LastSynced   *time.Time `gorm:"column:last_synced;type:timestamp" json:"lastSynced"`
	SyncStatus   string     `gorm:"column:sync_status;type:varchar(50)" json:"syncStatus"`
	ErrorMessage string     `gorm:"column:error_message;type:text" json:"errorMessage"`
	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	if a.DeviceID == "" {
		a.DeviceID = utils.GenerateDeviceID()
	}
	return nil
}
