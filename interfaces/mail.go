package interfaces

import (
	"context"

	"exchangesync/internal/models"
)

// MessageMove is one source item in a batched move targeting a single
// destination folder.
type MessageMove struct {
	ServerID       string
	SourceFolderID string
}

// MoveResult maps a moved item's old identity to the one the server
// assigned at the destination.
type MoveResult struct {
	SourceID string
	NewID    string
	Status   int
}

// GALEntry is one directory search hit.
type GALEntry struct {
	DisplayName string
	Email       string
	Phone       string
	Office      string
}

// MailService covers mail sync, fetch, move, delete and search.
type MailService interface {
	SyncFolder(ctx context.Context, folderID string) ([]models.EmailMessage, error)
	FetchMessage(ctx context.Context, folderID, serverID string) (*models.EmailMessage, error)
	MoveMessages(ctx context.Context, moves []MessageMove, destFolderID string) ([]MoveResult, error)
	// DeleteMessage soft-deletes by default; hard skips Deleted Items.
	DeleteMessage(ctx context.Context, folderID, serverID string, hard bool) error
	SearchGAL(ctx context.Context, query string, limit int) ([]GALEntry, error)
	SearchMailbox(ctx context.Context, query string, limit int) ([]models.EmailMessage, error)
}
