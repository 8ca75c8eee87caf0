package interfaces

import (
	"context"

	"exchangesync/internal/enum"
	"exchangesync/internal/models"
)

// FolderSyncRepository is the durable checkpoint store for per-collection
// sync keys. SaveSyncState is called immediately after every confirmed
// key advance.
type FolderSyncRepository interface {
	GetSyncState(ctx context.Context, accountID, folderID string) (*models.FolderSyncState, error)
	SaveSyncState(ctx context.Context, state *models.FolderSyncState) error
	DeleteSyncState(ctx context.Context, accountID, folderID string) error
	DeleteAccountSyncStates(ctx context.Context, accountID string) error
}

// FolderRepository stores the folder hierarchy discovered by FolderSync.
// DeleteFolders drops folders the server reported removed, so stale
// collection ids never resolve again.
type FolderRepository interface {
	UpsertFolders(ctx context.Context, accountID string, folders []models.Folder) error
	DeleteFolders(ctx context.Context, accountID string, serverIDs []string) error
	GetFolders(ctx context.Context, accountID string) ([]models.Folder, error)
	GetFolderByType(ctx context.Context, accountID string, folderType enum.FolderType) (*models.Folder, error)
}

// AccountRepository stores connection configuration and status.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetAll(ctx context.Context) ([]models.Account, error)
	Save(ctx context.Context, account *models.Account) error
	UpdateConnectionStatus(ctx context.Context, id string, status enum.ConnectionStatus, errorMessage string) error
}
