package interfaces

import (
	"context"

	"exchangesync/internal/enum"
	"exchangesync/internal/models"
)

// FolderResolver keeps the folder hierarchy current and answers
// well-known folder lookups against it.
type FolderResolver interface {
	// SyncHierarchy runs a FolderSync exchange and returns the updated
	// folder forest.
	SyncHierarchy(ctx context.Context) ([]models.Folder, error)
	// ResolveWellKnown returns the server id of the folder with the given
	// semantic type, or ErrFolderNotFound.
	ResolveWellKnown(ctx context.Context, folderType enum.FolderType) (string, error)
}
