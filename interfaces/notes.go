package interfaces

import (
	"context"

	"exchangesync/internal/models"
)

// NoteService synchronizes notes against the mailbox, transparently
// selecting the native or SOAP protocol path per detected server version.
type NoteService interface {
	CreateNote(ctx context.Context, subject, body string) (serverID string, err error)
	UpdateNote(ctx context.Context, serverID, subject, body string) error
	// DeleteNote moves the note to Deleted Items (recoverable).
	DeleteNote(ctx context.Context, serverID string) error
	// DeleteNotePermanently removes the note from Deleted Items without
	// recovery. This targets a different collection and a different
	// protocol flag than DeleteNote.
	DeleteNotePermanently(ctx context.Context, serverID string) error
	// RestoreNote moves a note from Deleted Items back to Notes. The
	// server assigns a new identity on move; the returned id replaces the
	// input id.
	RestoreNote(ctx context.Context, serverID string) (newServerID string, err error)
	// SyncNotes merges additions from the Notes and Deleted Items
	// collections, marking the latter soft-deleted.
	SyncNotes(ctx context.Context) ([]models.Note, error)
}
