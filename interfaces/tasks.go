package interfaces

import (
	"context"
	"time"

	"exchangesync/internal/models"
)

// TaskService synchronizes tasks. A nil due date is omitted from the wire
// entirely, never sent as an empty element.
type TaskService interface {
	CreateTask(ctx context.Context, subject, body string, dueDate *time.Time) (serverID string, err error)
	CompleteTask(ctx context.Context, serverID string) error
	DeleteTask(ctx context.Context, serverID string) error
	SyncTasks(ctx context.Context) ([]models.Task, error)
}
