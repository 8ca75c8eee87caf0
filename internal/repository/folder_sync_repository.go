package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"exchangesync/interfaces"
	"exchangesync/internal/models"
	"exchangesync/internal/tracing"
)

type folderSyncRepository struct {
	db *gorm.DB
}

func NewFolderSyncRepository(db *gorm.DB) interfaces.FolderSyncRepository {
	return &folderSyncRepository{db: db}
}

// GetSyncState retrieves the sync state for a specific account and collection
func (r *folderSyncRepository) GetSyncState(ctx context.Context, accountID, folderID string) (*models.FolderSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.GetSyncState")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var state models.FolderSyncState
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_id = ?", accountID, folderID).
		First(&state)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil // No sync state yet
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get sync state: %w", result.Error)
	}

	return &state, nil
}

// SaveSyncState saves the sync state for a collection
func (r *folderSyncRepository) SaveSyncState(ctx context.Context, state *models.FolderSyncState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.SaveSyncState")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	state.LastSync = time.Now()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.FolderSyncState{}).
		Where("account_id = ? AND folder_id = ?", state.AccountID, state.FolderID).
		Updates(map[string]interface{}{
			"sync_key":   state.SyncKey,
			"last_sync":  state.LastSync,
			"updated_at": time.Now(),
		})

	// If no record was updated, create a new one
	if result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(state)
	}

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save sync state: %w", result.Error)
	}

	return nil
}

// DeleteSyncState deletes the sync state for a collection
func (r *folderSyncRepository) DeleteSyncState(ctx context.Context, accountID, folderID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.DeleteSyncState")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_id = ?", accountID, folderID).
		Delete(&models.FolderSyncState{})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete sync state: %w", result.Error)
	}

	return nil
}

// DeleteAccountSyncStates deletes all sync states for an account
func (r *folderSyncRepository) DeleteAccountSyncStates(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.DeleteAccountSyncStates")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.FolderSyncState{})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete account sync states: %w", result.Error)
	}

	return nil
}
