package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"exchangesync/interfaces"
	"exchangesync/internal/enum"
	"exchangesync/internal/models"
	"exchangesync/internal/tracing"
)

type folderRepository struct {
	db *gorm.DB
}

func NewFolderRepository(db *gorm.DB) interfaces.FolderRepository {
	return &folderRepository{db: db}
}

// UpsertFolders replaces folder rows with the hierarchy a FolderSync returned
func (r *folderRepository) UpsertFolders(ctx context.Context, accountID string, folders []models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.UpsertFolders")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if len(folders) == 0 {
		return nil
	}

	for i := range folders {
		folders[i].AccountID = accountID
		folders[i].UpdatedAt = time.Now()
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "server_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"parent_id", "display_name", "folder_type", "updated_at"}),
	}).Create(&folders)

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to upsert folders: %w", result.Error)
	}

	return nil
}

// DeleteFolders removes folders a FolderSync reported deleted on the server
func (r *folderRepository) DeleteFolders(ctx context.Context, accountID string, serverIDs []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.DeleteFolders")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if len(serverIDs) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_id IN ?", accountID, serverIDs).
		Delete(&models.Folder{})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete folders: %w", result.Error)
	}

	return nil
}

func (r *folderRepository) GetFolders(ctx context.Context, accountID string) ([]models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetFolders")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var folders []models.Folder
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&folders).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get folders: %w", err)
	}

	return folders, nil
}

func (r *folderRepository) GetFolderByType(ctx context.Context, accountID string, folderType enum.FolderType) (*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetFolderByType")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var folder models.Folder
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_type = ?", accountID, folderType).
		First(&folder)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get folder by type: %w", result.Error)
	}

	return &folder, nil
}
