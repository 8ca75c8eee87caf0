package repository

import (
	"time"

	"gorm.io/gorm"

	"exchangesync/config"
	"exchangesync/interfaces"
	"exchangesync/internal/models"
)

type Repositories struct {
	AccountRepository    interfaces.AccountRepository
	FolderRepository     interfaces.FolderRepository
	FolderSyncRepository interfaces.FolderSyncRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:    NewAccountRepository(db),
		FolderRepository:     NewFolderRepository(db),
		FolderSyncRepository: NewFolderSyncRepository(db),
	}
}

func MigrateDB(dbConfig *config.DatabaseConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = db.AutoMigrate(
		&models.Account{},
		&models.Folder{},
		&models.FolderSyncState{},
	)

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
