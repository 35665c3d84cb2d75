package db

import (
	"context"
	"fmt"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

// Ledger is what the CLI and HTTP layer need from a ledger backend.
type Ledger interface {
	FindExistingForDeal(ctx context.Context, dealID string) ([]models.LedgerRecord, error)
	Upsert(ctx context.Context, rec models.LedgerRecord) (models.LedgerRecord, error)
	ListForDeal(ctx context.Context, dealID string) ([]models.LedgerRecord, error)
	DeleteForDeal(ctx context.Context, dealID string) (int64, error)
	GetStats(ctx context.Context, dealID string) (*models.Stats, error)
	Close() error
}

// Open returns the ledger for driver: "sqlite" (dsn is a file path) or "mysql".
func Open(driver, dsn string) (Ledger, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		return New(dsn)
	case "mysql":
		gdb, err := OpenMySQL(dsn)
		if err != nil {
			return nil, err
		}
		return NewGormLedger(gdb)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}
}

// mergeRecord applies an update to a stored row with the same rules as the sqlite upsert.
func mergeRecord(stored, update models.LedgerRecord) models.LedgerRecord {
	merged := stored
	if update.FileName != "" {
		merged.FileName = update.FileName
	}
	if update.FileType != "" {
		merged.FileType = update.FileType
	}
	if update.FileURL != "" {
		merged.FileURL = update.FileURL
	}
	if update.RemoteFileID != "" {
		merged.RemoteFileID = update.RemoteFileID
	}
	merged.Shared = update.Shared
	if update.AddedAt != nil {
		merged.AddedAt = update.AddedAt
	}
	if merged.UploadedAt == nil {
		merged.UploadedAt = update.UploadedAt
	}
	merged.UpdatedAt = update.UpdatedAt
	return merged
}
