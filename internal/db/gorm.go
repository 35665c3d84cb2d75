package db

import (
	"context"
	"errors"
	"time"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type dealFile struct {
	ID           string     `gorm:"primaryKey;size:191"`
	DealID       string     `gorm:"size:191;not null;uniqueIndex:idx_deal_source,priority:1;index"`
	SourceFileID string     `gorm:"size:191;not null;uniqueIndex:idx_deal_source,priority:2"`
	FileName     string     `gorm:"size:255;not null;default:''"`
	FileType     string     `gorm:"size:255;not null;default:''"`
	FileURL      string     `gorm:"column:file_url;size:1024;not null;default:''"`
	RemoteFileID *string    `gorm:"size:191;index"`
	Shared       bool       `gorm:"not null;default:false"`
	AddedAt      *time.Time
	UploadedAt   *time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (dealFile) TableName() string {
	return "deal_files"
}

// GormLedger is the ledger on a gorm connection, MySQL in production.
type GormLedger struct {
	db *gorm.DB
}

// OpenMySQL connects to MySQL with a parseTime DSN such as
// "user:pass@tcp(host:3306)/dealsync?parseTime=true".
func OpenMySQL(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// NewGormLedger migrates the ledger table on gdb.
func NewGormLedger(gdb *gorm.DB) (*GormLedger, error) {
	if err := gdb.AutoMigrate(&dealFile{}); err != nil {
		return nil, err
	}
	return &GormLedger{db: gdb}, nil
}

func (l *GormLedger) FindExistingForDeal(ctx context.Context, dealID string) ([]models.LedgerRecord, error) {
	return l.ListForDeal(ctx, dealID)
}

func (l *GormLedger) ListForDeal(ctx context.Context, dealID string) ([]models.LedgerRecord, error) {
	var rows []dealFile
	if err := l.db.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("file_name, source_file_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]models.LedgerRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

// Upsert merges rec into the row for (deal, source file) inside a transaction.
func (l *GormLedger) Upsert(ctx context.Context, rec models.LedgerRecord) (models.LedgerRecord, error) {
	if rec.ID == "" {
		rec.ID = rec.SourceFileID
	}
	var saved models.LedgerRecord
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row dealFile
		err := tx.Where("deal_id = ? AND source_file_id = ?", rec.DealID, rec.SourceFileID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = fromRecord(rec)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			saved = row.toRecord()
			return nil
		}
		if err != nil {
			return err
		}
		merged := fromRecord(mergeRecord(row.toRecord(), rec))
		if err := tx.Save(&merged).Error; err != nil {
			return err
		}
		saved = merged.toRecord()
		return nil
	})
	if err != nil {
		return models.LedgerRecord{}, err
	}
	return saved, nil
}

func (l *GormLedger) DeleteForDeal(ctx context.Context, dealID string) (int64, error) {
	res := l.db.WithContext(ctx).Where("deal_id = ?", dealID).Delete(&dealFile{})
	return res.RowsAffected, res.Error
}

func (l *GormLedger) GetStats(ctx context.Context, dealID string) (*models.Stats, error) {
	records, err := l.ListForDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	var stats models.Stats
	for _, rec := range records {
		stats.TotalFiles++
		if rec.RemoteFileID != "" {
			stats.LinkedFiles++
		} else {
			stats.UnlinkedFiles++
		}
		if stats.LastUpdated == nil || rec.UpdatedAt.After(*stats.LastUpdated) {
			t := rec.UpdatedAt
			stats.LastUpdated = &t
		}
	}
	return &stats, nil
}

func (l *GormLedger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromRecord(rec models.LedgerRecord) dealFile {
	row := dealFile{
		ID:           rec.ID,
		DealID:       rec.DealID,
		SourceFileID: rec.SourceFileID,
		FileName:     rec.FileName,
		FileType:     rec.FileType,
		FileURL:      rec.FileURL,
		Shared:       rec.Shared,
		AddedAt:      utcPtr(rec.AddedAt),
		UploadedAt:   utcPtr(rec.UploadedAt),
		UpdatedAt:    rec.UpdatedAt.UTC(),
	}
	if rec.RemoteFileID != "" {
		remoteID := rec.RemoteFileID
		row.RemoteFileID = &remoteID
	}
	return row
}

func (row dealFile) toRecord() models.LedgerRecord {
	rec := models.LedgerRecord{
		ID:           row.ID,
		DealID:       row.DealID,
		SourceFileID: row.SourceFileID,
		FileName:     row.FileName,
		FileType:     row.FileType,
		FileURL:      row.FileURL,
		Shared:       row.Shared,
		AddedAt:      utcPtr(row.AddedAt),
		UploadedAt:   utcPtr(row.UploadedAt),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.RemoteFileID != nil {
		rec.RemoteFileID = *row.RemoteFileID
	}
	return rec
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
