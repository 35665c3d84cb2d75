package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

// DB is the sqlite deal file ledger.
type DB struct {
	*sql.DB
}

// New opens (creating if needed) the sqlite ledger at path.
func New(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS deal_files (
			id TEXT PRIMARY KEY,
			deal_id TEXT NOT NULL,
			source_file_id TEXT NOT NULL,
			file_name TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT '',
			file_url TEXT NOT NULL DEFAULT '',
			remote_file_id TEXT,
			shared BOOLEAN NOT NULL DEFAULT 0,
			added_at DATETIME,
			uploaded_at DATETIME,
			updated_at DATETIME NOT NULL,
			UNIQUE (deal_id, source_file_id)
		);
		CREATE INDEX IF NOT EXISTS idx_deal_files_deal ON deal_files(deal_id);
		CREATE INDEX IF NOT EXISTS idx_deal_files_remote ON deal_files(remote_file_id);
		PRAGMA synchronous=NORMAL;
		PRAGMA temp_store=MEMORY;
	`)
	if err != nil {
		return err
	}
	return db.addSharedColumn()
}

// addSharedColumn upgrades ledgers created before the shared flag existed.
func (db *DB) addSharedColumn() error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('deal_files') WHERE name = 'shared'`).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(`ALTER TABLE deal_files ADD COLUMN shared BOOLEAN NOT NULL DEFAULT 0`)
	return err
}

const selectColumns = `id, deal_id, source_file_id, file_name, file_type, file_url,
	remote_file_id, shared, added_at, uploaded_at, updated_at`

// FindExistingForDeal returns every ledger row of a deal
func (db *DB) FindExistingForDeal(ctx context.Context, dealID string) ([]models.LedgerRecord, error) {
	return db.ListForDeal(ctx, dealID)
}

// ListForDeal returns the ledger rows of a deal ordered by file name
func (db *DB) ListForDeal(ctx context.Context, dealID string) ([]models.LedgerRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM deal_files
		WHERE deal_id = ?
		ORDER BY file_name, source_file_id
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.LedgerRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Upsert inserts or updates the row for (deal, source file). An existing row keeps its id,
// its first upload time and its remote file id when the update carries none.
func (db *DB) Upsert(ctx context.Context, rec models.LedgerRecord) (models.LedgerRecord, error) {
	if rec.ID == "" {
		rec.ID = rec.SourceFileID
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO deal_files (id, deal_id, source_file_id, file_name, file_type, file_url,
			remote_file_id, shared, added_at, uploaded_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deal_id, source_file_id) DO UPDATE SET
			file_name = CASE WHEN excluded.file_name = '' THEN deal_files.file_name ELSE excluded.file_name END,
			file_type = CASE WHEN excluded.file_type = '' THEN deal_files.file_type ELSE excluded.file_type END,
			file_url = CASE WHEN excluded.file_url = '' THEN deal_files.file_url ELSE excluded.file_url END,
			remote_file_id = COALESCE(excluded.remote_file_id, deal_files.remote_file_id),
			shared = excluded.shared,
			added_at = COALESCE(excluded.added_at, deal_files.added_at),
			uploaded_at = COALESCE(deal_files.uploaded_at, excluded.uploaded_at),
			updated_at = excluded.updated_at
	`,
		rec.ID,
		rec.DealID,
		rec.SourceFileID,
		rec.FileName,
		rec.FileType,
		rec.FileURL,
		nullString(rec.RemoteFileID),
		rec.Shared,
		nullTime(rec.AddedAt),
		nullTime(rec.UploadedAt),
		rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return models.LedgerRecord{}, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM deal_files
		WHERE deal_id = ? AND source_file_id = ?
	`, rec.DealID, rec.SourceFileID)
	return scanRecord(row)
}

// DeleteForDeal removes every ledger row of a deal
func (db *DB) DeleteForDeal(ctx context.Context, dealID string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM deal_files WHERE deal_id = ?`, dealID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetStats returns statistics about the ledger rows of a deal
func (db *DB) GetStats(ctx context.Context, dealID string) (*models.Stats, error) {
	var stats models.Stats
	var lastUpdated sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as total_files,
			COUNT(CASE WHEN remote_file_id IS NOT NULL AND remote_file_id != '' THEN 1 END) as linked_files,
			COUNT(CASE WHEN remote_file_id IS NULL OR remote_file_id = '' THEN 1 END) as unlinked_files,
			MAX(updated_at) as last_updated
		FROM deal_files
		WHERE deal_id = ?
	`, dealID).Scan(
		&stats.TotalFiles,
		&stats.LinkedFiles,
		&stats.UnlinkedFiles,
		&lastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %v", err)
	}
	if lastUpdated.Valid {
		if t, ok := parseSQLiteTime(lastUpdated.String); ok {
			stats.LastUpdated = &t
		}
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.LedgerRecord, error) {
	var rec models.LedgerRecord
	var remoteID sql.NullString
	var addedAt, uploadedAt sql.NullTime
	err := row.Scan(
		&rec.ID,
		&rec.DealID,
		&rec.SourceFileID,
		&rec.FileName,
		&rec.FileType,
		&rec.FileURL,
		&remoteID,
		&rec.Shared,
		&addedAt,
		&uploadedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return models.LedgerRecord{}, err
	}
	rec.RemoteFileID = remoteID.String
	if addedAt.Valid {
		t := addedAt.Time.UTC()
		rec.AddedAt = &t
	}
	if uploadedAt.Valid {
		t := uploadedAt.Time.UTC()
		rec.UploadedAt = &t
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// sqliteTimeFormats are the layouts mattn/go-sqlite3 writes time.Time values with.
var sqliteTimeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseSQLiteTime(s string) (time.Time, bool) {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range sqliteTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
