// Package report exports the ledger rows of a deal to xlsx.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

const sheetName = "Sheet1"

var headings = []string{
	"LedgerID", "DealID", "SourceFileID", "FileName", "FileType",
	"RemoteFileID", "FileURL", "AddedAt", "UploadedAt", "UpdatedAt",
}

func cellValues(rec models.LedgerRecord) []any {
	return []any{
		rec.ID,
		rec.DealID,
		rec.SourceFileID,
		rec.FileName,
		rec.FileType,
		rec.RemoteFileID,
		rec.FileURL,
		timeCell(rec.AddedAt),
		timeCell(rec.UploadedAt),
		timeCell(&rec.UpdatedAt),
	}
}

func timeCell(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Build lays out one row per ledger record under a heading row.
func Build(records []models.LedgerRecord) (*excelize.File, error) {
	f := excelize.NewFile()

	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		f.SetCellValue(sheetName, cell, h)
	}

	for row, rec := range records {
		for col, value := range cellValues(rec) {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, fmt.Errorf("set %s: %w", cell, err)
			}
		}
	}
	return f, nil
}

// Write streams the workbook for records to w.
func Write(w io.Writer, records []models.LedgerRecord) error {
	f, err := Build(records)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// Save writes the workbook for records to filename.
func Save(filename string, records []models.LedgerRecord) error {
	f, err := Build(records)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(filename)
}
