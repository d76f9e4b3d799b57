// Package report exports the upload ledger.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/chmdznr/recsync/pkg/models"
)

const sheetName = "Uploads"

var header = []string{
	"run_id", "source_name", "file_name", "bucket", "object_key",
	"size", "birth_time", "status", "error", "updated_at",
}

func row(r models.UploadRecord) []string {
	return []string{
		r.RunID,
		r.SourceName,
		r.FileName,
		r.Bucket,
		r.ObjectKey,
		strconv.FormatInt(r.Size, 10),
		formatTime(r.BirthTime),
		r.Status,
		r.Error,
		formatTime(r.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// Write exports records to path. The format follows the extension:
// .xlsx produces a spreadsheet, anything else CSV.
func Write(path string, records []models.UploadRecord) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return writeXLSX(path, records)
	default:
		return writeCSV(path, records)
	}
}

func writeCSV(path string, records []models.UploadRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating CSV file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("error writing CSV header: %w", err)
	}
	for _, r := range records {
		if err := w.Write(row(r)); err != nil {
			return fmt.Errorf("error writing CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("error writing CSV file: %w", err)
	}
	return file.Close()
}

func writeXLSX(path string, records []models.UploadRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row(r)
		line := make([]interface{}, len(values))
		for j, v := range values {
			line[j] = v
		}
		// size stays numeric so it can be summed
		line[5] = r.Size
		if err := f.SetSheetRow(sheetName, cell, &line); err != nil {
			return fmt.Errorf("error writing row %d: %w", i+2, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("error saving spreadsheet: %w", err)
	}
	return nil
}
