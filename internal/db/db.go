package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/recsync/pkg/models"
)

// ErrNotFound is returned when the ledger has no row for a key
var ErrNotFound = errors.New("upload record not found")

// DB represents the upload ledger
type DB struct {
	*sql.DB
}

// New opens (creating if needed) the ledger at path
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	// sqlite only tolerates one writer
	sqlDB.SetMaxOpenConns(1)

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
		CREATE TABLE IF NOT EXISTS uploads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			source_name TEXT,
			file_name TEXT,
			bucket TEXT NOT NULL,
			object_key TEXT NOT NULL,
			size INTEGER,
			birth_time DATETIME,
			status TEXT,
			error TEXT,
			updated_at DATETIME,
			UNIQUE (bucket, object_key)
		);
		CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
	`)
	return err
}

// RecordPending inserts or resets the row for record's key to pending
func (db *DB) RecordPending(record *models.UploadRecord) error {
	_, err := db.Exec(`
		INSERT INTO uploads (run_id, source_name, file_name, bucket, object_key, size, birth_time, status, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?)
		ON CONFLICT (bucket, object_key) DO UPDATE SET
			run_id = excluded.run_id,
			source_name = excluded.source_name,
			file_name = excluded.file_name,
			size = excluded.size,
			birth_time = excluded.birth_time,
			status = excluded.status,
			error = '',
			updated_at = excluded.updated_at
	`,
		record.RunID,
		record.SourceName,
		record.FileName,
		record.Bucket,
		record.ObjectKey,
		record.Size,
		record.BirthTime.UTC(),
		models.StatusPending,
		time.Now().UTC(),
	)
	return err
}

// UpdateStatus sets the status (and error text) for a key
func (db *DB) UpdateStatus(bucket, key, status, errText string) error {
	res, err := db.Exec(`
		UPDATE uploads
		SET status = ?, error = ?, updated_at = ?
		WHERE bucket = ? AND object_key = ?
	`, status, errText, time.Now().UTC(), bucket, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return nil
}

// Get retrieves the ledger row for a key
func (db *DB) Get(bucket, key string) (*models.UploadRecord, error) {
	row := db.QueryRow(`
		SELECT run_id, source_name, file_name, bucket, object_key, size, birth_time, status, error, updated_at
		FROM uploads WHERE bucket = ? AND object_key = ?
	`, bucket, key)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return record, err
}

// ListUploads returns the most recently updated rows, newest first.
// A limit <= 0 returns everything.
func (db *DB) ListUploads(limit int) ([]models.UploadRecord, error) {
	query := `
		SELECT run_id, source_name, file_name, bucket, object_key, size, birth_time, status, error, updated_at
		FROM uploads
		ORDER BY updated_at DESC, id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.UploadRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// GetStats returns statistics about the ledger
func (db *DB) GetStats() (*models.Stats, error) {
	var stats models.Stats
	err := db.QueryRow(`
		SELECT
			COUNT(*) as total_files,
			COALESCE(SUM(size), 0) as total_size,
			COUNT(CASE WHEN status = 'completed' THEN 1 END) as completed_files,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN size ELSE 0 END), 0) as completed_size,
			COUNT(CASE WHEN status = 'uploaded' THEN 1 END) as uploaded_files,
			COALESCE(SUM(CASE WHEN status = 'uploaded' THEN size ELSE 0 END), 0) as uploaded_size,
			COUNT(CASE WHEN status = 'pending' THEN 1 END) as pending_files,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN size ELSE 0 END), 0) as pending_size,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed_files,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN size ELSE 0 END), 0) as failed_size
		FROM uploads
	`).Scan(
		&stats.TotalFiles,
		&stats.TotalSize,
		&stats.CompletedFiles,
		&stats.CompletedSize,
		&stats.UploadedFiles,
		&stats.UploadedSize,
		&stats.PendingFiles,
		&stats.PendingSize,
		&stats.FailedFiles,
		&stats.FailedSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	var last sql.NullTime
	err = db.QueryRow(`
		SELECT updated_at FROM uploads
		WHERE status = 'completed'
		ORDER BY updated_at DESC LIMIT 1
	`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get last upload: %w", err)
	}
	if last.Valid {
		stats.LastCompleted = last.Time.Local()
	}

	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.UploadRecord, error) {
	var record models.UploadRecord
	var errText sql.NullString
	err := row.Scan(
		&record.RunID,
		&record.SourceName,
		&record.FileName,
		&record.Bucket,
		&record.ObjectKey,
		&record.Size,
		&record.BirthTime,
		&record.Status,
		&errText,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Error = errText.String
	record.BirthTime = record.BirthTime.Local()
	record.UpdatedAt = record.UpdatedAt.Local()
	return &record, nil
}
