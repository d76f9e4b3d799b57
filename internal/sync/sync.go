package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/chmdznr/recsync/internal/db"
	"github.com/chmdznr/recsync/internal/recording"
	"github.com/chmdznr/recsync/internal/storage"
	"github.com/chmdznr/recsync/pkg/models"
	"github.com/chmdznr/recsync/pkg/utils"
)

// ErrKeyTaken is returned when a different recording already owns the object key
var ErrKeyTaken = errors.New("object key already uploaded by another recording")

// Syncer uploads finished recordings one at a time
type Syncer struct {
	db     *db.DB
	store  storage.ObjectStore
	config SyncerConfig
	out    io.Writer
	remove func(string) error

	// passes must not overlap
	mu sync.Mutex
}

// SyncerConfig holds configuration for the syncer
type SyncerConfig struct {
	Dir          string
	Extension    string
	Destination  models.Destination
	ShowProgress bool
}

type outcome int

const (
	outcomeUploaded outcome = iota
	outcomeSkipped
	outcomeFailed
)

// NewSyncer creates a new syncer instance
func NewSyncer(ledger *db.DB, store storage.ObjectStore, config *SyncerConfig) (*Syncer, error) {
	if ledger == nil || store == nil {
		return nil, errors.New("syncer needs a ledger and an object store")
	}
	if config == nil || config.Dir == "" {
		return nil, errors.New("recordings directory is required")
	}
	if config.Destination.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	cfg := *config
	if cfg.Extension == "" {
		cfg.Extension = recording.DefaultExtension
	}
	cfg.Destination.Prefix = strings.TrimRight(cfg.Destination.Prefix, "/")

	return &Syncer{
		db:     ledger,
		store:  store,
		config: cfg,
		out:    os.Stdout,
		remove: os.Remove,
	}, nil
}

// SetOutput redirects user-facing messages
func (s *Syncer) SetOutput(w io.Writer) {
	s.out = w
}

// Preflight checks that the destination bucket can be reached
func (s *Syncer) Preflight(ctx context.Context) error {
	ok, err := s.store.BucketExists(ctx, s.config.Destination.Bucket)
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %s", s.config.Destination.Bucket, storage.DescribeError(err))
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.config.Destination.Bucket)
	}
	return nil
}

type syncProgress struct {
	TotalFiles    int64
	TotalSize     int64
	UploadedFiles int64
	UploadedSize  int64
	SkippedFiles  int64
	FailedFiles   int64
	startTime     time.Time
}

func newSyncProgress(totalFiles int64, totalSize int64) *syncProgress {
	return &syncProgress{
		TotalFiles: totalFiles,
		TotalSize:  totalSize,
		startTime:  time.Now(),
	}
}

func (p *syncProgress) record(o outcome, size int64) {
	switch o {
	case outcomeUploaded:
		p.UploadedFiles++
		p.UploadedSize += size
	case outcomeSkipped:
		p.SkippedFiles++
	case outcomeFailed:
		p.FailedFiles++
	}
}

func (p *syncProgress) avgSpeed() float64 {
	elapsed := time.Since(p.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.UploadedSize) / elapsed
}

// Run performs a single pass over the recordings directory. Per-file
// failures are logged and counted; only ledger and directory errors abort
// the pass.
func (s *Syncer) Run(ctx context.Context) (*models.PassResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &models.PassResult{RunID: uuid.NewString()}

	files, err := recording.Finished(s.config.Dir, s.config.Extension)
	if err != nil {
		return result, err
	}
	if len(files) == 0 {
		fmt.Fprintln(s.out, "Not enough files to process")
		return result, nil
	}

	var totalSize int64
	for _, f := range files {
		totalSize += f.Size
	}
	progress := newSyncProgress(int64(len(files)), totalSize)

	fmt.Fprintf(s.out, "Starting upload of %d files (%s)...\n", progress.TotalFiles, utils.FormatSize(progress.TotalSize))

	for _, rec := range files {
		if err := ctx.Err(); err != nil {
			s.fillResult(result, progress)
			return result, err
		}

		o, err := s.processFile(ctx, result.RunID, rec)
		if err != nil {
			s.fillResult(result, progress)
			return result, err
		}
		progress.record(o, rec.Size)
		result.Processed++
	}

	s.fillResult(result, progress)
	fmt.Fprintf(s.out, "Pass completed in %s:\n", utils.FormatDuration(result.Duration))
	fmt.Fprintf(s.out, "- Uploaded: %d files (%s) at %s average\n",
		progress.UploadedFiles,
		utils.FormatSize(progress.UploadedSize),
		utils.FormatSpeed(progress.avgSpeed()))
	fmt.Fprintf(s.out, "- Skipped: %d files\n", progress.SkippedFiles)
	fmt.Fprintf(s.out, "- Failed: %d files\n", progress.FailedFiles)

	return result, nil
}

func (s *Syncer) fillResult(result *models.PassResult, p *syncProgress) {
	result.Uploaded = int(p.UploadedFiles)
	result.Skipped = int(p.SkippedFiles)
	result.Failed = int(p.FailedFiles)
	result.Bytes = p.UploadedSize
	result.Duration = time.Since(p.startTime)
}

// processFile renames, uploads and removes a single recording. The
// returned error is reserved for ledger failures.
func (s *Syncer) processFile(ctx context.Context, runID string, rec models.Recording) (outcome, error) {
	bucket := s.config.Destination.Bucket

	ts, err := recording.Timestamp(rec)
	if err != nil {
		log.Printf("Skipping %s: %v\n", rec.Name, err)
		return outcomeFailed, nil
	}
	ext := filepath.Ext(rec.Name)
	name := recording.FileName(ts, ext)
	key := recording.ObjectKey(s.config.Destination.Prefix, ts, ext)

	sourceName := rec.Name
	prev, err := s.db.Get(bucket, key)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return outcomeFailed, fmt.Errorf("failed to read ledger: %w", err)
	case prev.Status == models.StatusUploaded || prev.Status == models.StatusCompleted:
		if rec.Name != name || prev.Size != rec.Size {
			log.Printf("Skipping %s: %v (s3://%s/%s)\n", rec.Name, ErrKeyTaken, bucket, key)
			return outcomeFailed, nil
		}
		// already stored; only the local delete is outstanding
		return s.cleanup(rec, bucket, key, outcomeSkipped)
	default:
		if prev.SourceName != "" {
			sourceName = prev.SourceName
		}
	}

	rec, err = recording.Rename(rec, ts)
	if err != nil {
		log.Printf("Failed to rename %s: %v\n", sourceName, err)
		return outcomeFailed, nil
	}

	record := &models.UploadRecord{
		RunID:      runID,
		SourceName: sourceName,
		FileName:   name,
		Bucket:     bucket,
		ObjectKey:  key,
		Size:       rec.Size,
		BirthTime:  ts,
	}
	if err := s.db.RecordPending(record); err != nil {
		return outcomeFailed, fmt.Errorf("failed to record %s: %w", key, err)
	}

	opts := storage.PutOptions{
		ContentType: storage.ContentTypeFor(ext),
		Metadata: map[string]string{
			"source-name": sanitizePath(sourceName),
			"birth-time":  ts.Format(time.RFC3339),
		},
	}
	var bar *pb.ProgressBar
	if s.config.ShowProgress {
		bar = newFileBar(name, rec.Size)
		opts.Progress = bar
		bar.Start()
	}

	fmt.Fprintf(s.out, "Uploading to S3: s3://%s/%s\n", bucket, key)
	info, err := s.store.Put(ctx, bucket, key, rec.Path, opts)
	if bar != nil {
		bar.Finish()
	}

	if err != nil {
		logUploadFailure(sourceName, rec.Path, bucket, key, err)
		if dbErr := s.db.UpdateStatus(bucket, key, models.StatusFailed, storage.DescribeError(err)); dbErr != nil {
			return outcomeFailed, fmt.Errorf("failed to update status for %s: %w", key, dbErr)
		}
		return outcomeFailed, nil
	}

	if info.Size != rec.Size {
		log.Printf("Warning: Uploaded file size mismatch for %s:\n", name)
		log.Printf("  Expected: %d bytes\n", rec.Size)
		log.Printf("  Actual: %d bytes\n", info.Size)
		msg := fmt.Sprintf("size mismatch: expected %d, stored %d", rec.Size, info.Size)
		if dbErr := s.db.UpdateStatus(bucket, key, models.StatusFailed, msg); dbErr != nil {
			return outcomeFailed, fmt.Errorf("failed to update status for %s: %w", key, dbErr)
		}
		return outcomeFailed, nil
	}

	if err := s.db.UpdateStatus(bucket, key, models.StatusUploaded, ""); err != nil {
		return outcomeFailed, fmt.Errorf("failed to update status for %s: %w", key, err)
	}

	return s.cleanup(rec, bucket, key, outcomeUploaded)
}

// cleanup removes the local copy of a stored recording
func (s *Syncer) cleanup(rec models.Recording, bucket, key string, o outcome) (outcome, error) {
	if err := s.remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		// stays 'uploaded'; the next pass retries the delete without re-uploading
		log.Printf("Failed to delete local file %s: %v\n", rec.Name, err)
		return o, nil
	}
	fmt.Fprintf(s.out, "Deleted local file: %s\n", rec.Name)

	if err := s.db.UpdateStatus(bucket, key, models.StatusCompleted, ""); err != nil {
		return o, fmt.Errorf("failed to update status for %s: %w", key, err)
	}
	return o, nil
}

func logUploadFailure(name, localPath, bucket, key string, err error) {
	log.Printf("S3 upload failed for %s:\n", name)
	log.Printf("  Local path: %s\n", localPath)
	log.Printf("  Destination: %s/%s\n", bucket, key)
	log.Printf("  Error: %v\n", err)

	if resp := minio.ToErrorResponse(err); resp.Code != "" {
		log.Printf("  MinIO Error Details:\n")
		log.Printf("    Code: %s\n", resp.Code)
		log.Printf("    Message: %s\n", resp.Message)
		log.Printf("    Key: %s\n", resp.Key)
		log.Printf("    BucketName: %s\n", resp.BucketName)
	}
}

func newFileBar(name string, size int64) *pb.ProgressBar {
	bar := pb.New64(size)
	bar.Set(pb.Bytes, true)
	bar.SetTemplate(`{{string . "name"}} {{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
	bar.Set("name", name)
	return bar
}

// sanitizePath makes a local path safe to send as S3 user metadata
func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		// decode first so already-encoded names are not double encoded
		decoded, err := url.QueryUnescape(segment)
		if err == nil {
			segment = decoded
		}

		segment = strings.ReplaceAll(segment, "&", "and")
		segment = strings.ReplaceAll(segment, "+", "plus")

		segments[i] = url.QueryEscape(segment)
	}

	sanitized := strings.Join(segments, "/")
	for strings.Contains(sanitized, "//") {
		sanitized = strings.ReplaceAll(sanitized, "//", "/")
	}

	return sanitized
}
