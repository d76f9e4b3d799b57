package models

import "time"

// Stats represents ledger statistics
type Stats struct {
	TotalFiles     int64
	TotalSize      int64
	CompletedFiles int64
	CompletedSize  int64
	UploadedFiles  int64 // uploaded but local copy not yet removed
	UploadedSize   int64
	PendingFiles   int64
	PendingSize    int64
	FailedFiles    int64
	FailedSize     int64
	LastCompleted  time.Time
}

// PassResult summarises a single upload pass
type PassResult struct {
	RunID     string
	Processed int
	Uploaded  int
	Failed    int
	Skipped   int
	Bytes     int64
	Duration  time.Duration
}
