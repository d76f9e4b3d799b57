package models

import "time"

// Upload statuses stored in the ledger
const (
	StatusPending   = "pending"
	StatusFailed    = "failed"
	StatusUploaded  = "uploaded"
	StatusCompleted = "completed"
)

// Recording is a finished capture file found in the recordings directory
type Recording struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// UploadRecord is one ledger row
type UploadRecord struct {
	RunID      string
	SourceName string
	FileName   string
	Bucket     string
	ObjectKey  string
	Size       int64
	BirthTime  time.Time
	Status     string
	Error      string
	UpdatedAt  time.Time
}

// Destination describes where recordings are filed in the object store
type Destination struct {
	Endpoint string
	Region   string
	Bucket   string
	Prefix   string
	Secure   bool
}
