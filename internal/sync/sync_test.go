package sync

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/recsync/internal/db"
	"github.com/chmdznr/recsync/internal/recording"
	"github.com/chmdznr/recsync/internal/testutil"
	"github.com/chmdznr/recsync/pkg/models"
)

const testBucket = "footage"

type fixture struct {
	dir    string
	ledger *db.DB
	store  *testutil.MockStore
	syncer *Syncer
	out    *bytes.Buffer
}

func newFixture(t *testing.T, prefix string) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, SyncerConfig{
		Destination: models.Destination{Prefix: prefix},
	})
}

// newFixtureWithConfig fills in the directory and bucket of cfg
func newFixtureWithConfig(t *testing.T, cfg SyncerConfig) *fixture {
	t.Helper()
	dir := t.TempDir()

	ledger, err := db.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	cfg.Dir = dir
	cfg.Destination.Bucket = testBucket
	store := testutil.NewMockStore()
	syncer, err := NewSyncer(ledger, store, &cfg)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	syncer.SetOutput(out)

	return &fixture{dir: dir, ledger: ledger, store: store, syncer: syncer, out: out}
}

// write creates a recording whose modification time orders it in the pass
func (f *fixture) write(t *testing.T, name, content string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestNewSyncer_Validation(t *testing.T) {
	ledger, err := db.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()
	store := testutil.NewMockStore()

	_, err = NewSyncer(ledger, store, nil)
	assert.Error(t, err)

	_, err = NewSyncer(ledger, store, &SyncerConfig{Dir: "rec"})
	assert.Error(t, err)

	_, err = NewSyncer(nil, store, &SyncerConfig{Dir: "rec", Destination: models.Destination{Bucket: "b"}})
	assert.Error(t, err)

	s, err := NewSyncer(ledger, store, &SyncerConfig{Dir: "rec", Destination: models.Destination{Bucket: "b", Prefix: "p/"}})
	require.NoError(t, err)
	assert.Equal(t, ".mp4", s.config.Extension)
	assert.NotNil(t, s.remove)
	assert.Equal(t, "p", s.config.Destination.Prefix)
}

func TestRun_NotEnoughFiles(t *testing.T) {
	f := newFixture(t, "")
	live := f.write(t, "gcam_01012025_000000.mp4", "live", 0)

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.Contains(t, f.out.String(), "Not enough files to process")
	assert.FileExists(t, live)
	assert.Zero(t, f.store.Calls())
}

func TestRun_UploadsAllButNewest(t *testing.T) {
	f := newFixture(t, "cams/front/")
	f.write(t, "gcam_05032025_140709.mp4", "first", 3*time.Minute)
	f.write(t, "gcam_05032025_141709.mp4", "second", 2*time.Minute)
	live := f.write(t, "gcam_05032025_142709.mp4", "live", time.Minute)

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Uploaded)
	assert.Zero(t, result.Failed)
	assert.Equal(t, int64(len("first")+len("second")), result.Bytes)
	assert.NotEmpty(t, result.RunID)

	data, ok := f.store.Object(testBucket, "cams/front/2025-03-05/gcam_05032025_140709.mp4")
	require.True(t, ok)
	assert.Equal(t, "first", string(data))
	_, ok = f.store.Object(testBucket, "cams/front/2025-03-05/gcam_05032025_141709.mp4")
	assert.True(t, ok)
	assert.Len(t, f.store.Keys(), 2)

	assert.NoFileExists(t, filepath.Join(f.dir, "gcam_05032025_140709.mp4"))
	assert.NoFileExists(t, filepath.Join(f.dir, "gcam_05032025_141709.mp4"))
	assert.FileExists(t, live)

	rec, err := f.ledger.Get(testBucket, "cams/front/2025-03-05/gcam_05032025_140709.mp4")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, result.RunID, rec.RunID)

	assert.Contains(t, f.out.String(), "Uploading to S3: s3://footage/cams/front/2025-03-05/gcam_05032025_140709.mp4")
	assert.Contains(t, f.out.String(), "Deleted local file: gcam_05032025_140709.mp4")
}

func TestRun_RenamesByBirthTime(t *testing.T) {
	f := newFixture(t, "")
	path := f.write(t, "capture-0001.mp4", "frames", 2*time.Minute)
	f.write(t, "capture-0002.mp4", "live", time.Minute)

	ts, err := recording.Timestamp(models.Recording{Path: path, Name: "capture-0001.mp4"})
	require.NoError(t, err)
	key := recording.ObjectKey("", ts, ".mp4")

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Uploaded)

	data, ok := f.store.Object(testBucket, key)
	require.True(t, ok, "expected object at %s, have %v", key, f.store.Keys())
	assert.Equal(t, "frames", string(data))
	assert.Equal(t, "capture-0001.mp4", f.store.Metadata(testBucket, key)["source-name"])

	rec, err := f.ledger.Get(testBucket, key)
	require.NoError(t, err)
	assert.Equal(t, "capture-0001.mp4", rec.SourceName)
	assert.Equal(t, recording.FileName(ts, ".mp4"), rec.FileName)
	assert.NoFileExists(t, path)
}

func TestRun_FailureKeepsFileForNextPass(t *testing.T) {
	f := newFixture(t, "")
	f.write(t, "gcam_05032025_140709.mp4", "first", 3*time.Minute)
	f.write(t, "gcam_05032025_141709.mp4", "second", 2*time.Minute)
	f.write(t, "gcam_05032025_142709.mp4", "live", time.Minute)

	failing := "2025-03-05/gcam_05032025_140709.mp4"
	f.store.FailKeys[failing] = errors.New("connection reset by peer")

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Uploaded)
	assert.FileExists(t, filepath.Join(f.dir, "gcam_05032025_140709.mp4"))

	rec, err := f.ledger.Get(testBucket, failing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "connection reset")

	delete(f.store.FailKeys, failing)
	result, err = f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.NoFileExists(t, filepath.Join(f.dir, "gcam_05032025_140709.mp4"))

	rec, err = f.ledger.Get(testBucket, failing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Empty(t, rec.Error)
}

func TestRun_RetryKeepsFirstSourceName(t *testing.T) {
	f := newFixture(t, "")
	path := f.write(t, "capture-0001.mp4", "frames", 2*time.Minute)
	f.write(t, "capture-0002.mp4", "live", time.Minute)

	ts, err := recording.Timestamp(models.Recording{Path: path, Name: "capture-0001.mp4"})
	require.NoError(t, err)
	key := recording.ObjectKey("", ts, ".mp4")
	f.store.FailKeys[key] = nil

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	assert.FileExists(t, filepath.Join(f.dir, recording.FileName(ts, ".mp4")))

	delete(f.store.FailKeys, key)
	_, err = f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "capture-0001.mp4", f.store.Metadata(testBucket, key)["source-name"])
}

func TestRun_CustomExtensionRetried(t *testing.T) {
	f := newFixtureWithConfig(t, SyncerConfig{Extension: ".MP4"})
	path := f.write(t, "CAM0001.MP4", "frames", 2*time.Minute)
	f.write(t, "CAM0002.MP4", "live", time.Minute)

	ts, err := recording.Timestamp(models.Recording{Path: path, Name: "CAM0001.MP4"})
	require.NoError(t, err)
	key := recording.ObjectKey("", ts, ".MP4")
	renamed := filepath.Join(f.dir, recording.FileName(ts, ".MP4"))
	f.store.FailKeys[key] = nil

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	assert.FileExists(t, renamed)

	delete(f.store.FailKeys, key)
	result, err = f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.NoFileExists(t, renamed)

	data, ok := f.store.Object(testBucket, key)
	require.True(t, ok, "expected object at %s, have %v", key, f.store.Keys())
	assert.Equal(t, "frames", string(data))

	rec, err := f.ledger.Get(testBucket, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, "CAM0001.MP4", rec.SourceName)
}

func TestRun_SizeMismatchKeepsFile(t *testing.T) {
	f := newFixture(t, "")
	name := "gcam_05032025_140709.mp4"
	key := "2025-03-05/" + name
	path := f.write(t, name, "first", 2*time.Minute)
	f.write(t, "gcam_05032025_142709.mp4", "live", time.Minute)
	f.store.StoredSize[key] = 2

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Uploaded)
	assert.FileExists(t, path)

	rec, err := f.ledger.Get(testBucket, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "size mismatch")

	delete(f.store.StoredSize, key)
	result, err = f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 2, f.store.Calls())
	assert.NoFileExists(t, path)

	rec, err = f.ledger.Get(testBucket, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
}

func TestRun_DeleteFailureRetriesOnlyDelete(t *testing.T) {
	f := newFixture(t, "")
	name := "gcam_05032025_140709.mp4"
	key := "2025-03-05/" + name
	path := f.write(t, name, "first", 2*time.Minute)
	f.write(t, "gcam_05032025_142709.mp4", "live", time.Minute)

	f.syncer.remove = func(string) error { return os.ErrPermission }

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Zero(t, result.Failed)
	assert.FileExists(t, path)
	assert.NotContains(t, f.out.String(), "Deleted local file")

	rec, err := f.ledger.Get(testBucket, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, rec.Status)

	f.syncer.remove = os.Remove
	result, err = f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, f.store.Calls())
	assert.NoFileExists(t, path)

	rec, err = f.ledger.Get(testBucket, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
}

func TestRun_AlreadyUploadedIsNotSentAgain(t *testing.T) {
	f := newFixture(t, "")
	name := "gcam_05032025_140709.mp4"
	key := "2025-03-05/" + name
	f.write(t, name, "first", 2*time.Minute)
	f.write(t, "gcam_05032025_142709.mp4", "live", time.Minute)

	// a previous pass stored the object but could not delete the local copy
	require.NoError(t, f.ledger.RecordPending(&models.UploadRecord{
		RunID: "earlier", SourceName: name, FileName: name,
		Bucket: testBucket, ObjectKey: key, Size: int64(len("first")),
	}))
	require.NoError(t, f.ledger.UpdateStatus(testBucket, key, models.StatusUploaded, ""))

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, f.store.Calls())
	assert.NoFileExists(t, filepath.Join(f.dir, name))

	rec, err := f.ledger.Get(testBucket, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
}

func TestRun_KeyOwnedByAnotherRecording(t *testing.T) {
	f := newFixture(t, "")
	name := "gcam_05032025_140709.mp4"
	key := "2025-03-05/" + name
	path := f.write(t, name, "a different take", 2*time.Minute)
	f.write(t, "gcam_05032025_142709.mp4", "live", time.Minute)

	require.NoError(t, f.ledger.RecordPending(&models.UploadRecord{
		RunID: "earlier", SourceName: name, FileName: name,
		Bucket: testBucket, ObjectKey: key, Size: 3,
	}))
	require.NoError(t, f.ledger.UpdateStatus(testBucket, key, models.StatusCompleted, ""))

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, f.store.Calls())
	assert.FileExists(t, path)
}

func TestRun_NameCollisionLeavesFile(t *testing.T) {
	f := newFixture(t, "")
	path := f.write(t, "capture-0001.mp4", "frames", 3*time.Minute)
	ts, err := recording.Timestamp(models.Recording{Path: path, Name: "capture-0001.mp4"})
	require.NoError(t, err)

	// a newer file already holds the canonical name but is still recording
	taken := f.write(t, recording.FileName(ts, ".mp4"), "live", time.Minute)

	result, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.FileExists(t, path)
	assert.FileExists(t, taken)
	assert.Zero(t, f.store.Calls())
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, "")
	f.write(t, "gcam_05032025_140709.mp4", "first", 2*time.Minute)
	f.write(t, "gcam_05032025_142709.mp4", "live", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.syncer.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.FileExists(t, filepath.Join(f.dir, "gcam_05032025_140709.mp4"))
}

func TestRun_MissingDirectory(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, os.RemoveAll(f.dir))

	_, err := f.syncer.Run(context.Background())
	assert.Error(t, err)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, "")
	assert.NoError(t, f.syncer.Preflight(context.Background()))

	f.store.Missing[testBucket] = true
	err := f.syncer.Preflight(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "canonical name",
			input:    "gcam_05032025_140709.mp4",
			expected: "gcam_05032025_140709.mp4",
		},
		{
			name:     "windows path",
			input:    "cam\\front\\clip.mp4",
			expected: "cam/front/clip.mp4",
		},
		{
			name:     "name with spaces",
			input:    "front door.mp4",
			expected: "front+door.mp4",
		},
		{
			name:     "name with special chars",
			input:    "front&back+side.mp4",
			expected: "frontandback+side.mp4",
		},
		{
			name:     "non ascii",
			input:    "café.mp4",
			expected: "caf%C3%A9.mp4",
		},
		{
			name:     "double slashes",
			input:    "cam//clip.mp4",
			expected: "cam/clip.mp4",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizePath(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizePath(%q) = %q; want %q", tt.input, result, tt.expected)
			}
		})
	}
}
