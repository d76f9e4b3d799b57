// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/chmdznr/recsync/internal/storage"
)

// MockStore implements storage.ObjectStore in memory
type MockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	calls   int

	// FailKeys makes Put fail for the listed keys
	FailKeys   map[string]error
	// Missing lists buckets reported as absent
	Missing    map[string]bool
	// StoredSize overrides the size reported back for the listed keys
	StoredSize map[string]int64
}

// NewMockStore creates an empty store
func NewMockStore() *MockStore {
	return &MockStore{
		objects:  make(map[string][]byte),
		meta:     make(map[string]map[string]string),
		FailKeys:   make(map[string]error),
		Missing:    make(map[string]bool),
		StoredSize: make(map[string]int64),
	}
}

var _ storage.ObjectStore = (*MockStore)(nil)

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

func (m *MockStore) Put(ctx context.Context, bucket, key, path string, opts storage.PutOptions) (storage.UploadInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := ctx.Err(); err != nil {
		return storage.UploadInfo{}, err
	}
	if err, ok := m.FailKeys[key]; ok {
		if err == nil {
			err = errors.New("mock upload failure")
		}
		return storage.UploadInfo{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return storage.UploadInfo{}, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	if opts.Progress != nil {
		opts.Progress.Add(len(data))
	}

	id := objectID(bucket, key)
	m.objects[id] = data
	m.meta[id] = opts.Metadata
	size := int64(len(data))
	if override, ok := m.StoredSize[key]; ok {
		size = override
	}
	return storage.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func (m *MockStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return !m.Missing[bucket], nil
}

// Object returns the stored bytes for bucket/key
func (m *MockStore) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectID(bucket, key)]
	return data, ok
}

// Metadata returns the user metadata sent with bucket/key
func (m *MockStore) Metadata(bucket, key string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta[objectID(bucket, key)]
}

// Keys lists stored object IDs
func (m *MockStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

// Calls returns how many times Put was invoked
func (m *MockStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
