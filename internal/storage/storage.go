// Package storage uploads recordings to an S3-compatible object store.
package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chmdznr/recsync/pkg/models"
)

// ContentTypeMP4 is the default content type of a recording
const ContentTypeMP4 = "video/mp4"

// ContentTypeFor returns the content type for a recording extension
func ContentTypeFor(ext string) string {
	if ext == "" || strings.EqualFold(ext, ".mp4") {
		return ContentTypeMP4
	}
	if ct := mime.TypeByExtension(strings.ToLower(ext)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// PutOptions controls a single upload
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// Progress, when set, is advanced by the number of bytes sent
	Progress *pb.ProgressBar
}

// UploadInfo describes a stored object
type UploadInfo struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string
}

// ObjectStore is the remote side of an upload
type ObjectStore interface {
	Put(ctx context.Context, bucket, key, path string, opts PutOptions) (UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// MinioStore implements ObjectStore with minio-go
type MinioStore struct {
	client *minio.Client
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// DefaultCredentials resolves credentials the way the AWS tooling does:
// environment, shared credentials file, then instance metadata.
func DefaultCredentials() *credentials.Credentials {
	return credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{
			Client: &http.Client{Transport: newTransport()},
		},
	})
}

// NewMinioStore creates a client for dest. A nil creds uses DefaultCredentials.
func NewMinioStore(dest models.Destination, creds *credentials.Credentials) (*MinioStore, error) {
	if creds == nil {
		creds = DefaultCredentials()
	}

	opts := minio.Options{
		Creds:        creds,
		Secure:       dest.Secure,
		Transport:    newTransport(),
		Region:       dest.Region,
		BucketLookup: minio.BucketLookupAuto,
	}

	client, err := minio.New(dest.Endpoint, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	return &MinioStore{client: client}, nil
}

// Put uploads the file at path to bucket/key in a single call
func (s *MinioStore) Put(ctx context.Context, bucket, key, path string, opts PutOptions) (UploadInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadInfo{}, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return UploadInfo{}, fmt.Errorf("failed to stat file %s: %w", path, err)
	}

	putOpts := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	}
	if putOpts.ContentType == "" {
		putOpts.ContentType = ContentTypeMP4
	}
	if opts.Progress != nil {
		putOpts.Progress = &progressReader{bar: opts.Progress}
	}

	uploaded, err := s.client.PutObject(ctx, bucket, key, f, info.Size(), putOpts)
	if err != nil {
		return UploadInfo{}, err
	}

	return UploadInfo{
		Bucket: uploaded.Bucket,
		Key:    uploaded.Key,
		Size:   uploaded.Size,
		ETag:   uploaded.ETag,
	}, nil
}

// BucketExists reports whether bucket is reachable with the configured credentials
func (s *MinioStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return s.client.BucketExists(ctx, bucket)
}

// progressReader lets a pb bar stand in for minio's progress reader
type progressReader struct {
	bar *pb.ProgressBar
}

func (p *progressReader) Read(b []byte) (int, error) {
	p.bar.Add(len(b))
	return len(b), nil
}

// DescribeError expands S3 error responses into a single line
func DescribeError(err error) string {
	if err == nil {
		return ""
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %s (status %d)", resp.Code, resp.Message, resp.StatusCode)
}
