// Package gcsuploader archives raw bank statements in Google Cloud Storage.
package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/cashflow-ledger/internal/gcs"
)

const uploadTimeout = 2 * time.Minute

// GCSStore is the gcs.ObjectStore backed by Google Cloud Storage.
// It assumes Application Default Credentials are configured.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a storage client.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Put uploads r to bucket/object.
func (s *GCSStore) Put(ctx context.Context, bucket, object, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Get downloads the object bytes for a gs:// URI.
func (s *GCSStore) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := gcs.ParseURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Get: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Get: reading bytes: %w", err)
	}
	return data, nil
}

var _ gcs.ObjectStore = (*GCSStore)(nil)
