// Package gcs holds the object storage contract shared by the statement
// archive and its callers.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// ObjectStore provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Put writes r to bucket/object.
	Put(ctx context.Context, bucket, object, contentType string, r io.Reader) error

	// Get downloads the object bytes addressed by a gs:// URI.
	Get(ctx context.Context, uri string) ([]byte, error)
}

// URI formats a gs:// URI.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ParseURI splits gs://bucket/path/to/object into bucket and object path.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.csv" → "file.csv"
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
