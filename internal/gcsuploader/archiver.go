package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/dvloznov/cashflow-ledger/internal/gcs"
	"github.com/rs/zerolog"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Archiver stores uploaded statement files under
// statements/<ledger>/<yyyy>/<mm>/<dd>/<unix>-<filename>.
type Archiver struct {
	store  gcs.ObjectStore
	bucket string
	clock  clock.Clock
	log    zerolog.Logger
}

// NewArchiver creates an Archiver writing to bucket.
func NewArchiver(store gcs.ObjectStore, bucket string, clk clock.Clock, log zerolog.Logger) *Archiver {
	return &Archiver{store: store, bucket: bucket, clock: clk, log: log}
}

// Archive uploads data and returns its gs:// URI.
func (a *Archiver) Archive(ctx context.Context, ledgerID, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("Archive: empty file %q", filename)
	}
	now := a.clock.Now().UTC()
	object := path.Join(
		"statements",
		sanitize(ledgerID),
		now.Format("2006/01/02"),
		fmt.Sprintf("%d-%s", now.Unix(), sanitize(path.Base(filename))),
	)

	if err := a.store.Put(ctx, a.bucket, object, contentType(filename), bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("Archive: upload %s: %w", object, err)
	}

	uri := gcs.URI(a.bucket, object)
	a.log.Info().Str("ledger_id", ledgerID).Str("uri", uri).Int("bytes", len(data)).Msg("Archived statement")
	return uri, nil
}

// Fetch downloads a previously archived statement.
func (a *Archiver) Fetch(ctx context.Context, uri string) ([]byte, error) {
	data, err := a.store.Get(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	return data, nil
}

func sanitize(s string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" || s == "." || s == ".." {
		return "file"
	}
	return s
}

func contentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".csv":
		return "text/csv"
	case ".ofx", ".qfx":
		return "application/x-ofx"
	default:
		return "application/octet-stream"
	}
}
