// Package gcs provides a snapshot store backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	gstorage "cloud.google.com/go/storage"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
	"github.com/JakeFAU/pcspec-crawler/internal/storage"
)

// Config captures the parameters required to write snapshots to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// SnapshotStore uploads one <prefix>/<source>.json object per source.
type SnapshotStore struct {
	client *gstorage.Client
	bucket string
	prefix string
}

var _ crawler.SnapshotStore = (*SnapshotStore)(nil)

// New creates a GCS-backed snapshot store.
func New(client *gstorage.Client, cfg Config) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &SnapshotStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Save uploads the full snapshot, replacing any previous object. GCS object
// writes are atomic: the object only becomes visible once Close succeeds.
func (s *SnapshotStore) Save(ctx context.Context, source string, records []crawler.Record) (string, error) {
	name, err := storage.ObjectName(s.prefix, source)
	if err != nil {
		return "", err
	}
	data, err := storage.EncodeSnapshot(records)
	if err != nil {
		return "", err
	}

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = storage.ContentType
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
