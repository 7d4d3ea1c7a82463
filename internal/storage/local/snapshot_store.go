// Package local implements a snapshot store on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
	"github.com/JakeFAU/pcspec-crawler/internal/storage"
)

// Config captures the parameters for the local snapshot store.
type Config struct {
	// Dir is the directory snapshots are written to.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SnapshotStore writes one <source>.json file per source.
type SnapshotStore struct {
	dir string
}

var _ crawler.SnapshotStore = (*SnapshotStore)(nil)

// New creates the output directory if needed and verifies it is writable.
func New(cfg Config) (*SnapshotStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat output directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("output path %q is not a directory", cfg.Dir)
	}

	probe := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &SnapshotStore{dir: cfg.Dir}, nil
}

// Path returns the snapshot file path for source.
func (s *SnapshotStore) Path(source string) (string, error) {
	name, err := storage.ObjectName("", source)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// Save replaces the source's snapshot with records. The file is written to
// a temporary sibling and renamed into place, so readers never observe a
// partially written snapshot.
func (s *SnapshotStore) Save(ctx context.Context, source string, records []crawler.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := s.Path(source)
	if err != nil {
		return "", err
	}
	data, err := storage.EncodeSnapshot(records)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("replace snapshot: %w", err)
	}
	if err := syncDir(s.dir); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	return "file://" + abs, nil
}

// Load reads back the current snapshot for source.
func (s *SnapshotStore) Load(source string) ([]crawler.Record, error) {
	target, err := s.Path(source)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target) // #nosec G304 -- path built from validated source name.
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return storage.DecodeSnapshot(data)
}

func syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 -- configured output directory.
	if err != nil {
		return fmt.Errorf("open output directory: %w", err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync output directory: %w", err)
	}
	return nil
}
