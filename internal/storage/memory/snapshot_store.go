// Package memory keeps snapshots and run progress in-memory for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
	"github.com/JakeFAU/pcspec-crawler/internal/storage"
)

// SnapshotStore keeps the latest encoded snapshot per source.
type SnapshotStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	saves map[string]int
	failOn map[string]error
}

var _ crawler.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates an empty in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data:   make(map[string][]byte),
		saves:  make(map[string]int),
		failOn: make(map[string]error),
	}
}

// FailSource makes subsequent saves for source return err. A nil err clears it.
func (s *SnapshotStore) FailSource(source string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, source)
		return
	}
	s.failOn[source] = err
}

// Save encodes records and replaces the stored snapshot.
func (s *SnapshotStore) Save(_ context.Context, source string, records []crawler.Record) (string, error) {
	name, err := storage.ObjectName("", source)
	if err != nil {
		return "", err
	}
	data, err := storage.EncodeSnapshot(records)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if failErr, ok := s.failOn[source]; ok {
		return "", failErr
	}
	s.data[source] = data
	s.saves[source]++
	return fmt.Sprintf("memory://%s", name), nil
}

// Raw returns a copy of the encoded snapshot for source.
func (s *SnapshotStore) Raw(source string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[source]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Records decodes the stored snapshot for source.
func (s *SnapshotStore) Records(source string) ([]crawler.Record, error) {
	data, ok := s.Raw(source)
	if !ok {
		return nil, fmt.Errorf("no snapshot for %q", source)
	}
	return storage.DecodeSnapshot(data)
}

// Saves returns how many times source has been written.
func (s *SnapshotStore) Saves(source string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves[source]
}
