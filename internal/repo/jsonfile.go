package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/tbourn/go-paywall-counter/internal/domain"
)

// JSONFileStore keeps the records in memory and mirrors the whole sequence to
// a single JSON file after every mutation.
//
// The file is rewritten in place (truncate + write) with two-space
// indentation. A crash in the middle of a write can leave it truncated; that
// risk is accepted for this backend.
type JSONFileStore struct {
	path string

	mu      sync.RWMutex
	records []domain.PaymentRecord
	index   map[string]int // id -> position of the first record with that id
}

// OpenJSONFile loads path into memory. A missing file yields an empty store;
// a file that exists but does not decode as a JSON array of records is an
// error, and nothing is recovered from it.
func OpenJSONFile(path string) (*JSONFileStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	s := &JSONFileStore{
		path:    path,
		records: []domain.PaymentRecord{},
		index:   make(map[string]int),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var recs []domain.PaymentRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, r := range recs {
		s.push(r)
	}
	return s, nil
}

// Path returns the backing file location.
func (s *JSONFileStore) Path() string { return s.path }

func (s *JSONFileStore) push(r domain.PaymentRecord) {
	if _, dup := s.index[r.ID]; !dup {
		s.index[r.ID] = len(s.records)
	}
	s.records = append(s.records, r)
}

// Append implements Store.
func (s *JSONFileStore) Append(_ context.Context, rec domain.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, hadID := s.index[rec.ID]
	s.push(rec)
	if err := s.flushLocked(); err != nil {
		// Keep memory in line with what is on disk.
		s.records = s.records[:len(s.records)-1]
		if !hadID {
			delete(s.index, rec.ID)
		}
		return err
	}
	return nil
}

// Find implements Store.
func (s *JSONFileStore) Find(_ context.Context, id string) (domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return domain.PaymentRecord{}, ErrNotFound
	}
	return s.records[i], nil
}

// MarkVisited implements Store.
func (s *JSONFileStore) MarkVisited(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false, ErrNotFound
	}
	if !s.records[i].FirstVisit {
		return false, nil
	}

	s.records[i].FirstVisit = false
	if err := s.flushLocked(); err != nil {
		s.records[i].FirstVisit = true
		return false, err
	}
	return true, nil
}

// Count implements Store.
func (s *JSONFileStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// All implements Store.
func (s *JSONFileStore) All(_ context.Context) ([]domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PaymentRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Close implements Store. The file is already in sync after every mutation.
func (s *JSONFileStore) Close() error { return nil }

// flushLocked rewrites the whole backing file. Caller holds s.mu.
func (s *JSONFileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
