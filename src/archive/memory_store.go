package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is the last-resort tier. Nothing in it survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records []ArchivedProvenance // oldest first
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Save(ctx context.Context, rec ArchivedProvenance) error {
	c, err := copyRecord(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records = append(s.records, c)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (ArchivedProvenance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return copyRecord(r)
		}
	}
	return ArchivedProvenance{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]ArchivedProvenance, error) {
	s.mu.RLock()
	newest := make([]ArchivedProvenance, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		newest = append(newest, s.records[i])
	}
	s.mu.RUnlock()

	matched := filterInMemory(newest, f)
	out := make([]ArchivedProvenance, 0, len(matched))
	for _, r := range matched {
		c, err := copyRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// copyRecord round-trips through JSON so the tier holds exactly what a
// durable tier would return.
func copyRecord(rec ArchivedProvenance) (ArchivedProvenance, error) {
	s, err := jsonString(rec)
	if err != nil {
		return ArchivedProvenance{}, err
	}
	return decodeRecord([]byte(s))
}

func jsonString(rec ArchivedProvenance) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("error encoding provenance %s: %w", rec.ID, err)
	}
	return string(b), nil
}
