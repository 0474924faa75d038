package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
)

const DefaultRetain = 10

// RingFileStore keeps the most recent records as one JSON file each in a
// directory, pruning the oldest beyond the retain limit. Searches scan.
type RingFileStore struct {
	mu      sync.Mutex
	dir     string
	retain  int
	onEvict EvictionHook
}

func NewRingFileStore(dir string, retain int) (*RingFileStore, error) {
	if retain <= 0 {
		retain = DefaultRetain
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: error creating fallback directory %s: %v", ErrArchiveUnavailable, dir, err)
	}
	return &RingFileStore{dir: dir, retain: retain}, nil
}

func (s *RingFileStore) Name() string { return "file" }

// OnEvict registers h to receive the ids pruned out of the window.
func (s *RingFileStore) OnEvict(h EvictionHook) {
	s.mu.Lock()
	s.onEvict = h
	s.mu.Unlock()
}

// Save writes through a temp file and rename so readers never see a
// partial record.
func (s *RingFileStore) Save(ctx context.Context, rec ArchivedProvenance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding provenance %s: %w", rec.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("%019d_%s.json", rec.Timestamp.UnixNano(), rec.ID)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	return s.pruneLocked()
}

// files returns record file names oldest first.
func (s *RingFileStore) files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *RingFileStore) pruneLocked() error {
	names, err := s.files()
	if err != nil {
		return err
	}
	var evicted []string
	defer func() {
		if len(evicted) == 0 {
			return
		}
		logger.L.Warn("Fallback archive full, evicted unpromoted records", "tier", s.Name(), "retain", s.retain, "ids", evicted)
		if s.onEvict != nil {
			s.onEvict(s.Name(), evicted)
		}
	}()
	for len(names) > s.retain {
		if err := os.Remove(filepath.Join(s.dir, names[0])); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error pruning fallback record %s: %w", names[0], err)
		}
		evicted = append(evicted, idFromName(names[0]))
		names = names[1:]
	}
	return nil
}

func idFromName(name string) string {
	base := strings.TrimSuffix(name, ".json")
	if i := strings.IndexByte(base, '_'); i >= 0 {
		return base[i+1:]
	}
	return base
}

// all returns every retained record newest first.
func (s *RingFileStore) all() ([]ArchivedProvenance, error) {
	names, err := s.files()
	if err != nil {
		return nil, err
	}
	out := make([]ArchivedProvenance, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		b, err := os.ReadFile(filepath.Join(s.dir, names[i]))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
		}
		rec, err := decodeRecord(b)
		if err != nil {
			logger.L.Warn("Skipping unreadable fallback record", "file", names[i], "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RingFileStore) Get(ctx context.Context, id string) (ArchivedProvenance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.files()
	if err != nil {
		return ArchivedProvenance{}, err
	}
	for _, name := range names {
		if idFromName(name) != id {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return ArchivedProvenance{}, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
		}
		return decodeRecord(b)
	}
	return ArchivedProvenance{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *RingFileStore) List(ctx context.Context, f Filter) ([]ArchivedProvenance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.all()
	if err != nil {
		return nil, err
	}
	return filterInMemory(records, f), nil
}

func (s *RingFileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.files()
	if err != nil {
		return err
	}
	for _, name := range names {
		if idFromName(name) == id {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *RingFileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrArchiveUnavailable, s.dir)
	}
	return nil
}

func (s *RingFileStore) Close() error { return nil }
