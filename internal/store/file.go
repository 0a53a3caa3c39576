package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/CosmoTheDev/painscan/models"
)

// FileStore keeps every record in one JSON document. Writes go to a temp
// file that is renamed over the original, so a crash mid-write leaves the
// previous document intact. A gofrs/flock lock serializes access across
// processes sharing the same file.
type FileStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

type document struct {
	Records map[string]models.ScanRecord `json:"records"`
}

// NewFileStore opens (or lazily creates) the document at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &FileStore{path: path, lock: flock.New(path + ".lock")}, nil
}

func (s *FileStore) Create(_ context.Context, rec models.ScanRecord) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	return s.withDocument(true, func(doc *document) error {
		if _, ok := doc.Records[rec.ID]; ok {
			return fmt.Errorf("%w: %s", ErrExists, rec.ID)
		}
		doc.Records[rec.ID] = rec.Clone()
		return nil
	})
}

func (s *FileStore) Get(_ context.Context, id string) (models.ScanRecord, error) {
	var out models.ScanRecord
	err := s.withDocument(false, func(doc *document) error {
		rec, ok := doc.Records[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		out = rec.Clone()
		return nil
	})
	return out, err
}

func (s *FileStore) Update(_ context.Context, id string, p Patch) (models.ScanRecord, error) {
	var out models.ScanRecord
	err := s.withDocument(true, func(doc *document) error {
		rec, ok := doc.Records[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := apply(&rec, p); err != nil {
			return fmt.Errorf("%w: %s", err, id)
		}
		doc.Records[id] = rec
		out = rec.Clone()
		return nil
	})
	return out, err
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	return s.withDocument(true, func(doc *document) error {
		if _, ok := doc.Records[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		delete(doc.Records, id)
		return nil
	})
}

func (s *FileStore) ListIDs(_ context.Context) ([]string, error) {
	var recs []models.ScanRecord
	err := s.withDocument(false, func(doc *document) error {
		for _, r := range doc.Records {
			recs = append(recs, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

func (s *FileStore) Close() error { return nil }

// withDocument runs fn against the current document while holding both the
// in-process mutex and the cross-process file lock. When write is true and fn
// succeeds, the document is persisted before the locks are released.
func (s *FileStore) withDocument(write bool, fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", s.path, err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("store: releasing file lock failed", "path", s.path, "error", err)
		}
	}()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if !write {
		return nil
	}
	return s.save(doc)
}

func (s *FileStore) load() (*document, error) {
	empty := &document{Records: map[string]models.ScanRecord{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return empty, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		backup := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().UTC().Format("20060102-150405"))
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			slog.Warn("store: could not move corrupt file aside", "path", s.path, "error", renameErr)
		}
		slog.Warn("store: corrupt scan file reset to empty", "path", s.path, "backup", backup, "error", err)
		return empty, nil
	}
	if doc.Records == nil {
		doc.Records = map[string]models.ScanRecord{}
	}
	return &doc, nil
}

func (s *FileStore) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising scan records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".scans-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}
