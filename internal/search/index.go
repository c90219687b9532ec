package search

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

const (
	indexDir    = "catalog.bleve"
	versionFile = "catalog.version"

	// mappingVersion changes whenever buildIndexMapping does. An index
	// written under another version is dropped on Open.
	mappingVersion = "1"

	addBatchSize = 500
)

// Index is the full-text index over catalog books. It is safe for
// concurrent use; Reset excludes every other call while it runs.
type Index struct {
	mu     sync.RWMutex
	bleve  bleve.Index
	path   string
	logger *slog.Logger
	closed bool
}

// Options configures the search index.
type Options struct {
	DataPath string
	Logger   *slog.Logger
}

// Open opens the index under opts.DataPath, creating it when missing. An
// unreadable index or one with a stale mapping is recreated empty; the
// caller reindexes when Count reports fewer documents than it expects.
func Open(opts Options) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	path := filepath.Join(opts.DataPath, indexDir)

	idx, err := openCurrent(path, filepath.Join(opts.DataPath, versionFile), logger)
	if err != nil {
		return nil, err
	}
	if idx != nil {
		logger.Debug("opened search index", "path", path)
		return &Index{bleve: idx, path: path, logger: logger}, nil
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove stale index: %w", err)
	}
	idx, err = bleve.New(path, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(opts.DataPath, versionFile), []byte(mappingVersion), 0o600); err != nil {
		logger.Warn("failed to record search mapping version", "error", err)
	}
	logger.Info("created search index", "path", path, "mapping_version", mappingVersion)

	return &Index{bleve: idx, path: path, logger: logger}, nil
}

// openCurrent opens the index at path when it exists and was written with
// the current mapping. It returns nil when a new index must be created.
func openCurrent(path, versionPath string, logger *slog.Logger) (bleve.Index, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	version, err := os.ReadFile(versionPath)
	if err != nil || string(version) != mappingVersion {
		logger.Info("search mapping changed, rebuilding index",
			"old_version", string(version),
			"new_version", mappingVersion,
		)
		return nil, nil
	}

	idx, err := bleve.Open(path)
	if err != nil {
		logger.Warn("search index unreadable, rebuilding", "path", path, "error", err)
		return nil, nil
	}
	return idx, nil
}

// Close releases the index files. Later calls are no-ops.
func (s *Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.bleve.Close()
}

// Add indexes docs, replacing documents with the same ID. Large sets are
// committed in batches.
func (s *Index) Add(docs []*BookDocument) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for start := 0; start < len(docs); start += addBatchSize {
		end := min(start+addBatchSize, len(docs))

		batch := s.bleve.NewBatch()
		for _, doc := range docs[start:end] {
			if err := batch.Index(doc.ID, doc.ToMap()); err != nil {
				return fmt.Errorf("index %s: %w", doc.ID, err)
			}
		}
		if err := s.bleve.Batch(batch); err != nil {
			return fmt.Errorf("commit books %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// Count returns the number of indexed books.
func (s *Index) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bleve.DocCount()
}

// Reset replaces the index with an empty one.
func (s *Index) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bleve.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("remove index: %w", err)
	}
	idx, err := bleve.New(s.path, buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	s.bleve = idx
	s.logger.Info("reset search index", "path", s.path)
	return nil
}
