package catalog

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type fileDoc struct {
	Places []Entry `yaml:"places"`
}

// ReadFile parses a place catalog. The file is YAML (JSON is accepted as the
// YAML subset it is) holding either a top-level list of entries or a
// mapping with a "places" list.
func ReadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Places) > 0 {
		return doc.Places, nil
	}

	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return entries, nil
}

// Loader holds the current place index and rebuilds it only when asked to
// load a different path than the one already loaded.
type Loader struct {
	logger *zap.Logger

	mu    sync.Mutex
	path  string
	index atomic.Pointer[Index]
}

// NewLoader creates an empty loader.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("catalog")}
}

// Load indexes the catalog at path. Loading the path that is already loaded
// is a no-op returning the current index.
func (l *Loader) Load(path string) (*Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur := l.index.Load(); cur != nil && path == l.path {
		return cur, nil
	}

	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	ix := NewIndex(entries)
	l.index.Store(ix)
	l.path = path

	l.logger.Info("place catalog loaded",
		zap.String("path", path),
		zap.Int("entries", ix.Len()),
		zap.Int("rooms", ix.Rooms()),
		zap.Int("duplicates", len(ix.Duplicates())),
	)
	return ix, nil
}

// Set installs an already-built index, e.g. for tests or embedded catalogs.
func (l *Loader) Set(ix *Index) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index.Store(ix)
	l.path = ""
}

// Index returns the current index or nil when nothing is loaded.
func (l *Loader) Index() *Index {
	return l.index.Load()
}

// Path returns the currently loaded path.
func (l *Loader) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}
