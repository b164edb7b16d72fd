// Package sources provides the per-data-source download, transform and index
// steps of the ingestion pipeline. Each handler shells out to a dedicated
// indexing executable found under the handlers directory.
package sources

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// ErrUnsupportedIndexType is returned when a handler cannot import the
// requested index type.
var ErrUnsupportedIndexType = errors.New("unsupported index type")

// Handler downloads and indexes one data source.
type Handler interface {
	// Name returns the data source identifier (e.g., "bano", "osm")
	Name() string

	// Download fetches the dataset for region under workingDir and returns its path
	Download(ctx context.Context, workingDir, region string) (string, error)

	// Index loads the file at req.Path into the search engine
	Index(ctx context.Context, req IndexRequest) error
}

// Transformer is implemented by handlers that need an intermediate pass
// between download and indexing.
type Transformer interface {
	Transform(ctx context.Context, inputPath, workingDir, region string) (string, error)
}

// IndexRequest carries everything an index executable needs.
type IndexRequest struct {
	HandlersDir string // directory holding the *2mimir executables
	Endpoint    string // search engine connection string
	Path        string // file produced by Download or Transform
	IndexType   string // admins, streets, addresses, ...
}

// Fetcher is the subset of fetch.Client used by handlers.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir string) (string, int64, error)
	FetchAs(ctx context.Context, rawURL, dir, name string) (string, int64, error)
}

// Registry maps data source identifiers to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a registry holding hs.
func NewRegistry(hs ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(hs))}
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds h under its name.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("handler is nil")
	}
	name := h.Name()
	if name == "" {
		return fmt.Errorf("handler name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler for %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler registered for source.
func (r *Registry) Lookup(source string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[source]
	return h, ok
}

// Names returns the registered source identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options configures the built-in handlers.
type Options struct {
	Fetcher     Fetcher
	Runner      Runner
	BanoBaseURL string
	OSMBaseURL  string
	NTFSBaseURL string
	CountryCode string // cosmogony --country-code
	HandlersDir string // where the cosmogony executable lives
	CityLevel   int    // osm2mimir --city-level
}

// Default builds a registry with the bano, osm, cosmogony and ntfs handlers.
func Default(opts Options) (*Registry, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	osm := &OSM{Fetcher: opts.Fetcher, Runner: opts.Runner, BaseURL: opts.OSMBaseURL, CityLevel: opts.CityLevel}
	return NewRegistry(
		&Bano{Fetcher: opts.Fetcher, Runner: opts.Runner, BaseURL: opts.BanoBaseURL},
		osm,
		&Cosmogony{OSM: osm, Runner: opts.Runner, BinDir: opts.HandlersDir, CountryCode: opts.CountryCode},
		&NTFS{Fetcher: opts.Fetcher, Runner: opts.Runner, BaseURL: opts.NTFSBaseURL},
	)
}

func executable(handlersDir, name string) string {
	return filepath.Join(handlersDir, name)
}

// indexArgs are the flags every *2mimir executable accepts.
func indexArgs(req IndexRequest) []string {
	return []string{"--connection-string", req.Endpoint, "--input", req.Path}
}
