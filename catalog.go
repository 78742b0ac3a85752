package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	// CatalogFile is the name of the default catalog under the store root.
	CatalogFile    = "store.serialized"
	catalogVersion = 1
)

// Catalog persists the state of every queue of a store.
type Catalog interface {
	// Load returns the saved queue states, or ErrMissingStore when nothing was saved yet.
	Load(ctx context.Context) ([]QueueState, error)
	// Save replaces the saved states.
	Save(ctx context.Context, states []QueueState) error
}

type catalogDocument struct {
	Version int                   `json:"version"`
	Queues  map[string]QueueState `json:"queues"`
}

// FileCatalog stores queue states in a single JSON file.
type FileCatalog struct {
	path string
}

// NewFileCatalog returns the catalog file of the store rooted at root.
func NewFileCatalog(root string) *FileCatalog {
	return &FileCatalog{path: filepath.Join(root, CatalogFile)}
}

// Path returns the catalog file path.
func (c *FileCatalog) Path() string {
	return c.path
}

// Load implements Catalog.
func (c *FileCatalog) Load(_ context.Context) ([]QueueState, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingStore, c.path)
		}

		return nil, fmt.Errorf("%w: read catalog: %v", ErrStorage, err)
	}

	var doc catalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: catalog %s: %v", ErrMalformedData, c.path, err)
	}
	if doc.Version != catalogVersion {
		return nil, fmt.Errorf("%w: catalog %s: unsupported version %d", ErrMalformedData, c.path, doc.Version)
	}

	states := make([]QueueState, 0, len(doc.Queues))
	for id, state := range doc.Queues {
		if state.ID == "" {
			state.ID = id
		}
		if state.ID != id {
			return nil, fmt.Errorf("%w: catalog %s: queue key %q holds id %q", ErrMalformedData, c.path, id, state.ID)
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })

	return states, nil
}

// Save implements Catalog. The file is replaced atomically.
func (c *FileCatalog) Save(_ context.Context, states []QueueState) error {
	doc := catalogDocument{Version: catalogVersion, Queues: make(map[string]QueueState, len(states))}
	for _, state := range states {
		doc.Queues[state.ID] = state
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create catalog: %v", ErrStorage, err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("%w: write catalog: %v", ErrStorage, err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("%w: replace catalog: %v", ErrStorage, err)
	}

	return nil
}
