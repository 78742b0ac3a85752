package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// SortKey selects the field List orders queues by.
type SortKey string

// SortOrder is the direction of a List ordering.
type SortOrder string

const (
	SortByCount  SortKey = "count"
	SortByDate   SortKey = "date"
	SortByTitle  SortKey = "title"
	SortByVolume SortKey = "volume"
	// SortByStatus orders by the number of pending items.
	SortByStatus SortKey = "status"

	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

// Store is the catalog of the queues sharing one root folder.
type Store struct {
	root   string
	cfg    StoreConfig
	queues map[string]*Queue
}

var _ Registry = (*Store)(nil)

// NewStore returns an empty store rooted at root. Nothing is written until Commit.
func NewStore(root string, opts ...StoreOption) *Store {
	root = strings.TrimRight(root, `/\`)

	var cfg StoreConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Store{
		root:   root,
		cfg:    cfg.withDefaults(root),
		queues: make(map[string]*Queue),
	}
}

// Open loads the store rooted at root. When the catalog is missing it returns
// ErrMissingStore, unless createIfMissing is set, in which case the root folder
// and an empty catalog are created.
func Open(root string, createIfMissing bool, opts ...StoreOption) (*Store, error) {
	s := NewStore(root, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CatalogTimeout)
	defer cancel()

	states, err := s.cfg.Catalog.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrMissingStore) || !createIfMissing {
			return nil, err
		}
		if err := os.MkdirAll(s.root, dirPerm); err != nil {
			return nil, fmt.Errorf("%w: create store root: %v", ErrStorage, err)
		}
		if err := s.Commit(); err != nil {
			return nil, err
		}
		s.cfg.Logger.Info("mailqueue store created", "root", s.root)

		return s, nil
	}

	for _, state := range states {
		q := QueueFromState(state)
		q.Setup(s.params())
		s.queues[q.id] = q
	}
	s.cfg.Logger.Debug("mailqueue store loaded", "root", s.root, "queues", len(s.queues))

	return s, nil
}

// Root returns the store root folder.
func (s *Store) Root() string {
	return s.root
}

// Len returns the number of registered queues.
func (s *Store) Len() int {
	return len(s.queues)
}

func (s *Store) params() Params {
	return Params{
		Root:      s.root,
		Registry:  s,
		Generator: s.cfg.Generator,
		Clock:     s.cfg.Clock,
		Logger:    s.cfg.Logger,
		Metrics:   s.cfg.Metrics,
	}
}

// CreateQueue creates a queue, registers it and commits the catalog.
func (s *Store) CreateQueue(title string, batchCount int) (*Queue, error) {
	if batchCount <= 0 {
		batchCount = s.cfg.BatchCount
	}
	q, err := CreateQueue(title, s.params(), batchCount)
	if err != nil {
		return nil, err
	}
	s.queues[q.id] = q
	if err := s.Commit(); err != nil {
		delete(s.queues, q.id)

		return nil, err
	}
	s.cfg.Logger.Info("mailqueue queue created", "queue", q.id, "title", title)

	return q, nil
}

// Commit persists the state of every registered queue.
func (s *Store) Commit() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CatalogTimeout)
	defer cancel()

	states := make([]QueueState, 0, len(s.queues))
	for _, id := range s.ids() {
		states = append(states, s.queues[id].State())
	}
	if err := s.cfg.Catalog.Save(ctx, states); err != nil {
		s.cfg.Logger.Error("mailqueue commit failed", "root", s.root, "err", err)

		return err
	}

	return nil
}

// RemoveQueue unregisters q and commits. Files are left alone; see Queue.Delete.
func (s *Store) RemoveQueue(q *Queue) error {
	delete(s.queues, q.id)

	return s.Commit()
}

// Clear deletes every queue with its files, then commits.
func (s *Store) Clear() error {
	for _, id := range s.ids() {
		if err := s.queues[id].Delete(); err != nil {
			return err
		}
	}

	return s.Commit()
}

// Queue returns the queue with the given id.
func (s *Store) Queue(id string) (*Queue, error) {
	q, ok := s.queues[id]
	if !ok {
		return nil, fmt.Errorf("%w: queue '%s'", ErrNotFound, id)
	}

	return q, nil
}

// List returns every queue ordered by key. Equal keys keep id order.
func (s *Store) List(key SortKey, order SortOrder) ([]*Queue, error) {
	less, err := sortLess(key)
	if err != nil {
		return nil, err
	}
	if order != Ascending && order != Descending {
		return nil, fmt.Errorf("%w: order '%s'", ErrInvalidSortKey, order)
	}

	ids := s.ids()
	out := make([]*Queue, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.queues[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == Descending {
			return less(out[j], out[i])
		}

		return less(out[i], out[j])
	})

	return out, nil
}

func sortLess(key SortKey) (func(a, b *Queue) bool, error) {
	switch key {
	case SortByCount:
		return func(a, b *Queue) bool { return a.count < b.count }, nil
	case SortByDate:
		return func(a, b *Queue) bool { return a.date.Before(b.date) }, nil
	case SortByTitle:
		return func(a, b *Queue) bool { return a.title < b.title }, nil
	case SortByVolume:
		return func(a, b *Queue) bool { return a.volume < b.volume }, nil
	case SortByStatus:
		return func(a, b *Queue) bool { return a.Pending() < b.Pending() }, nil
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidSortKey, key)
	}
}

func (s *Store) ids() []string {
	ids := make([]string, 0, len(s.queues))
	for id := range s.queues {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
