package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/net-tools/mailqueue"
)

const (
	catalogVersion = 1
	errNoSuchTable = 1146
)

// Catalog implements mailqueue.Catalog on a MySQL table.
type Catalog struct {
	db      *sql.DB
	cfg     Config
	queries queries
	table   string
}

var _ mailqueue.Catalog = (*Catalog)(nil)

// NewCatalog constructs a MySQL catalog with validated configuration.
func NewCatalog(db *sql.DB, opts ...Option) (*Catalog, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(cfg.StoreKey) > maxStoreKeyLen {
		return nil, fmt.Errorf("%w: longer than %d characters", ErrInvalidStoreKey, maxStoreKeyLen)
	}

	return &Catalog{
		db:      db,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewCatalog constructs a MySQL catalog or panics on error.
func MustNewCatalog(db *sql.DB, opts ...Option) *Catalog {
	catalog, err := NewCatalog(db, opts...)
	if err != nil {
		panic(err)
	}

	return catalog
}

// StoreKey returns the row key of the catalog.
func (c *Catalog) StoreKey() string {
	return c.cfg.StoreKey
}

// EnsureSchema creates the catalog table when it does not exist.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	schema, err := Schema(c.table)
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: mailqueue mysql: create table failed: %v", mailqueue.ErrStorage, err)
	}

	return nil
}

// Load implements mailqueue.Catalog. A missing row or table yields
// mailqueue.ErrMissingStore.
func (c *Catalog) Load(ctx context.Context) ([]mailqueue.QueueState, error) {
	var (
		version int
		raw     []byte
	)
	err := c.db.QueryRowContext(ctx, c.queries.load, c.cfg.StoreKey).Scan(&version, &raw)
	switch {
	case errors.Is(err, sql.ErrNoRows), isMissingTable(err):
		return nil, fmt.Errorf("%w: store key %q in %s", mailqueue.ErrMissingStore, c.cfg.StoreKey, c.table)
	case err != nil:
		return nil, fmt.Errorf("%w: mailqueue mysql: load failed: %v", mailqueue.ErrStorage, err)
	}
	if version != catalogVersion {
		return nil, fmt.Errorf("%w: store key %q: unsupported version %d", mailqueue.ErrMalformedData, c.cfg.StoreKey, version)
	}

	states, err := decodeStates(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: store key %q: %v", mailqueue.ErrMalformedData, c.cfg.StoreKey, err)
	}
	c.cfg.Logger.Debug("mailqueue mysql catalog loaded", "store", c.cfg.StoreKey, "queues", len(states))

	return states, nil
}

// Save implements mailqueue.Catalog with a single upsert.
func (c *Catalog) Save(ctx context.Context, states []mailqueue.QueueState) error {
	if states == nil {
		states = []mailqueue.QueueState{}
	}
	raw, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("mailqueue mysql: encode states: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, c.queries.upsert, c.cfg.StoreKey, catalogVersion, raw); err != nil {
		return fmt.Errorf("%w: mailqueue mysql: save failed: %v", mailqueue.ErrStorage, err)
	}

	return nil
}

// Drop removes the catalog row. The table is kept.
func (c *Catalog) Drop(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, c.queries.drop, c.cfg.StoreKey); err != nil {
		return fmt.Errorf("%w: mailqueue mysql: drop failed: %v", mailqueue.ErrStorage, err)
	}

	return nil
}

func decodeStates(raw []byte) ([]mailqueue.QueueState, error) {
	var states []mailqueue.QueueState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(states))
	for _, state := range states {
		if state.ID == "" {
			return nil, errors.New("queue without id")
		}
		if _, ok := seen[state.ID]; ok {
			return nil, fmt.Errorf("duplicate queue id %q", state.ID)
		}
		seen[state.ID] = struct{}{}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })

	return states, nil
}

func isMissingTable(err error) bool {
	var myErr *mysqldriver.MySQLError

	return errors.As(err, &myErr) && myErr.Number == errNoSuchTable
}
