package mysql

import "github.com/net-tools/mailqueue"

const (
	defaultTable    = "mailqueue_catalog"
	defaultStoreKey = "default"
	maxStoreKeyLen  = 191
)

// Config defines MySQL catalog behavior.
type Config struct {
	Table    string
	StoreKey string
	Logger   mailqueue.Logger
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.StoreKey == "" {
		c.StoreKey = defaultStoreKey
	}
	if c.Logger == nil {
		c.Logger = mailqueue.NopLogger{}
	}

	return c
}

// Option configures the MySQL catalog.
type Option func(*Config)

// WithTable sets the catalog table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithStoreKey sets the row key, letting several stores share one table.
// Stores usually pass their root folder.
func WithStoreKey(key string) Option {
	return func(c *Config) {
		c.StoreKey = key
	}
}

// WithLogger sets the logger.
func WithLogger(logger mailqueue.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
