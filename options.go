package mailqueue

import (
	"context"
	"sync"
	"time"
)

const (
	defaultPollInterval   = time.Second
	defaultCatalogTimeout = 30 * time.Second
)

// StoreConfig defines how a Store persists its catalog and sets up its queues.
type StoreConfig struct {
	Catalog        Catalog
	BatchCount     int
	CatalogTimeout time.Duration
	Clock          Clock
	Generator      IDGenerator
	Logger         Logger
	Metrics        Metrics
}

func (c StoreConfig) withDefaults(root string) StoreConfig {
	if c.Catalog == nil {
		c.Catalog = NewFileCatalog(root)
	}
	if c.BatchCount <= 0 {
		c.BatchCount = DefaultBatchCount
	}
	if c.CatalogTimeout <= 0 {
		c.CatalogTimeout = defaultCatalogTimeout
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Generator == nil {
		c.Generator = NewUUIDv7Generator()
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// StoreOption configures Store behavior.
type StoreOption func(*StoreConfig)

// WithCatalog replaces the default store.serialized file catalog.
func WithCatalog(catalog Catalog) StoreOption {
	return func(c *StoreConfig) {
		c.Catalog = catalog
	}
}

// WithDefaultBatchCount sets the batch size of queues created with a non-positive one.
func WithDefaultBatchCount(count int) StoreOption {
	return func(c *StoreConfig) {
		c.BatchCount = count
	}
}

// WithCatalogTimeout bounds every catalog load and save.
func WithCatalogTimeout(timeout time.Duration) StoreOption {
	return func(c *StoreConfig) {
		c.CatalogTimeout = timeout
	}
}

// WithStoreClock sets the clock used for queue dates.
func WithStoreClock(clock Clock) StoreOption {
	return func(c *StoreConfig) {
		c.Clock = clock
	}
}

// WithGenerator sets the queue id generator.
func WithGenerator(gen IDGenerator) StoreOption {
	return func(c *StoreConfig) {
		c.Generator = gen
	}
}

// WithStoreLogger sets the logger handed to every queue.
func WithStoreLogger(logger Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithStoreMetrics sets the metrics recorder handed to every queue.
func WithStoreMetrics(metrics Metrics) StoreOption {
	return func(c *StoreConfig) {
		c.Metrics = metrics
	}
}

// FailureHandler is called when a batch of q completes with failed items.
type FailureHandler func(ctx context.Context, q *Queue, err error)

// DrainConfig defines how the Drainer polls and sends.
type DrainConfig struct {
	PollInterval time.Duration
	Locker       sync.Locker
	Headers      Header
	ErrorHandler FailureHandler
	Logger       Logger
	Metrics      Metrics
}

func (c DrainConfig) withDefaults() DrainConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Locker == nil {
		c.Locker = &sync.Mutex{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// DrainOption configures Drainer behavior.
type DrainOption func(*DrainConfig)

// WithPollInterval sets the delay between rounds that found nothing to send.
func WithPollInterval(interval time.Duration) DrainOption {
	return func(c *DrainConfig) {
		c.PollInterval = interval
	}
}

// WithLocker sets the lock held while the store is accessed. Share it with any
// other goroutine using the same Store.
func WithLocker(locker sync.Locker) DrainOption {
	return func(c *DrainConfig) {
		c.Locker = locker
	}
}

// WithSupplementalHeaders sets headers appended to every sent message.
func WithSupplementalHeaders(headers Header) DrainOption {
	return func(c *DrainConfig) {
		c.Headers = headers
	}
}

// WithErrorHandler registers a callback for batches with failed items.
func WithErrorHandler(handler FailureHandler) DrainOption {
	return func(c *DrainConfig) {
		c.ErrorHandler = handler
	}
}

// WithLogger sets the drainer logger.
func WithLogger(logger Logger) DrainOption {
	return func(c *DrainConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the drainer metrics recorder.
func WithMetrics(metrics Metrics) DrainOption {
	return func(c *DrainConfig) {
		c.Metrics = metrics
	}
}
