// Package httpapi exposes a mailqueue store over an admin HTTP API.
package httpapi

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/expvar"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/net-tools/mailqueue"
)

// Config defines server behavior.
type Config struct {
	// Locker serializes store access. Share it with the drainer.
	Locker  sync.Locker
	Headers mailqueue.Header
	Logger  mailqueue.Logger
	AppName string
}

func (c Config) withDefaults() Config {
	if c.Locker == nil {
		c.Locker = &sync.Mutex{}
	}
	if c.Logger == nil {
		c.Logger = mailqueue.NopLogger{}
	}
	if c.AppName == "" {
		c.AppName = "mailqueue"
	}

	return c
}

// Option configures the server.
type Option func(*Config)

// WithLocker sets the lock guarding the store.
func WithLocker(locker sync.Locker) Option {
	return func(c *Config) {
		c.Locker = locker
	}
}

// WithSupplementalHeaders sets headers appended to every message sent in a batch.
func WithSupplementalHeaders(headers mailqueue.Header) Option {
	return func(c *Config) {
		c.Headers = headers
	}
}

// WithLogger sets the logger.
func WithLogger(logger mailqueue.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Server serves the admin API of one store.
type Server struct {
	store  *mailqueue.Store
	mailer mailqueue.Mailer
	cfg    Config
	app    *fiber.App
}

// New builds the server and its routes. It panics on a nil store or mailer.
func New(store *mailqueue.Store, mailer mailqueue.Mailer, opts ...Option) *Server {
	if store == nil {
		panic("httpapi: store is nil")
	}
	if mailer == nil {
		panic("httpapi: mailer is nil")
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	s := &Server{
		store:  store,
		mailer: mailer,
		cfg:    cfg,
		app: fiber.New(fiber.Config{
			AppName:               cfg.AppName,
			DisableStartupMessage: true,
			ErrorHandler:          errorHandler(cfg.Logger),
		}),
	}
	s.routes()

	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.cfg.Logger.Info("mailqueue http api listening", "addr", addr)

	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(expvar.New())

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api/v1")

	queues := api.Group("/queues")
	queues.Get("/", s.listQueues)
	queues.Post("/", s.createQueue)
	queues.Get("/:id", s.getQueue)
	queues.Patch("/:id", s.renameQueue)
	queues.Delete("/:id", s.deleteQueue)
	queues.Post("/:id/unlock", s.unlockQueue)
	queues.Delete("/:id/log", s.clearLog)
	queues.Post("/:id/send", s.sendBatch)
	queues.Post("/:id/errors", s.queueFromErrors)
	queues.Get("/:id/mbox", s.exportMbox)
	queues.Post("/:id/messages", s.pushMessage)

	queues.Get("/:id/recipients", s.listRecipients)
	queues.Get("/:id/search", s.search)
	queues.Get("/:id/items/:index/eml", s.itemEML)
	queues.Post("/:id/items/:index/resend", s.resendItem)
	queues.Post("/:id/items/:index/error", s.markItemError)
}

// locked runs fn while holding the store lock.
func (s *Server) locked(fn func() error) error {
	s.cfg.Locker.Lock()
	defer s.cfg.Locker.Unlock()

	return fn()
}
