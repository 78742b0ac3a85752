// Package config loads process settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "MAILQUEUE"

// Config holds every setting of the mailqueue command.
type Config struct {
	Root       string `split_words:"true" default:"./mailqueue-data"`
	BatchCount int    `split_words:"true" default:"50"`
	LogLevel   string `split_words:"true" default:"info"`
	LogFormat  string `split_words:"true" default:"text"`

	SMTP  SMTPConfig
	DKIM  DKIMConfig
	IMAP  IMAPConfig
	MySQL MySQLConfig
	HTTP  HTTPConfig
	Drain DrainConfig
}

// SMTPConfig is the outgoing relay.
type SMTPConfig struct {
	Host               string        `split_words:"true" default:"localhost"`
	Port               int           `split_words:"true" default:"25"`
	Username           string        `split_words:"true"`
	Password           string        `split_words:"true"`
	TLSMode            string        `split_words:"true" default:"starttls"`
	InsecureSkipVerify bool          `split_words:"true"`
	HeloName           string        `split_words:"true" default:"localhost"`
	Timeout            time.Duration `split_words:"true" default:"30s"`
}

// DKIMConfig enables signing when any field is set.
type DKIMConfig struct {
	Selector   string `split_words:"true"`
	Domain     string `split_words:"true"`
	PrivateKey string `split_words:"true"`
	KeyPath    string `split_words:"true"`
}

// IMAPConfig enables sent-copy archiving when Addr is set.
type IMAPConfig struct {
	Addr     string `split_words:"true"`
	Username string `split_words:"true"`
	Password string `split_words:"true"`
	Mailbox  string `split_words:"true" default:"Sent"`
	Insecure bool   `split_words:"true"`
}

// MySQLConfig replaces the catalog file with a table when DSN is set.
type MySQLConfig struct {
	DSN   string `split_words:"true"`
	Table string `split_words:"true" default:"mailqueue_catalog"`
}

// HTTPConfig is the admin API listener.
type HTTPConfig struct {
	Addr string `split_words:"true" default:"127.0.0.1:8080"`
}

// DrainConfig drives the background drainer of the serve command.
type DrainConfig struct {
	PollInterval time.Duration `split_words:"true" default:"5s"`
	// Headers is a raw header block appended to every sent message.
	Headers string `split_words:"true"`
}

// Load reads envFile, or .env when empty, then the environment. A missing
// default .env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFile); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch strings.ToLower(c.SMTP.TLSMode) {
	case "none", "starttls", "tls":
	default:
		return fmt.Errorf("config: unknown SMTP TLS mode %q", c.SMTP.TLSMode)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.Root == "" {
		return fmt.Errorf("config: root must not be empty")
	}

	return nil
}
