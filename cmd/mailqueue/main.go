// Command mailqueue manages a mail queue store: it creates queues, imports
// messages, sends batches and serves the admin HTTP API.
package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/net-tools/mailqueue"
	"github.com/net-tools/mailqueue/internal/config"
)

type cli struct {
	out      io.Writer
	envFile  string
	root     string
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	// mailer replaces the configured SMTP mailer when set.
	mailer mailqueue.Mailer
}

func main() {
	c := &cli{out: os.Stdout}
	if err := newRootCmd(c).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "mailqueue",
		Short:         "Durable file-backed outbox for bulk email",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.close()
		},
	}
	root.SetOut(c.out)

	flags := root.PersistentFlags()
	flags.StringVar(&c.envFile, "env-file", "", "Dotenv file loaded before the environment (default .env when present)")
	flags.StringVar(&c.root, "root", "", "Store root folder (overrides MAILQUEUE_ROOT)")
	flags.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (overrides MAILQUEUE_LOG_LEVEL)")

	root.AddCommand(
		newInitCmd(c),
		newCreateCmd(c),
		newPushCmd(c),
		newSendCmd(c),
		newListCmd(c),
		newShowCmd(c),
		newRecipientsCmd(c),
		newSearchCmd(c),
		newResendCmd(c),
		newMarkErrorCmd(c),
		newRetryErrorsCmd(c),
		newEMLCmd(c),
		newExportCmd(c),
		newRenameCmd(c),
		newUnlockCmd(c),
		newClearLogCmd(c),
		newDeleteCmd(c),
		newClearCmd(c),
		newServeCmd(c),
	)

	return root
}

func (c *cli) setup(stderr io.Writer) error {
	cfg, err := config.Load(c.envFile)
	if err != nil {
		return err
	}
	if c.root != "" {
		cfg.Root = c.root
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	c.cfg = cfg
	c.logger = setupLogger(cfg, stderr)
	slog.SetDefault(c.logger)

	return nil
}

func (c *cli) close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil

	return err
}

func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}
