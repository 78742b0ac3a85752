package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/net-tools/mailqueue"
	"github.com/net-tools/mailqueue/httpapi"
	"github.com/net-tools/mailqueue/internal/metrics"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr    string
		noDrain bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin HTTP API and drain queues in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = c.cfg.HTTP.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return c.serve(ctx, addr, !noDrain)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default MAILQUEUE_HTTP_ADDR)")
	cmd.Flags().BoolVar(&noDrain, "no-drain", false, "Do not run the background drainer")

	return cmd
}

func (c *cli) serve(ctx context.Context, addr string, drain bool) error {
	store, err := c.openStore(ctx, false)
	if err != nil {
		return err
	}
	mailer, err := c.newMailer()
	if err != nil {
		return err
	}
	headers, err := c.supplementalHeaders()
	if err != nil {
		return err
	}

	var mu sync.Mutex
	server := httpapi.New(store, mailer,
		httpapi.WithLocker(&mu),
		httpapi.WithSupplementalHeaders(headers),
		httpapi.WithLogger(c.logger),
	)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- server.Listen(addr)
	}()

	drainCtx, cancelDrain := context.WithCancel(ctx)
	defer cancelDrain()
	// drainErr stays nil without a drainer so the select below ignores it.
	var drainErr chan error
	if drain {
		drainErr = make(chan error, 1)
		drainer := mailqueue.NewDrainer(store, mailer,
			mailqueue.WithLocker(&mu),
			mailqueue.WithPollInterval(c.cfg.Drain.PollInterval),
			mailqueue.WithSupplementalHeaders(headers),
			mailqueue.WithLogger(c.logger),
			mailqueue.WithMetrics(metrics.Recorder{}),
		)
		go func() {
			drainErr <- drainer.Run(drainCtx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-listenErr:
	case runErr = <-drainErr:
		drainErr = nil
	}

	cancelDrain()
	shutdownErr := server.Shutdown()
	if drainErr != nil {
		if err := <-drainErr; err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	c.logger.Info("mailqueue server stopped")

	return errors.Join(runErr, shutdownErr)
}
