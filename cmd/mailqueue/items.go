package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/net-tools/mailqueue"
	"github.com/net-tools/mailqueue/internal/metrics"
)

func newSendCmd(c *cli) *cobra.Command {
	var drain bool
	cmd := &cobra.Command{
		Use:   "send [queue-id]",
		Short: "Send the next batch of one queue, or of every open queue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context(), false)
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
			drainer := mailqueue.NewDrainer(store, mailer,
				mailqueue.WithSupplementalHeaders(headers),
				mailqueue.WithLogger(c.logger),
				mailqueue.WithMetrics(metrics.Recorder{}),
				mailqueue.WithErrorHandler(func(_ context.Context, q *mailqueue.Queue, err error) {
					c.warning("queue '%s': %v", q.Title(), err)
				}),
			)

			if len(args) == 0 {
				return c.sendAll(cmd, drainer, drain)
			}

			q, err := store.Queue(args[0])
			if err != nil {
				return err
			}
			if drain {
				err = drainer.DrainQueue(cmd.Context(), q)
			} else {
				err = q.Send(cmd.Context(), mailer, headers)
			}
			c.info("queue '%s': %d/%d sent, %d pending", q.Title(), q.SendOffset(), q.Count(), q.Pending())

			return err
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "Keep sending batches until nothing is pending")

	return cmd
}

func (c *cli) sendAll(cmd *cobra.Command, drainer *mailqueue.Drainer, drain bool) error {
	rounds := 0
	for {
		sent, err := drainer.ProcessOnce(cmd.Context())
		if err != nil {
			return err
		}
		if sent {
			rounds++
		}
		if !sent || !drain {
			break
		}
	}
	c.info("%d rounds sent, %d items pending", rounds, metrics.Pending())

	return nil
}

func newRecipientsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "recipients <queue-id>",
		Short: "List the recipients of a queue with their status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.queue(cmd, args[0])
			if err != nil {
				return err
			}

			data := pterm.TableData{{"Index", "To", "Status"}}
			for _, r := range q.Recipients() {
				data = append(data, []string{strconv.Itoa(r.Index), r.To, r.Status.String()})
			}

			return c.table(data, true)
		},
	}
}

func newSearchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "search <queue-id> <address>",
		Short: "Print the index of the first item sent to address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.queue(cmd, args[0])
			if err != nil {
				return err
			}
			index, err := q.Search(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, index)

			return nil
		},
	}
}

func newResendCmd(c *cli) *cobra.Command {
	var opts mailqueue.ResendOptions
	cmd := &cobra.Command{
		Use:   "resend <queue-id> <index>",
		Short: "Send one item again, whatever its status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, index, err := c.item(cmd, args)
			if err != nil {
				return err
			}
			mailer, err := c.newMailer()
			if err != nil {
				return err
			}
			if err := q.Resend(cmd.Context(), mailer, index, opts); err != nil {
				return err
			}
			c.success("item %d of '%s' sent", index, q.Title())

			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Bcc, "bcc", "", "Blind copy recipient")
	cmd.Flags().StringVar(&opts.To, "to", "", "Send to this address instead of the stored recipient")

	return cmd
}

func newMarkErrorCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-error <queue-id> <index>",
		Short: "Flag an item as failed, e.g. after a bounce",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, index, err := c.item(cmd, args)
			if err != nil {
				return err
			}
			if err := q.RecipientError(index); err != nil {
				return err
			}
			c.success("item %d of '%s' set to error", index, q.Title())

			return nil
		},
	}
}

func newRetryErrorsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-errors <queue-id> <title>",
		Short: "Copy failed items into a new queue and print its id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.queue(cmd, args[0])
			if err != nil {
				return err
			}
			target, err := q.NewQueueFromErrors(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, target.ID())

			return nil
		},
	}
}

func newEMLCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "eml <queue-id> <index>",
		Short: "Print one item as a standalone message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, index, err := c.item(cmd, args)
			if err != nil {
				return err
			}
			eml, err := q.EMLAt(index)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(c.out, eml)

			return err
		},
	}
}

func (c *cli) item(cmd *cobra.Command, args []string) (*mailqueue.Queue, int, error) {
	index, err := strconv.Atoi(args[1])
	if err != nil || index < 0 {
		return nil, 0, errors.New("index must be a non-negative integer")
	}
	q, err := c.queue(cmd, args[0])
	if err != nil {
		return nil, 0, err
	}

	return q, index, nil
}

func (c *cli) warning(format string, args ...any) {
	pterm.Fprintln(c.out, pterm.Warning.Sprintf(format, args...))
}
