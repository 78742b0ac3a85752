package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/net-tools/mailqueue"
)

func newInitCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the store root and an empty catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			c.success("store ready at %s (%d queues)", store.Root(), store.Len())

			return nil
		},
	}
}

func newCreateCmd(c *cli) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a queue and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context(), false)
			if err != nil {
				return err
			}
			q, err := store.CreateQueue(args[0], batch)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, q.ID())

			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "Items sent per batch (default MAILQUEUE_BATCH_COUNT)")

	return cmd
}

func newPushCmd(c *cli) *cobra.Command {
	var mbox bool
	cmd := &cobra.Command{
		Use:   "push <queue-id> <file>...",
		Short: "Queue RFC 5322 message files, or mbox files with --mbox",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.queue(cmd, args[0])
			if err != nil {
				return err
			}

			pushed := 0
			for _, path := range args[1:] {
				n, err := pushFile(q, path, mbox)
				pushed += n
				if err != nil {
					_ = q.Commit()
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			if err := q.Commit(); err != nil {
				return err
			}
			c.success("%d messages pushed to '%s' (%d total)", pushed, q.Title(), q.Count())

			return nil
		},
	}
	cmd.Flags().BoolVar(&mbox, "mbox", false, "Read files as mbox archives")

	return cmd
}

func pushFile(q *mailqueue.Queue, path string, mbox bool) (int, error) {
	if mbox {
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()

		return q.PushMbox(f)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if err := q.PushMessage(raw); err != nil {
		return 0, err
	}

	return 1, nil
}

func newListCmd(c *cli) *cobra.Command {
	var key, order string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openStore(cmd.Context(), false)
			if err != nil {
				return err
			}
			queues, err := store.List(mailqueue.SortKey(key), mailqueue.SortOrder(order))
			if err != nil {
				return err
			}
			if len(queues) == 0 {
				c.info("no queues")
				return nil
			}

			data := pterm.TableData{{"ID", "Title", "Count", "Sent", "Pending", "Batch", "Volume", "Locked", "Created"}}
			for _, q := range queues {
				data = append(data, []string{
					q.ID(),
					q.Title(),
					strconv.Itoa(q.Count()),
					strconv.Itoa(q.SendOffset()),
					strconv.Itoa(q.Pending()),
					strconv.Itoa(q.BatchCount()),
					strconv.FormatInt(q.Volume(), 10),
					strconv.FormatBool(q.Locked()),
					q.Date().Format("2006-01-02 15:04"),
				})
			}

			return c.table(data, true)
		},
	}
	cmd.Flags().StringVar(&key, "sort", string(mailqueue.SortByDate), "Sort key: count, date, title, volume or status")
	cmd.Flags().StringVar(&order, "order", string(mailqueue.Ascending), "Sort order: asc or desc")

	return cmd
}

func newShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <queue-id>",
		Short: "Show a queue and its send log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.queue(cmd, args[0])
			if err != nil {
				return err
			}

			lastBatch := "never"
			if last, ok := q.LastBatchDate(); ok {
				lastBatch = last.Format("2006-01-02 15:04:05")
			}
			data := pterm.TableData{
				{"ID", q.ID()},
				{"Title", q.Title()},
				{"Count", strconv.Itoa(q.Count())},
				{"Sent", strconv.Itoa(q.SendOffset())},
				{"Pending", strconv.Itoa(q.Pending())},
				{"Batch", strconv.Itoa(q.BatchCount())},
				{"Volume", strconv.FormatInt(q.Volume(), 10)},
				{"Locked", strconv.FormatBool(q.Locked())},
				{"Created", q.Date().Format("2006-01-02 15:04:05")},
				{"Last batch", lastBatch},
			}
			if err := c.table(data, false); err != nil {
				return err
			}
			for _, line := range q.SendLog() {
				fmt.Fprintln(c.out, line)
			}

			return nil
		},
	}
}

func newRenameCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <queue-id> <title>",
		Short: "Rename a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.queue(cmd, args[0])
			if err != nil {
				return err
			}
			if err := q.Rename(args[1]); err != nil {
				return err
			}
			c.success("queue %s renamed to '%s'", q.ID(), q.Title())

			return nil
		},
	}
}

func newUnlockCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <queue-id>",
		Short: "Clear the locked flag of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.queue(cmd, args[0])
			if err != nil {
				return err
			}
			if err := q.Unlock(); err != nil {
				return err
			}
			c.success("queue '%s' unlocked", q.Title())

			return nil
		},
	}
}

func newClearLogCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-log <queue-id>",
		Short: "Empty the send log of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.queue(cmd, args[0])
			if err != nil {
				return err
			}
			if err := q.ClearLog(); err != nil {
				return err
			}
			c.success("send log of '%s' cleared", q.Title())

			return nil
		},
	}
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <queue-id>",
		Short: "Delete a queue and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.queue(cmd, args[0])
			if err != nil {
				return err
			}
			if err := q.Delete(); err != nil {
				return err
			}
			c.success("queue '%s' deleted", q.Title())

			return nil
		},
	}
}

func newClearCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every queue of the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the store without --yes")
			}
			store, err := c.openStore(cmd.Context(), false)
			if err != nil {
				return err
			}
			count := store.Len()
			if err := store.Clear(); err != nil {
				return err
			}
			c.success("%d queues deleted", count)

			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")

	return cmd
}

func newExportCmd(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <queue-id>",
		Short: "Write every item of a queue as an mbox archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.queue(cmd, args[0])
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err := q.ExportMbox(c.out)
				return err
			}

			f, err := os.Create(filepath.Clean(output))
			if err != nil {
				return err
			}
			written, err := q.ExportMbox(f)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			c.success("%d messages written to %s", written, output)

			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")

	return cmd
}

func (c *cli) queue(cmd *cobra.Command, id string) (*mailqueue.Queue, error) {
	store, err := c.openStore(cmd.Context(), false)
	if err != nil {
		return nil, err
	}

	return store.Queue(strings.TrimSpace(id))
}

func (c *cli) table(data pterm.TableData, header bool) error {
	rendered, err := pterm.DefaultTable.WithHasHeader(header).WithData(data).Srender()
	if err != nil {
		return err
	}
	pterm.Fprintln(c.out, rendered)

	return nil
}

func (c *cli) success(format string, args ...any) {
	pterm.Fprintln(c.out, pterm.Success.Sprintf(format, args...))
}

func (c *cli) info(format string, args ...any) {
	pterm.Fprintln(c.out, pterm.Info.Sprintf(format, args...))
}
