package imaparchive

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/net-tools/mailqueue"
)

// Options describes the IMAP account receiving sent copies.
type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
}

// Client appends messages over one IMAP session per call.
type Client struct {
	opts   Options
	logger mailqueue.Logger
}

// NewClient validates opts and returns a Client.
func NewClient(opts Options, logger mailqueue.Logger) (*Client, error) {
	if opts.Host == "" {
		return nil, errors.New("imaparchive: host is empty")
	}
	if opts.Port <= 0 {
		return nil, errors.New("imaparchive: port must be positive")
	}
	if logger == nil {
		logger = mailqueue.NopLogger{}
	}

	return &Client{opts: opts, logger: logger}, nil
}

// Append implements Appender.
func (c *Client) Append(ctx context.Context, mailbox string, msg []byte, at time.Time) error {
	client, err := c.dial()
	if err != nil {
		return err
	}
	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	defer func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				c.logger.Debug("imap logout failed", "err", err)
			}
		}
		_ = client.Close()
	}()

	if err := ensureMailbox(client, mailbox); err != nil {
		return err
	}

	var opts *imapv2.AppendOptions
	if !at.IsZero() {
		opts = &imapv2.AppendOptions{Time: at}
	}
	cmd := client.Append(mailbox, int64(len(msg)), opts)
	if _, err := cmd.Write(msg); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("imaparchive: append write: %w", err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("imaparchive: append close: %w", err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("imaparchive: append: %w", err)
	}

	return nil
}

func (c *Client) dial() (*imapclient.Client, error) {
	address := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	options := &imapclient.Options{}

	var (
		client *imapclient.Client
		err    error
	)
	if c.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         c.opts.Host,
			InsecureSkipVerify: c.opts.InsecureSkipVerify,
		}
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("imaparchive: dial %s: %w", address, err)
	}

	if err := client.Login(c.opts.Username, c.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imaparchive: login: %w", err)
	}

	return client, nil
}

func ensureMailbox(client *imapclient.Client, mailbox string) error {
	if err := client.Create(mailbox, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			return nil
		}
		return fmt.Errorf("imaparchive: ensure mailbox %s: %w", mailbox, err)
	}

	return nil
}
