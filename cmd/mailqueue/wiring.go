package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/net-tools/mailqueue"
	"github.com/net-tools/mailqueue/imaparchive"
	"github.com/net-tools/mailqueue/internal/dkim"
	"github.com/net-tools/mailqueue/internal/metrics"
	mqmysql "github.com/net-tools/mailqueue/mysql"
	"github.com/net-tools/mailqueue/smtpmail"
)

const setupTimeout = 30 * time.Second

// openStore opens the configured store. With create set, a missing store and
// its MySQL table are created.
func (c *cli) openStore(ctx context.Context, create bool) (*mailqueue.Store, error) {
	opts := []mailqueue.StoreOption{
		mailqueue.WithDefaultBatchCount(c.cfg.BatchCount),
		mailqueue.WithStoreLogger(c.logger),
		mailqueue.WithStoreMetrics(metrics.Recorder{}),
	}
	if c.cfg.MySQL.DSN != "" {
		catalog, err := c.mysqlCatalog(ctx, create)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mailqueue.WithCatalog(catalog))
	}

	store, err := mailqueue.Open(c.cfg.Root, create, opts...)
	if errors.Is(err, mailqueue.ErrMissingStore) {
		return nil, fmt.Errorf("%w (run 'mailqueue init' first)", err)
	}

	return store, err
}

func (c *cli) mysqlCatalog(ctx context.Context, create bool) (*mqmysql.Catalog, error) {
	root, err := filepath.Abs(c.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	db, err := sql.Open("mysql", c.cfg.MySQL.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	c.db = db

	catalog, err := mqmysql.NewCatalog(db,
		mqmysql.WithTable(c.cfg.MySQL.Table),
		mqmysql.WithStoreKey(root),
		mqmysql.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}
	if create {
		ctx, cancel := context.WithTimeout(ctx, setupTimeout)
		defer cancel()
		if err := catalog.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}

	return catalog, nil
}

// newMailer builds the SMTP mailer with optional DKIM signing and IMAP archiving.
func (c *cli) newMailer() (mailqueue.Mailer, error) {
	if c.mailer != nil {
		return c.mailer, nil
	}

	smtpOpts := []smtpmail.Option{smtpmail.WithLogger(c.logger)}
	signer, err := dkim.New(dkim.Config{
		Selector:   c.cfg.DKIM.Selector,
		Domain:     c.cfg.DKIM.Domain,
		PrivateKey: c.cfg.DKIM.PrivateKey,
		KeyPath:    c.cfg.DKIM.KeyPath,
	})
	if err != nil {
		return nil, err
	}
	if signer != nil {
		smtpOpts = append(smtpOpts, smtpmail.WithSigner(signer))
		c.logger.Debug("dkim signing enabled", "selector", signer.Selector())
	}

	var mailer mailqueue.Mailer = smtpmail.New(smtpmail.Config{
		Host:               c.cfg.SMTP.Host,
		Port:               c.cfg.SMTP.Port,
		Username:           c.cfg.SMTP.Username,
		Password:           c.cfg.SMTP.Password,
		TLSMode:            smtpmail.TLSMode(strings.ToLower(c.cfg.SMTP.TLSMode)),
		InsecureSkipVerify: c.cfg.SMTP.InsecureSkipVerify,
		HeloName:           c.cfg.SMTP.HeloName,
		Timeout:            c.cfg.SMTP.Timeout,
	}, smtpOpts...)

	if c.cfg.IMAP.Addr == "" {
		return mailer, nil
	}
	host, portText, err := net.SplitHostPort(c.cfg.IMAP.Addr)
	if err != nil {
		return nil, fmt.Errorf("imap addr: %w", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return nil, fmt.Errorf("imap port: %w", err)
	}
	client, err := imaparchive.NewClient(imaparchive.Options{
		Host:     host,
		Port:     port,
		Username: c.cfg.IMAP.Username,
		Password: c.cfg.IMAP.Password,
		UseTLS:   !c.cfg.IMAP.Insecure,
	}, c.logger)
	if err != nil {
		return nil, err
	}

	return imaparchive.New(mailer, client,
		imaparchive.WithMailbox(c.cfg.IMAP.Mailbox),
		imaparchive.WithLogger(c.logger),
	), nil
}

// supplementalHeaders parses MAILQUEUE_DRAIN_HEADERS. Literal \n sequences
// separate fields.
func (c *cli) supplementalHeaders() (mailqueue.Header, error) {
	raw := strings.ReplaceAll(c.cfg.Drain.Headers, `\n`, "\n")

	return mailqueue.ParseHeader(raw)
}
