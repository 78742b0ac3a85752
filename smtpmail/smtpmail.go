// Package smtpmail delivers queued messages through an SMTP relay.
package smtpmail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/net-tools/mailqueue"
)

// TLSMode selects how the connection to the relay is secured.
type TLSMode string

const (
	TLSNone     TLSMode = "none"
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "tls"
)

const defaultTimeout = 30 * time.Second

// ErrNoRecipient is returned when neither To nor Bcc holds a usable address.
var ErrNoRecipient = errors.New("smtpmail: no recipient")

// Config describes the relay.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLSMode            TLSMode
	InsecureSkipVerify bool
	HeloName           string
	Timeout            time.Duration
	// Sender overrides the envelope sender taken from the From header.
	Sender string
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 25
	}
	if c.TLSMode == "" {
		c.TLSMode = TLSStartTLS
	}
	if c.HeloName == "" {
		c.HeloName = "localhost"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	return c
}

// Signer transforms a rendered message before submission, e.g. DKIM.
type Signer interface {
	Sign(message []byte, from string) ([]byte, error)
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithSigner signs every message before submission.
func WithSigner(signer Signer) Option {
	return func(m *Mailer) {
		m.signer = signer
	}
}

// WithLogger sets the mailer logger.
func WithLogger(logger mailqueue.Logger) Option {
	return func(m *Mailer) {
		m.logger = logger
	}
}

// Mailer implements mailqueue.Mailer with one SMTP session per message.
type Mailer struct {
	cfg    Config
	signer Signer
	logger mailqueue.Logger
}

var _ mailqueue.Mailer = (*Mailer)(nil)

// New returns a Mailer for cfg.
func New(cfg Config, opts ...Option) *Mailer {
	m := &Mailer{cfg: cfg.withDefaults(), logger: mailqueue.NopLogger{}}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Addr returns the relay address.
func (m *Mailer) Addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

// SendRaw implements mailqueue.Mailer. A Bcc header is turned into envelope
// recipients and removed from the transmitted message.
func (m *Mailer) SendRaw(ctx context.Context, to, subject string, body []byte, headers mailqueue.Header) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h := headers.Clone()
	rcpts, err := addresses(to)
	if err != nil {
		return fmt.Errorf("smtpmail: recipient %q: %w", to, err)
	}
	if bcc := h.Get("Bcc"); bcc != "" {
		extra, err := addresses(bcc)
		if err != nil {
			return fmt.Errorf("smtpmail: bcc %q: %w", bcc, err)
		}
		rcpts = append(rcpts, extra...)
		h.Del("Bcc")
	}
	if len(rcpts) == 0 {
		return ErrNoRecipient
	}

	from := m.cfg.Sender
	if from == "" {
		if list, err := addresses(h.Get("From")); err == nil && len(list) > 0 {
			from = list[0]
		}
	}

	msg := mailqueue.BuildMessage(to, subject, body, h)
	if m.signer != nil {
		signed, err := m.signer.Sign(msg, from)
		if err != nil {
			return err
		}
		msg = signed
	}

	return m.submit(ctx, from, rcpts, msg)
}

// submit runs one SMTP session. Cancelling ctx closes the connection, which
// aborts whatever command is in flight.
func (m *Mailer) submit(ctx context.Context, from string, rcpts []string, msg []byte) (err error) {
	conn, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("smtpmail: dial %s: %w", m.Addr(), err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c := smtp.NewClient(conn)
	defer func() {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = errors.Join(ctxErr, err)
			}
			_ = c.Close()
		}
	}()
	c.CommandTimeout = m.cfg.Timeout
	c.SubmissionTimeout = m.cfg.Timeout

	if err := c.Hello(m.cfg.HeloName); err != nil {
		return fmt.Errorf("smtpmail: hello: %w", err)
	}
	if m.cfg.TLSMode == TLSStartTLS {
		if err := c.StartTLS(m.tlsConfig()); err != nil {
			return fmt.Errorf("smtpmail: starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return fmt.Errorf("smtpmail: auth: %w", err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("smtpmail: mail from %q: %w", from, err)
	}
	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("smtpmail: rcpt to %q: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtpmail: data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtpmail: data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtpmail: data: %w", err)
	}

	if err := c.Quit(); err != nil {
		m.logger.Debug("smtpmail quit failed", "addr", m.Addr(), "err", err)
		_ = c.Close()
	}

	return nil
}

func (m *Mailer) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", m.Addr())
	if err != nil {
		return nil, err
	}
	if m.cfg.TLSMode != TLSImplicit {
		return conn, nil
	}

	tlsConn := tls.Client(conn, m.tlsConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return tlsConn, nil
}

func (m *Mailer) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         m.cfg.Host,
		InsecureSkipVerify: m.cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

func addresses(list string) ([]string, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	parsed, err := mail.ParseAddressList(list)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(parsed))
	for _, addr := range parsed {
		out = append(out, addr.Address)
	}

	return out, nil
}
