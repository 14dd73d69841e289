package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
)

// SMTPOptions configures SMTPTransport.
type SMTPOptions struct {
	HeloName       string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// PoolIdle is how long an unused connection stays open. Zero disables pooling.
	PoolIdle time.Duration
	// TLSConfig overrides the default client TLS settings (tests).
	TLSConfig *tls.Config
	// AllowPlaintext skips STARTTLS on ports other than 465. Only for
	// relays on a trusted network.
	AllowPlaintext bool
	Clock          clock.Clock
}

type pooledConn struct {
	client   *smtp.Client
	lastUsed time.Time
}

// SMTPTransport submits mail through each account's own SMTP server,
// keeping at most one idle connection per account.
type SMTPTransport struct {
	opts  SMTPOptions
	clock clock.Clock

	mu   sync.Mutex
	idle map[string]*pooledConn
}

// NewSMTPTransport creates a pooled SMTP transport.
func NewSMTPTransport(opts SMTPOptions) *SMTPTransport {
	if opts.HeloName == "" {
		opts.HeloName = "localhost"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	return &SMTPTransport{
		opts:  opts,
		clock: clock.OrReal(opts.Clock),
		idle:  make(map[string]*pooledConn),
	}
}

func (t *SMTPTransport) Name() string { return "smtp" }

// Send performs MAIL/RCPT/DATA, reusing a pooled connection when one is
// healthy. Failures before RCPT are wrapped in ErrSenderUnavailable since
// they say nothing about the recipient.
func (t *SMTPTransport) Send(ctx context.Context, acct *domain.SendingAccount, password string, env Envelope, raw []byte) error {
	if acct.SMTPHost == "" {
		return ErrNoCredentials
	}
	c, err := t.checkout(ctx, acct, password)
	if err != nil {
		return err
	}
	if err := t.submit(c, env, raw); err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) && c.Reset() == nil {
			// Server rejected the message but the session is still usable.
			t.release(acct.ID, c)
		} else {
			c.Close()
		}
		return err
	}
	t.release(acct.ID, c)
	return nil
}

func (t *SMTPTransport) submit(c *smtp.Client, env Envelope, raw []byte) error {
	if err := c.Mail(env.From, nil); err != nil {
		return fmt.Errorf("%w: MAIL FROM: %w", ErrSenderUnavailable, err)
	}
	if err := c.Rcpt(env.To, nil); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return nil
}

func (t *SMTPTransport) checkout(ctx context.Context, acct *domain.SendingAccount, password string) (*smtp.Client, error) {
	now := t.clock.Now()
	t.mu.Lock()
	pc := t.idle[acct.ID]
	delete(t.idle, acct.ID)
	t.mu.Unlock()

	if pc != nil {
		if now.Sub(pc.lastUsed) < t.opts.PoolIdle && pc.client.Noop() == nil {
			return pc.client, nil
		}
		pc.client.Close()
	}
	return t.dial(ctx, acct, password)
}

func (t *SMTPTransport) release(accountID string, c *smtp.Client) {
	if t.opts.PoolIdle <= 0 {
		c.Quit()
		return
	}
	t.mu.Lock()
	prev := t.idle[accountID]
	t.idle[accountID] = &pooledConn{client: c, lastUsed: t.clock.Now()}
	t.mu.Unlock()
	if prev != nil {
		prev.client.Close()
	}
}

func (t *SMTPTransport) dial(ctx context.Context, acct *domain.SendingAccount, password string) (*smtp.Client, error) {
	port := acct.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(acct.SMTPHost, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: t.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: SMTP connect to %s: %w", ErrSenderUnavailable, addr, err)
	}

	// Greeting, TLS and EHLO share the connect timeout.
	setupCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(setupCtx, func() { conn.Close() })
	c, err := t.handshake(setupCtx, conn, acct.SMTPHost, port)
	if fired := !stop(); fired && err == nil {
		c.Close()
		err = setupCtx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: SMTP session with %s: %w", ErrSenderUnavailable, addr, err)
	}

	if acct.SMTPUser != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(sasl.NewPlainClient("", acct.SMTPUser, password)); err != nil {
				c.Close()
				return nil, fmt.Errorf("%w: SMTP AUTH: %w", ErrSenderUnavailable, err)
			}
		}
	}
	return c, nil
}

// handshake brings conn to an encrypted, greeted session: implicit TLS on
// port 465, STARTTLS everywhere else unless AllowPlaintext is set.
func (t *SMTPTransport) handshake(ctx context.Context, conn net.Conn, host string, port int) (*smtp.Client, error) {
	tlsCfg := t.tlsConfig(host)
	var c *smtp.Client
	switch {
	case port == 465:
		tc := tls.Client(conn, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake: %w", err)
		}
		c = smtp.NewClient(tc)
	case t.opts.AllowPlaintext:
		c = smtp.NewClient(conn)
	default:
		// The EHLO before STARTTLS goes out as localhost; HeloName is
		// announced on the encrypted session below.
		sc, err := smtp.NewClientStartTLS(conn, tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
		c = sc
	}
	c.CommandTimeout = t.opts.CommandTimeout
	c.SubmissionTimeout = t.opts.CommandTimeout
	if err := c.Hello(t.opts.HeloName); err != nil {
		c.Close()
		return nil, fmt.Errorf("EHLO: %w", err)
	}
	return c, nil
}

func (t *SMTPTransport) tlsConfig(host string) *tls.Config {
	if t.opts.TLSConfig != nil {
		cfg := t.opts.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// Idle returns the number of pooled connections.
func (t *SMTPTransport) Idle() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.idle)
}

// Close quits every pooled connection.
func (t *SMTPTransport) Close() error {
	t.mu.Lock()
	idle := t.idle
	t.idle = make(map[string]*pooledConn)
	t.mu.Unlock()
	for _, pc := range idle {
		pc.client.Quit()
	}
	return nil
}
