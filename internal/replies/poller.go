package replies

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
)

// ErrFetchTimeout means the poll hit its hard deadline. Messages collected
// before the deadline are still returned.
var ErrFetchTimeout = errors.New("imap: fetch timed out")

// DialFunc opens the mailbox connection.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Timeout bounds a whole poll, from dial to logout. Default 30s.
	Timeout time.Duration
	// Max caps messages fetched per poll. Default 50.
	Max int
	// Lookback is how far back SEARCH SINCE reaches. Default 48h.
	Lookback  time.Duration
	TLSConfig *tls.Config
	// Dial replaces the TLS dialer, for tests.
	Dial  DialFunc
	Clock clock.Clock
}

// Poller fetches recent messages from an account's inbox over TLS.
type Poller struct {
	opts PollerOptions
}

// NewPoller creates a Poller.
func NewPoller(opts PollerOptions) *Poller {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Max == 0 {
		opts.Max = 50
	}
	if opts.Lookback == 0 {
		opts.Lookback = 48 * time.Hour
	}
	opts.Clock = clock.OrReal(opts.Clock)
	if opts.Dial == nil {
		tlsCfg := opts.TLSConfig
		opts.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			cfg := tlsCfg.Clone()
			if cfg == nil {
				cfg = &tls.Config{MinVersion: tls.VersionTLS12}
			}
			if cfg.ServerName == "" {
				host, _, _ := net.SplitHostPort(addr)
				cfg.ServerName = host
			}
			d := &tls.Dialer{Config: cfg}
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return &Poller{opts: opts}
}

// Fetch logs into the account's mailbox and returns recent messages.
func (p *Poller) Fetch(ctx context.Context, acct *domain.SendingAccount, password string) ([]Message, error) {
	port := acct.IMAPPort
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(acct.IMAPHost, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	conn, err := p.opts.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// closing the socket unblocks a pending read when ctx ends early
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	since := p.opts.Clock.Now().Add(-p.opts.Lookback).UTC().Format("02-Jan-2006")
	s := NewSession(SessionConfig{
		User:     acct.IMAPUser,
		Password: password,
		Criteria: "SINCE " + since,
		Max:      p.opts.Max,
	})
	return drive(ctx, s, conn)
}

// drive runs s over rw until the session is done, failed, or ctx ends.
func drive(ctx context.Context, s *Session, rw io.ReadWriter) ([]Message, error) {
	r := bufio.NewReader(rw)
	var fetched []Message
	for {
		if cmd, ok := s.Next(); ok {
			if _, err := io.WriteString(rw, cmd); err != nil {
				return partial(ctx, s, fetched, fmt.Errorf("write %s: %w", s.State(), err))
			}
		}
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			if s.State() == StateLogout && fetched != nil {
				// some servers drop the connection right after BYE
				return fetched, nil
			}
			return partial(ctx, s, fetched, fmt.Errorf("read %s: %w", s.State(), err))
		}
		for _, ev := range s.Feed(line) {
			switch ev.Kind {
			case EventFetched:
				fetched = ParseFetch(ev.Raw)
			case EventSearch:
				if len(ev.IDs) == 0 {
					fetched = []Message{}
				}
			case EventError:
				return fetched, ev.Err
			case EventDone:
				return fetched, nil
			}
		}
	}
}

func partial(ctx context.Context, s *Session, fetched []Message, err error) ([]Message, error) {
	if fetched == nil && s.State() == StateFetch {
		fetched = ParseFetch(s.Partial())
	}
	if ctx.Err() != nil || isTimeout(err) {
		return fetched, fmt.Errorf("%w after %s: %v", ErrFetchTimeout, s.State(), err)
	}
	return fetched, err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
