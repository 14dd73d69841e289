package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/secrets"
)

var log = logger.For("mailer")

// Recorder receives transport health signals. *governor.Governor satisfies it.
type Recorder interface {
	RecordSuccess()
	RecordError() time.Duration
}

// SendResult describes one submission attempt.
type SendResult struct {
	MessageID      string
	Transport      string
	SentAt         time.Time
	Classification Classification
	// Backoff is the governor backoff armed by this failure, if any.
	Backoff time.Duration
}

// Client builds, submits and classifies messages for sending accounts.
type Client struct {
	transport Transport
	secrets   secrets.Decrypter
	recorder  Recorder
	clock     clock.Clock
}

// NewClient wires a transport to the credential box and the governor.
// recorder may be nil.
func NewClient(t Transport, d secrets.Decrypter, recorder Recorder, c clock.Clock) *Client {
	if d == nil {
		d = secrets.Plain{}
	}
	return &Client{transport: t, secrets: d, recorder: recorder, clock: clock.OrReal(c)}
}

// Transport returns the underlying transport.
func (c *Client) Transport() Transport { return c.transport }

// Send encodes msg and submits it from acct. On failure the returned error
// is non-nil and the result carries its classification. Recipient
// rejections (hard/soft) count as a healthy transport; transport failures
// and policy blocks arm the governor backoff.
func (c *Client) Send(ctx context.Context, acct *domain.SendingAccount, msg Message) (SendResult, error) {
	if msg.FromEmail == "" {
		msg.FromEmail = acct.Email
	}
	if msg.FromName == "" {
		msg.FromName = acct.DisplayName
	}
	if msg.AccountID == "" {
		msg.AccountID = acct.ID
	}
	if msg.Date.IsZero() {
		msg.Date = c.clock.Now()
	}
	res := SendResult{Transport: c.transport.Name()}

	raw, id, err := BuildMessage(msg)
	if err != nil {
		return res, err
	}
	res.MessageID = id

	password := c.secrets.Decrypt(acct.SMTPPassEnc)
	err = c.transport.Send(ctx, acct, password, Envelope{From: msg.FromEmail, To: msg.To}, raw)
	if err == nil {
		res.SentAt = c.clock.Now()
		if c.recorder != nil {
			c.recorder.RecordSuccess()
		}
		log.Debug("message sent", "account", acct.ID, "to", msg.To, "message_id", id, "transport", res.Transport)
		return res, nil
	}

	res.Classification = Classify(err)
	if c.recorder != nil {
		switch res.Classification.Kind {
		case Unknown, PolicyReject:
			res.Backoff = c.recorder.RecordError()
		default:
			c.recorder.RecordSuccess()
		}
	}
	log.Warn("send failed", "account", acct.ID, "to", msg.To,
		"kind", res.Classification.Kind.String(), "code", res.Classification.Code,
		"enhanced", res.Classification.Enhanced, "error", err.Error())
	return res, fmt.Errorf("send via %s: %w", res.Transport, err)
}

// Close releases transport resources.
func (c *Client) Close() error { return c.transport.Close() }
