package mailer

import (
	"context"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
)

// Envelope is the SMTP envelope of one submission.
type Envelope struct {
	From string
	To   string
}

// Transport submits an encoded message on behalf of a sending account.
// password is the decrypted SMTP secret; transports that authenticate
// differently ignore it.
type Transport interface {
	Send(ctx context.Context, acct *domain.SendingAccount, password string, env Envelope, raw []byte) error
	Name() string
	Close() error
}
