package mailer

import "errors"

var (
	// ErrThrottled means the transport refused because of sender rate, not
	// because of the recipient.
	ErrThrottled = errors.New("transport throttled")
	// ErrSenderUnavailable means the sending account or service cannot send.
	ErrSenderUnavailable = errors.New("sender unavailable")
	// ErrNoCredentials is returned when an account has no usable SMTP host.
	ErrNoCredentials = errors.New("account has no smtp settings")
)
