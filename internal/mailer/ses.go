package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/emersion/go-smtp"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
)

// SESAPI is the subset of the SES v2 client used for raw sends.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESOptions configures SESTransport.
type SESOptions struct {
	Region           string
	AccessKey        string
	SecretKey        string
	ConfigurationSet string
}

// SESTransport submits the already-encoded MIME message through SES so
// headers built by BuildMessage are preserved.
type SESTransport struct {
	api    SESAPI
	cfgSet string
}

// NewSESTransport loads AWS configuration and builds an SES client. Static
// keys are used when given, otherwise the default credential chain.
func NewSESTransport(ctx context.Context, opts SESOptions) (*SESTransport, error) {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESTransportWithAPI(sesv2.NewFromConfig(cfg), opts.ConfigurationSet), nil
}

// NewSESTransportWithAPI wraps an existing client.
func NewSESTransportWithAPI(api SESAPI, configurationSet string) *SESTransport {
	return &SESTransport{api: api, cfgSet: configurationSet}
}

func (t *SESTransport) Name() string { return "ses" }

func (t *SESTransport) Close() error { return nil }

func (t *SESTransport) Send(ctx context.Context, acct *domain.SendingAccount, _ string, env Envelope, raw []byte) error {
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From),
		Destination:      &types.Destination{ToAddresses: []string{env.To}},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
		EmailTags: []types.MessageTag{
			{Name: aws.String("account_id"), Value: aws.String(tagValue(acct.ID))},
		},
	}
	if t.cfgSet != "" {
		in.ConfigurationSetName = aws.String(t.cfgSet)
	}
	if _, err := t.api.SendEmail(ctx, in); err != nil {
		return sesError(err)
	}
	return nil
}

// sesError maps SES API errors onto SMTP reply semantics so Classify
// treats both transports alike. Throttling and account problems are not
// recipient bounces.
func sesError(err error) error {
	var (
		rejected  *types.MessageRejected
		throttled *types.TooManyRequestsException
		limit     *types.LimitExceededException
		paused    *types.SendingPausedException
		mailFrom  *types.MailFromDomainNotVerifiedException
		suspended *types.AccountSuspendedException
	)
	switch {
	case errors.As(err, &rejected):
		return fmt.Errorf("ses send: %w", &smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 7, 1}, Message: err.Error()})
	case errors.As(err, &throttled), errors.As(err, &limit):
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	case errors.As(err, &paused), errors.As(err, &mailFrom), errors.As(err, &suspended):
		return fmt.Errorf("%w: %v", ErrSenderUnavailable, err)
	}
	return fmt.Errorf("ses send: %w", err)
}

func tagValue(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
