// Package ses implements a Provider that delivers the transport's envelope
// and raw message through the AWS SES v2 API.
package ses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/smtp-transport/internal/conn"
	"github.com/shineum/smtp-transport/internal/email"
	"github.com/shineum/smtp-transport/internal/options"
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender is used as FromEmailAddress when the envelope has no sender.
	Sender string
}

// SESProvider opens SES-backed connections.
type SESProvider struct {
	sender string
	client SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender: sender,
		client: client,
	}
}

// NewConnection returns a connection bound to this provider's client.
func (s *SESProvider) NewConnection(_ options.Options) conn.Connection {
	return &sesConn{
		provider: s,
		events:   make(chan conn.Event),
	}
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// sesConn has no socket. Connect and Login only check that a client is
// configured since SES authenticates each request with AWS credentials.
type sesConn struct {
	provider *SESProvider
	events   chan conn.Event
}

func (c *sesConn) Connect(_ context.Context) error {
	if c.provider.client == nil {
		return conn.Errorf(conn.ECONNECTION, "ses client not configured")
	}
	return nil
}

func (c *sesConn) Login(_ context.Context, _ *options.Auth) error {
	slog.Debug("ses uses AWS credentials, ignoring SMTP auth")
	return nil
}

func (c *sesConn) Send(ctx context.Context, env email.Envelope, msg io.Reader) (*email.Info, error) {
	if len(env.To) == 0 {
		return nil, conn.Errorf(conn.EENVELOPE, "no recipients defined")
	}
	raw, err := io.ReadAll(msg)
	if err != nil {
		return nil, &conn.Error{Code: conn.EMESSAGE, Err: err}
	}
	if len(raw) == 0 {
		return nil, conn.Errorf(conn.EMESSAGE, "empty message")
	}

	from := env.From
	if from == "" {
		from = c.provider.sender
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: env.To,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}

	out, err := c.provider.client.SendEmail(ctx, input)
	if err != nil {
		code := conn.EMESSAGE
		var notVerified *types.MailFromDomainNotVerifiedException
		switch {
		case errors.As(err, &notVerified):
			code = conn.EENVELOPE
		case errors.Is(err, context.DeadlineExceeded):
			code = conn.ETIMEDOUT
		}
		slog.Warn("SES API error", "error", err)
		return nil, &conn.Error{Code: code, Command: "SendEmail", Err: err}
	}

	info := &email.Info{
		Envelope: env,
		Accepted: append([]string(nil), env.To...),
	}
	if out != nil && out.MessageId != nil {
		info.Response = "250 Ok " + aws.ToString(out.MessageId)
	}
	return info, nil
}

func (c *sesConn) Quit() error { return nil }

func (c *sesConn) Close() error { return nil }

func (c *sesConn) Events() <-chan conn.Event { return c.events }
