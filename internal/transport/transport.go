// Package transport sends mail through one fresh connection per operation
// and reports every operation's outcome exactly once.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/shineum/smtp-transport/internal/conn"
	"github.com/shineum/smtp-transport/internal/email"
	"github.com/shineum/smtp-transport/internal/options"
	"github.com/shineum/smtp-transport/internal/provider"
	"github.com/shineum/smtp-transport/internal/smtp"
)

// Version is the transport version.
const Version = "1.0.0"

// ErrConnectionClosed is reported when the server closes the connection
// before the operation completes.
var ErrConnectionClosed = conn.ErrConnectionClosed

// ErrNoMessage is reported when Send is called without a message.
var ErrNoMessage = errors.New("mail has no message")

// SendCallback receives the outcome of SendAsync.
type SendCallback func(info *email.Info, err error)

// VerifyCallback receives the outcome of VerifyAsync.
type VerifyCallback func(err error)

// Transport delivers mail with the resolved options. It holds no per-call
// state and is safe for concurrent use.
type Transport struct {
	opts     options.Options
	sockets  SocketProvider
	provider provider.Provider
	logger   *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithSocketProvider sets the source of pre-established sockets.
func WithSocketProvider(p SocketProvider) Option {
	return func(t *Transport) {
		if p != nil {
			t.sockets = p
		}
	}
}

// WithProvider replaces the SMTP connection backend.
func WithProvider(p provider.Provider) Option {
	return func(t *Transport) {
		if p != nil {
			t.provider = p
		}
	}
}

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// New resolves opts and returns a Transport. The caller may reuse or modify
// opts afterwards without affecting the Transport.
func New(opts options.Options, optFns ...Option) (*Transport, error) {
	resolved, err := options.Resolve(opts)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		opts:     resolved,
		sockets:  NoSocket,
		provider: smtp.Provider{},
		logger:   slog.Default(),
	}
	for _, fn := range optFns {
		fn(t)
	}
	return t, nil
}

// NewFromURL is New with only a connection URL set.
func NewFromURL(raw string, optFns ...Option) (*Transport, error) {
	return New(options.Options{URL: raw}, optFns...)
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "SMTP"
}

// Version returns the transport and client library versions.
func (t *Transport) Version() string {
	return Version + "[client:" + smtp.ClientVersion() + "]"
}

// Options returns a copy of the resolved configuration.
func (t *Transport) Options() options.Options {
	return t.opts.Clone()
}

// Send delivers mail and waits for the outcome.
func (t *Transport) Send(ctx context.Context, mail *email.Mail) (*email.Info, error) {
	type result struct {
		info *email.Info
		err  error
	}
	ch := make(chan result, 1)
	t.SendAsync(ctx, mail, func(info *email.Info, err error) {
		ch <- result{info: info, err: err}
	})
	r := <-ch
	return r.info, r.err
}

// SendAsync delivers mail in the background. done is called exactly once;
// a nil done discards the outcome.
func (t *Transport) SendAsync(ctx context.Context, mail *email.Mail, done SendCallback) {
	if done == nil {
		done = func(*email.Info, error) {}
	}
	go t.send(ctx, mail, done)
}

// Verify checks that the server accepts a connection and, when configured,
// the credentials.
func (t *Transport) Verify(ctx context.Context) error {
	ch := make(chan error, 1)
	t.VerifyAsync(ctx, func(err error) {
		ch <- err
	})
	return <-ch
}

// VerifyAsync runs Verify in the background. done is called exactly once;
// a nil done discards the outcome.
func (t *Transport) VerifyAsync(ctx context.Context, done VerifyCallback) {
	if done == nil {
		done = func(error) {}
	}
	go t.verify(ctx, done)
}

// open obtains the socket and constructs the connection for one operation.
func (t *Transport) open(ctx context.Context) (*operation, options.Options, error) {
	id := uuid.NewString()
	logger := t.logger.With("op", id, "host", t.opts.Host, "port", t.opts.Port)

	socket, err := t.sockets.Socket(ctx, t.opts.Clone())
	if err != nil {
		logger.Warn("socket provider failed", "error", err)
		return nil, options.Options{}, err
	}

	perCall := overlay(t.opts, socket)
	c := t.provider.NewConnection(perCall)
	return newOperation(id, c, logger), perCall, nil
}

func (t *Transport) send(ctx context.Context, mail *email.Mail, done SendCallback) {
	if mail == nil || mail.Message == nil {
		done(nil, ErrNoMessage)
		return
	}

	op, opts, err := t.open(ctx)
	if err != nil {
		done(nil, err)
		return
	}
	report := func(err error) {
		op.logger.Warn("send failed", "code", conn.Code(err), "error", err)
		done(nil, err)
	}
	op.watch(report)

	if err := op.conn.Connect(ctx); err != nil {
		op.fail(err, report)
		return
	}
	if op.done() {
		return
	}

	if opts.Auth != nil {
		if err := op.conn.Login(ctx, opts.Auth); err != nil {
			op.fail(err, report)
			return
		}
		if op.done() {
			return
		}
	}

	env := mail.Message.Envelope()
	if mail.Envelope != nil {
		env = *mail.Envelope
	}
	env.To = append([]string(nil), env.To...)
	messageID := normalizeMessageID(mail.Message.Header("Message-ID"))

	op.logger.Debug("sending message", "from", env.From, "to", env.To, "message_id", messageID)
	info, err := op.conn.Send(ctx, env, mail.Message.NewReader())
	if err != nil {
		op.fail(err, report)
		return
	}
	if !op.settle() {
		return
	}
	op.conn.Close()

	if info == nil {
		info = &email.Info{}
	}
	info.Envelope = env
	info.MessageID = messageID

	op.logger.Info("message sent",
		"message_id", messageID,
		"accepted", len(info.Accepted),
		"rejected", len(info.Rejected),
	)
	done(info, nil)
}

func (t *Transport) verify(ctx context.Context, done VerifyCallback) {
	op, opts, err := t.open(ctx)
	if err != nil {
		done(err)
		return
	}
	report := func(err error) {
		op.logger.Warn("verify failed", "code", conn.Code(err), "error", err)
		done(err)
	}
	op.watch(report)

	if err := op.conn.Connect(ctx); err != nil {
		op.fail(err, report)
		return
	}
	if op.done() {
		return
	}

	if opts.Auth != nil {
		if err := op.conn.Login(ctx, opts.Auth); err != nil {
			op.fail(err, report)
			return
		}
	}

	if !op.settle() {
		return
	}
	if err := op.conn.Quit(); err != nil {
		op.logger.Debug("quit failed", "error", err)
	}
	op.logger.Info("server verified")
	done(nil)
}

// normalizeMessageID drops angle brackets and whitespace.
func normalizeMessageID(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '<' || r == '>' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, id)
}
