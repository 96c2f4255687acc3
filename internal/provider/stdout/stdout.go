// Package stdout implements a Provider that prints messages instead of
// delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/smtp-transport/internal/conn"
	"github.com/shineum/smtp-transport/internal/email"
	"github.com/shineum/smtp-transport/internal/options"
	"github.com/shineum/smtp-transport/internal/parser"
)

const separator = "========================================\n"

// Provider prints each sent message to a writer in a human-readable format.
type Provider struct {
	// mu keeps output from concurrent sends from interleaving.
	mu     sync.Mutex
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// NewConnection returns a connection that prints through p.
func (p *Provider) NewConnection(_ options.Options) conn.Connection {
	return &stdoutConn{provider: p, events: make(chan conn.Event)}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

type stdoutConn struct {
	provider *Provider
	events   chan conn.Event
}

func (c *stdoutConn) Connect(_ context.Context) error { return nil }

func (c *stdoutConn) Login(_ context.Context, _ *options.Auth) error { return nil }

func (c *stdoutConn) Send(_ context.Context, env email.Envelope, msg io.Reader) (*email.Info, error) {
	if len(env.To) == 0 {
		return nil, conn.Errorf(conn.EENVELOPE, "no recipients defined")
	}
	parsed, err := parser.ParseReader(msg)
	if err != nil {
		return nil, &conn.Error{Code: conn.EMESSAGE, Err: err}
	}

	c.provider.mu.Lock()
	_, err = io.WriteString(c.provider.writer, format(env, parsed))
	c.provider.mu.Unlock()
	if err != nil {
		return nil, &conn.Error{Code: conn.ESOCKET, Err: err}
	}

	return &email.Info{
		Envelope: env,
		Accepted: append([]string(nil), env.To...),
		Response: "250 Message printed",
	}, nil
}

func (c *stdoutConn) Quit() error { return nil }

func (c *stdoutConn) Close() error { return nil }

func (c *stdoutConn) Events() <-chan conn.Event { return c.events }

func format(env email.Envelope, msg *email.Email) string {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Envelope-From: %s\n", env.From)
	fmt.Fprintf(&b, "Envelope-To: %s\n", strings.Join(env.To, ", "))
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	if msg.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", msg.MessageID)
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" {
		body = msg.HtmlBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)
	return b.String()
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
