// Package conn defines the per-operation connection contract the transport
// drives, together with the coded errors connections report.
package conn

import (
	"context"
	"io"

	"github.com/shineum/smtp-transport/internal/email"
	"github.com/shineum/smtp-transport/internal/options"
)

// Connection is a single-use session with a mail server. A Connection is
// created for one operation and discarded afterwards.
type Connection interface {
	// Connect establishes the session, including greeting and TLS setup.
	Connect(ctx context.Context) error
	// Login authenticates with the given credentials.
	Login(ctx context.Context, auth *options.Auth) error
	// Send transmits one message for the envelope.
	Send(ctx context.Context, env email.Envelope, msg io.Reader) (*email.Info, error)
	// Quit ends the session gracefully.
	Quit() error
	// Close tears the session down. It is safe to call more than once.
	Close() error
	// Events delivers asynchronous socket level failures and the remote end
	// of the connection.
	Events() <-chan Event
}

// EventKind distinguishes asynchronous connection events.
type EventKind int

const (
	// EventError reports a failure outside any pending call.
	EventError EventKind = iota + 1
	// EventEnd reports that the remote side closed the connection.
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is an asynchronous connection event. Err is set for EventError.
type Event struct {
	Kind EventKind
	Err  error
}
