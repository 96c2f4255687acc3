// Package provider defines the interface for delivery backends the transport
// opens connections through.
package provider

import (
	"github.com/shineum/smtp-transport/internal/conn"
	"github.com/shineum/smtp-transport/internal/options"
)

// Provider creates one fresh Connection per transport operation.
// The SMTP backend is the default; other providers deliver the same
// envelope and message through an HTTP API or a local writer.
type Provider interface {
	// NewConnection returns an unconnected Connection for the resolved
	// per-operation options. It must not perform I/O.
	NewConnection(opts options.Options) conn.Connection

	// Name returns the human-readable name of this provider.
	Name() string
}

// Func adapts a constructor function to a Provider.
type Func func(opts options.Options) conn.Connection

// NewConnection calls f.
func (f Func) NewConnection(opts options.Options) conn.Connection {
	return f(opts)
}

// Name returns "func".
func (f Func) Name() string {
	return "func"
}
