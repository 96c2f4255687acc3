package transport

import (
	"context"
	"net"

	"github.com/shineum/smtp-transport/internal/options"
)

// Socket is a pre-established connection handed to the session instead of a
// direct dial, typically a proxy tunnel.
type Socket struct {
	Conn net.Conn
	// Secured reports that Conn already carries TLS.
	Secured bool
	// Host and Port, when set, replace the configured destination for
	// TLS server name checks and logging.
	Host string
	Port int
}

// SocketProvider supplies the socket for one operation. Returning a nil
// Socket with a nil error means "dial directly".
type SocketProvider interface {
	Socket(ctx context.Context, opts options.Options) (*Socket, error)
}

// SocketProviderFunc adapts a function to a SocketProvider.
type SocketProviderFunc func(ctx context.Context, opts options.Options) (*Socket, error)

// Socket calls f.
func (f SocketProviderFunc) Socket(ctx context.Context, opts options.Options) (*Socket, error) {
	return f(ctx, opts)
}

// NoSocket is the default provider; it never supplies a socket.
var NoSocket SocketProvider = SocketProviderFunc(func(context.Context, options.Options) (*Socket, error) {
	return nil, nil
})

// overlay returns a per-operation copy of opts carrying the socket.
func overlay(opts options.Options, s *Socket) options.Options {
	o := opts.Clone()
	if s == nil {
		return o
	}
	o.Connection = s.Conn
	o.Secured = s.Secured
	if s.Host != "" {
		o.Host = s.Host
	}
	if s.Port != 0 {
		o.Port = s.Port
	}
	return o
}
