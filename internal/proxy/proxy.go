// Package proxy supplies transport sockets tunnelled through a SOCKS5 or
// HTTP CONNECT proxy.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/shineum/smtp-transport/internal/options"
	"github.com/shineum/smtp-transport/internal/transport"
)

func init() {
	xproxy.RegisterDialerType("http", newHTTPConnectDialer)
}

// Provider dials the SMTP destination through a proxy. It implements
// transport.SocketProvider and is safe for concurrent use.
type Provider struct {
	url    *url.URL
	dialer xproxy.Dialer
}

var _ transport.SocketProvider = (*Provider)(nil)

// New parses a socks5://, socks5h:// or http:// proxy URL. Credentials in
// the URL are used for proxy authentication.
func New(rawURL string) (*Provider, error) {
	return NewWithForward(rawURL, &net.Dialer{Timeout: options.DefaultConnectionTimeout})
}

// NewWithForward is New with a custom dialer for reaching the proxy itself.
func NewWithForward(rawURL string, forward xproxy.Dialer) (*Provider, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy URL %q: missing host", u.Redacted())
	}

	d, err := xproxy.FromURL(u, forward)
	if err != nil {
		return nil, fmt.Errorf("unsupported proxy %q: %w", u.Redacted(), err)
	}
	return &Provider{url: u, dialer: d}, nil
}

// Socket opens a tunnel to opts.Host:opts.Port. The tunnel is plain TCP, so
// the session still performs implicit TLS or STARTTLS itself.
func (p *Provider) Socket(ctx context.Context, opts options.Options) (*transport.Socket, error) {
	addr := opts.Addr()
	if opts.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectionTimeout)
		defer cancel()
	}

	start := time.Now()
	c, err := dial(ctx, p.dialer, addr)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: dial %s: %w", p.url.Redacted(), addr, err)
	}

	slog.Debug("proxy tunnel established",
		"proxy", p.url.Redacted(),
		"target", addr,
		"elapsed", time.Since(start),
	)
	return &transport.Socket{
		Conn: c,
		Host: opts.Host,
		Port: opts.Port,
	}, nil
}

// String returns the proxy URL without credentials.
func (p *Provider) String() string {
	return p.url.Redacted()
}

func dial(ctx context.Context, d xproxy.Dialer, addr string) (net.Conn, error) {
	if cd, ok := d.(xproxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}

	type result struct {
		c   net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := d.Dial("tcp", addr)
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		return r.c, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.c != nil {
				r.c.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
