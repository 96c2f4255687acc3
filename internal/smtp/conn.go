// Package smtp implements the transport's default Connection on top of the
// go-smtp client: dialing, implicit TLS, STARTTLS, SASL login and message
// submission.
package smtp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/smtp-transport/internal/conn"
	"github.com/shineum/smtp-transport/internal/email"
	"github.com/shineum/smtp-transport/internal/options"
	smtptls "github.com/shineum/smtp-transport/internal/tls"
)

// Conn is a single SMTP session. It implements conn.Connection.
type Conn struct {
	opts   options.Options
	events chan conn.Event

	socket *watchedConn
	client *gosmtp.Client
	secure bool
	reply  replyRecorder

	closeOnce sync.Once
}

var _ conn.Connection = (*Conn)(nil)

// New creates an unconnected session for the resolved options.
func New(opts options.Options) *Conn {
	return &Conn{
		opts:   opts,
		events: make(chan conn.Event, 1),
	}
}

// Events returns the asynchronous socket event channel.
func (c *Conn) Events() <-chan conn.Event {
	return c.events
}

// Secure reports whether the session is TLS protected.
func (c *Conn) Secure() bool {
	return c.secure
}

// Connect opens (or adopts) the socket, reads the greeting, sends EHLO and
// upgrades to TLS when required.
func (c *Conn) Connect(ctx context.Context) error {
	raw := c.opts.Connection
	if raw == nil {
		d := net.Dialer{Timeout: c.opts.ConnectionTimeout}
		var err error
		raw, err = d.DialContext(ctx, "tcp", c.opts.Addr())
		if err != nil {
			return &conn.Error{Code: netCode(err, conn.ECONNECTION), Err: err}
		}
	}
	c.socket = watch(raw, c.events)

	tlsConfig, err := smtptls.ClientConfig(c.opts.TLS, c.opts.Host)
	if err != nil {
		c.Close()
		return &conn.Error{Code: conn.ETLS, Err: err}
	}

	var nc net.Conn = heldConn{c.socket}
	c.secure = c.opts.Secured
	if c.opts.IsSecure() && !c.secure {
		tc := tls.Client(nc, tlsConfig)
		hctx := ctx
		if c.opts.ConnectionTimeout > 0 {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(ctx, c.opts.ConnectionTimeout)
			defer cancel()
		}
		if err := tc.HandshakeContext(hctx); err != nil {
			c.Close()
			return &conn.Error{Code: conn.ETLS, Err: err}
		}
		nc = tc
		c.secure = true
	}

	// The greeting timeout bounds the whole opening exchange.
	if c.opts.GreetingTimeout > 0 {
		c.socket.bound(time.Now().Add(c.opts.GreetingTimeout))
	}
	if err := c.hello(nc, tlsConfig); err != nil {
		c.Close()
		return err
	}
	c.socket.bound(time.Time{})

	if !c.secure && c.opts.RequireTLS {
		c.Close()
		return conn.Errorf(conn.ETLS, "server %s does not support STARTTLS", c.opts.Host)
	}

	c.client.DebugWriter = &c.reply
	if c.opts.SocketTimeout > 0 {
		c.client.CommandTimeout = c.opts.SocketTimeout
		c.client.SubmissionTimeout = c.opts.SocketTimeout
	}

	slog.Debug("smtp session established",
		"host", c.opts.Host,
		"port", c.opts.Port,
		"secure", c.secure,
	)
	return nil
}

// hello creates the client and runs the opening exchange. A plain session is
// upgraded with STARTTLS when the server offers it, unless IgnoreTLS is set.
func (c *Conn) hello(nc net.Conn, tlsConfig *tls.Config) error {
	if c.secure || c.opts.IgnoreTLS {
		c.client = gosmtp.NewClient(nc)
		if err := c.client.Hello(c.clientName()); err != nil {
			return replyError(conn.EPROTOCOL, "EHLO", err)
		}
		return nil
	}

	client, err := gosmtp.NewClientStartTLS(nc, tlsConfig)
	switch {
	case err == nil:
		c.client = client
		if err := client.Hello(c.clientName()); err != nil {
			return replyError(conn.ETLS, "EHLO", err)
		}
		c.secure = true
		return nil
	case !noStartTLS(err):
		return replyError(conn.EPROTOCOL, "STARTTLS", err)
	case c.opts.RequireTLS:
		return conn.Errorf(conn.ETLS, "server %s does not support STARTTLS", c.opts.Host)
	}

	// The greeting is already consumed, so the plain session restarts at EHLO.
	c.client = gosmtp.NewClient(replayGreeting(nc, c.opts.Host))
	if err := c.client.Hello(c.clientName()); err != nil {
		return replyError(conn.EPROTOCOL, "EHLO", err)
	}
	return nil
}

// Login authenticates with PLAIN, LOGIN or XOAUTH2.
func (c *Conn) Login(_ context.Context, auth *options.Auth) error {
	if c.client == nil {
		return conn.Errorf(conn.EPROTOCOL, "login before connect")
	}
	if auth == nil {
		return conn.Errorf(conn.EAUTH, "missing credentials")
	}

	mech, saslClient, err := selectMechanism(c.client, auth)
	if err != nil {
		return &conn.Error{Code: conn.EAUTH, Command: "AUTH", Err: err}
	}
	if err := c.client.Auth(saslClient); err != nil {
		return replyError(conn.EAUTH, "AUTH "+mech, err)
	}

	slog.Debug("smtp login succeeded", "user", auth.User, "mechanism", mech)
	return nil
}

// Send runs one MAIL/RCPT/DATA transaction. Recipients the server refuses are
// reported in Info.Rejected; the send fails only when all are refused.
func (c *Conn) Send(_ context.Context, env email.Envelope, msg io.Reader) (*email.Info, error) {
	if c.client == nil {
		return nil, conn.Errorf(conn.EPROTOCOL, "send before connect")
	}
	if len(env.To) == 0 {
		return nil, conn.Errorf(conn.EENVELOPE, "no recipients defined")
	}

	body := bufio.NewReader(msg)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, conn.Errorf(conn.EMESSAGE, "empty message")
		}
		return nil, &conn.Error{Code: conn.EMESSAGE, Err: err}
	}

	if err := c.client.Mail(env.From, nil); err != nil {
		return nil, replyError(conn.EENVELOPE, "MAIL FROM", err)
	}

	info := &email.Info{Envelope: env}
	var lastErr error
	for _, rcpt := range env.To {
		if err := c.client.Rcpt(rcpt, nil); err != nil {
			info.Rejected = append(info.Rejected, rcpt)
			lastErr = err
			continue
		}
		info.Accepted = append(info.Accepted, rcpt)
	}
	if len(info.Accepted) == 0 {
		return nil, replyError(conn.EENVELOPE, "RCPT TO", lastErr)
	}

	w, err := c.client.Data()
	if err != nil {
		return nil, replyError(conn.EMESSAGE, "DATA", err)
	}
	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return nil, &conn.Error{Code: conn.EMESSAGE, Command: "DATA", Err: err}
	}
	c.reply.start()
	err = w.Close()
	info.Response = c.reply.stop()
	if err != nil {
		return nil, replyError(conn.EMESSAGE, "DATA", err)
	}

	return info, nil
}

// Quit sends QUIT and closes the socket.
func (c *Conn) Quit() error {
	if c.socket != nil {
		c.socket.stopWatching()
	}
	var err error
	if c.client != nil {
		err = c.client.Quit()
	}
	c.Close()
	return err
}

// Close closes the socket without a protocol goodbye. Safe for concurrent
// and repeated use.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		switch {
		case c.socket != nil:
			c.socket.stopWatching()
			err = c.socket.Close()
		case c.opts.Connection != nil:
			err = c.opts.Connection.Close()
		}
	})
	return err
}

func (c *Conn) clientName() string {
	if c.opts.Name != "" {
		return c.opts.Name
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "localhost"
}

// replyError converts a go-smtp error into a coded connection error, keeping
// the server reply when there is one.
func replyError(code, command string, err error) *conn.Error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &conn.Error{Code: conn.ECONNECTION, Command: command, Err: conn.ErrConnectionClosed}
	}
	ce := &conn.Error{Code: code, Command: command, Err: err}
	var se *gosmtp.SMTPError
	if errors.As(err, &se) {
		ce.ResponseCode = se.Code
		ce.Response = se.Message
		return ce
	}
	ce.Code = netCode(err, code)
	return ce
}

// netCode maps transport level failures to ETIMEDOUT or ESOCKET and leaves
// anything else at fallback.
func netCode(err error, fallback string) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return conn.ETIMEDOUT
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return conn.ESOCKET
	}
	return fallback
}

// replyRecorder captures client traffic while armed. Armed around the end of
// DATA, its last line is the server's final reply.
type replyRecorder struct {
	on  bool
	buf bytes.Buffer
}

func (r *replyRecorder) Write(p []byte) (int, error) {
	if r.on {
		r.buf.Write(p)
	}
	return len(p), nil
}

func (r *replyRecorder) start() {
	r.buf.Reset()
	r.on = true
}

func (r *replyRecorder) stop() string {
	r.on = false
	text := strings.TrimRight(r.buf.String(), "\r\n")
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimSpace(text)
}

// noStartTLS matches the client's refusal to upgrade when the EHLO reply
// does not list STARTTLS.
func noStartTLS(err error) bool {
	var se *gosmtp.SMTPError
	var ne net.Error
	return !errors.As(err, &se) && !errors.As(err, &ne) && strings.Contains(err.Error(), "STARTTLS")
}
