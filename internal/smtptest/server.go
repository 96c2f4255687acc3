package smtptest

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	smtptls "github.com/shineum/smtp-transport/internal/tls"
)

// maxMessageSize is the largest message the server accepts (10 MB).
const maxMessageSize = 10 * 1024 * 1024

// sessionTimeout bounds reads and writes on every client connection.
const sessionTimeout = 10 * time.Second

// TLSMode selects how the server offers TLS.
type TLSMode int

const (
	// TLSNone offers no TLS at all.
	TLSNone TLSMode = iota
	// TLSStartTLS advertises STARTTLS on a plain listener.
	TLSStartTLS
	// TLSImplicit wraps the listener in TLS from the first byte.
	TLSImplicit
)

// Config holds the configuration for a test server.
type Config struct {
	// Username and Password enable AUTH PLAIN and LOGIN when both are set.
	// Mail from unauthenticated sessions is then refused.
	Username string
	Password string

	TLS TLSMode

	// Hooks return an error to reject the command. Nil hooks accept.
	OnMailFrom func(from string) error
	OnRcptTo   func(to string) error
	OnData     func(from string, to []string, data []byte) error
}

// Message is a message the server accepted.
type Message struct {
	User string
	From string
	To   []string
	Data []byte
}

// Server is an SMTP server listening on a random loopback port.
type Server struct {
	config   Config
	auth     *Authenticator
	srv      *gosmtp.Server
	listener net.Listener
	rootCAs  *x509.CertPool

	mu       sync.Mutex
	messages []Message
	sessions int
	done     chan struct{}
}

// Start listens on 127.0.0.1 and serves until Close.
func Start(cfg Config) (*Server, error) {
	s := &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.Username, cfg.Password),
		done:   make(chan struct{}),
	}

	srv := gosmtp.NewServer(&backend{server: s})
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.MaxMessageBytes = maxMessageSize
	srv.ReadTimeout = sessionTimeout
	srv.WriteTimeout = sessionTimeout
	s.srv = srv

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	if cfg.TLS != TLSNone {
		tlsConfig, pool, err := smtptls.ServerConfig()
		if err != nil {
			ln.Close()
			return nil, err
		}
		s.rootCAs = pool
		switch cfg.TLS {
		case TLSStartTLS:
			srv.TLSConfig = tlsConfig
		case TLSImplicit:
			ln = tls.NewListener(ln, tlsConfig)
		}
	}
	s.listener = ln

	go func() {
		defer close(s.done)
		if err := srv.Serve(ln); err != nil {
			slog.Debug("test smtp server stopped", "error", err)
		}
	}()

	return s, nil
}

// Close stops the server and waits for the serve loop to return.
func (s *Server) Close() error {
	err := s.srv.Close()
	<-s.done
	return err
}

// Host returns the listener IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// RootCAs returns a pool trusting the server certificate, or nil without TLS.
func (s *Server) RootCAs() *x509.CertPool {
	return s.rootCAs
}

// Messages returns a copy of the accepted messages.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Sessions returns how many client connections were opened.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func (s *Server) deliver(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

type backend struct {
	server *Server
}

func (b *backend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	b.server.mu.Lock()
	b.server.sessions++
	b.server.mu.Unlock()
	return &session{server: b.server}, nil
}
