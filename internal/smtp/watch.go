package smtp

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shineum/smtp-transport/internal/conn"
)

// watchedConn reports the first read failure on the socket as a connection
// event. Failures after stopWatching are expected and stay silent.
type watchedConn struct {
	net.Conn

	events  chan<- conn.Event
	stopped atomic.Bool
	once    sync.Once

	// limit caps every deadline while set. Only the session goroutine
	// touches it.
	limit time.Time
}

func watch(c net.Conn, events chan<- conn.Event) *watchedConn {
	return &watchedConn{Conn: c, events: events}
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.Conn.Read(p)
	if err != nil {
		w.report(err)
	}
	return n, err
}

func (w *watchedConn) Write(p []byte) (int, error) {
	n, err := w.Conn.Write(p)
	if err != nil {
		w.report(err)
	}
	return n, err
}

func (w *watchedConn) SetDeadline(t time.Time) error {
	return w.Conn.SetDeadline(w.clamp(t))
}

func (w *watchedConn) SetReadDeadline(t time.Time) error {
	return w.Conn.SetReadDeadline(w.clamp(t))
}

func (w *watchedConn) SetWriteDeadline(t time.Time) error {
	return w.Conn.SetWriteDeadline(w.clamp(t))
}

// bound caps all deadlines at t until bound is called with the zero time.
func (w *watchedConn) bound(t time.Time) {
	w.limit = t
	w.Conn.SetDeadline(t)
}

func (w *watchedConn) clamp(t time.Time) time.Time {
	if !w.limit.IsZero() && (t.IsZero() || t.After(w.limit)) {
		return w.limit
	}
	return t
}

func (w *watchedConn) stopWatching() {
	w.stopped.Store(true)
}

func (w *watchedConn) report(err error) {
	if w.stopped.Load() {
		return
	}
	w.once.Do(func() {
		ev := conn.Event{Kind: conn.EventEnd}
		if !errors.Is(err, io.EOF) {
			ev = conn.Event{
				Kind: conn.EventError,
				Err:  &conn.Error{Code: netCode(err, conn.ESOCKET), Err: err},
			}
		}
		select {
		case w.events <- ev:
		default:
		}
	})
}

// heldConn lends the socket to the SMTP client. The client may close its
// side, but the socket itself is only closed by Conn.Close.
type heldConn struct {
	net.Conn
}

func (heldConn) Close() error {
	return nil
}

// greetedConn replays a greeting the server already sent, for a client that
// starts over on the same socket.
type greetedConn struct {
	net.Conn
	r io.Reader
}

func replayGreeting(c net.Conn, host string) net.Conn {
	greeting := strings.NewReader("220 " + host + " ESMTP\r\n")
	return &greetedConn{Conn: c, r: io.MultiReader(greeting, c)}
}

func (g *greetedConn) Read(p []byte) (int, error) {
	return g.r.Read(p)
}
