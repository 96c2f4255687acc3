package transport

import (
	"log/slog"
	"sync/atomic"

	"github.com/shineum/smtp-transport/internal/conn"
)

// operation tracks one Send or Verify call. The first party to settle it,
// either the main path or the event watcher, owns teardown and the
// completion; every later outcome is dropped.
type operation struct {
	id     string
	conn   conn.Connection
	logger *slog.Logger

	settled atomic.Bool
	stop    chan struct{}
}

func newOperation(id string, c conn.Connection, logger *slog.Logger) *operation {
	return &operation{
		id:     id,
		conn:   c,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// settle marks the operation finished. It returns true only for the first
// caller.
func (op *operation) settle() bool {
	if !op.settled.CompareAndSwap(false, true) {
		return false
	}
	close(op.stop)
	return true
}

func (op *operation) done() bool {
	return op.settled.Load()
}

// fail settles with err, closing the connection before report runs.
func (op *operation) fail(err error, report func(error)) {
	if !op.settle() {
		op.logger.Debug("discarding late failure", "error", err)
		return
	}
	op.conn.Close()
	report(err)
}

// watch registers the terminal guards: an error event fails the operation
// with the event's error, an end event with ErrConnectionClosed. The watcher
// exits once the operation settles.
func (op *operation) watch(report func(error)) {
	events := op.conn.Events()
	go func() {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			err := ev.Err
			if ev.Kind == conn.EventEnd || err == nil {
				err = ErrConnectionClosed
			}
			op.logger.Debug("connection event", "event", ev.Kind.String(), "error", err)
			op.fail(err, report)
		case <-op.stop:
		}
	}()
}
