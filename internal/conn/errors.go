package conn

import (
	"errors"
	"fmt"
)

// Error codes attached to connection failures.
const (
	ECONNECTION = "ECONNECTION"
	ETIMEDOUT   = "ETIMEDOUT"
	ESOCKET     = "ESOCKET"
	ETLS        = "ETLS"
	EAUTH       = "EAUTH"
	EENVELOPE   = "EENVELOPE"
	EMESSAGE    = "EMESSAGE"
	EPROTOCOL   = "EPROTOCOL"
)

// ErrConnectionClosed is reported when the server closes the connection
// before the operation completes.
var ErrConnectionClosed error = &Error{
	Code: ECONNECTION,
	Err:  errors.New("connection closed unexpectedly"),
}

// Error is a coded connection failure.
type Error struct {
	Code string
	// Command is the protocol command that failed, if any.
	Command string
	// ResponseCode and Response carry the server reply, if any.
	ResponseCode int
	Response     string
	Err          error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Command != "" {
		msg += " " + e.Command
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Response != "" {
		msg += fmt.Sprintf(" (%d %s)", e.ResponseCode, e.Response)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error with a formatted cause.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Code returns the error code carried by err, or "" if there is none.
func Code(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
