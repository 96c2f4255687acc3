// Package smtptest runs an in-process SMTP server on top of go-smtp for
// exercising the transport end to end.
package smtptest

import (
	"errors"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// errAuthFailed is returned for any credential mismatch. The server sends
// it as is, so clients see a permanent 535 reply.
var errAuthFailed = gosmtp.ErrAuthFailed

// Authenticator checks SMTP AUTH credentials against a single configured
// account.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator with the given credentials.
// If both username and password are empty, authentication is disabled.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
	}
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// Verify compares decoded credentials.
func (a *Authenticator) Verify(username, password string) error {
	if username != a.username || password != a.password {
		return errAuthFailed
	}
	return nil
}

// Mechanisms lists the SASL mechanisms offered when enabled.
func (a *Authenticator) Mechanisms() []string {
	if !a.Enabled() {
		return nil
	}
	return []string{sasl.Plain, sasl.Login}
}

// Server returns a SASL server for mech. onSuccess receives the
// authenticated user name.
func (a *Authenticator) Server(mech string, onSuccess func(user string)) (sasl.Server, error) {
	if !a.Enabled() {
		return nil, errors.New("AUTH not available")
	}
	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(_, username, password string) error {
			if err := a.Verify(username, password); err != nil {
				return err
			}
			onSuccess(username)
			return nil
		}), nil
	case sasl.Login:
		return &loginServer{auth: a, onSuccess: onSuccess}, nil
	default:
		return nil, errors.New("unrecognized authentication type")
	}
}

// loginServer implements the server side of AUTH LOGIN. go-smtp handles the
// base64 framing, so responses arrive decoded.
type loginServer struct {
	auth      *Authenticator
	onSuccess func(user string)
	step      int
	username  string
}

func (s *loginServer) Next(response []byte) ([]byte, bool, error) {
	switch s.step {
	case 0:
		s.step++
		if len(response) == 0 {
			return []byte("Username:"), false, nil
		}
		s.username = string(response)
		s.step++
		return []byte("Password:"), false, nil
	case 1:
		s.username = string(response)
		s.step++
		return []byte("Password:"), false, nil
	default:
		if err := s.auth.Verify(s.username, string(response)); err != nil {
			return nil, true, err
		}
		s.onSuccess(s.username)
		return nil, true, nil
	}
}
