package smtptest

import (
	"io"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

var errAuthRequired = &gosmtp.SMTPError{
	Code:         530,
	EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
	Message:      "Authentication required",
}

// session is one client connection. go-smtp drives the protocol state
// machine; the session only applies the configured policy.
type session struct {
	server *Server

	user     string
	mailFrom string
	rcptTo   []string
}

var _ gosmtp.AuthSession = (*session)(nil)

func (s *session) AuthMechanisms() []string {
	return s.server.auth.Mechanisms()
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	return s.server.auth.Server(mech, func(user string) {
		s.user = user
	})
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.server.auth.Enabled() && s.user == "" {
		return errAuthRequired
	}
	if hook := s.server.config.OnMailFrom; hook != nil {
		if err := hook(from); err != nil {
			return reject(550, gosmtp.EnhancedCode{5, 1, 0}, err)
		}
	}
	s.mailFrom = from
	s.rcptTo = nil
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if hook := s.server.config.OnRcptTo; hook != nil {
		if err := hook(to); err != nil {
			return reject(550, gosmtp.EnhancedCode{5, 1, 1}, err)
		}
	}
	s.rcptTo = append(s.rcptTo, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if hook := s.server.config.OnData; hook != nil {
		if err := hook(s.mailFrom, s.rcptTo, data); err != nil {
			return reject(554, gosmtp.EnhancedCode{5, 6, 0}, err)
		}
	}
	s.server.deliver(Message{
		User: s.user,
		From: s.mailFrom,
		To:   append([]string(nil), s.rcptTo...),
		Data: data,
	})
	return nil
}

// Reset clears the current transaction without affecting authentication.
func (s *session) Reset() {
	s.mailFrom = ""
	s.rcptTo = nil
}

func (s *session) Logout() error {
	return nil
}

func reject(code int, enhanced gosmtp.EnhancedCode, err error) error {
	if se, ok := err.(*gosmtp.SMTPError); ok {
		return se
	}
	return &gosmtp.SMTPError{Code: code, EnhancedCode: enhanced, Message: err.Error()}
}
