package smtp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/smtp-transport/internal/options"
)

// mechanismSupport is the part of the go-smtp client used to pick a SASL
// mechanism.
type mechanismSupport interface {
	SupportsAuth(mech string) bool
}

var _ mechanismSupport = (*gosmtp.Client)(nil)

// selectMechanism picks XOAUTH2 for oauth2 credentials, otherwise PLAIN,
// falling back to LOGIN.
func selectMechanism(server mechanismSupport, auth *options.Auth) (string, sasl.Client, error) {
	if strings.EqualFold(auth.Type, options.AuthOAuth2) {
		if auth.AccessToken == "" {
			return "", nil, errors.New("missing access token for oauth2 login")
		}
		if !server.SupportsAuth(xoauth2Mechanism) {
			return "", nil, fmt.Errorf("server does not support %s", xoauth2Mechanism)
		}
		return xoauth2Mechanism, newXOAuth2Client(auth.User, auth.AccessToken), nil
	}

	switch {
	case server.SupportsAuth(sasl.Plain):
		return sasl.Plain, sasl.NewPlainClient("", auth.User, auth.Pass), nil
	case server.SupportsAuth(sasl.Login):
		return sasl.Login, sasl.NewLoginClient(auth.User, auth.Pass), nil
	default:
		return "", nil, errors.New("server does not support any known authentication method")
	}
}

const xoauth2Mechanism = "XOAUTH2"

// xoauth2Client implements the XOAUTH2 SASL mechanism used by Gmail and
// Office 365.
type xoauth2Client struct {
	user  string
	token string
}

func newXOAuth2Client(user, token string) sasl.Client {
	return &xoauth2Client{user: user, token: token}
}

func (a *xoauth2Client) Start() (string, []byte, error) {
	ir := "user=" + a.user + "\x01auth=Bearer " + a.token + "\x01\x01"
	return xoauth2Mechanism, []byte(ir), nil
}

// Next answers the server's error challenge with an empty response so the
// server sends its final failure reply.
func (a *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
