// Package graph implements a Provider that delivers mail through the
// Microsoft Graph sendMail API using OAuth2 client credentials.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shineum/smtp-transport/internal/conn"
	"github.com/shineum/smtp-transport/internal/email"
	"github.com/shineum/smtp-transport/internal/options"
	"github.com/shineum/smtp-transport/internal/parser"
)

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox messages are sent from.
	Sender string
}

// GraphProvider opens Graph-backed connections. The token cache is shared
// by all of them.
type GraphProvider struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)
	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, graphURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// NewConnection returns a connection that sends through this provider.
func (g *GraphProvider) NewConnection(opts options.Options) conn.Connection {
	return &graphConn{
		provider: g,
		timeout:  opts.SocketTimeout,
		events:   make(chan conn.Event),
	}
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// graphConn is one transport operation against the Graph API. Connect
// acquires the access token so authentication problems surface before the
// message is read.
type graphConn struct {
	provider *GraphProvider
	timeout  time.Duration
	events   chan conn.Event

	// bearer is a caller supplied token that bypasses client credentials.
	bearer string
	token  string
}

func (c *graphConn) Connect(ctx context.Context) error {
	token, err := c.provider.token.Token(ctx)
	if err != nil {
		return &conn.Error{Code: conn.EAUTH, Command: "token", Err: err}
	}
	c.token = token
	return nil
}

// Login adopts an OAuth2 access token from auth. Any other credentials are
// ignored since the provider authenticates with its client secret.
func (c *graphConn) Login(_ context.Context, auth *options.Auth) error {
	if auth != nil && strings.EqualFold(auth.Type, options.AuthOAuth2) && auth.AccessToken != "" {
		c.bearer = auth.AccessToken
	}
	return nil
}

func (c *graphConn) Send(ctx context.Context, env email.Envelope, msg io.Reader) (*email.Info, error) {
	if len(env.To) == 0 {
		return nil, conn.Errorf(conn.EENVELOPE, "no recipients defined")
	}
	parsed, err := parser.ParseReader(msg)
	if err != nil {
		return nil, &conn.Error{Code: conn.EMESSAGE, Err: err}
	}

	if env.From == "" {
		env.From = c.provider.sender
	}
	body, err := json.Marshal(buildSendMailRequest(parsed, env))
	if err != nil {
		return nil, &conn.Error{Code: conn.EMESSAGE, Err: err}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	status, err := c.sendMail(ctx, body)
	if err != nil {
		var se *sendError
		if errors.As(err, &se) && se.statusCode == http.StatusUnauthorized && c.bearer == "" {
			slog.Info("refreshing Graph API token after 401")
			if c.token, err = c.provider.token.ForceRefresh(ctx); err != nil {
				return nil, &conn.Error{Code: conn.EAUTH, Command: "token", Err: err}
			}
			status, err = c.sendMail(ctx, body)
		}
	}
	if err != nil {
		return nil, toConnError(err)
	}

	return &email.Info{
		Envelope: env,
		Accepted: append([]string(nil), env.To...),
		Response: fmt.Sprintf("%d %s", status, http.StatusText(status)),
	}, nil
}

func (c *graphConn) Quit() error { return nil }

func (c *graphConn) Close() error { return nil }

func (c *graphConn) Events() <-chan conn.Event { return c.events }

// sendMail performs a single POST to the sendMail endpoint.
func (c *graphConn) sendMail(ctx context.Context, body []byte) (int, error) {
	token := c.bearer
	if token == "" {
		token = c.token
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.graphURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.provider.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// 202 Accepted is success for sendMail.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.StatusCode, nil
	}

	data, _ := io.ReadAll(resp.Body)
	message := strings.TrimSpace(string(data))
	var ger graphErrorResponse
	if json.Unmarshal(data, &ger) == nil && ger.Error.Message != "" {
		message = ger.Error.Message
	}
	return resp.StatusCode, &sendError{statusCode: resp.StatusCode, message: message}
}

// sendError is a non-success HTTP reply from the Graph API.
type sendError struct {
	statusCode int
	message    string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// toConnError classifies a sendMail failure. Authorization failures map to
// EAUTH, rejected requests to EMESSAGE, server side failures to EPROTOCOL
// and transport errors to ECONNECTION or ETIMEDOUT.
func toConnError(err error) *conn.Error {
	ce := &conn.Error{Code: conn.ECONNECTION, Command: "sendMail", Err: err}

	var se *sendError
	if errors.As(err, &se) {
		ce.ResponseCode = se.statusCode
		ce.Response = se.message
		switch {
		case se.statusCode == http.StatusUnauthorized || se.statusCode == http.StatusForbidden:
			ce.Code = conn.EAUTH
		case se.statusCode >= 500:
			ce.Code = conn.EPROTOCOL
		default:
			ce.Code = conn.EMESSAGE
		}
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		ce.Code = conn.ETIMEDOUT
	}
	return ce
}
