// Package email defines the message and delivery data model shared by the
// transport, its connections and the providers.
package email

import (
	"bytes"
	"io"
	"net/mail"
	"net/textproto"
	"strings"
)

// Envelope is the SMTP-level sender and recipient list, independent of the
// message headers.
type Envelope struct {
	From string
	To   []string
}

// Message is a composed message ready for delivery.
type Message interface {
	// Envelope derives the sender and recipients from the message headers.
	Envelope() Envelope
	// Header returns the first value of the named header, or "".
	Header(key string) string
	// NewReader returns a fresh stream over the encoded message.
	NewReader() io.Reader
}

// Mail is a single send request.
type Mail struct {
	// Envelope overrides the envelope derived from Message when set.
	Envelope *Envelope
	Message  Message
}

// Info describes an accepted delivery.
type Info struct {
	Envelope  Envelope
	MessageID string
	Accepted  []string
	Rejected  []string
	// Response is the server's final reply to the message data.
	Response string
}

// Email represents a parsed email message with all its components.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string

	// Raw holds the message exactly as it will be transmitted.
	Raw []byte
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Envelope uses the From address as sender and To, Cc and Bcc as recipients.
func (e *Email) Envelope() Envelope {
	env := Envelope{From: BareAddress(e.From)}
	for _, list := range [][]string{e.To, e.Cc, e.Bcc} {
		for _, addr := range list {
			if a := BareAddress(addr); a != "" {
				env.To = append(env.To, a)
			}
		}
	}
	return env
}

// Header looks up a header case-insensitively.
func (e *Email) Header(key string) string {
	if values := e.RawHeaders[textproto.CanonicalMIMEHeaderKey(key)]; len(values) > 0 {
		return values[0]
	}
	for k, values := range e.RawHeaders {
		if strings.EqualFold(k, key) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// NewReader returns a reader over Raw.
func (e *Email) NewReader() io.Reader {
	return bytes.NewReader(e.Raw)
}

// BareAddress returns the addr-spec of s, or s trimmed when it does not parse.
func BareAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address
	}
	return s
}
