// Package parser reads raw RFC 5322 messages into email.Email values. The
// result keeps the original bytes, so a parsed message is sent unchanged while
// its decoded fields feed the envelope and the API providers.
package parser

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"unicode"

	"github.com/shineum/smtp-transport/internal/email"
)

// ErrEmptyMessage is returned for input without any headers or body.
var ErrEmptyMessage = errors.New("empty message")

// maxDepth limits how deeply multiparts may nest before they are skipped.
const maxDepth = 8

// ParseReader reads a whole message from r and parses it.
func ParseReader(r io.Reader) (*email.Email, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return Parse(raw)
}

// Parse decodes raw into an Email.
//
// Raw on the result is the input with bare LF line endings rewritten as CRLF.
// To, Cc and Bcc hold bare addresses so Envelope can be derived from them.
// The first text/plain and text/html entities become the bodies; parts marked
// as attachments, or carrying a file name, become Attachments. Entities that
// cannot be read are logged and skipped.
func Parse(raw []byte) (*email.Email, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	h := msg.Header
	e := &email.Email{
		From:       h.Get("From"),
		To:         addresses(h.Get("To")),
		Cc:         addresses(h.Get("Cc")),
		Bcc:        addresses(h.Get("Bcc")),
		Subject:    decodeHeader(h.Get("Subject")),
		MessageID:  h.Get("Message-Id"),
		RawHeaders: map[string][]string(h),
		Raw:        toCRLF(raw),
	}

	if err := fileEntity(e, textproto.MIMEHeader(h), msg.Body, 0); err != nil {
		return nil, err
	}
	return e, nil
}

// fileEntity files one MIME entity into e, recursing into multiparts. Only
// failures of the top-level entity are returned.
func fileEntity(e *email.Email, header textproto.MIMEHeader, body io.Reader, depth int) error {
	mediaType, params, err := contentType(header)
	if err != nil {
		if depth > 0 {
			slog.Warn("skipping part with invalid content type",
				"content_type", header.Get("Content-Type"),
				"error", err,
			)
			return nil
		}
		slog.Warn("invalid content type, reading body as plain text",
			"content_type", header.Get("Content-Type"),
			"error", err,
		)
		mediaType, params = "text/plain", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return walkMultipart(e, mediaType, params["boundary"], body, depth)
	}

	content, err := decodeBody(header, body)
	if err != nil {
		if depth == 0 {
			return fmt.Errorf("failed to read message body: %w", err)
		}
		slog.Warn("skipping unreadable part", "content_type", mediaType, "error", err)
		return nil
	}

	disposition, dparams, _ := mime.ParseMediaType(header.Get("Content-Disposition"))
	name := fileName(dparams, params)

	switch {
	case disposition == "attachment":
		if name == "" {
			name = defaultName(mediaType)
		}
		e.Attachments = append(e.Attachments, email.Attachment{Filename: name, ContentType: mediaType, Content: content})
	case mediaType == "text/html":
		if e.HtmlBody == "" {
			e.HtmlBody = string(content)
		}
	case mediaType == "text/plain":
		if e.TextBody == "" {
			e.TextBody = string(content)
		}
	case name != "":
		e.Attachments = append(e.Attachments, email.Attachment{Filename: name, ContentType: mediaType, Content: content})
	case depth == 0:
		slog.Warn("unexpected top-level content type, reading as text", "content_type", mediaType)
		e.TextBody = string(content)
	default:
		slog.Warn("skipping unnamed part", "content_type", mediaType, "disposition", disposition)
	}
	return nil
}

func walkMultipart(e *email.Email, mediaType, boundary string, body io.Reader, depth int) error {
	fail := func(err error) error {
		if depth == 0 {
			return err
		}
		slog.Warn("skipping nested multipart", "content_type", mediaType, "error", err)
		return nil
	}

	if boundary == "" {
		return fail(fmt.Errorf("%s message missing boundary", mediaType))
	}
	if depth >= maxDepth {
		return fail(fmt.Errorf("multipart nested deeper than %d levels", maxDepth))
	}

	r := multipart.NewReader(body, boundary)
	for {
		part, err := r.NextPart()
		// A missing close delimiter comes back wrapped; only a bare EOF is
		// the end of the multipart.
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fail(fmt.Errorf("failed to parse multipart message: %w", err))
		}
		// Parts never fail the message; fileEntity logs and skips them.
		_ = fileEntity(e, part.Header, part, depth+1)
	}
}

// contentType parses Content-Type, defaulting to text/plain.
func contentType(header textproto.MIMEHeader) (string, map[string]string, error) {
	v := header.Get("Content-Type")
	if v == "" {
		return "text/plain", nil, nil
	}
	mediaType, params, err := mime.ParseMediaType(v)
	return strings.ToLower(mediaType), params, err
}

// decodeBody reads body and undoes its Content-Transfer-Encoding. Multipart
// parts arrive with quoted-printable already removed by mime/multipart.
func decodeBody(header textproto.MIMEHeader, body io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(header.Get("Content-Transfer-Encoding"))) {
	case "base64":
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		data = bytes.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, data)
		out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(out, data)
		if err != nil {
			// Unpadded input.
			n, err = base64.RawStdEncoding.Decode(out, data)
			if err != nil {
				return nil, fmt.Errorf("invalid base64 content: %w", err)
			}
		}
		return out[:n], nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(body))
	default:
		return io.ReadAll(body)
	}
}

// fileName prefers the Content-Disposition filename over the Content-Type
// name. Encoded-words are decoded.
func fileName(disposition, contentType map[string]string) string {
	name := disposition["filename"]
	if name == "" {
		name = contentType["name"]
	}
	return decodeHeader(strings.TrimSpace(name))
}

// defaultName names an attachment that carries none; Graph requires one.
func defaultName(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

func toCRLF(raw []byte) []byte {
	out := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(out, []byte("\n"), []byte("\r\n"))
}

// decodeHeader decodes RFC 2047 encoded-words, returning s unchanged when
// it is not valid.
func decodeHeader(s string) string {
	dec := new(mime.WordDecoder)
	if decoded, err := dec.DecodeHeader(s); err == nil {
		return decoded
	}
	return s
}

// addresses returns the bare addresses of an address list header. A list
// that does not parse is split on commas instead.
func addresses(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}

	if list, err := mail.ParseAddressList(v); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}

	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
