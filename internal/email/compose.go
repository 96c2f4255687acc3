package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Draft holds the fields needed to compose a plain text or HTML message.
type Draft struct {
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	TextBody string
	HtmlBody string

	Attachments []Attachment
}

// Compose encodes the draft as an RFC 5322 message with a generated
// Message-ID and returns it as an Email. Bcc recipients are kept in the
// envelope but not written to the headers.
func Compose(d Draft) *Email {
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(d.From))

	headers := map[string][]string{}
	var buf bytes.Buffer
	writeHeader := func(key, value string) {
		if value == "" {
			return
		}
		key = textproto.CanonicalMIMEHeaderKey(key)
		headers[key] = append(headers[key], value)
		fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
	}

	writeHeader("Date", time.Now().Format(time.RFC1123Z))
	writeHeader("From", d.From)
	writeHeader("To", strings.Join(d.To, ", "))
	writeHeader("Cc", strings.Join(d.Cc, ", "))
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", d.Subject))
	writeHeader("Message-ID", messageID)
	writeHeader("MIME-Version", "1.0")

	contentType, body := "text/plain; charset=utf-8", d.TextBody
	if d.HtmlBody != "" {
		contentType, body = "text/html; charset=utf-8", d.HtmlBody
	}

	if len(d.Attachments) == 0 {
		writeHeader("Content-Type", contentType)
		writeHeader("Content-Transfer-Encoding", "8bit")
		buf.WriteString("\r\n")
		buf.WriteString(normalizeNewlines(body))
	} else {
		writer := multipart.NewWriter(&buf)
		writeHeader("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", writer.Boundary()))
		buf.WriteString("\r\n")
		writeParts(writer, contentType, body, d.Attachments)
	}

	return &Email{
		From:        d.From,
		To:          d.To,
		Cc:          d.Cc,
		Bcc:         d.Bcc,
		Subject:     d.Subject,
		TextBody:    d.TextBody,
		HtmlBody:    d.HtmlBody,
		Attachments: d.Attachments,
		RawHeaders:  headers,
		MessageID:   messageID,
		Raw:         buf.Bytes(),
	}
}

// writeParts writes the body part followed by one base64 part per
// attachment.
func writeParts(writer *multipart.Writer, contentType, body string, attachments []Attachment) {
	bodyHeader := make(textproto.MIMEHeader)
	bodyHeader.Set("Content-Type", contentType)
	bodyHeader.Set("Content-Transfer-Encoding", "8bit")
	if part, err := writer.CreatePart(bodyHeader); err == nil {
		part.Write([]byte(normalizeNewlines(body)))
	}

	for _, att := range attachments {
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", ct)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", mime.QEncoding.Encode("UTF-8", att.Filename)))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			continue
		}
		part.Write([]byte(encodeBase64WithLineBreaks(att.Content)))
	}

	writer.Close()
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}

func senderDomain(from string) string {
	addr := BareAddress(from)
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
