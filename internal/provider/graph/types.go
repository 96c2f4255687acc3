package graph

import (
	"encoding/base64"
	"strings"

	"github.com/shineum/smtp-transport/internal/email"
)

type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject           string            `json:"subject"`
	Body              messageBody       `json:"body"`
	From              *recipient        `json:"from,omitempty"`
	ToRecipients      []recipient       `json:"toRecipients"`
	CcRecipients      []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients     []recipient       `json:"bccRecipients,omitempty"`
	InternetMessageID string            `json:"internetMessageId,omitempty"`
	Attachments       []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a parsed message into a sendMail body. The
// envelope decides who receives it: envelope recipients listed in the To or
// Cc headers keep that role and every other one becomes a Bcc recipient.
func buildSendMailRequest(msg *email.Email, env email.Envelope) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     msg.TextBody,
	}
	if msg.HtmlBody != "" {
		body.ContentType = "html"
		body.Content = msg.HtmlBody
	}

	to := addressSet(msg.To)
	cc := addressSet(msg.Cc)

	m := sendMailMessage{
		Subject:           msg.Subject,
		Body:              body,
		ToRecipients:      []recipient{},
		InternetMessageID: msg.MessageID,
	}
	if env.From != "" {
		m.From = &recipient{EmailAddress: emailAddress{Address: env.From}}
	}
	for _, addr := range env.To {
		r := recipient{EmailAddress: emailAddress{Address: addr}}
		switch key := strings.ToLower(addr); {
		case to[key]:
			m.ToRecipients = append(m.ToRecipients, r)
		case cc[key]:
			m.CcRecipients = append(m.CcRecipients, r)
		default:
			m.BccRecipients = append(m.BccRecipients, r)
		}
	}

	for _, att := range msg.Attachments {
		m.Attachments = append(m.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return &sendMailRequest{Message: m}
}

func addressSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, addr := range list {
		set[strings.ToLower(email.BareAddress(addr))] = true
	}
	return set
}
