package cmd

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shineum/smtp-transport/internal/email"
	"github.com/shineum/smtp-transport/internal/parser"
)

// sendFlags holds the send command's message options.
type sendFlags struct {
	from        string
	to          []string
	cc          []string
	bcc         []string
	subject     string
	body        string
	html        string
	attachments []string
	file        string

	envelopeFrom string
	envelopeTo   []string
}

var sendOpts sendFlags

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one message",
	Long: `Send one message and print the delivery result.

The message is either composed from flags or read from an RFC 5322
file with --file ("-" reads standard input). --envelope-from and
--envelope-to override the SMTP envelope derived from the headers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		mail, err := buildMail(sendOpts, cmd.InOrStdin())
		if err != nil {
			return err
		}

		t, err := newTransport(ctx, cfg)
		if err != nil {
			return err
		}

		info, err := t.Send(ctx, mail)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Message-ID: %s\n", info.MessageID)
		fmt.Fprintf(out, "Accepted:   %s\n", strings.Join(info.Accepted, ", "))
		if len(info.Rejected) > 0 {
			fmt.Fprintf(out, "Rejected:   %s\n", strings.Join(info.Rejected, ", "))
		}
		fmt.Fprintf(out, "Response:   %s\n", info.Response)
		return nil
	},
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&sendOpts.from, "from", "", "From address")
	f.StringArrayVar(&sendOpts.to, "to", nil, "To address (repeatable)")
	f.StringArrayVar(&sendOpts.cc, "cc", nil, "Cc address (repeatable)")
	f.StringArrayVar(&sendOpts.bcc, "bcc", nil, "Bcc address (repeatable)")
	f.StringVarP(&sendOpts.subject, "subject", "s", "", "message subject")
	f.StringVarP(&sendOpts.body, "body", "b", "", "plain text body")
	f.StringVar(&sendOpts.html, "html", "", "HTML body")
	f.StringArrayVarP(&sendOpts.attachments, "attach", "a", nil, "file to attach (repeatable)")
	f.StringVarP(&sendOpts.file, "file", "f", "", `send a raw RFC 5322 message ("-" for stdin)`)
	f.StringVar(&sendOpts.envelopeFrom, "envelope-from", "", "SMTP envelope sender")
	f.StringArrayVar(&sendOpts.envelopeTo, "envelope-to", nil, "SMTP envelope recipient (repeatable)")

	sendCmd.MarkFlagsMutuallyExclusive("file", "from")
	sendCmd.MarkFlagsMutuallyExclusive("file", "subject")
	sendCmd.MarkFlagsMutuallyExclusive("file", "body")
	sendCmd.MarkFlagsMutuallyExclusive("file", "html")
	sendCmd.MarkFlagsMutuallyExclusive("file", "attach")
}

// buildMail turns the send flags into a Mail. stdin is read when the file
// flag is "-".
func buildMail(f sendFlags, stdin io.Reader) (*email.Mail, error) {
	var msg *email.Email
	if f.file != "" {
		parsed, err := readMessage(f.file, stdin)
		if err != nil {
			return nil, err
		}
		msg = parsed
	} else {
		if f.from == "" {
			return nil, errors.New("--from is required unless --file is given")
		}
		attachments, err := loadAttachments(f.attachments)
		if err != nil {
			return nil, err
		}
		msg = email.Compose(email.Draft{
			From:        f.from,
			To:          f.to,
			Cc:          f.cc,
			Bcc:         f.bcc,
			Subject:     f.subject,
			TextBody:    f.body,
			HtmlBody:    f.html,
			Attachments: attachments,
		})
	}

	mail := &email.Mail{Message: msg}
	if f.envelopeFrom != "" || len(f.envelopeTo) > 0 {
		env := msg.Envelope()
		if f.envelopeFrom != "" {
			env.From = f.envelopeFrom
		}
		if len(f.envelopeTo) > 0 {
			env.To = f.envelopeTo
		}
		mail.Envelope = &env
	}
	return mail, nil
}

func readMessage(path string, stdin io.Reader) (*email.Email, error) {
	if path == "-" {
		msg, err := parser.ParseReader(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read message from stdin: %w", err)
		}
		return msg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open message: %w", err)
	}
	defer file.Close()

	msg, err := parser.ParseReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", path, err)
	}
	return msg, nil
}

func loadAttachments(paths []string) ([]email.Attachment, error) {
	var attachments []email.Attachment
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		attachments = append(attachments, email.Attachment{
			Filename:    filepath.Base(path),
			ContentType: contentType,
			Content:     content,
		})
	}
	return attachments, nil
}
