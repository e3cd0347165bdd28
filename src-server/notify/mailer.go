package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailersend/mailersend-go"
)

type Recipient struct {
	Name  string
	Email string
}

type Mailer interface {
	Send(ctx context.Context, to Recipient, subject, text, html string) error
}

type MailersendMailer struct {
	client    *mailersend.Mailersend
	fromName  string
	fromEmail string
}

// Nil when the API key or sender isn't configured.
func NewMailersendMailer(apiKey, fromName, fromEmail string) *MailersendMailer {
	if apiKey == "" || fromEmail == "" {
		slog.Info("MailerSend is not configured, emails won't be sent")
		return nil
	}
	return &MailersendMailer{
		client:    mailersend.NewMailersend(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (m *MailersendMailer) Send(ctx context.Context, to Recipient, subject, text, html string) error {
	message := m.client.Email.NewMessage()
	message.SetFrom(mailersend.From{Name: m.fromName, Email: m.fromEmail})
	message.SetRecipients([]mailersend.Recipient{{Name: to.Name, Email: to.Email}})
	message.SetSubject(subject)
	message.SetText(text)
	if html != "" {
		message.SetHTML(html)
	}

	res, err := m.client.Email.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("(*MailersendMailer).Send: %w", err)
	}
	slog.Debug("email sent", "to", to.Email, "message_id", res.Header.Get("X-Message-Id"))
	return nil
}
