package mailer

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
)

// MailgunSender sends codes through the Mailgun API.
type MailgunSender struct {
	mg   mailgun.Mailgun
	from string
}

// NewMailgunSender constructs a MailgunSender.
func NewMailgunSender(domain, key, from string) (*MailgunSender, error) {
	if domain == "" || key == "" || from == "" {
		return nil, errBadConfig
	}
	return &MailgunSender{mg: mailgun.NewMailgun(domain, key), from: from}, nil
}

func (s *MailgunSender) Send(ctx context.Context, m Message) error {
	msg := s.mg.NewMessage(s.from, Subject(m.Purpose), Body(m), m.To)
	if _, _, err := s.mg.Send(ctx, msg); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}
