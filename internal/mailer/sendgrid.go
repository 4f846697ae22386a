package mailer

import (
	"context"
	"fmt"
	"html"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridHost = "https://api.sendgrid.com"

// SendGridSender sends codes through the SendGrid v3 API.
type SendGridSender struct {
	key  string
	from string
	host string
}

// NewSendGridSender constructs a SendGridSender; host may be empty.
func NewSendGridSender(key, from, host string) (*SendGridSender, error) {
	if key == "" || from == "" {
		return nil, errBadConfig
	}
	if host == "" {
		host = sendGridHost
	}
	return &SendGridSender{key: key, from: from, host: host}, nil
}

func (s *SendGridSender) Send(ctx context.Context, m Message) error {
	body := Body(m)
	msg := mail.NewSingleEmail(mail.NewEmail("", s.from), Subject(m.Purpose), mail.NewEmail("", m.To), body, "<p>"+html.EscapeString(body)+"</p>")

	req := sendgrid.GetRequest(s.key, "/v3/mail/send", s.host)
	req.Method = http.MethodPost
	req.Body = mail.GetRequestBody(msg)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("sendgrid send: status %d", resp.StatusCode)
	}
	return nil
}
