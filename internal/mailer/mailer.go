// Package mailer delivers one-time codes out of band.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Purpose tells the recipient what a code is for.
type Purpose string

const (
	PurposeVerify Purpose = "verify"
	PurposeReset  Purpose = "reset"
)

// Message is a code delivery request.
type Message struct {
	To        string
	Purpose   Purpose
	Code      string
	ExpiresAt time.Time
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Config selects and configures a Sender.
type Config struct {
	Provider      string // log | mailgun | sendgrid
	From          string
	MailgunDomain string
	MailgunKey    string
	SendGridKey   string
	SendGridHost  string // empty means the public API
	LogCodes      bool
}

// New builds the Sender named by cfg.Provider.
func New(cfg Config, log *zap.Logger) (Sender, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogSender(log, cfg.LogCodes), nil
	case "mailgun":
		return NewMailgunSender(cfg.MailgunDomain, cfg.MailgunKey, cfg.From)
	case "sendgrid":
		return NewSendGridSender(cfg.SendGridKey, cfg.From, cfg.SendGridHost)
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// Subject returns the mail subject for a purpose.
func Subject(p Purpose) string {
	if p == PurposeReset {
		return "Your password reset code"
	}
	return "Verify your email"
}

// Body renders the plain-text mail body.
func Body(m Message) string {
	mins := int(time.Until(m.ExpiresAt).Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	if m.Purpose == PurposeReset {
		return fmt.Sprintf("Use code %s to reset your password. It expires in %d minutes.", m.Code, mins)
	}
	return fmt.Sprintf("Use code %s to verify your email. It expires in %d minutes.", m.Code, mins)
}

var errBadConfig = errors.New("mailer: incomplete configuration")

// LogSender writes deliveries to the log instead of sending mail.
type LogSender struct {
	log      *zap.Logger
	logCodes bool
}

// NewLogSender constructs a LogSender; codes are only logged when logCodes is set.
func NewLogSender(log *zap.Logger, logCodes bool) *LogSender {
	return &LogSender{log: log, logCodes: logCodes}
}

func (s *LogSender) Send(_ context.Context, m Message) error {
	fields := []zap.Field{
		zap.String("to", m.To),
		zap.String("purpose", string(m.Purpose)),
		zap.Time("expires_at", m.ExpiresAt),
	}
	if s.logCodes {
		fields = append(fields, zap.String("code", m.Code))
	}
	s.log.Info("otp mail", fields...)
	return nil
}
