package mail

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mindreaderbio/platform/internal/pkg/env"
)

// Message is a single outgoing HTML email.
type Message struct {
	ToName  string
	To      string
	Subject string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewFromEnv picks SendGrid when SENDGRID_API_KEY is set, SMTP when SMTP_HOST
// is set, and a logging mailer otherwise.
func NewFromEnv() Mailer {
	if key := env.GetEnv("SENDGRID_API_KEY", ""); key != "" {
		return NewSendGridMailer(key, env.GetEnv("MAIL_FROM_NAME", "MindReader"), sender())
	}
	if host := env.GetEnv("SMTP_HOST", ""); host != "" {
		return &SMTPMailer{
			Host:     host,
			Port:     env.GetEnv("SMTP_PORT", "587"),
			Username: env.GetEnv("SMTP_USERNAME", ""),
			Password: env.GetEnv("SMTP_PASSWORD", ""),
			Sender:   sender(),
		}
	}
	log.Warn("[Mail] neither SENDGRID_API_KEY nor SMTP_HOST set, emails will only be logged")
	return LogMailer{}
}

func sender() string {
	return env.GetEnv("SMTP_SENDER", "no-reply@localhost")
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) error {
	log.Infof("[Mail] (not sent) to=%s subject=%q", msg.To, msg.Subject)
	return nil
}
