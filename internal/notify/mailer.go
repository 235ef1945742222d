package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPMailer struct {
	Host string
	Port string
	User string
	Pass string
	From string
	Log  *zap.Logger
}

func (m *SMTPMailer) Send(_ context.Context, to, subject, body string) error {
	msg := []byte("From: " + m.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n" +
		body + "\r\n")

	addr := fmt.Sprintf("%s:%s", m.Host, m.Port)
	var auth smtp.Auth
	if m.User != "" {
		auth = smtp.PlainAuth("", m.User, m.Pass, m.Host)
	}
	if err := smtp.SendMail(addr, auth, m.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	m.Log.Info("mail sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}
