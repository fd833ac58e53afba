package services

import (
	"errors"
	"fmt"
	"net/smtp"

	"eventpay_echo/internal/config"
)

var ErrEmailNotConfigured = errors.New("SMTP credentials not fully configured")

// EmailSender delivers plain text email
type EmailSender interface {
	SendEmail(to []string, subject, body string) error
}

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewEmailService(cfg config.SMTPConfig) *EmailService {
	return &EmailService{
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.User,
		password: cfg.Password,
		from:     cfg.From,
	}
}

func (s *EmailService) SendEmail(to []string, subject, body string) error {
	if s.host == "" || s.port == "" || s.user == "" || s.password == "" {
		return ErrEmailNotConfigured
	}
	if len(to) == 0 {
		return fmt.Errorf("no email recipient")
	}

	auth := smtp.PlainAuth("", s.user, s.password, s.host)

	message := buildMessage(s.from, to[0], subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	if err := smtp.SendMail(addr, auth, s.from, to, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	return []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n", from, to, subject, body))
}
