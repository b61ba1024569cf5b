package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vip4dfw/vip4dfw-backend/internal/config"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
	"github.com/wneessen/go-mail"
)

// Mailer delivers rendered emails.
type Mailer interface {
	Send(ctx context.Context, email utils.Email) error
}

// SMTPMailer sends through the configured SMTP relay.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	secure   bool
}

// NewMailer returns an SMTP mailer, or one that only logs when SMTP_HOST is unset.
func NewMailer(cfg config.Config, logger *slog.Logger) Mailer {
	if !cfg.SMTPEnabled() {
		logger.Warn("SMTP not configured, emails will only be logged")
		return &LogMailer{logger: logger}
	}
	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
		secure:   cfg.SMTPSecure,
	}
}

func (m *SMTPMailer) message(email utils.Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat("VIP4DFW", m.from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(email.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", email.To, err)
	}
	msg.Subject(email.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextHTML, email.HTML)
	return msg, nil
}

func (m *SMTPMailer) Send(ctx context.Context, email utils.Email) error {
	msg, err := m.message(email)
	if err != nil {
		return err
	}

	opts := []mail.Option{mail.WithPort(m.port)}
	if m.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.username),
			mail.WithPassword(m.password),
		)
	}
	if m.secure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(m.host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogMailer stands in for SMTP in development.
type LogMailer struct {
	logger *slog.Logger
}

func (m *LogMailer) Send(_ context.Context, email utils.Email) error {
	m.logger.Info("email not sent, SMTP disabled", "to", email.To, "subject", email.Subject)
	return nil
}
