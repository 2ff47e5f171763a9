package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// ErrNoRecipient is returned when an order carries neither a shipping nor a
// billing email address. Confirmation mail is part of the fulfillment
// contract, so this is a hard failure, not a skip.
var ErrNoRecipient = errors.New("notifications: order has no recipient email")

// Sender delivers a single rendered message. The indirection keeps Mailer
// testable without an SMTP server.
type Sender interface {
	Send(ctx context.Context, to string, msg []byte) error
}

// Logger defines the logging contract for mail delivery.
type Logger func(ctx context.Context, event string, fields map[string]any)

// MailerDeps contains the dependencies for creating a Mailer.
type MailerDeps struct {
	Sender      Sender
	FromName    string
	FromAddress string
	Logger      Logger
	Clock       func() time.Time
}

// Mailer renders and delivers transactional email.
type Mailer struct {
	sender      Sender
	fromName    string
	fromAddress string
	logger      Logger
	clock       func() time.Time
}

// NewMailer creates a Mailer with the given dependencies.
func NewMailer(deps MailerDeps) (*Mailer, error) {
	if deps.Sender == nil {
		return nil, errors.New("mailer: sender is required")
	}
	from := strings.TrimSpace(deps.FromAddress)
	if from == "" {
		return nil, errors.New("mailer: from address is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Mailer{
		sender:      deps.Sender,
		fromName:    strings.TrimSpace(deps.FromName),
		fromAddress: from,
		logger:      logger,
		clock:       clock,
	}, nil
}

// SendHTML delivers an HTML email to the given recipient.
func (m *Mailer) SendHTML(ctx context.Context, to, subject, htmlBody string) error {
	if m == nil || m.sender == nil {
		return errors.New("mailer: not initialised")
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrNoRecipient
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return errors.New("mailer: header fields must not contain line breaks")
	}

	from := m.fromAddress
	if m.fromName != "" {
		from = fmt.Sprintf("%s <%s>", m.fromName, m.fromAddress)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.clock().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)

	if err := m.sender.Send(ctx, to, []byte(b.String())); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", to, err)
	}
	m.logger(ctx, "notifications.mail.sent", map[string]any{
		"to":      to,
		"subject": subject,
	})
	return nil
}

// SMTPSenderConfig configures the SMTP transport.
type SMTPSenderConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers messages over plain SMTP with optional AUTH.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string
}

// NewSMTPSender creates an SMTPSender for the given host configuration.
func NewSMTPSender(cfg SMTPSenderConfig) (*SMTPSender, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp sender: host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, errors.New("smtp sender: from address is required")
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%d", host, port),
		auth: auth,
		from: from,
	}, nil
}

// Send delivers the raw message. The context is consulted before dialing;
// net/smtp does not support mid-flight cancellation.
func (s *SMTPSender) Send(ctx context.Context, to string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return smtp.SendMail(s.addr, s.auth, s.from, []string{to}, msg)
}

var _ Sender = (*SMTPSender)(nil)
