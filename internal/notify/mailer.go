// Package notify отправляет письма покупателям.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/config"
)

// Message описывает письмо.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer отправляет письма.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer отправляет письма через SMTP-сервер.
type SMTPMailer struct {
	cfg  config.SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer создаёт SMTPMailer.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// Send формирует письмо и отправляет его.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw := []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n"+
		"%s",
		m.cfg.FromName, m.cfg.FromAddr, msg.To, msg.Subject, msg.Body))

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Server)
	}

	addr := m.cfg.Server + ":" + m.cfg.Port
	if err := m.send(addr, auth, m.cfg.FromAddr, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogMailer пишет письма в лог вместо отправки. Используется, когда SMTP не настроен.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer создаёт LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send записывает письмо в лог.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email not sent, smtp disabled",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// TrackingLinkMessage собирает письмо со ссылкой на список заказов.
func TrackingLinkMessage(to, link string, ttl time.Duration) Message {
	var b strings.Builder
	b.WriteString("Use the link below to view your eSIM orders:\n\n")
	b.WriteString(link)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "This link will expire in %s.\n", humanizeTTL(ttl))
	b.WriteString("If you did not request it, you can ignore this email.\n")

	return Message{
		To:      to,
		Subject: "Your eSIM orders",
		Body:    b.String(),
	}
}

func humanizeTTL(ttl time.Duration) string {
	hours := int(ttl.Hours())
	switch {
	case hours >= 1 && ttl%time.Hour == 0:
		if hours == 1 {
			return "1 hour"
		}
		return strconv.Itoa(hours) + " hours"
	default:
		minutes := int(ttl.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return strconv.Itoa(minutes) + " minutes"
	}
}
