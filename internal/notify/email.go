package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// EmailConfig holds SMTP configuration
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailChannel sends messages over SMTP.
type EmailChannel struct {
	cfg    EmailConfig
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger *zap.Logger
}

// NewEmailChannel creates a new email channel
func NewEmailChannel(cfg EmailConfig, logger *zap.Logger) (*EmailChannel, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp host and sender address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailChannel{
		cfg:    cfg,
		auth:   auth,
		send:   smtp.SendMail,
		logger: logger,
	}, nil
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Applicable(msg *Message) bool { return msg.Email != "" }

// Send builds a plain-text MIME message and submits it. net/smtp has no
// context support, so cancellation only short-circuits before the dial.
func (e *EmailChannel) Send(ctx context.Context, msg *Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return msg.Email, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	if msg.PatientName != "" {
		fmt.Fprintf(&b, "Dear %s,\r\n\r\n", msg.PatientName)
	}
	b.WriteString(msg.Body)
	if msg.DocumentURL != "" {
		fmt.Fprintf(&b, "\r\n\r\nYour prescription: %s", msg.DocumentURL)
	}
	b.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.send(addr, e.auth, e.cfg.From, []string{msg.Email}, []byte(b.String())); err != nil {
		return msg.Email, fmt.Errorf("send mail: %w", err)
	}
	return msg.Email, nil
}
