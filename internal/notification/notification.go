// Package notification delivers batch and deadline messages to businesses.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/frahmantamala/cashback-settlement/internal"
)

type Kind string

const (
	KindBatchCreated    Kind = "batch_created"
	KindDeadlineWarning Kind = "deadline_warning"
	KindSessionResolved Kind = "session_resolved"
)

type Message struct {
	Kind      Kind
	To        string
	Subject   string
	Body      string
	SessionID string
	BatchID   string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var ErrNoRecipient = errors.New("notification has no recipient")

// SMTPSender sends HTML mail. Without credentials it talks to the server
// unauthenticated, which is what local mail catchers expect.
type SMTPSender struct {
	cfg  internal.NotificationConfig
	auth smtp.Auth
}

func NewSMTPSender(cfg internal.NotificationConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.SMTPUser != "" && cfg.SMTPPassword != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &SMTPSender{cfg: cfg, auth: auth}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	body := s.render(msg)

	if s.auth != nil {
		return smtp.SendMail(addr, s.auth, s.cfg.From, []string{msg.To}, body)
	}

	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return c.Quit()
}

func (s *SMTPSender) render(msg Message) []byte {
	from := s.cfg.From
	if strings.TrimSpace(s.cfg.FromName) != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}
	lines := []string{
		"From: " + sanitizeHeader(from),
		"To: " + sanitizeHeader(msg.To),
		"Subject: " + sanitizeHeader(msg.Subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"",
		msg.Body,
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

// LogSender only logs. It is used when no SMTP host is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	s.logger.Info("notification",
		"kind", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject,
		"session_id", msg.SessionID,
		"batch_id", msg.BatchID)
	return nil
}

// NewSender picks SMTP when a host is configured and logging otherwise.
func NewSender(cfg internal.NotificationConfig, logger *slog.Logger) Sender {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return NewLogSender(logger)
	}
	return NewSMTPSender(cfg)
}
