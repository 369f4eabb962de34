package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrBadHeader = errors.New("email: header contains a line break")

// Message is one plain text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

func (m Message) validate() error {
	if strings.ContainsAny(m.To, "\r\n") || strings.ContainsAny(m.Subject, "\r\n") {
		return ErrBadHeader
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("email: recipient %q: %w", m.To, err)
	}
	return nil
}

type Sender interface {
	Send(ctx context.Context, m Message) error
	ProviderID() string
}

// SMTPConfig points at a relay. Username enables PLAIN auth, which net/smtp
// only allows over TLS or to localhost.
type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
	now  func() time.Time
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = "no-reply@lunchpass.local"
	}
	host := strings.TrimSpace(cfg.Host)
	s := &SMTPSender{
		addr: net.JoinHostPort(host, strings.TrimSpace(cfg.Port)),
		from: from,
		now:  time.Now,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return s
}

// Send gives up once ctx is done. smtp.SendMail itself cannot be cancelled,
// so the dial runs in the background and its result is dropped.
func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}
	raw := buildMessage(s.from, m, s.now())
	done := make(chan error, 1)
	go func() { done <- smtp.SendMail(s.addr, s.auth, s.from, []string{m.To}, raw) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SMTPSender) ProviderID() string { return "smtp" }

// LogSender only logs; it is used when no SMTP host is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}
	s.logger.Info("email not sent, no smtp host", "to", m.To, "subject", m.Subject, "bytes", len(m.Body))
	return nil
}

func (s *LogSender) ProviderID() string { return "log" }

func buildMessage(from string, m Message, now time.Time) []byte {
	domain := "lunchpass.local"
	if at := strings.LastIndexByte(from, '@'); at >= 0 {
		domain = strings.Trim(from[at+1:], "> ")
	}
	var b strings.Builder
	header := func(k, v string) { b.WriteString(k + ": " + v + "\r\n") }
	header("From", from)
	header("To", m.To)
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", "<"+uuid.NewString()+"@"+domain+">")
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	// Bare LF line endings are rejected by strict relays.
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(m.Body, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
