// Package mailer sends enrollment notification emails. Production traffic
// goes through SMTP; the Outbox implementation records messages for tests
// and the log sender covers environments without an SMTP relay.
package mailer

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type Message struct {
	ID       string `json:"id"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Language string `json:"language"`
}

// NewMessage stamps a message with a fresh id.
func NewMessage(to, subject, body, language string) Message {
	return Message{
		ID:       uuid.NewString(),
		To:       to,
		Subject:  subject,
		Body:     body,
		Language: language,
	}
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type SMTPSender struct {
	host string
	port int
	user string
	pass string
	from string
}

// NewSMTPSender returns nil when the config is incomplete; callers fall
// back to a log sender in that case.
func NewSMTPSender(cfg SMTPConfig) Sender {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	return &SMTPSender{
		host: strings.TrimSpace(cfg.Host),
		port: cfg.Port,
		user: strings.TrimSpace(cfg.User),
		pass: cfg.Pass,
		from: strings.TrimSpace(cfg.From),
	}
}

func (m *SMTPSender) Send(ctx context.Context, msg Message) error {
	_ = ctx
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	raw := "From: " + m.from + "\r\n" +
		"To: " + msg.To + "\r\n" +
		"Subject: " + msg.Subject + "\r\n" +
		"Message-ID: <" + msg.ID + "@openlms>\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		msg.Body + "\r\n"

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	if err := smtp.SendMail(addr, auth, m.from, []string{msg.To}, []byte(raw)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogSender writes messages to the process log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	_ = ctx
	log.Printf("[DEV-MAIL] to=%s lang=%s subject=%q", msg.To, msg.Language, msg.Subject)
	return nil
}

// Outbox is a synchronous in-memory sender. Tests inspect its contents to
// assert on recipients, subjects, and locales.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Send(ctx context.Context, msg Message) error {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

func (o *Outbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = nil
}
