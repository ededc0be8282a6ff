package etl

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"
)

// Alert is a best-effort message about a finished run.
type Alert struct {
	Subject string
	Body    string
}

// Notifier delivers alerts. Delivery failures are logged by the caller and
// never change a run's outcome.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, a Alert) error {
	log.Printf("[Alert] %s\n%s", a.Subject, a.Body)
	return nil
}

// SMTPNotifier mails alerts to a fixed recipient list.
type SMTPNotifier struct {
	Addr       string // host:port
	From       string
	Recipients []string
	Auth       smtp.Auth

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (n *SMTPNotifier) Notify(ctx context.Context, a Alert) error {
	if len(n.Recipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	send := n.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(n.Addr, n.Auth, n.From, n.Recipients, n.message(a)); err != nil {
		return fmt.Errorf("send alert via %s: %w", n.Addr, err)
	}
	return nil
}

func (n *SMTPNotifier) message(a Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", a.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(a.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func notify(ctx context.Context, n Notifier, a Alert) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, a); err != nil {
		log.Printf("[Alert] delivery failed: %v", err)
	}
}
