// Package smtp implements the outbound mail transport over net/smtp with
// optional implicit TLS or STARTTLS.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/karaca/identity/services/email/internal/sender"
)

// sendTimeout bounds one SMTP conversation.
const sendTimeout = 20 * time.Second

// Config holds the SMTP transport configuration.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string

	// Secure selects implicit TLS (typically port 465). When false the
	// connection starts in plaintext and upgrades via STARTTLS if the server
	// offers it.
	Secure bool
}

// Sender sends mail through a single SMTP endpoint. The transport state is
// per-call; the struct itself is immutable and safe for concurrent use.
type Sender struct {
	cfg Config
}

// New creates an SMTP sender.
func New(cfg Config) *Sender {
	return &Sender{cfg: cfg}
}

// Name returns the transport name.
func (s *Sender) Name() string {
	return "smtp"
}

func (s *Sender) addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Send delivers one message. The SMTP dialogue runs in a goroutine so the
// context deadline is honored even while net/smtp blocks.
func (s *Sender) Send(ctx context.Context, msg *sender.Message) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.send(msg)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func (s *Sender) send(msg *sender.Message) error {
	client, err := s.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(s.cfg.FromEmail); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(s.buildMessage(msg)); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}

	return client.Quit()
}

// dial opens the SMTP connection, with implicit TLS or opportunistic STARTTLS.
func (s *Sender) dial() (*smtp.Client, error) {
	if s.cfg.Secure {
		conn, err := tls.Dial("tcp", s.addr(), &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12})
		if err != nil {
			return nil, fmt.Errorf("smtp tls dial: %w", err)
		}
		client, err := smtp.NewClient(conn, s.cfg.Host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp client: %w", err)
		}
		return client, nil
	}

	conn, err := net.DialTimeout("tcp", s.addr(), sendTimeout)
	if err != nil {
		return nil, fmt.Errorf("smtp dial: %w", err)
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}

	return client, nil
}

// buildMessage assembles the MIME message bytes.
func (s *Sender) buildMessage(msg *sender.Message) []byte {
	from := s.cfg.FromEmail
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	b.WriteString("\r\n")

	return []byte(b.String())
}

// Verify checks connectivity by completing an SMTP handshake and quitting.
func (s *Sender) Verify(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		client, err := s.dial()
		if err != nil {
			done <- err
			return
		}
		done <- client.Quit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp verify: %w", ctx.Err())
	case err := <-done:
		return err
	}
}
