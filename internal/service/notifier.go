package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const smtpDialTimeout = 10 * time.Second

// CodeSender delivers a verification code to an email address. Callers treat
// delivery as best-effort: an error is logged and reported, never fatal.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string, ttl time.Duration) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) SendCode(ctx context.Context, email, code string, ttl time.Duration) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to SMTP server %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("start TLS: %w", err)
		}
	}

	if s.cfg.User != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(email); err != nil {
		return fmt.Errorf("set recipient %s: %w", email, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("initiate data transfer: %w", err)
	}
	if _, err := w.Write([]byte(buildCodeMessage(s.cfg.From, email, code, ttl))); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data transfer: %w", err)
	}

	return client.Quit()
}

func buildCodeMessage(from, to, code string, ttl time.Duration) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Your MarketLens verification code\r\n"+
		"MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n"+
		"Your verification code is %s\r\n\r\nIt expires in %d minutes. If you did not request it, ignore this email.\r\n",
		from, to, code, int(ttl.Minutes()))
}

// LogSender writes the code to the gateway log instead of sending email.
// Used when SMTP is not configured.
type LogSender struct{}

func (LogSender) SendCode(ctx context.Context, email, code string, ttl time.Duration) error {
	log.Info().
		Str("email", email).
		Str("code", code).
		Dur("ttl", ttl).
		Msg("verification code (SMTP disabled)")
	return nil
}
