// Package mail содержит реализации domain.Mailer.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

const defaultDialTimeout = 10 * time.Second

// Config: параметры SMTP-сервера.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// ImplicitTLS: TLS с момента подключения (порт 465); иначе STARTTLS, если сервер его поддерживает.
	ImplicitTLS bool
	DialTimeout time.Duration
}

// SMTPMailer отправляет HTML-письма через SMTP.
type SMTPMailer struct {
	cfg    Config
	logger *log.Entry
}

// NewSMTPMailer создаёт SMTPMailer.
func NewSMTPMailer(cfg Config, logger *log.Entry) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp sender address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "smtp-mailer")
	}
	return &SMTPMailer{cfg: cfg, logger: logger}, nil
}

// Send отправляет письмо. Контекст ограничивает время всей SMTP-сессии.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, html string) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.DialTimeout}

	var conn net.Conn
	var err error
	if m.cfg.ImplicitTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if !m.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if m.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMessage(m.cfg.From, m.cfg.FromName, to, subject, html, time.Now())); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp finish body: %w", err)
	}
	if err := client.Quit(); err != nil {
		m.logger.WithError(err).Debug("smtp quit failed after successful delivery")
	}

	m.logger.WithField("to", to).Info("email sent")
	return nil
}

// buildMessage собирает письмо с заголовками в фиксированном порядке.
func buildMessage(from, fromName, to, subject, html string, date time.Time) []byte {
	var buf bytes.Buffer
	sender := from
	if fromName != "" {
		sender = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", fromName), from)
	}
	headers := [][2]string{
		{"From", sender},
		{"To", to},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"Date", date.Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}
	for _, h := range headers {
		buf.WriteString(h[0])
		buf.WriteString(": ")
		buf.WriteString(h[1])
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(html, "\n", "\r\n"))
	return buf.Bytes()
}

// LogMailer пишет письма в лог вместо отправки. Используется, когда SMTP не настроен.
type LogMailer struct {
	logger *log.Entry
}

// NewLogMailer создаёт LogMailer.
func NewLogMailer(logger *log.Entry) *LogMailer {
	if logger == nil {
		logger = log.WithField("component", "log-mailer")
	}
	return &LogMailer{logger: logger}
}

// Send логирует письмо.
func (m *LogMailer) Send(_ context.Context, to, subject, html string) error {
	m.logger.WithFields(log.Fields{
		"to":      to,
		"subject": subject,
		"bytes":   len(html),
	}).Info("email not sent, smtp is not configured")
	return nil
}

var (
	_ domain.Mailer = (*SMTPMailer)(nil)
	_ domain.Mailer = (*LogMailer)(nil)
)
