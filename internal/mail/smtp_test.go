package mail

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBuildMessage(t *testing.T) {
	date := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	msg := string(buildMessage("shop@example.com", "Loja PDF", "buyer@example.com", "Pedido confirmado", "<p>ok</p>\n<p>fim</p>", date))

	head, body, found := strings.Cut(msg, "\r\n\r\n")
	if !found {
		t.Fatal("expected blank line between headers and body")
	}

	wantHeaders := []string{
		"From: Loja PDF <shop@example.com>",
		"To: buyer@example.com",
		"Subject: Pedido confirmado",
		"Date: Tue, 03 Feb 2026 04:05:06 +0000",
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	if got := strings.Split(head, "\r\n"); strings.Join(got, "|") != strings.Join(wantHeaders, "|") {
		t.Fatalf("unexpected headers:\n%s", head)
	}
	if body != "<p>ok</p>\r\n<p>fim</p>" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestNewSMTPMailer_Validation(t *testing.T) {
	if _, err := NewSMTPMailer(Config{}, nil); err == nil {
		t.Fatal("expected error for empty config")
	}
	if _, err := NewSMTPMailer(Config{Host: "smtp.example.com", Port: 587}, nil); err == nil {
		t.Fatal("expected error for missing sender")
	}
	m, err := NewSMTPMailer(Config{Host: "smtp.example.com", Port: 587, From: "shop@example.com"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.cfg.DialTimeout != defaultDialTimeout {
		t.Fatalf("expected default dial timeout, got %s", m.cfg.DialTimeout)
	}
}

func TestSMTPMailer_DialFailure(t *testing.T) {
	m, err := NewSMTPMailer(Config{Host: "127.0.0.1", Port: 1, From: "shop@example.com", DialTimeout: 200 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Send(context.Background(), "buyer@example.com", "s", "b"); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestLogMailer(t *testing.T) {
	if err := NewLogMailer(nil).Send(context.Background(), "a@b.c", "s", "<p/>"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildMessage_EncodesNonASCIISubject(t *testing.T) {
	msg := string(buildMessage("shop@example.com", "", "buyer@example.com", "Confirmação", "x", time.Now()))
	if !strings.Contains(msg, "Subject: =?utf-8?q?Confirma=C3=A7=C3=A3o?=\r\n") {
		t.Fatalf("subject is not q-encoded:\n%s", msg)
	}
	if !strings.Contains(msg, "From: shop@example.com\r\n") {
		t.Fatalf("expected bare sender address:\n%s", msg)
	}
}
