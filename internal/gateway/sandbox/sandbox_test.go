package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

func TestGateway_IdempotentCreate(t *testing.T) {
	g := New(domain.ProviderStripe)
	params := domain.CardIntentParams{AmountMinor: 1000, Currency: "BRL", IdempotencyKey: "pi:key-1"}

	first, err := g.CreatePaymentIntent(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := g.CreatePaymentIntent(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same intent for a repeated key, got %s and %s", first.ID, second.ID)
	}
	if g.CreateCalls != 2 {
		t.Fatalf("expected 2 create calls, got %d", g.CreateCalls)
	}
}

func TestGateway_StatusAndCancel(t *testing.T) {
	g := New(domain.ProviderMercadoPago)
	charge, err := g.CreatePixPayment(context.Background(), domain.PixPaymentParams{AmountMinor: 500, ExternalReference: "ord-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charge.QRCode == "" || charge.QRCodeBase64 == "" {
		t.Fatal("expected qr code data")
	}

	payment, err := g.GetPayment(context.Background(), charge.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.Metadata.OrderID != "ord-1" {
		t.Fatalf("expected external reference as order id, got %q", payment.Metadata.OrderID)
	}

	if err := g.CancelPayment(context.Background(), charge.ID); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	payment, _ = g.GetPayment(context.Background(), charge.ID)
	if payment.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", payment.Status)
	}

	if err := g.SetStatus(charge.ID, "approved"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.CancelPayment(context.Background(), charge.ID); err == nil {
		t.Fatal("expected error when cancelling a paid payment")
	}
}

func TestGateway_ConfiguredErrors(t *testing.T) {
	g := New(domain.ProviderStripe)
	g.CreateErr = errors.New("gateway down")

	if _, err := g.CreatePaymentIntent(context.Background(), domain.CardIntentParams{}); err == nil {
		t.Fatal("expected create error")
	}
	if _, err := g.GetPayment(context.Background(), "missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
