package domain_test

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

func TestMapPaymentStatus(t *testing.T) {
	tests := []struct {
		provider domain.PaymentProvider
		raw      string
		want     domain.OrderStatus
	}{
		{domain.ProviderStripe, "succeeded", domain.OrderStatusCompleted},
		{domain.ProviderStripe, "processing", domain.OrderStatusPending},
		{domain.ProviderStripe, "requires_payment_method", domain.OrderStatusPending},
		{domain.ProviderStripe, "canceled", domain.OrderStatusCancelled},
		{domain.ProviderStripe, "refunded", domain.OrderStatusRefunded},
		{domain.ProviderMercadoPago, "approved", domain.OrderStatusCompleted},
		{domain.ProviderMercadoPago, "authorized", domain.OrderStatusCompleted},
		{domain.ProviderMercadoPago, "in_process", domain.OrderStatusPending},
		{domain.ProviderMercadoPago, "pending", domain.OrderStatusPending},
		{domain.ProviderMercadoPago, "rejected", domain.OrderStatusCancelled},
		{domain.ProviderMercadoPago, "expired", domain.OrderStatusCancelled},
		{domain.ProviderMercadoPago, "charged_back", domain.OrderStatusRefunded},
		{domain.ProviderMercadoPago, " APPROVED ", domain.OrderStatusCompleted},
		{"", "paid", domain.OrderStatusCompleted},
		{domain.ProviderStripe, "paid", domain.OrderStatusCompleted},
		{domain.ProviderStripe, "something_new", domain.OrderStatusPending},
		{domain.ProviderMercadoPago, "", domain.OrderStatusPending},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider)+"/"+tt.raw, func(t *testing.T) {
			if got := domain.MapPaymentStatus(tt.provider, tt.raw); got != tt.want {
				t.Fatalf("MapPaymentStatus(%q, %q) = %s, want %s", tt.provider, tt.raw, got, tt.want)
			}
		})
	}
}

func TestMapPaymentStatusIsTotal(t *testing.T) {
	inputs := []string{"", "x", "approved", "succeeded", "refunded", "unknown", "CANCELED", "requires_capture"}
	providers := []domain.PaymentProvider{domain.ProviderStripe, domain.ProviderMercadoPago, "other"}

	for _, provider := range providers {
		for _, raw := range inputs {
			if got := domain.MapPaymentStatus(provider, raw); !got.Valid() {
				t.Fatalf("MapPaymentStatus(%q, %q) returned invalid status %q", provider, raw, got)
			}
		}
	}
}

func TestCheckoutMetadataRoundTrip(t *testing.T) {
	meta := domain.CheckoutMetadata{
		OrderID:    "order-1",
		UserID:     "user-1",
		Email:      "buyer@example.com",
		CouponCode: "SAVE10",
		Items: []domain.CartLine{
			{ProductID: "prod-1", Quantity: 1},
			{ProductID: "prod-2", VariationID: "var-2", Quantity: 2},
		},
	}

	got := domain.DecodeCheckoutMetadata(meta.Encode())
	if !reflect.DeepEqual(got, meta) {
		t.Fatalf("metadata mismatch: got %+v want %+v", got, meta)
	}
}

func TestDecodeCheckoutMetadataIgnoresBrokenItems(t *testing.T) {
	got := domain.DecodeCheckoutMetadata(map[string]string{
		"order_id": "order-9",
		"items_0":  "p1::2;p2:v2:many",
	})
	if got.OrderID != "order-9" || len(got.Items) != 0 {
		t.Fatalf("unexpected metadata %+v", got)
	}
}

func TestCheckoutMetadataKeepsValuesWithinGatewayLimits(t *testing.T) {
	items := make([]domain.CartLine, 0, 40)
	for i := 0; i < 40; i++ {
		items = append(items, domain.CartLine{
			ProductID:   fmt.Sprintf("0b6f5a7e-1d2c-4c3b-9a8f-%012d", i),
			VariationID: fmt.Sprintf("7c1e9d2a-5b4f-4e6d-8c3a-%012d", i),
			Quantity:    int32(i%3 + 1),
		})
	}
	meta := domain.CheckoutMetadata{
		OrderID:    "1f0c3b8e-2a4d-4e5f-9b6c-7d8e9f0a1b2c",
		UserID:     "user-1",
		Email:      "buyer@example.com",
		CouponCode: "SAVE10",
		Items:      items,
	}

	encoded := meta.Encode()
	if len(encoded) > domain.MetadataMaxKeys {
		t.Fatalf("too many metadata keys: %d", len(encoded))
	}
	for key, value := range encoded {
		if len(value) > domain.MetadataValueMaxLen {
			t.Fatalf("metadata %s has %d chars", key, len(value))
		}
	}
	if _, ok := encoded["items_1"]; !ok {
		t.Fatal("expected items to be split across several keys")
	}

	got := domain.DecodeCheckoutMetadata(encoded)
	if !reflect.DeepEqual(got, meta) {
		t.Fatalf("metadata mismatch: got %+v want %+v", got, meta)
	}
}

func TestCheckoutMetadataDropsItemsThatDoNotFit(t *testing.T) {
	items := make([]domain.CartLine, 0, 400)
	for i := 0; i < 400; i++ {
		items = append(items, domain.CartLine{
			ProductID:   fmt.Sprintf("0b6f5a7e-1d2c-4c3b-9a8f-%012d", i),
			VariationID: fmt.Sprintf("7c1e9d2a-5b4f-4e6d-8c3a-%012d", i),
			Quantity:    1,
		})
	}

	encoded := domain.CheckoutMetadata{OrderID: "order-1", Items: items}.Encode()
	if len(encoded) != 1 || encoded["order_id"] != "order-1" {
		t.Fatalf("expected only order id, got %d keys", len(encoded))
	}
}
