package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/mercadopago"
	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/resilient"
	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/sandbox"
	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/stripe"
	"github.com/vladislavdragonenkov/pdfstore/internal/mail"
	"github.com/vladislavdragonenkov/pdfstore/internal/ratelimit"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/outbox"
)

const seedYAML = `
products:
  - id: go-patterns
    name: Go Patterns
    price: 100.00
    file:
      key: books/go-patterns.pdf
coupons:
  - code: save10
    type: percent
    value: 10
`

func newTestDependencies(t *testing.T) (Config, *Dependencies) {
	t.Helper()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(seedPath, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	cfg := validConfig()
	cfg.Files.LocalDir = dir
	cfg.Storage.SeedFile = seedPath

	deps, err := NewDependencies(context.Background(), cfg, log.WithField("component", "test"))
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })
	return cfg, deps
}

func TestNewDependencies_LocalDefaults(t *testing.T) {
	_, deps := newTestDependencies(t)

	if _, ok := deps.Card.(*sandbox.Gateway); !ok {
		t.Errorf("expected sandbox card gateway, got %T", deps.Card)
	}
	if _, ok := deps.Pix.(*sandbox.Gateway); !ok {
		t.Errorf("expected sandbox pix gateway, got %T", deps.Pix)
	}
	if deps.CardHooks != nil || deps.PixHooks != nil {
		t.Error("webhook verifiers must stay disabled without secrets")
	}
	if _, ok := deps.Mailer.(*mail.LogMailer); !ok {
		t.Errorf("expected log mailer, got %T", deps.Mailer)
	}
	if _, ok := deps.Publisher.(*outbox.LogPublisher); !ok {
		t.Errorf("expected log publisher, got %T", deps.Publisher)
	}
	if deps.DeadLetter != nil {
		t.Error("dead letter publisher requires kafka")
	}
	if _, ok := deps.Limiter.(*ratelimit.LocalLimiter); !ok {
		t.Errorf("expected local limiter, got %T", deps.Limiter)
	}
	if deps.FileServer == nil {
		t.Error("local file store must serve files")
	}

	product, err := deps.Catalog.GetProduct(context.Background(), "go-patterns")
	if err != nil {
		t.Fatalf("seeded product: %v", err)
	}
	if product.PriceMinor != 10000 {
		t.Errorf("expected price 10000, got %d", product.PriceMinor)
	}
}

func TestNewDependencies_WebhookSecretsEnableVerifiers(t *testing.T) {
	cfg := validConfig()
	cfg.Files.LocalDir = t.TempDir()
	cfg.Gateway.StripeWebhookSecret = "whsec"
	cfg.Gateway.MercadoPagoWebhookSecret = "mpsec"

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	defer deps.Close()

	if deps.CardHooks == nil || deps.PixHooks == nil {
		t.Fatal("expected webhook verifiers")
	}
}

func TestNewDependencies_MissingSeedFails(t *testing.T) {
	cfg := validConfig()
	cfg.Files.LocalDir = t.TempDir()
	cfg.Storage.SeedFile = filepath.Join(t.TempDir(), "absent.yaml")

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error for missing seed file")
	}
	if deps != nil {
		t.Fatalf("expected nil dependencies on error, got %+v", deps)
	}
}

func TestNewDependencies_InvalidSMTPFailsWithoutPanic(t *testing.T) {
	cfg := validConfig()
	cfg.Files.LocalDir = t.TempDir()
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.From = ""

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for smtp config without sender")
	}
}

func TestDependencies_CloseRunsClosersInReverse(t *testing.T) {
	var order []string
	d := &Dependencies{}
	d.onClose(func() error { order = append(order, "postgres"); return nil })
	d.onClose(func() error { order = append(order, "redis"); return os.ErrClosed })

	if err := d.Close(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected joined close error, got %v", err)
	}
	if len(order) != 2 || order[0] != "redis" || order[1] != "postgres" {
		t.Fatalf("unexpected close order: %v", order)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	var nilDeps *Dependencies
	if err := nilDeps.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestHTTPServer_CheckoutFlow(t *testing.T) {
	cfg, deps := newTestDependencies(t)
	svc := NewServices(cfg, deps)
	handler := NewHTTPServer(cfg, deps, svc).Handler()

	body, _ := json.Marshal(map[string]any{
		"items":      []map[string]any{{"productId": "go-patterns", "quantity": 1}},
		"couponCode": "SAVE10",
		"email":      "buyer@example.com",
	})
	req := httptest.NewRequest(http.MethodPost, "/payment-intent", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		ClientSecret string  `json:"clientSecret"`
		OrderID      string  `json:"orderId"`
		Total        float64 `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ClientSecret == "" || out.OrderID == "" {
		t.Fatalf("incomplete response: %+v", out)
	}
	if out.Total != 90 {
		t.Errorf("expected total 90, got %v", out.Total)
	}

	if sent := svc.OutboxWorker.ProcessOnce(context.Background()); sent == 0 {
		t.Error("expected order events to be published")
	}
}

func TestNewDependencies_LiveGatewaysAreWrapped(t *testing.T) {
	cfg := validConfig()
	cfg.Files.LocalDir = t.TempDir()
	cfg.Gateway.Mode = GatewayModeLive
	cfg.Gateway.StripeSecretKey = "sk_test"
	cfg.Gateway.StripeWebhookSecret = "whsec"
	cfg.Gateway.MercadoPagoAccessToken = "TEST-token"
	cfg.Gateway.MercadoPagoWebhookSecret = "mpsec"

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	defer deps.Close()

	if _, ok := deps.Card.(*resilient.CardGateway); !ok {
		t.Errorf("expected resilient card gateway, got %T", deps.Card)
	}
	if _, ok := deps.Pix.(*resilient.PixGateway); !ok {
		t.Errorf("expected resilient pix gateway, got %T", deps.Pix)
	}
	if _, ok := deps.CardHooks.(*stripe.Client); !ok {
		t.Errorf("expected stripe client as webhook parser, got %T", deps.CardHooks)
	}
	if _, ok := deps.PixHooks.(*mercadopago.Client); !ok {
		t.Errorf("expected mercadopago client as notification verifier, got %T", deps.PixHooks)
	}
}
