package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/sandbox"
	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/stripe"
	"github.com/vladislavdragonenkov/pdfstore/internal/httpapi"
	"github.com/vladislavdragonenkov/pdfstore/internal/ratelimit"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/checkout"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/coupon"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/download"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/orders"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/reconcile"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/memory"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/objectstore"
)

const webhookSecret = "whsec_test"

type APISuite struct {
	suite.Suite

	ctx     context.Context
	orders  domain.OrderRepository
	coupons domain.CouponRepository
	card    *sandbox.Gateway
	pix     *sandbox.Gateway
	auth    *httpapi.Authenticator
	handler http.Handler
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	s.ctx = context.Background()
	catalog := memory.NewCatalogRepository()
	s.orders = memory.NewOrderRepository()
	s.coupons = memory.NewCouponRepository()
	timeline := memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()
	s.card = sandbox.New(domain.ProviderStripe)
	s.pix = sandbox.New(domain.ProviderMercadoPago)

	s.Require().NoError(catalog.UpsertProduct(s.ctx, domain.Product{ID: "prod-1", Name: "Go Patterns", PriceMinor: 10000, Active: true}))
	s.Require().NoError(catalog.UpsertFile(s.ctx, domain.File{ID: "file-1", ProductID: "prod-1", StorageKey: "books/go-patterns.pdf", FileName: "go-patterns.pdf"}))
	s.Require().NoError(s.coupons.Create(s.ctx, domain.Coupon{Code: "SAVE10", Type: domain.DiscountPercent, Value: decimal.NewFromInt(10), Scope: domain.CouponScopeAll, Active: true}))

	dir := s.T().TempDir()
	s.Require().NoError(os.MkdirAll(filepath.Join(dir, "books"), 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "books", "go-patterns.pdf"), []byte("%PDF-1.4 test"), 0o600))
	files, err := objectstore.NewLocalStore(dir, "http://store.test/files", "file-secret")
	s.Require().NoError(err)

	recorder := lifecycle.NewRecorder(s.orders, timeline, outbox, nil, nil)
	coupons := coupon.NewService(s.coupons)
	checkoutSvc := checkout.NewService(checkout.DefaultConfig(), checkout.NewPricer(catalog), coupons, s.orders, s.card, s.pix, recorder, nil, nil)
	reconciler := reconcile.NewService(s.orders, s.coupons, checkoutSvc, recorder,
		reconcile.WithCardWebhooks(stripe.NewWebhookVerifier(webhookSecret, 0)),
		reconcile.WithLookup(domain.ProviderStripe, s.card),
		reconcile.WithLookup(domain.ProviderMercadoPago, s.pix),
	)
	lookups := map[domain.PaymentProvider]domain.PaymentLookup{
		domain.ProviderStripe:      s.card,
		domain.ProviderMercadoPago: s.pix,
	}

	s.auth = httpapi.NewAuthenticator("jwt-secret", "pdfstore")
	server := httpapi.NewServer(httpapi.Dependencies{
		Checkout:   checkoutSvc,
		Coupons:    coupons,
		Reconciler: reconciler,
		Orders:     orders.NewService(s.orders, recorder, lookups, nil, nil),
		Downloads:  download.NewIssuer(download.DefaultConfig(), s.orders, catalog, files, nil, nil),
		Files:      files,
		Auth:       s.auth,
		Limiter:    ratelimit.NewLocalLimiter(2, time.Minute),
		Guard:      idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil),
	}, httpapi.Config{}, nil)
	s.handler = server.Handler()
}

func (s *APISuite) do(method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var raw []byte
	switch v := body.(type) {
	case nil:
	case []byte:
		raw = v
	default:
		var err error
		raw, err = json.Marshal(v)
		s.Require().NoError(err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:5000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *APISuite) decode(rec *httptest.ResponseRecorder, out any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func (s *APISuite) token(userID, email, role string) map[string]string {
	raw, err := s.auth.Issue(userID, email, role, time.Hour)
	s.Require().NoError(err)
	return map[string]string{"Authorization": "Bearer " + raw}
}

func (s *APISuite) createIntent(headers map[string]string) map[string]any {
	rec := s.do(http.MethodPost, "/payment-intent", map[string]any{
		"items":      []map[string]any{{"productId": "prod-1", "quantity": 1, "price": 0.01}},
		"couponCode": "save10",
		"email":      "buyer@example.com",
	}, headers)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]any
	s.decode(rec, &out)
	return out
}

func (s *APISuite) TestPaymentIntent_RepricesCart() {
	out := s.createIntent(nil)

	s.NotEmpty(out["clientSecret"])
	s.NotEmpty(out["orderId"])
	s.InDelta(90.0, out["total"], 0.001)

	order, err := s.orders.Get(s.ctx, out["orderId"].(string))
	s.Require().NoError(err)
	s.EqualValues(9000, order.TotalMinor)
	s.Equal(domain.OrderStatusPending, order.Status)
}

func (s *APISuite) TestPaymentIntent_ValidationError() {
	rec := s.do(http.MethodPost, "/payment-intent", map[string]any{"items": []any{}}, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	var out map[string]string
	s.decode(rec, &out)
	s.NotEmpty(out["error"])

	rec = s.do(http.MethodPost, "/payment-intent", map[string]any{
		"items":      []map[string]any{{"productId": "prod-1", "quantity": 1}},
		"couponCode": "NOPE",
	}, nil)
	s.Equal(http.StatusBadRequest, rec.Code, rec.Body.String())
}

func (s *APISuite) TestPaymentIntent_IdempotencyKeyReplays() {
	headers := map[string]string{"Idempotency-Key": "key-1"}
	first := s.createIntent(headers)

	rec := s.do(http.MethodPost, "/payment-intent", map[string]any{
		"items":      []map[string]any{{"productId": "prod-1", "quantity": 1, "price": 0.01}},
		"couponCode": "save10",
		"email":      "buyer@example.com",
	}, headers)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("true", rec.Header().Get("Idempotent-Replayed"))

	var second map[string]any
	s.decode(rec, &second)
	s.Equal(first["orderId"], second["orderId"])
	s.Equal(1, s.card.CreateCalls)

	rec = s.do(http.MethodPost, "/payment-intent", map[string]any{
		"items": []map[string]any{{"productId": "prod-1", "quantity": 2}},
	}, headers)
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *APISuite) TestPaymentIntent_IdempotencyKeyIsScopedToCaller() {
	alice := s.token("alice", "alice@example.com", "")
	alice["Idempotency-Key"] = "shared-key"
	bob := s.token("bob", "bob@example.com", "")
	bob["Idempotency-Key"] = "shared-key"

	first := s.createIntent(alice)

	rec := s.do(http.MethodPost, "/payment-intent", map[string]any{
		"items":      []map[string]any{{"productId": "prod-1", "quantity": 1, "price": 0.01}},
		"couponCode": "save10",
		"email":      "buyer@example.com",
	}, bob)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Empty(rec.Header().Get("Idempotent-Replayed"))

	var second map[string]any
	s.decode(rec, &second)
	s.NotEqual(first["orderId"], second["orderId"])
	s.NotEqual(first["clientSecret"], second["clientSecret"])
	s.Equal(2, s.card.CreateCalls)
}

func (s *APISuite) TestPix_RateLimited() {
	body := map[string]any{
		"items":       []map[string]any{{"productId": "prod-1", "quantity": 1}},
		"description": "Livro",
		"email":       "pix@example.com",
	}
	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/pix", body, nil)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var out map[string]any
		s.decode(rec, &out)
		s.NotEmpty(out["qr_code"])
		s.NotEmpty(out["qr_code_base64"])
		s.NotEmpty(out["payment_id"])
		s.NotEmpty(out["order_id"])
	}

	rec := s.do(http.MethodPost, "/pix", body, nil)
	s.Equal(http.StatusTooManyRequests, rec.Code)
}

func (s *APISuite) TestWebhook_CompletesOrderAndUnlocksDownload() {
	intent := s.createIntent(nil)
	orderID := intent["orderId"].(string)
	order, err := s.orders.Get(s.ctx, orderID)
	s.Require().NoError(err)

	payload := s.succeededEvent(order)
	headers := map[string]string{"Stripe-Signature": stripe.SignatureHeader(webhookSecret, time.Now().Unix(), payload)}

	for i := 0; i < 3; i++ {
		rec := s.do(http.MethodPost, "/payment-webhook", payload, headers)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		s.JSONEq(`{"received":true}`, rec.Body.String())
	}

	order, err = s.orders.Get(s.ctx, orderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCompleted, order.Status)

	saved, err := s.coupons.GetByCode(s.ctx, "SAVE10")
	s.Require().NoError(err)
	s.Equal(1, saved.UsedCount)

	rec := s.do(http.MethodGet, "/payment-status?id="+order.ExternalPaymentID, nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var status map[string]string
	s.decode(rec, &status)
	s.Equal("completed", status["status"])
	s.Equal(orderID, status["order_id"])

	rec = s.do(http.MethodPost, "/download/generate-link", map[string]string{"orderItemId": order.Items[0].ID}, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/download/generate-link", map[string]string{"orderItemId": order.Items[0].ID},
		s.token("someone-else", "other@example.com", ""))
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/download/generate-link", map[string]string{"orderItemId": order.Items[0].ID, "orderId": orderID},
		s.token("", "Buyer@Example.com", ""))
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var link map[string]any
	s.decode(rec, &link)
	s.EqualValues(300, link["expiresIn"])

	parsed, err := url.Parse(link["downloadUrl"].(string))
	s.Require().NoError(err)
	rec = s.do(http.MethodGet, parsed.RequestURI(), nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("%PDF-1.4 test", rec.Body.String())

	rec = s.do(http.MethodGet, parsed.Path+"?expires=1&signature=bad", nil, nil)
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *APISuite) TestWebhook_BadSignature() {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`)
	rec := s.do(http.MethodPost, "/payment-webhook", payload, map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *APISuite) TestCancelOrder() {
	intent := s.createIntent(nil)
	orderID := intent["orderId"].(string)

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/order/cancel", map[string]string{"orderId": orderID}, nil)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var out map[string]any
		s.decode(rec, &out)
		s.Equal(true, out["success"])
		s.NotEmpty(out["message"])
	}

	rec := s.do(http.MethodPost, "/order/cancel", map[string]string{"orderId": "missing"}, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/order/cancel", map[string]string{}, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *APISuite) TestValidateCoupon() {
	rec := s.do(http.MethodPost, "/coupon/validate", map[string]any{"code": "save10", "cartTotal": 200.00}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]any
	s.decode(rec, &out)
	s.InDelta(20.0, out["discount"], 0.001)
	s.InDelta(180.0, out["newTotal"], 0.001)

	rec = s.do(http.MethodPost, "/coupon/validate", map[string]any{
		"code":      "SAVE10",
		"cartTotal": 1.00,
		"cartItems": []map[string]any{{"productId": "prod-1", "quantity": 2}},
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.decode(rec, &out)
	s.InDelta(20.0, out["discount"], 0.001)
	s.InDelta(180.0, out["newTotal"], 0.001)

	rec = s.do(http.MethodPost, "/coupon/validate", map[string]any{"code": "NOPE", "cartTotal": 10}, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *APISuite) TestAdminCoupons() {
	body := map[string]any{"code": "flat5", "type": "fixed", "value": 5, "active": true}

	rec := s.do(http.MethodPost, "/admin/coupons", body, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/admin/coupons", body, s.token("u1", "u1@example.com", ""))
	s.Equal(http.StatusForbidden, rec.Code)

	admin := s.token("root", "admin@example.com", httpapi.RoleAdmin)
	rec = s.do(http.MethodPost, "/admin/coupons", body, admin)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/admin/coupons", body, admin)
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPatch, "/admin/coupons/FLAT5", map[string]any{"active": false}, admin)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var updated map[string]any
	s.decode(rec, &updated)
	s.Equal(false, updated["active"])

	rec = s.do(http.MethodGet, "/admin/coupons", nil, admin)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list []map[string]any
	s.decode(rec, &list)
	s.Len(list, 2)
}

func (s *APISuite) TestInvalidTokenRejected() {
	rec := s.do(http.MethodPost, "/coupon/validate", map[string]any{"code": "SAVE10", "cartTotal": 10},
		map[string]string{"Authorization": "Bearer not-a-jwt"})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *APISuite) succeededEvent(order domain.Order) []byte {
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_" + order.ID,
		"type": stripe.EventPaymentSucceeded,
		"data": map[string]any{"object": map[string]any{
			"id":              order.ExternalPaymentID,
			"object":          "payment_intent",
			"status":          "succeeded",
			"amount":          order.TotalMinor,
			"amount_received": order.TotalMinor,
			"currency":        "brl",
			"metadata":        domain.CheckoutMetadata{OrderID: order.ID, Email: order.Email}.Encode(),
		}},
	})
	s.Require().NoError(err)
	return payload
}
