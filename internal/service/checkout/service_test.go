package checkout_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/sandbox"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/checkout"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/coupon"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/memory"
)

type CheckoutSuite struct {
	suite.Suite

	ctx      context.Context
	catalog  *memory.CatalogRepository
	coupons  domain.CouponRepository
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
	card     *sandbox.Gateway
	pix      *sandbox.Gateway
	svc      *checkout.Service
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutSuite))
}

func (s *CheckoutSuite) SetupTest() {
	s.ctx = context.Background()
	s.catalog = memory.NewCatalogRepository()
	s.coupons = memory.NewCouponRepository()
	s.orders = memory.NewOrderRepository()
	s.timeline = memory.NewTimelineRepository()
	s.outbox = memory.NewOutboxRepository()
	s.card = sandbox.New(domain.ProviderStripe)
	s.pix = sandbox.New(domain.ProviderMercadoPago)

	s.Require().NoError(s.catalog.UpsertProduct(s.ctx, domain.Product{ID: "prod-1", Name: "Go Patterns", PriceMinor: 10000, Active: true}))
	s.Require().NoError(s.catalog.UpsertProduct(s.ctx, domain.Product{ID: "prod-2", Name: "Old Guide", PriceMinor: 2000, Active: false}))
	s.Require().NoError(s.catalog.UpsertProduct(s.ctx, domain.Product{ID: "prod-3", Name: "Sticker", PriceMinor: 30, Active: true}))
	s.Require().NoError(s.catalog.UpsertVariation(s.ctx, domain.ProductVariation{ID: "var-1", ProductID: "prod-1", Name: "EPUB", PriceMinor: 12000, Active: true}))
	s.Require().NoError(s.coupons.Create(s.ctx, domain.Coupon{Code: "SAVE10", Type: domain.DiscountPercent, Value: decimal.NewFromInt(10), Scope: domain.CouponScopeAll, Active: true}))

	recorder := lifecycle.NewRecorder(s.orders, s.timeline, s.outbox, nil, nil)
	s.svc = checkout.NewService(
		checkout.DefaultConfig(),
		checkout.NewPricer(s.catalog),
		coupon.NewService(s.coupons),
		s.orders,
		s.card,
		s.pix,
		recorder,
		nil,
		nil,
	)
}

func (s *CheckoutSuite) TestCardIntent_Save10Scenario() {
	result, err := s.svc.CreateCardIntent(s.ctx, checkout.Request{
		Items:      []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
		CouponCode: "save10",
		Email:      "buyer@example.com",
	})
	s.Require().NoError(err)
	s.EqualValues(9000, result.TotalMinor)
	s.NotEmpty(result.ClientSecret)

	order, err := s.orders.Get(s.ctx, result.OrderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPending, order.Status)
	s.EqualValues(10000, order.SubtotalMinor)
	s.EqualValues(1000, order.DiscountMinor)
	s.EqualValues(9000, order.TotalMinor)
	s.Equal("SAVE10", order.CouponCode)
	s.Equal(result.PaymentIntentID, order.ExternalPaymentID)

	payment, err := s.card.GetPayment(s.ctx, result.PaymentIntentID)
	s.Require().NoError(err)
	s.EqualValues(9000, payment.AmountMinor)
	s.Equal(order.ID, payment.Metadata.OrderID)
	s.Equal("SAVE10", payment.Metadata.CouponCode)

	coupon, err := s.coupons.GetByCode(s.ctx, "SAVE10")
	s.Require().NoError(err)
	s.Zero(coupon.UsedCount, "usage is only consumed on payment confirmation")
}

func (s *CheckoutSuite) TestCardIntent_ClientPricesAreIgnored() {
	result, err := s.svc.CreateCardIntent(s.ctx, checkout.Request{
		Items: []domain.CartLine{{ProductID: "prod-1", VariationID: "var-1", Quantity: 2}},
	})
	s.Require().NoError(err)

	order, err := s.orders.Get(s.ctx, result.OrderID)
	s.Require().NoError(err)
	s.Require().Len(order.Items, 1)
	s.EqualValues(12000, order.Items[0].UnitPriceMinor)
	s.EqualValues(24000, order.Items[0].TotalMinor)
	s.Equal("Go Patterns - EPUB", order.Items[0].Name)
	s.Empty(order.ValidateInvariants())
}

func (s *CheckoutSuite) TestCardIntent_ValidationFailures() {
	cases := []struct {
		name  string
		items []domain.CartLine
		code  string
	}{
		{name: "empty cart"},
		{name: "unknown product", items: []domain.CartLine{{ProductID: "nope", Quantity: 1}}},
		{name: "inactive product", items: []domain.CartLine{{ProductID: "prod-2", Quantity: 1}}},
		{name: "foreign variation", items: []domain.CartLine{{ProductID: "prod-3", VariationID: "var-1", Quantity: 1}}},
		{name: "zero quantity", items: []domain.CartLine{{ProductID: "prod-1", Quantity: 0}}},
		{name: "below gateway minimum", items: []domain.CartLine{{ProductID: "prod-3", Quantity: 1}}},
		{name: "unknown coupon", items: []domain.CartLine{{ProductID: "prod-1", Quantity: 1}}, code: "NOPE"},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.svc.CreateCardIntent(s.ctx, checkout.Request{Items: tc.items, CouponCode: tc.code})
			s.Require().Error(err)
			s.ErrorIs(err, domain.ErrValidation)
			s.False(errors.Is(err, domain.ErrNotFound), "checkout reports bad input as validation: %v", err)
		})
	}
	s.Zero(s.card.CreateCalls, "gateway must not be called for invalid carts")
}

func (s *CheckoutSuite) TestCardIntent_GatewayFailureCancelsOrder() {
	s.card.CreateErr = errors.New("connection reset")

	_, err := s.svc.CreateCardIntent(s.ctx, checkout.Request{
		Items: []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
	})
	s.Require().ErrorIs(err, domain.ErrUpstream)

	created := s.outbox.AllPending()
	s.Require().NotEmpty(created)
	order, err := s.orders.Get(s.ctx, created[0].AggregateID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, order.Status)

	events, err := s.timeline.List(s.ctx, order.ID)
	s.Require().NoError(err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	s.Contains(types, domain.TimelinePaymentRequestFailed)
}

func (s *CheckoutSuite) TestCardIntent_RepeatedIdempotencyKeyReturnsExistingOrder() {
	req := checkout.Request{
		Items:          []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
		IdempotencyKey: "client-key-1",
	}

	first, err := s.svc.CreateCardIntent(s.ctx, req)
	s.Require().NoError(err)
	second, err := s.svc.CreateCardIntent(s.ctx, req)
	s.Require().NoError(err)

	s.Equal(first.PaymentIntentID, second.PaymentIntentID)
	s.Equal(first.OrderID, second.OrderID)
}

func (s *CheckoutSuite) TestPix_RequiresEmailAndCreatesCharge() {
	_, err := s.svc.CreatePixPayment(s.ctx, checkout.Request{
		Items: []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
	})
	s.Require().ErrorIs(err, domain.ErrPayerEmailRequired)

	result, err := s.svc.CreatePixPayment(s.ctx, checkout.Request{
		Items:       []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
		Email:       "pix@example.com",
		Description: "Livro",
	})
	s.Require().NoError(err)
	s.NotEmpty(result.QRCode)
	s.NotEmpty(result.QRCodeBase64)

	order, err := s.orders.GetByExternalID(s.ctx, result.PaymentID)
	s.Require().NoError(err)
	s.Equal(result.OrderID, order.ID)
	s.Equal(domain.ProviderMercadoPago, order.Provider)
	s.Equal("pending", order.PaymentStatus)
}

func (s *CheckoutSuite) TestPix_UnknownCouponIsValidationError() {
	_, err := s.svc.CreatePixPayment(s.ctx, checkout.Request{
		Items:      []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
		Email:      "pix@example.com",
		CouponCode: "nope",
	})
	s.Require().ErrorIs(err, domain.ErrValidation)
	s.Contains(err.Error(), "NOPE")
	s.Zero(s.pix.CreateCalls)

	_, err = s.svc.Quote(s.ctx, []domain.CartLine{{ProductID: "prod-1", Quantity: 1}}, "nope", "")
	s.Require().ErrorIs(err, domain.ErrNotFound, "coupon validation keeps reporting a missing coupon")
}

func (s *CheckoutSuite) TestBuildOrder_FromMetadata() {
	order, err := s.svc.BuildOrder(s.ctx, domain.CheckoutMetadata{
		OrderID:    "ord-from-meta",
		Email:      "late@example.com",
		CouponCode: "SAVE10",
		Items:      []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
	}, domain.ProviderStripe)
	s.Require().NoError(err)

	s.Equal("ord-from-meta", order.ID)
	s.EqualValues(9000, order.TotalMinor)
	s.Empty(order.ValidateInvariants())
}

func (s *CheckoutSuite) TestBuildOrder_DropsRejectedCoupon() {
	s.Require().NoError(s.coupons.SetActive(s.ctx, "SAVE10", false))

	order, err := s.svc.BuildOrder(s.ctx, domain.CheckoutMetadata{
		OrderID:    "ord-2",
		CouponCode: "SAVE10",
		Items:      []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
	}, domain.ProviderStripe)
	s.Require().NoError(err)
	s.EqualValues(10000, order.TotalMinor)
	s.Empty(order.CouponCode)
}

func TestPricer_UnknownVariation(t *testing.T) {
	catalog := memory.NewCatalogRepository()
	require.NoError(t, catalog.UpsertProduct(context.Background(), domain.Product{ID: "p", Name: "P", PriceMinor: 100, Active: true}))

	_, err := checkout.NewPricer(catalog).Price(context.Background(), []domain.CartLine{{ProductID: "p", VariationID: "missing", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "missing")
}
