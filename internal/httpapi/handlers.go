package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/checkout"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/coupon"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/download"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/reconcile"
)

// CheckoutService создаёт заказы и платежи.
type CheckoutService interface {
	Quote(ctx context.Context, items []domain.CartLine, couponCode, userID string) (checkout.Quote, error)
	CreateCardIntent(ctx context.Context, req checkout.Request) (checkout.CardPayment, error)
	CreatePixPayment(ctx context.Context, req checkout.Request) (checkout.PixPayment, error)
}

// CouponService проверяет и администрирует купоны.
type CouponService interface {
	Evaluate(ctx context.Context, code string, lines []domain.PricedLine, subtotalMinor int64, userID string) (coupon.Evaluation, error)
	List(ctx context.Context) ([]domain.Coupon, error)
	Get(ctx context.Context, code string) (domain.Coupon, error)
	Create(ctx context.Context, c domain.Coupon) (domain.Coupon, error)
	SetActive(ctx context.Context, code string, active bool) (domain.Coupon, error)
}

// Reconciler применяет уведомления шлюзов.
type Reconciler interface {
	HandleCardWebhook(ctx context.Context, payload []byte, signatureHeader string) (reconcile.Result, error)
	HandlePixNotification(ctx context.Context, payload []byte, signatureHeader, requestID string) (reconcile.Result, error)
	CheckStatus(ctx context.Context, externalID string) (reconcile.StatusResult, error)
}

// OrderService отменяет заказы.
type OrderService interface {
	Cancel(ctx context.Context, orderID string) (domain.Order, error)
}

// LinkIssuer выдаёт ссылки на скачивание.
type LinkIssuer interface {
	IssueLink(ctx context.Context, req download.LinkRequest) (download.Link, error)
}

// FileServer раздаёт файлы по подписанным ссылкам локального хранилища.
type FileServer interface {
	ServeFile(w http.ResponseWriter, r *http.Request, key string)
}

type handlers struct {
	checkout  CheckoutService
	coupons   CouponService
	reconcile Reconciler
	orders    OrderService
	downloads LinkIssuer
	files     FileServer
}

func (h *handlers) createPaymentIntent(c echo.Context) error {
	var req paymentIntentRequest
	if err := c.Bind(&req); err != nil {
		return domain.Validationf("invalid request body")
	}

	result, err := h.checkout.CreateCardIntent(c.Request().Context(), h.checkoutRequest(c, req.Items, req.CouponCode, req.Email, ""))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paymentIntentResponse{
		ClientSecret:    result.ClientSecret,
		OrderID:         result.OrderID,
		PaymentIntentID: result.PaymentIntentID,
		Total:           domain.MinorToFloat(result.TotalMinor),
	})
}

func (h *handlers) createPix(c echo.Context) error {
	var req pixRequest
	if err := c.Bind(&req); err != nil {
		return domain.Validationf("invalid request body")
	}

	result, err := h.checkout.CreatePixPayment(c.Request().Context(), h.checkoutRequest(c, req.Items, req.CouponCode, req.Email, req.Description))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pixResponse{
		QRCode:       result.QRCode,
		QRCodeBase64: result.QRCodeBase64,
		PaymentID:    result.PaymentID,
		OrderID:      result.OrderID,
		TicketURL:    result.TicketURL,
		Total:        domain.MinorToFloat(result.TotalMinor),
		ExpiresAt:    result.ExpiresAt,
	})
}

// checkoutRequest дополняет корзину данными сессии и ключом идемпотентности клиента.
func (h *handlers) checkoutRequest(c echo.Context, items []cartItemDTO, couponCode, email, description string) checkout.Request {
	req := checkout.Request{
		Items:          toCartLines(items),
		CouponCode:     couponCode,
		Email:          strings.TrimSpace(email),
		Description:    description,
		IdempotencyKey: c.Request().Header.Get("Idempotency-Key"),
	}
	if session, ok := sessionFrom(c); ok {
		req.UserID = session.UserID
		if req.Email == "" {
			req.Email = session.Email
		}
	}
	return req
}

func (h *handlers) cardWebhook(c echo.Context) error {
	payload, err := readPayload(c)
	if err != nil {
		return err
	}
	if _, err := h.reconcile.HandleCardWebhook(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, webhookResponse{Received: true})
}

func (h *handlers) pixWebhook(c echo.Context) error {
	payload, err := readPayload(c)
	if err != nil {
		return err
	}
	header := c.Request().Header
	if _, err := h.reconcile.HandlePixNotification(c.Request().Context(), payload, header.Get("x-signature"), header.Get("x-request-id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, webhookResponse{Received: true})
}

func (h *handlers) paymentStatus(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("id"))
	if id == "" {
		return domain.ErrPaymentIDRequired
	}
	status, err := h.reconcile.CheckStatus(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paymentStatusResponse{
		Status:        string(status.Status),
		PaymentStatus: status.PaymentStatus,
		OrderID:       status.OrderID,
	})
}

func (h *handlers) cancelOrder(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return domain.Validationf("invalid request body")
	}
	order, err := h.orders.Cancel(c.Request().Context(), req.OrderID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cancelResponse{
		Success: true,
		Message: "order cancelled",
		Status:  string(order.Status),
	})
}

func (h *handlers) validateCoupon(c echo.Context) error {
	var req couponValidateRequest
	if err := c.Bind(&req); err != nil {
		return domain.Validationf("invalid request body")
	}

	ctx := c.Request().Context()
	var userID string
	if session, ok := sessionFrom(c); ok {
		userID = session.UserID
	}

	// С позициями корзина пересчитывается по каталогу, cartTotal клиента не используется.
	if len(req.CartItems) > 0 {
		if strings.TrimSpace(req.Code) == "" {
			return domain.ErrCouponCodeRequired
		}
		quote, err := h.checkout.Quote(ctx, toCartLines(req.CartItems), req.Code, userID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, couponValidateResponse{
			Code:     quote.CouponCode,
			Discount: domain.MinorToFloat(quote.DiscountMinor),
			NewTotal: domain.MinorToFloat(quote.TotalMinor),
		})
	}

	if req.CartTotal < 0 {
		return domain.Validationf("cartTotal must not be negative")
	}
	subtotal := domain.FloatToMinor(req.CartTotal)
	eval, err := h.coupons.Evaluate(ctx, req.Code, nil, subtotal, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, couponValidateResponse{
		Code:     eval.Coupon.Code,
		Discount: domain.MinorToFloat(eval.DiscountMinor),
		NewTotal: domain.MinorToFloat(subtotal - eval.DiscountMinor),
	})
}

func (h *handlers) generateDownloadLink(c echo.Context) error {
	var req downloadLinkRequest
	if err := c.Bind(&req); err != nil {
		return domain.Validationf("invalid request body")
	}
	if strings.TrimSpace(req.OrderItemID) == "" {
		return domain.Validationf("orderItemId is required")
	}

	session, _ := sessionFrom(c)
	link, err := h.downloads.IssueLink(c.Request().Context(), download.LinkRequest{
		OrderRef: strings.TrimSpace(req.OrderID),
		ItemID:   strings.TrimSpace(req.OrderItemID),
		Requester: download.Requester{
			UserID: session.UserID,
			Email:  session.Email,
		},
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, downloadLinkResponse{
		DownloadURL: link.URL,
		ExpiresIn:   int(link.ExpiresIn.Seconds()),
		FileName:    link.FileName,
	})
}

func (h *handlers) listCoupons(c echo.Context) error {
	coupons, err := h.coupons.List(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]couponDTO, 0, len(coupons))
	for _, item := range coupons {
		out = append(out, couponToDTO(item))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handlers) getCoupon(c echo.Context) error {
	item, err := h.coupons.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, couponToDTO(item))
}

func (h *handlers) createCoupon(c echo.Context) error {
	var req couponDTO
	if err := c.Bind(&req); err != nil {
		return domain.Validationf("invalid request body")
	}
	created, err := h.coupons.Create(c.Request().Context(), req.toDomain())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, couponToDTO(created))
}

func (h *handlers) patchCoupon(c echo.Context) error {
	var req couponPatchRequest
	if err := c.Bind(&req); err != nil {
		return domain.Validationf("invalid request body")
	}
	if req.Active == nil {
		return domain.Validationf("active is required")
	}
	updated, err := h.coupons.SetActive(c.Request().Context(), c.Param("code"), *req.Active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, couponToDTO(updated))
}

func (h *handlers) serveFile(c echo.Context) error {
	h.files.ServeFile(c.Response(), c.Request(), c.Param("*"))
	return nil
}

// readPayload читает сырое тело: подпись вебхука считается по байтам как есть.
func readPayload(c echo.Context) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return nil, domain.Validationf("cannot read request body")
	}
	if len(payload) == 0 {
		return nil, domain.Validationf("empty payload")
	}
	return payload, nil
}
