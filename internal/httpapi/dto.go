package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// Денежные поля API, числа в основных единицах валюты (100.00).
// Перевод в минорные единицы выполняется здесь по общему правилу округления.

type cartItemDTO struct {
	ProductID   string `json:"productId"`
	VariationID string `json:"variationId,omitempty"`
	Quantity    int32  `json:"quantity"`
}

func toCartLines(items []cartItemDTO) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.CartLine{
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Quantity:    item.Quantity,
		})
	}
	return lines
}

type paymentIntentRequest struct {
	Items      []cartItemDTO `json:"items"`
	CouponCode string        `json:"couponCode,omitempty"`
	Email      string        `json:"email,omitempty"`
}

type paymentIntentResponse struct {
	ClientSecret    string  `json:"clientSecret"`
	OrderID         string  `json:"orderId"`
	PaymentIntentID string  `json:"paymentIntentId"`
	Total           float64 `json:"total"`
}

type pixRequest struct {
	Items       []cartItemDTO `json:"items"`
	Description string        `json:"description"`
	CouponCode  string        `json:"couponCode,omitempty"`
	Email       string        `json:"email,omitempty"`
}

type pixResponse struct {
	QRCode       string    `json:"qr_code"`
	QRCodeBase64 string    `json:"qr_code_base64"`
	PaymentID    string    `json:"payment_id"`
	OrderID      string    `json:"order_id"`
	TicketURL    string    `json:"ticket_url,omitempty"`
	Total        float64   `json:"total"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type webhookResponse struct {
	Received bool `json:"received"`
}

type paymentStatusResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	OrderID       string `json:"order_id"`
}

type cancelRequest struct {
	OrderID string `json:"orderId"`
}

type cancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type couponValidateRequest struct {
	Code      string        `json:"code"`
	CartItems []cartItemDTO `json:"cartItems"`
	CartTotal float64       `json:"cartTotal"`
}

type couponValidateResponse struct {
	Code     string  `json:"code"`
	Discount float64 `json:"discount"`
	NewTotal float64 `json:"newTotal"`
}

type downloadLinkRequest struct {
	OrderItemID string `json:"orderItemId"`
	OrderID     string `json:"orderId,omitempty"`
}

type downloadLinkResponse struct {
	DownloadURL string `json:"downloadUrl"`
	ExpiresIn   int    `json:"expiresIn"`
	FileName    string `json:"fileName,omitempty"`
}

// couponDTO: купон в админском API. Value, процент или сумма в основных единицах.
type couponDTO struct {
	ID             string     `json:"id,omitempty"`
	Code           string     `json:"code"`
	Type           string     `json:"type"`
	Value          float64    `json:"value"`
	MinSubtotal    float64    `json:"minSubtotal,omitempty"`
	MaxUses        *int       `json:"maxUses,omitempty"`
	MaxUsesPerUser int        `json:"maxUsesPerUser,omitempty"`
	Scope          string     `json:"scope,omitempty"`
	ScopeIDs       []string   `json:"scopeIds,omitempty"`
	Stackable      bool       `json:"stackable"`
	Active         bool       `json:"active"`
	StartsAt       *time.Time `json:"startsAt,omitempty"`
	EndsAt         *time.Time `json:"endsAt,omitempty"`
	UsedCount      int        `json:"usedCount"`
}

type couponPatchRequest struct {
	Active *bool `json:"active"`
}

func couponToDTO(c domain.Coupon) couponDTO {
	value, _ := c.Value.Float64()
	return couponDTO{
		ID:             c.ID,
		Code:           c.Code,
		Type:           string(c.Type),
		Value:          value,
		MinSubtotal:    domain.MinorToFloat(c.MinSubtotalMinor),
		MaxUses:        c.MaxUses,
		MaxUsesPerUser: c.MaxUsesPerUser,
		Scope:          string(c.Scope),
		ScopeIDs:       c.ScopeIDs,
		Stackable:      c.Stackable,
		Active:         c.Active,
		StartsAt:       c.StartsAt,
		EndsAt:         c.EndsAt,
		UsedCount:      c.UsedCount,
	}
}

func (d couponDTO) toDomain() domain.Coupon {
	return domain.Coupon{
		Code:             d.Code,
		Type:             domain.DiscountType(d.Type),
		Value:            decimal.NewFromFloat(d.Value).Round(2),
		MinSubtotalMinor: domain.FloatToMinor(d.MinSubtotal),
		MaxUses:          d.MaxUses,
		MaxUsesPerUser:   d.MaxUsesPerUser,
		Scope:            domain.CouponScope(d.Scope),
		ScopeIDs:         d.ScopeIDs,
		Stackable:        d.Stackable,
		Active:           d.Active,
		StartsAt:         d.StartsAt,
		EndsAt:           d.EndsAt,
	}
}
