package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType определяет, как считается скидка купона.
type DiscountType string

const (
	// DiscountPercent: процент от подходящей суммы корзины.
	DiscountPercent DiscountType = "percent"
	// DiscountFixed: фиксированная сумма в основных единицах валюты.
	DiscountFixed DiscountType = "fixed"
)

// CouponScope ограничивает позиции корзины, к которым применяется купон.
type CouponScope string

const (
	CouponScopeAll        CouponScope = "all"
	CouponScopeProducts   CouponScope = "products"
	CouponScopeVariations CouponScope = "variations"
)

// Coupon описывает промокод.
type Coupon struct {
	ID   string
	Code string
	Type DiscountType
	// Value: процент для percent, сумма в основных единицах для fixed.
	Value            decimal.Decimal
	MinSubtotalMinor int64
	// MaxUses == nil означает отсутствие общего лимита.
	MaxUses *int
	// MaxUsesPerUser <= 0 означает отсутствие лимита на пользователя.
	MaxUsesPerUser int
	Scope          CouponScope
	ScopeIDs       []string
	Stackable      bool
	Active         bool
	StartsAt       *time.Time
	EndsAt         *time.Time
	UsedCount      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CouponRedemption фиксирует применение купона в оплаченном заказе.
type CouponRedemption struct {
	ID            string
	CouponID      string
	CouponCode    string
	UserID        string
	OrderID       string
	DiscountMinor int64
	CreatedAt     time.Time
}

// NormalizeCouponCode приводит код к каноничному виду.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate проверяет определение купона перед сохранением.
func (c *Coupon) Validate() []error {
	var errs []error

	if c.Code == "" {
		errs = append(errs, ErrCouponCodeRequired)
	}
	switch c.Type {
	case DiscountPercent:
		if !c.Value.IsPositive() || c.Value.GreaterThan(hundred) {
			errs = append(errs, Validationf("percent coupon value must be in (0, 100]"))
		}
	case DiscountFixed:
		if !c.Value.IsPositive() {
			errs = append(errs, Validationf("fixed coupon value must be positive"))
		}
	default:
		errs = append(errs, Validationf("unknown discount type %q", c.Type))
	}
	switch c.Scope {
	case CouponScopeAll:
	case CouponScopeProducts, CouponScopeVariations:
		if len(c.ScopeIDs) == 0 {
			errs = append(errs, Validationf("coupon scope %q requires at least one id", c.Scope))
		}
	default:
		errs = append(errs, Validationf("unknown coupon scope %q", c.Scope))
	}
	if c.MinSubtotalMinor < 0 {
		errs = append(errs, Validationf("minimum subtotal must be non-negative"))
	}
	if c.MaxUses != nil && *c.MaxUses < 0 {
		errs = append(errs, Validationf("max uses must be non-negative"))
	}
	if c.StartsAt != nil && c.EndsAt != nil && c.EndsAt.Before(*c.StartsAt) {
		errs = append(errs, Validationf("coupon window ends before it starts"))
	}

	return errs
}

// AppliesTo сообщает, попадает ли позиция корзины в область действия купона.
func (c *Coupon) AppliesTo(line PricedLine) bool {
	switch c.Scope {
	case CouponScopeProducts:
		return containsID(c.ScopeIDs, line.ProductID)
	case CouponScopeVariations:
		return line.VariationID != "" && containsID(c.ScopeIDs, line.VariationID)
	default:
		return true
	}
}

// DiscountFor считает скидку для подходящей суммы. Скидка не бывает
// отрицательной и не превышает eligibleMinor.
func (c *Coupon) DiscountFor(eligibleMinor int64) int64 {
	if eligibleMinor <= 0 {
		return 0
	}

	var discount int64
	switch c.Type {
	case DiscountPercent:
		discount = PercentOf(eligibleMinor, c.Value)
	case DiscountFixed:
		discount = ToMinor(c.Value)
	}

	if discount < 0 {
		return 0
	}
	if discount > eligibleMinor {
		return eligibleMinor
	}
	return discount
}

func containsID(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
