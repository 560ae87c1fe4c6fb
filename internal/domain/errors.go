package domain

import (
	"errors"
	"fmt"
)

// Классы ошибок. Конкретные ошибки оборачивают один из классов, HTTP-слой
// сопоставляет класс со статус-кодом, а текст конкретной ошибки отдаёт клиенту.
var (
	// ErrValidation: некорректный или неполный ввод.
	ErrValidation = errors.New("validation failed")
	// ErrAuthentication: запрос без валидной сессии.
	ErrAuthentication = errors.New("authentication required")
	// ErrAuthorization: сессия есть, но доступ к ресурсу запрещён.
	ErrAuthorization = errors.New("access denied")
	// ErrNotFound: сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrExpired: окно доступа истекло.
	ErrExpired = errors.New("expired")
	// ErrIntegrity: сумма у провайдера не совпадает с суммой заказа.
	ErrIntegrity = errors.New("payment integrity violation")
	// ErrUpstream: внешний сервис недоступен или ответил ошибкой.
	ErrUpstream = errors.New("upstream service failure")
	// ErrConflict: конкурентная операция или повтор с другим телом.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited: превышен лимит запросов.
	ErrRateLimited = errors.New("rate limited")
)

type classifiedError struct {
	class error
	msg   string
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.class }

func classified(class error, msg string) error {
	return &classifiedError{class: class, msg: msg}
}

// Validationf создаёт ошибку класса ErrValidation с конкретной причиной.
func Validationf(format string, args ...any) error {
	return classified(ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf создаёт ошибку класса ErrNotFound с конкретной причиной.
func NotFoundf(format string, args ...any) error {
	return classified(ErrNotFound, fmt.Sprintf(format, args...))
}

// UpstreamError помечает ошибку внешнего сервиса классом ErrUpstream.
func UpstreamError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}

var (
	// Ошибки заказа.
	ErrCurrencyRequired     = classified(ErrValidation, "currency is required")
	ErrItemsRequired        = classified(ErrValidation, "order must contain at least one item")
	ErrItemQtyInvalid       = classified(ErrValidation, "item quantity must be greater than zero")
	ErrItemPriceInvalid     = classified(ErrValidation, "item price must be non-negative")
	ErrItemTotalMismatch    = classified(ErrValidation, "item total does not match unit price times quantity")
	ErrSubtotalMismatch     = classified(ErrValidation, "order subtotal does not match items sum")
	ErrDiscountNegative     = classified(ErrValidation, "discount must be non-negative")
	ErrTotalNegative        = classified(ErrValidation, "total must be non-negative")
	ErrTotalMismatch        = classified(ErrValidation, "total must equal subtotal minus discount")
	ErrStatusInvalid        = classified(ErrValidation, "order status is invalid")
	ErrInvalidTransition    = classified(ErrValidation, "order status transition is not allowed")
	ErrOrderAlreadyPaid     = classified(ErrValidation, "order is already paid and cannot be cancelled")
	ErrOrderIDRequired      = classified(ErrValidation, "order id is required")
	ErrOrderNotFound        = classified(ErrNotFound, "order not found")
	ErrOrderItemNotFound    = classified(ErrNotFound, "order item not found")
	ErrOrderAlreadyExists   = classified(ErrConflict, "order already exists")
	ErrOrderVersionConflict = errors.New("order version conflict")

	// Ошибки каталога.
	ErrProductNotFound   = classified(ErrNotFound, "product not found")
	ErrVariationNotFound = classified(ErrNotFound, "product variation not found")
	ErrFileNotFound      = classified(ErrNotFound, "no downloadable file for this item")

	// Ошибки купонов.
	ErrCouponCodeRequired  = classified(ErrValidation, "coupon code is required")
	ErrCouponNotFound      = classified(ErrNotFound, "coupon not found")
	ErrCouponInactive      = classified(ErrValidation, "coupon is not active")
	ErrCouponNotStarted    = classified(ErrValidation, "coupon is not valid yet")
	ErrCouponExpired       = classified(ErrValidation, "coupon has expired")
	ErrCouponUsageExceeded = classified(ErrValidation, "coupon usage limit has been reached")
	ErrCouponUserLimit     = classified(ErrValidation, "coupon has already been used the maximum number of times by this user")
	ErrCouponMinSubtotal   = classified(ErrValidation, "cart subtotal is below the coupon minimum")
	ErrCouponNotApplicable = classified(ErrValidation, "coupon does not apply to any item in the cart")
	ErrCouponInvalid       = classified(ErrValidation, "coupon definition is invalid")
	ErrCouponExists        = classified(ErrConflict, "coupon code already exists")
	ErrRedemptionExists    = classified(ErrConflict, "coupon already redeemed for this order")

	// Ошибки оплаты.
	ErrInvalidSignature      = classified(ErrValidation, "invalid webhook signature")
	ErrAmountBelowMinimum    = classified(ErrValidation, "payable amount is below the gateway minimum")
	ErrPayerEmailRequired    = classified(ErrValidation, "payer email is required")
	ErrUnsupportedProvider   = classified(ErrValidation, "unsupported payment provider")
	ErrPaymentAmountMismatch = classified(ErrIntegrity, "paid amount does not match order total")
	ErrPaymentIDRequired     = classified(ErrValidation, "payment id is required")

	// Ошибки скачивания.
	ErrUnauthenticated      = classified(ErrAuthentication, "authentication required")
	ErrDownloadForbidden    = classified(ErrAuthorization, "order does not belong to the requester")
	ErrOrderNotPaid         = classified(ErrAuthorization, "order is not paid")
	ErrDownloadExpired      = classified(ErrExpired, "download window has expired")
	ErrDownloadLimitReached = classified(ErrAuthorization, "download limit reached for this item")

	// Ошибки idempotency-ключей.
	ErrIdempotencyKeyRequired         = classified(ErrValidation, "idempotency key is required")
	ErrIdempotencyRequestHashRequired = classified(ErrValidation, "idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = classified(ErrNotFound, "idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = classified(ErrConflict, "idempotency key already exists")
	ErrIdempotencyHashMismatch        = classified(ErrConflict, "idempotency key reused with a different request")
	ErrIdempotencyInProgress          = classified(ErrConflict, "request with this idempotency key is still processing")

	// ErrTooManyRequests: лимит запросов на создание PIX.
	ErrTooManyRequests = classified(ErrRateLimited, "too many requests, try again later")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
