package domain

import (
	"strconv"
	"strings"
	"time"
)

// PaymentProvider: идентификатор платёжного шлюза.
type PaymentProvider string

const (
	// ProviderStripe: карточный шлюз с payment intents.
	ProviderStripe PaymentProvider = "stripe"
	// ProviderMercadoPago: шлюз PIX.
	ProviderMercadoPago PaymentProvider = "mercadopago"
)

// Valid проверяет, что провайдер поддерживается.
func (p PaymentProvider) Valid() bool {
	return p == ProviderStripe || p == ProviderMercadoPago
}

// Таблица соответствия статусов провайдеров внутренним статусам заказа.
// Это единственное место, где словарь провайдеров переводится во внутренний.
var providerStatusTable = map[PaymentProvider]map[string]OrderStatus{
	ProviderStripe: {
		"succeeded":               OrderStatusCompleted,
		"processing":              OrderStatusPending,
		"requires_payment_method": OrderStatusPending,
		"requires_confirmation":   OrderStatusPending,
		"requires_action":         OrderStatusPending,
		"requires_capture":        OrderStatusPending,
		"canceled":                OrderStatusCancelled,
		"refunded":                OrderStatusRefunded,
	},
	ProviderMercadoPago: {
		"approved":     OrderStatusCompleted,
		"authorized":   OrderStatusCompleted,
		"pending":      OrderStatusPending,
		"in_process":   OrderStatusPending,
		"in_mediation": OrderStatusPending,
		"rejected":     OrderStatusCancelled,
		"cancelled":    OrderStatusCancelled,
		"expired":      OrderStatusCancelled,
		"refunded":     OrderStatusRefunded,
		"charged_back": OrderStatusRefunded,
	},
}

// Общий словарь, если провайдер не указан или статус ему не известен.
var genericStatusTable = map[string]OrderStatus{
	"paid":       OrderStatusCompleted,
	"approved":   OrderStatusCompleted,
	"authorized": OrderStatusCompleted,
	"succeeded":  OrderStatusCompleted,
	"completed":  OrderStatusCompleted,
	"pending":    OrderStatusPending,
	"in_process": OrderStatusPending,
	"processing": OrderStatusPending,
	"cancelled":  OrderStatusCancelled,
	"canceled":   OrderStatusCancelled,
	"rejected":   OrderStatusCancelled,
	"expired":    OrderStatusCancelled,
	"failed":     OrderStatusCancelled,
	"refunded":   OrderStatusRefunded,
}

// MapPaymentStatus переводит статус провайдера во внутренний статус заказа.
// Функция тотальная: неизвестный статус считается pending и не вызывает переходов.
func MapPaymentStatus(provider PaymentProvider, raw string) OrderStatus {
	status := strings.ToLower(strings.TrimSpace(raw))
	if table, ok := providerStatusTable[provider]; ok {
		if mapped, ok := table[status]; ok {
			return mapped
		}
	}
	if mapped, ok := genericStatusTable[status]; ok {
		return mapped
	}
	return OrderStatusPending
}

// CheckoutMetadata передаётся шлюзу при создании платежа и возвращается в уведомлениях.
// Позволяет восстановить заказ, если уведомление пришло раньше, чем он был сохранён.
type CheckoutMetadata struct {
	OrderID    string
	UserID     string
	Email      string
	CouponCode string
	Items      []CartLine
}

const (
	metaOrderID     = "order_id"
	metaUserID      = "user_id"
	metaEmail       = "email"
	metaCoupon      = "coupon_code"
	metaItemsPrefix = "items_"
)

const (
	// MetadataValueMaxLen: предел длины одного значения metadata у Stripe.
	MetadataValueMaxLen = 500
	// MetadataMaxKeys: предел числа ключей metadata у Stripe.
	MetadataMaxKeys = 50

	lineSep  = ";"
	fieldSep = ":"
)

// Encode сериализует метаданные в плоскую map для API шлюзов.
// Позиции пишутся компактно ("product:variation:qty" через ";") и режутся на
// ключи items_0..items_N так, чтобы ни одно значение не превышало
// MetadataValueMaxLen. Если корзина не помещается в MetadataMaxKeys ключей,
// позиции не передаются: восстановить такой заказ из уведомления нельзя.
func (m CheckoutMetadata) Encode() map[string]string {
	out := make(map[string]string, 5)
	if m.OrderID != "" {
		out[metaOrderID] = m.OrderID
	}
	if m.UserID != "" {
		out[metaUserID] = m.UserID
	}
	if m.Email != "" {
		out[metaEmail] = m.Email
	}
	if m.CouponCode != "" {
		out[metaCoupon] = m.CouponCode
	}
	if chunks, ok := encodeItems(m.Items); ok && len(out)+len(chunks) <= MetadataMaxKeys {
		for i, chunk := range chunks {
			out[metaItemsPrefix+strconv.Itoa(i)] = chunk
		}
	}
	return out
}

func encodeItems(items []CartLine) ([]string, bool) {
	var (
		chunks  []string
		current strings.Builder
	)
	for _, item := range items {
		if strings.ContainsAny(item.ProductID+item.VariationID, lineSep+fieldSep) {
			return nil, false
		}
		line := item.ProductID + fieldSep + item.VariationID + fieldSep + strconv.FormatInt(int64(item.Quantity), 10)
		if len(line) > MetadataValueMaxLen {
			return nil, false
		}
		if current.Len() > 0 && current.Len()+len(lineSep)+len(line) > MetadataValueMaxLen {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(lineSep)
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks, true
}

// DecodeCheckoutMetadata восстанавливает метаданные. Повреждённый список позиций игнорируется.
func DecodeCheckoutMetadata(values map[string]string) CheckoutMetadata {
	meta := CheckoutMetadata{
		OrderID:    values[metaOrderID],
		UserID:     values[metaUserID],
		Email:      values[metaEmail],
		CouponCode: values[metaCoupon],
	}
	meta.Items = decodeItems(values)
	return meta
}

func decodeItems(values map[string]string) []CartLine {
	var items []CartLine
	for i := 0; ; i++ {
		chunk, ok := values[metaItemsPrefix+strconv.Itoa(i)]
		if !ok {
			break
		}
		for _, line := range strings.Split(chunk, lineSep) {
			fields := strings.Split(line, fieldSep)
			if len(fields) != 3 || fields[0] == "" {
				return nil
			}
			qty, err := strconv.ParseInt(fields[2], 10, 32)
			if err != nil || qty <= 0 {
				return nil
			}
			items = append(items, CartLine{ProductID: fields[0], VariationID: fields[1], Quantity: int32(qty)})
		}
	}
	return items
}

// PaymentUpdate: нормализованное сообщение о состоянии платежа,
// одинаковое для webhook и синхронного опроса.
type PaymentUpdate struct {
	Provider       PaymentProvider
	ExternalID     string
	ProviderStatus string
	// AmountMinor учитывается только при AmountReported.
	AmountMinor    int64
	AmountReported bool
	Currency       string
	EventID        string
	Metadata       CheckoutMetadata
	ReceivedAt     time.Time
}

// CardIntentParams: параметры создания payment intent.
type CardIntentParams struct {
	AmountMinor    int64
	Currency       string
	ReceiptEmail   string
	Metadata       CheckoutMetadata
	IdempotencyKey string
}

// CardIntent: созданный payment intent.
type CardIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

// PixPaymentParams: параметры создания PIX-платежа.
type PixPaymentParams struct {
	AmountMinor       int64
	Description       string
	PayerEmail        string
	ExternalReference string
	Metadata          CheckoutMetadata
	IdempotencyKey    string
	ExpiresAt         time.Time
}

// PixCharge: созданный PIX-платёж с QR-кодом.
type PixCharge struct {
	ID           string
	Status       string
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
}

// GatewayPayment: состояние платежа, как его видит шлюз.
type GatewayPayment struct {
	ID             string
	Status         string
	AmountMinor    int64
	AmountReported bool
	Currency       string
	Metadata       CheckoutMetadata
}
