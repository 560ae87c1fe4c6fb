package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted: оплата подтверждена, файлы доступны для скачивания.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled: заказ отменён до оплаты.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded: деньги возвращены покупателю.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// CanTransition сообщает, разрешён ли переход from -> to.
// cancelled и refunded конечные, из completed есть только путь возврата.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderStatusPending:
		return to == OrderStatusCompleted || to == OrderStatusCancelled
	case OrderStatusCompleted:
		return to == OrderStatusRefunded
	default:
		return false
	}
}

// OrderItem: позиция заказа со снимком названия и цены на момент покупки.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	VariationID string // Пустой, если куплен продукт без вариации.
	Name        string
	// UnitPriceMinor: цена за единицу в минимальных единицах (центавос).
	UnitPriceMinor int64
	Quantity       int32
	TotalMinor     int64
	// DownloadCount: сколько ссылок на скачивание уже выдано.
	DownloadCount int32
	CreatedAt     time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID     string
	UserID string // Пустой для гостевого оформления.
	Email  string

	Currency      string
	SubtotalMinor int64
	DiscountMinor int64
	TotalMinor    int64

	Status            OrderStatus
	Provider          PaymentProvider
	ExternalPaymentID string
	// PaymentStatus хранит статус в словаре провайдера, как он пришёл.
	PaymentStatus string
	CouponCode    string

	Items     []OrderItem
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

// ValidateInvariants проверяет денежные инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.TotalMinor != int64(item.Quantity)*item.UnitPriceMinor {
			errs = append(errs, ErrItemTotalMismatch)
		}
		calc += item.TotalMinor
	}
	if calc != o.SubtotalMinor {
		errs = append(errs, ErrSubtotalMismatch)
	}
	if o.DiscountMinor < 0 {
		errs = append(errs, ErrDiscountNegative)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrTotalNegative)
	}
	if o.TotalMinor != o.SubtotalMinor-o.DiscountMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// TransitionTo переводит заказ в статус to.
// Возвращает false без ошибки, если заказ уже в этом статусе.
// PaidAt выставляется только при первом входе в completed.
func (o *Order) TransitionTo(to OrderStatus, at time.Time) (bool, error) {
	if o.Status == to {
		return false, nil
	}
	if !CanTransition(o.Status, to) {
		return false, ErrInvalidTransition
	}

	o.Status = to
	o.UpdatedAt = at
	if to == OrderStatusCompleted && o.PaidAt == nil {
		paidAt := at
		o.PaidAt = &paidAt
	}
	return true, nil
}

// Item ищет позицию заказа по идентификатору.
func (o *Order) Item(id string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return OrderItem{}, false
}

// Clone возвращает копию заказа без общих срезов и указателей.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		dst.PaidAt = &paidAt
	}
	return dst
}
