package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// orderRepositoryInMemory: in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu         sync.RWMutex
	items      map[string]domain.Order
	byExternal map[string]string
	byItem     map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:      make(map[string]domain.Order),
		byExternal: make(map[string]string),
		byItem:     make(map[string]string),
	}
}

// Create сохраняет новый заказ, если не заняты ID и внешний идентификатор платежа.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if order.ExternalPaymentID != "" {
		if _, exists := r.byExternal[order.ExternalPaymentID]; exists {
			return domain.ErrOrderAlreadyExists
		}
		r.byExternal[order.ExternalPaymentID] = order.ID
	}
	for _, item := range order.Items {
		r.byItem[item.ID] = order.ID
	}
	// Храним копию, чтобы вызывающий код не мог мутировать состояние репозитория.
	r.items[order.ID] = order.Clone()
	return nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *orderRepositoryInMemory) GetByExternalID(_ context.Context, externalID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExternal[externalID]
	if !ok || externalID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.items[id].Clone(), nil
}

func (r *orderRepositoryInMemory) GetByItemID(_ context.Context, itemID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byItem[itemID]
	if !ok {
		return domain.Order{}, domain.ErrOrderItemNotFound
	}
	return r.items[id].Clone(), nil
}

// ListByUser возвращает заказы пользователя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.UserID != userID {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает изменяемые поля заказа, проверяя версию (optimistic locking).
// Позиции неизменяемы, их счётчики скачиваний остаются прежними.
func (r *orderRepositoryInMemory) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	if order.ExternalPaymentID != current.ExternalPaymentID && order.ExternalPaymentID != "" {
		if ownerID, taken := r.byExternal[order.ExternalPaymentID]; taken && ownerID != order.ID {
			return domain.ErrOrderAlreadyExists
		}
		delete(r.byExternal, current.ExternalPaymentID)
		r.byExternal[order.ExternalPaymentID] = order.ID
	}

	updated := order.Clone()
	updated.Items = current.Items
	updated.Version = current.Version + 1
	r.items[order.ID] = updated
	return nil
}

func (r *orderRepositoryInMemory) IncrementDownloadCount(_ context.Context, itemID string, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderID, ok := r.byItem[itemID]
	if !ok {
		return domain.ErrOrderItemNotFound
	}
	order := r.items[orderID]
	items := append([]domain.OrderItem(nil), order.Items...)
	for i := range items {
		if items[i].ID != itemID {
			continue
		}
		if limit > 0 && int(items[i].DownloadCount) >= limit {
			return domain.ErrDownloadLimitReached
		}
		items[i].DownloadCount++
	}
	order.Items = items
	r.items[orderID] = order
	return nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
