package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	// ErrOrderAlreadyExists, если занят ID или внешний идентификатор платежа.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByExternalID ищет заказ по идентификатору платежа у провайдера.
	GetByExternalID(ctx context.Context, externalID string) (Order, error)
	// GetByItemID возвращает заказ, которому принадлежит позиция.
	GetByItemID(ctx context.Context, itemID string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// Save применяет изменения заказа с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	// IncrementDownloadCount атомарно увеличивает счётчик скачиваний позиции,
	// если он меньше limit. ErrDownloadLimitReached, если лимит исчерпан.
	IncrementDownloadCount(ctx context.Context, itemID string, limit int) error
}

// CatalogRepository: чтение каталога.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	GetVariation(ctx context.Context, id string) (ProductVariation, error)
	// FileForVariation возвращает файл, привязанный к вариации, или ErrFileNotFound.
	FileForVariation(ctx context.Context, variationID string) (File, error)
	// FileForProduct возвращает файл, привязанный к продукту, или ErrFileNotFound.
	FileForProduct(ctx context.Context, productID string) (File, error)
}

// CatalogWriter наполняет каталог (загрузка seed-файла).
type CatalogWriter interface {
	UpsertProduct(ctx context.Context, product Product) error
	UpsertVariation(ctx context.Context, variation ProductVariation) error
	UpsertFile(ctx context.Context, file File) error
}

// CouponRepository хранит купоны и их погашения.
type CouponRepository interface {
	// GetByCode ищет купон по нормализованному коду.
	GetByCode(ctx context.Context, code string) (Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	// Create сохраняет новый купон или возвращает ErrCouponExists.
	Create(ctx context.Context, coupon Coupon) error
	SetActive(ctx context.Context, code string, active bool) error
	// CountRedemptions считает погашения купона пользователем.
	CountRedemptions(ctx context.Context, couponID, userID string) (int, error)
	// Redeem записывает погашение и атомарно увеличивает used_count на 1.
	// Для одного заказа погашение возможно один раз, повтор даёт ErrRedemptionExists.
	Redeem(ctx context.Context, redemption CouponRedemption) error
}
