package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// CatalogRepository: in-memory каталог продуктов, вариаций и файлов.
type CatalogRepository struct {
	mu          sync.RWMutex
	products    map[string]domain.Product
	variations  map[string]domain.ProductVariation
	byVariation map[string]domain.File
	byProduct   map[string]domain.File
}

// NewCatalogRepository создаёт пустой каталог.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{
		products:    make(map[string]domain.Product),
		variations:  make(map[string]domain.ProductVariation),
		byVariation: make(map[string]domain.File),
		byProduct:   make(map[string]domain.File),
	}
}

func (r *CatalogRepository) GetProduct(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *CatalogRepository) GetVariation(_ context.Context, id string) (domain.ProductVariation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	variation, ok := r.variations[id]
	if !ok {
		return domain.ProductVariation{}, domain.ErrVariationNotFound
	}
	return variation, nil
}

func (r *CatalogRepository) FileForVariation(_ context.Context, variationID string) (domain.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, ok := r.byVariation[variationID]
	if !ok || variationID == "" {
		return domain.File{}, domain.ErrFileNotFound
	}
	return file, nil
}

func (r *CatalogRepository) FileForProduct(_ context.Context, productID string) (domain.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, ok := r.byProduct[productID]
	if !ok {
		return domain.File{}, domain.ErrFileNotFound
	}
	return file, nil
}

// UpsertProduct добавляет или заменяет продукт.
func (r *CatalogRepository) UpsertProduct(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stampCreated(&product.CreatedAt, &product.UpdatedAt)
	r.products[product.ID] = product
	return nil
}

// UpsertVariation добавляет или заменяет вариацию; продукт должен существовать.
func (r *CatalogRepository) UpsertVariation(_ context.Context, variation domain.ProductVariation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[variation.ProductID]; !ok {
		return domain.ErrProductNotFound
	}
	stampCreated(&variation.CreatedAt, &variation.UpdatedAt)
	r.variations[variation.ID] = variation
	return nil
}

// UpsertFile привязывает файл к вариации, если она указана, иначе к продукту.
func (r *CatalogRepository) UpsertFile(_ context.Context, file domain.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	if file.VariationID != "" {
		r.byVariation[file.VariationID] = file
		return nil
	}
	r.byProduct[file.ProductID] = file
	return nil
}

func stampCreated(createdAt, updatedAt *time.Time) {
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}

var (
	_ domain.CatalogRepository = (*CatalogRepository)(nil)
	_ domain.CatalogWriter     = (*CatalogRepository)(nil)
)
