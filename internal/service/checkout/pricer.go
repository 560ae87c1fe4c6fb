package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// maxLineQuantity ограничивает количество в одной строке корзины.
const maxLineQuantity = 100

// Pricer пересчитывает корзину по ценам каталога. Цены клиента не используются.
type Pricer struct {
	catalog domain.CatalogRepository
}

// NewPricer создаёт Pricer поверх каталога.
func NewPricer(catalog domain.CatalogRepository) *Pricer {
	return &Pricer{catalog: catalog}
}

// Price возвращает строки с ценами каталога.
// Несуществующий или неактивный продукт (вариация) даёт ошибку валидации.
func (p *Pricer) Price(ctx context.Context, lines []domain.CartLine) ([]domain.PricedLine, error) {
	if len(lines) == 0 {
		return nil, domain.ErrItemsRequired
	}

	priced := make([]domain.PricedLine, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, domain.Validationf("item product id is required")
		}
		if line.Quantity <= 0 {
			return nil, domain.ErrItemQtyInvalid
		}
		if line.Quantity > maxLineQuantity {
			return nil, domain.Validationf("item quantity must not exceed %d", maxLineQuantity)
		}

		product, err := p.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.Validationf("product %q does not exist", line.ProductID)
			}
			return nil, fmt.Errorf("get product %s: %w", line.ProductID, err)
		}
		if !product.Active {
			return nil, domain.Validationf("product %q is not available", line.ProductID)
		}

		out := domain.PricedLine{
			ProductID:      product.ID,
			Name:           product.Name,
			UnitPriceMinor: product.PriceMinor,
			Quantity:       line.Quantity,
		}

		if line.VariationID != "" {
			variation, err := p.catalog.GetVariation(ctx, line.VariationID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil, domain.Validationf("product variation %q does not exist", line.VariationID)
				}
				return nil, fmt.Errorf("get variation %s: %w", line.VariationID, err)
			}
			if variation.ProductID != product.ID {
				return nil, domain.Validationf("variation %q does not belong to product %q", line.VariationID, line.ProductID)
			}
			if !variation.Active {
				return nil, domain.Validationf("product variation %q is not available", line.VariationID)
			}
			out.VariationID = variation.ID
			out.Name = product.Name + " - " + variation.Name
			out.UnitPriceMinor = variation.PriceMinor
		}

		out.TotalMinor = out.UnitPriceMinor * int64(out.Quantity)
		priced = append(priced, out)
	}
	return priced, nil
}
