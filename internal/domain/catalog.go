package domain

import "time"

// Product: товар каталога. Цена продукта является источником истины.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProductVariation: вариант товара со своей ценой (например, другой формат файла).
type ProductVariation struct {
	ID         string
	ProductID  string
	Name       string
	PriceMinor int64
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// File связывает продукт или вариацию с ключом в объектном хранилище.
type File struct {
	ID          string
	ProductID   string
	VariationID string
	StorageKey  string
	FileName    string
	CreatedAt   time.Time
}

// CartLine: строка корзины, как её прислал клиент. Цены клиента не принимаются.
type CartLine struct {
	ProductID   string `json:"product_id"`
	VariationID string `json:"variation_id,omitempty"`
	Quantity    int32  `json:"quantity"`
}

// PricedLine: строка корзины с ценой из каталога.
type PricedLine struct {
	ProductID      string
	VariationID    string
	Name           string
	UnitPriceMinor int64
	Quantity       int32
	TotalMinor     int64
}

// SubtotalOf суммирует итоговые суммы строк.
func SubtotalOf(lines []PricedLine) int64 {
	var sum int64
	for _, line := range lines {
		sum += line.TotalMinor
	}
	return sum
}
