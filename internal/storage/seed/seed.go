// Package seed загружает каталог и купоны из YAML-файла.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// File: корень seed-файла.
type File struct {
	Products []Product `yaml:"products"`
	Coupons  []Coupon  `yaml:"coupons"`
}

// Product: товар с вариациями и файлом.
type Product struct {
	ID         string      `yaml:"id"`
	Name       string      `yaml:"name"`
	Price      string      `yaml:"price"`
	Active     *bool       `yaml:"active"`
	File       *Asset      `yaml:"file"`
	Variations []Variation `yaml:"variations"`
}

// Variation: вариант товара.
type Variation struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Price  string `yaml:"price"`
	Active *bool  `yaml:"active"`
	File   *Asset `yaml:"file"`
}

// Asset: ключ объекта в хранилище.
type Asset struct {
	ID   string `yaml:"id"`
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

// Coupon: определение промокода. Денежные значения в основных единицах.
type Coupon struct {
	Code           string     `yaml:"code"`
	Type           string     `yaml:"type"`
	Value          string     `yaml:"value"`
	MinSubtotal    string     `yaml:"min_subtotal"`
	MaxUses        *int       `yaml:"max_uses"`
	MaxUsesPerUser int        `yaml:"max_uses_per_user"`
	Scope          string     `yaml:"scope"`
	ScopeIDs       []string   `yaml:"scope_ids"`
	Stackable      bool       `yaml:"stackable"`
	Active         *bool      `yaml:"active"`
	StartsAt       *time.Time `yaml:"starts_at"`
	EndsAt         *time.Time `yaml:"ends_at"`
}

// Stats: сколько записей загружено.
type Stats struct {
	Products       int
	Variations     int
	Files          int
	Coupons        int
	CouponsSkipped int
}

// Loader записывает seed в хранилища.
type Loader struct {
	catalog domain.CatalogWriter
	coupons domain.CouponRepository
	logger  *log.Entry
}

// NewLoader создаёт загрузчик.
func NewLoader(catalog domain.CatalogWriter, coupons domain.CouponRepository, logger *log.Entry) *Loader {
	if logger == nil {
		logger = log.WithField("component", "seed")
	}
	return &Loader{catalog: catalog, coupons: coupons, logger: logger}
}

// Parse читает seed из r.
func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("decode seed: %w", err)
	}
	return f, nil
}

// LoadFile читает файл по пути и загружает его.
func (l *Loader) LoadFile(ctx context.Context, path string) (Stats, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open seed file: %w", err)
	}
	defer fh.Close()

	f, err := Parse(fh)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", path, err)
	}
	return l.Load(ctx, f)
}

// Load записывает товары и купоны. Существующие купоны не перезаписываются:
// счётчик использований принадлежит рабочей базе.
func (l *Loader) Load(ctx context.Context, f File) (Stats, error) {
	var stats Stats

	for _, p := range f.Products {
		if err := l.loadProduct(ctx, p, &stats); err != nil {
			return stats, fmt.Errorf("product %q: %w", p.ID, err)
		}
	}

	for _, c := range f.Coupons {
		coupon, err := c.toDomain()
		if err != nil {
			return stats, fmt.Errorf("coupon %q: %w", c.Code, err)
		}
		if err := l.coupons.Create(ctx, coupon); err != nil {
			if errors.Is(err, domain.ErrCouponExists) {
				stats.CouponsSkipped++
				continue
			}
			return stats, fmt.Errorf("coupon %q: %w", coupon.Code, err)
		}
		stats.Coupons++
	}

	l.logger.WithFields(log.Fields{
		"products":        stats.Products,
		"variations":      stats.Variations,
		"files":           stats.Files,
		"coupons":         stats.Coupons,
		"coupons_skipped": stats.CouponsSkipped,
	}).Info("seed loaded")
	return stats, nil
}

func (l *Loader) loadProduct(ctx context.Context, p Product, stats *Stats) error {
	if p.ID == "" || p.Name == "" {
		return domain.Validationf("product id and name are required")
	}
	price, err := parseMoney(p.Price)
	if err != nil {
		return err
	}
	if err := l.catalog.UpsertProduct(ctx, domain.Product{
		ID:         p.ID,
		Name:       p.Name,
		PriceMinor: price,
		Active:     boolOr(p.Active, true),
	}); err != nil {
		return err
	}
	stats.Products++

	if p.File != nil {
		if err := l.upsertFile(ctx, *p.File, p.ID, ""); err != nil {
			return err
		}
		stats.Files++
	}

	for _, v := range p.Variations {
		if v.ID == "" || v.Name == "" {
			return domain.Validationf("variation id and name are required")
		}
		price, err := parseMoney(v.Price)
		if err != nil {
			return fmt.Errorf("variation %q: %w", v.ID, err)
		}
		if err := l.catalog.UpsertVariation(ctx, domain.ProductVariation{
			ID:         v.ID,
			ProductID:  p.ID,
			Name:       v.Name,
			PriceMinor: price,
			Active:     boolOr(v.Active, true),
		}); err != nil {
			return fmt.Errorf("variation %q: %w", v.ID, err)
		}
		stats.Variations++

		if v.File != nil {
			if err := l.upsertFile(ctx, *v.File, p.ID, v.ID); err != nil {
				return fmt.Errorf("variation %q: %w", v.ID, err)
			}
			stats.Files++
		}
	}
	return nil
}

func (l *Loader) upsertFile(ctx context.Context, a Asset, productID, variationID string) error {
	if a.Key == "" {
		return domain.Validationf("file key is required")
	}
	id := a.ID
	if id == "" {
		// стабильный id, чтобы повторная загрузка обновляла ту же запись
		id = "file-" + productID
		if variationID != "" {
			id += "-" + variationID
		}
	}
	name := a.Name
	if name == "" {
		name = a.Key[strings.LastIndex(a.Key, "/")+1:]
	}
	return l.catalog.UpsertFile(ctx, domain.File{
		ID:          id,
		ProductID:   productID,
		VariationID: variationID,
		StorageKey:  a.Key,
		FileName:    name,
	})
}

func (c Coupon) toDomain() (domain.Coupon, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(c.Value))
	if err != nil {
		return domain.Coupon{}, domain.Validationf("invalid coupon value %q", c.Value)
	}
	minSubtotal, err := parseMoney(c.MinSubtotal)
	if err != nil {
		return domain.Coupon{}, err
	}
	scope := domain.CouponScope(c.Scope)
	if scope == "" {
		scope = domain.CouponScopeAll
	}

	coupon := domain.Coupon{
		Code:             domain.NormalizeCouponCode(c.Code),
		Type:             domain.DiscountType(strings.ToLower(c.Type)),
		Value:            value,
		MinSubtotalMinor: minSubtotal,
		MaxUses:          c.MaxUses,
		MaxUsesPerUser:   c.MaxUsesPerUser,
		Scope:            scope,
		ScopeIDs:         c.ScopeIDs,
		Stackable:        c.Stackable,
		Active:           boolOr(c.Active, true),
		StartsAt:         c.StartsAt,
		EndsAt:           c.EndsAt,
	}
	if errs := coupon.Validate(); len(errs) > 0 {
		return domain.Coupon{}, fmt.Errorf("%w: %w", domain.ErrCouponInvalid, errors.Join(errs...))
	}
	return coupon, nil
}

// parseMoney переводит сумму в основных единицах ("100.00") в минорные.
func parseMoney(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, domain.Validationf("invalid amount %q", raw)
	}
	if amount.IsNegative() {
		return 0, domain.Validationf("amount %q must not be negative", raw)
	}
	return domain.ToMinor(amount), nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
