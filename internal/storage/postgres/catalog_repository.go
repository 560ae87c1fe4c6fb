package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// CatalogRepository читает и наполняет каталог в PostgreSQL.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию каталога.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{db: store.DB()}
}

func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var product domain.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price_minor, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.PriceMinor, &product.Active, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *CatalogRepository) GetVariation(ctx context.Context, id string) (domain.ProductVariation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var variation domain.ProductVariation
	err := r.db.QueryRowContext(ctx, `
		SELECT id, product_id, name, price_minor, active, created_at, updated_at
		FROM product_variations
		WHERE id = $1
	`, id).Scan(
		&variation.ID, &variation.ProductID, &variation.Name, &variation.PriceMinor,
		&variation.Active, &variation.CreatedAt, &variation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProductVariation{}, domain.ErrVariationNotFound
		}
		return domain.ProductVariation{}, fmt.Errorf("select variation: %w", err)
	}
	return variation, nil
}

func (r *CatalogRepository) FileForVariation(ctx context.Context, variationID string) (domain.File, error) {
	if variationID == "" {
		return domain.File{}, domain.ErrFileNotFound
	}
	return r.file(ctx, `WHERE variation_id = $1`, variationID)
}

func (r *CatalogRepository) FileForProduct(ctx context.Context, productID string) (domain.File, error) {
	return r.file(ctx, `WHERE product_id = $1 AND variation_id IS NULL`, productID)
}

func (r *CatalogRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_minor, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    active = EXCLUDED.active,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.PriceMinor, product.Active, now); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (r *CatalogRepository) UpsertVariation(ctx context.Context, variation domain.ProductVariation) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO product_variations (id, product_id, name, price_minor, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (id) DO UPDATE
		SET product_id = EXCLUDED.product_id,
		    name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    active = EXCLUDED.active,
		    updated_at = EXCLUDED.updated_at
	`, variation.ID, variation.ProductID, variation.Name, variation.PriceMinor, variation.Active, now); err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrProductNotFound
		}
		return fmt.Errorf("upsert variation: %w", err)
	}
	return nil
}

func (r *CatalogRepository) UpsertFile(ctx context.Context, file domain.File) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO files (id, product_id, variation_id, storage_key, file_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET product_id = EXCLUDED.product_id,
		    variation_id = EXCLUDED.variation_id,
		    storage_key = EXCLUDED.storage_key,
		    file_name = EXCLUDED.file_name
	`, file.ID, file.ProductID, nullString(file.VariationID), file.StorageKey, file.FileName, time.Now().UTC()); err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrProductNotFound
		}
		return fmt.Errorf("upsert file: %w", err)
	}
	return nil
}

func (r *CatalogRepository) file(ctx context.Context, where string, arg string) (domain.File, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		file        domain.File
		variationID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, product_id, variation_id, storage_key, file_name, created_at
		FROM files
		`+where+`
		LIMIT 1
	`, arg).Scan(&file.ID, &file.ProductID, &variationID, &file.StorageKey, &file.FileName, &file.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.File{}, domain.ErrFileNotFound
		}
		return domain.File{}, fmt.Errorf("select file: %w", err)
	}
	file.VariationID = variationID.String
	return file, nil
}

var (
	_ domain.CatalogRepository = (*CatalogRepository)(nil)
	_ domain.CatalogWriter     = (*CatalogRepository)(nil)
)
