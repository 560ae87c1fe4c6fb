package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/memory"
)

func TestCatalogRepository_UpsertAndFiles(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCatalogRepository()

	if err := repo.UpsertVariation(ctx, domain.ProductVariation{ID: "var-1", ProductID: "prod-1"}); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("variation without product must fail, got %v", err)
	}

	if err := repo.UpsertProduct(ctx, domain.Product{ID: "prod-1", Name: "Guide", PriceMinor: 5000, Active: true}); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
	if err := repo.UpsertVariation(ctx, domain.ProductVariation{ID: "var-1", ProductID: "prod-1", Name: "Deluxe", PriceMinor: 9000, Active: true}); err != nil {
		t.Fatalf("UpsertVariation: %v", err)
	}
	if err := repo.UpsertFile(ctx, domain.File{ID: "file-p", ProductID: "prod-1", StorageKey: "guide.pdf"}); err != nil {
		t.Fatalf("UpsertFile product: %v", err)
	}
	if err := repo.UpsertFile(ctx, domain.File{ID: "file-v", ProductID: "prod-1", VariationID: "var-1", StorageKey: "guide-deluxe.pdf"}); err != nil {
		t.Fatalf("UpsertFile variation: %v", err)
	}

	product, err := repo.GetProduct(ctx, "prod-1")
	if err != nil || product.PriceMinor != 5000 || product.CreatedAt.IsZero() {
		t.Fatalf("GetProduct = %+v, %v", product, err)
	}

	file, err := repo.FileForVariation(ctx, "var-1")
	if err != nil || file.ID != "file-v" {
		t.Fatalf("FileForVariation = %+v, %v", file, err)
	}
	file, err = repo.FileForProduct(ctx, "prod-1")
	if err != nil || file.ID != "file-p" {
		t.Fatalf("FileForProduct = %+v, %v", file, err)
	}

	if _, err := repo.FileForVariation(ctx, ""); !errors.Is(err, domain.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if _, err := repo.GetVariation(ctx, "var-x"); !errors.Is(err, domain.ErrVariationNotFound) {
		t.Fatalf("expected ErrVariationNotFound, got %v", err)
	}
}
