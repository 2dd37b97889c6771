package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/saigonmart/api/internal/domain"
	pfirestore "github.com/saigonmart/api/internal/platform/firestore"
	"github.com/saigonmart/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads catalog entries and owns transactional stock movements.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, products: base}, nil
}

// FindByID loads a product by document ID.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "product id is required", nil)
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
		}
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ReserveStock decrements variant stock inside a transaction. When the line
// omits a variant the first active variant with sufficient stock is chosen and
// the resolved line is returned.
func (r *ProductRepository) ReserveStock(ctx context.Context, line domain.StockLine) (domain.StockLine, error) {
	if r == nil || r.provider == nil {
		return domain.StockLine{}, errors.New("product repository not initialised")
	}
	if err := validateStockLine(line); err != nil {
		return domain.StockLine{}, err
	}

	now := time.Now().UTC()
	resolved := line
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, line.ProductID)
		if err != nil {
			return err
		}

		idx, err := resolveVariantIndex(doc, line)
		if err != nil {
			return err
		}
		variant := &doc.Variants[idx]
		if variant.StockQuantity < line.Quantity {
			return repositories.NewStockError(repositories.StockErrorInsufficient,
				fmt.Sprintf("variant %s of product %s has %d left", variant.ID, line.ProductID, variant.StockQuantity), nil)
		}
		variant.StockQuantity -= line.Quantity
		variant.SoldCount += line.Quantity
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		resolved.VariantID = variant.ID
		return nil
	})
	if err != nil {
		return domain.StockLine{}, wrapStockError("products.reserveStock", err)
	}
	return resolved, nil
}

// ReleaseStock restores previously reserved stock. The sold counter floors at
// zero so a double release cannot drive it negative.
func (r *ProductRepository) ReleaseStock(ctx context.Context, line domain.StockLine) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if err := validateStockLine(line); err != nil {
		return err
	}
	if strings.TrimSpace(line.VariantID) == "" {
		return repositories.NewStockError(repositories.StockErrorInvalidInput, "release requires the reserved variant id", nil)
	}

	now := time.Now().UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, line.ProductID)
		if err != nil {
			return err
		}

		idx := -1
		for i := range doc.Variants {
			if doc.Variants[i].ID == line.VariantID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return repositories.NewStockError(repositories.StockErrorVariantNotFound,
				fmt.Sprintf("variant %s of product %s not found", line.VariantID, line.ProductID), nil)
		}
		variant := &doc.Variants[idx]
		variant.StockQuantity += line.Quantity
		variant.SoldCount -= line.Quantity
		if variant.SoldCount < 0 {
			variant.SoldCount = 0
		}
		doc.UpdatedAt = now

		return tx.Set(ref, doc)
	})
	if err != nil {
		return wrapStockError("products.releaseStock", err)
	}
	return nil
}

func (r *ProductRepository) getForUpdate(ctx context.Context, tx *firestore.Transaction, productID string) (*firestore.DocumentRef, productDocument, error) {
	ref, err := r.products.DocumentRef(ctx, productID)
	if err != nil {
		return nil, productDocument{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, productDocument{}, repositories.NewStockError(repositories.StockErrorProductNotFound,
				fmt.Sprintf("product %s not found", productID), err)
		}
		return nil, productDocument{}, err
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, productDocument{}, fmt.Errorf("decode product %s: %w", productID, err)
	}
	return ref, doc, nil
}

func validateStockLine(line domain.StockLine) error {
	if strings.TrimSpace(line.ProductID) == "" {
		return repositories.NewStockError(repositories.StockErrorInvalidInput, "product id is required", nil)
	}
	if line.Quantity <= 0 {
		return repositories.NewStockError(repositories.StockErrorInvalidInput,
			fmt.Sprintf("quantity for %s must be positive", line.ProductID), nil)
	}
	return nil
}

func resolveVariantIndex(doc productDocument, line domain.StockLine) (int, error) {
	variantID := strings.TrimSpace(line.VariantID)
	if variantID != "" {
		for i := range doc.Variants {
			if doc.Variants[i].ID == variantID {
				if !doc.Variants[i].IsActive {
					return 0, repositories.NewStockError(repositories.StockErrorVariantNotFound,
						fmt.Sprintf("variant %s of product %s is inactive", variantID, line.ProductID), nil)
				}
				return i, nil
			}
		}
		return 0, repositories.NewStockError(repositories.StockErrorVariantNotFound,
			fmt.Sprintf("variant %s of product %s not found", variantID, line.ProductID), nil)
	}

	for i := range doc.Variants {
		if doc.Variants[i].IsActive && doc.Variants[i].StockQuantity >= line.Quantity {
			return i, nil
		}
	}
	return 0, repositories.NewStockError(repositories.StockErrorInsufficient,
		fmt.Sprintf("no variant of product %s can cover quantity %d", line.ProductID, line.Quantity), nil)
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

// Document structures --------------------------------------------------------

type productDocument struct {
	Name            string                   `firestore:"name"`
	Slug            string                   `firestore:"slug"`
	BasePrice       int64                    `firestore:"basePrice"`
	DiscountPercent int                      `firestore:"discountPercent"`
	IsActive        bool                     `firestore:"isActive"`
	Variants        []productVariantDocument `firestore:"variants"`
	CreatedAt       time.Time                `firestore:"createdAt"`
	UpdatedAt       time.Time                `firestore:"updatedAt"`
}

type productVariantDocument struct {
	ID              string `firestore:"id"`
	Name            string `firestore:"name"`
	PriceAdjustment int64  `firestore:"priceAdjustment"`
	StockQuantity   int    `firestore:"stockQuantity"`
	SoldCount       int    `firestore:"soldCount"`
	IsActive        bool   `firestore:"isActive"`
}

func (d productDocument) toDomain(id string) domain.Product {
	variants := make([]domain.ProductVariant, len(d.Variants))
	for i, v := range d.Variants {
		variants[i] = domain.ProductVariant{
			ID:              v.ID,
			Name:            v.Name,
			PriceAdjustment: v.PriceAdjustment,
			StockQuantity:   v.StockQuantity,
			SoldCount:       v.SoldCount,
			IsActive:        v.IsActive,
		}
	}
	return domain.Product{
		ID:              id,
		Name:            d.Name,
		Slug:            d.Slug,
		BasePrice:       d.BasePrice,
		DiscountPercent: d.DiscountPercent,
		IsActive:        d.IsActive,
		Variants:        variants,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
