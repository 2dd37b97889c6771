package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/saigonmart/api/internal/repositories"
)

var (
	// ErrStockInvalidInput signals missing product ids or non-positive quantities.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockInsufficient indicates a line could not be covered by available stock.
	ErrStockInsufficient = errors.New("stock: insufficient stock")
	// ErrStockProductNotFound indicates the product does not exist or is inactive.
	ErrStockProductNotFound = errors.New("stock: product not found")
	// ErrStockVariantNotFound indicates no matching active variant exists.
	ErrStockVariantNotFound = errors.New("stock: variant not found")
)

// StockServiceDeps bundles dependencies required to construct a StockService implementation.
type StockServiceDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewStockService wires a StockService backed by the product repository.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Products == nil {
		return nil, errors.New("stock service: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockService{products: deps.Products, logger: logger}, nil
}

// Reserve decrements stock line by line. Each line is its own Firestore
// transaction; when a later line fails, every line reserved so far is released
// before the error is returned.
func (s *stockService) Reserve(ctx context.Context, lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrStockInvalidInput)
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %s", ErrStockInvalidInput, line.ProductID)
		}
	}

	reserved := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		resolved, err := s.products.ReserveStock(ctx, line)
		if err != nil {
			s.rollback(ctx, reserved)
			return nil, s.mapRepositoryError(err)
		}
		reserved = append(reserved, resolved)
	}
	return reserved, nil
}

func (s *stockService) Release(ctx context.Context, lines []StockLine) error {
	var firstErr error
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" || line.Quantity <= 0 {
			continue
		}
		if err := s.products.ReleaseStock(ctx, line); err != nil {
			s.logger(ctx, "stock.release.failed", map[string]any{
				"productId": line.ProductID,
				"variantId": line.VariantID,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
			if firstErr == nil {
				firstErr = s.mapRepositoryError(err)
			}
		}
	}
	return firstErr
}

func (s *stockService) rollback(ctx context.Context, reserved []StockLine) {
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if err := s.products.ReleaseStock(ctx, line); err != nil {
			s.logger(ctx, "stock.rollback.failed", map[string]any{
				"productId": line.ProductID,
				"variantId": line.VariantID,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (s *stockService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %v", ErrStockInsufficient, err)
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrStockProductNotFound, err)
		case repositories.StockErrorVariantNotFound:
			return fmt.Errorf("%w: %v", ErrStockVariantNotFound, err)
		case repositories.StockErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrStockInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrStockProductNotFound, err)
	}
	return err
}
