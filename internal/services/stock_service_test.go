package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/repositories"
)

type stubProductRepo struct {
	findFn    func(context.Context, string) (domain.Product, error)
	reserveFn func(context.Context, domain.StockLine) (domain.StockLine, error)
	releaseFn func(context.Context, domain.StockLine) error
	released  []domain.StockLine
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) ReserveStock(ctx context.Context, line domain.StockLine) (domain.StockLine, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, line)
	}
	return line, nil
}

func (s *stubProductRepo) ReleaseStock(ctx context.Context, line domain.StockLine) error {
	s.released = append(s.released, line)
	if s.releaseFn != nil {
		return s.releaseFn(ctx, line)
	}
	return nil
}

func newTestStockService(t *testing.T, repo repositories.ProductRepository) StockService {
	t.Helper()
	svc, err := NewStockService(StockServiceDeps{Products: repo})
	if err != nil {
		t.Fatalf("NewStockService returned error: %v", err)
	}
	return svc
}

func TestStockReserveResolvesVariants(t *testing.T) {
	repo := &stubProductRepo{
		reserveFn: func(_ context.Context, line domain.StockLine) (domain.StockLine, error) {
			if line.VariantID == "" {
				line.VariantID = "var_default"
			}
			return line, nil
		},
	}
	svc := newTestStockService(t, repo)

	reserved, err := svc.Reserve(context.Background(), []domain.StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", VariantID: "var_red", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if len(reserved) != 2 {
		t.Fatalf("expected 2 reserved lines, got %d", len(reserved))
	}
	if reserved[0].VariantID != "var_default" {
		t.Errorf("expected resolved variant, got %q", reserved[0].VariantID)
	}
	if reserved[1].VariantID != "var_red" {
		t.Errorf("caller variant must be honoured, got %q", reserved[1].VariantID)
	}
}

func TestStockReserveRollsBackOnFailure(t *testing.T) {
	repo := &stubProductRepo{
		reserveFn: func(_ context.Context, line domain.StockLine) (domain.StockLine, error) {
			if line.ProductID == "p2" {
				return domain.StockLine{}, repositories.NewStockError(repositories.StockErrorInsufficient, "only 1 left", nil)
			}
			return line, nil
		},
	}
	svc := newTestStockService(t, repo)

	_, err := svc.Reserve(context.Background(), []domain.StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 3},
	})
	if !errors.Is(err, ErrStockInsufficient) {
		t.Fatalf("expected ErrStockInsufficient, got %v", err)
	}
	if len(repo.released) != 1 || repo.released[0].ProductID != "p1" {
		t.Fatalf("expected p1 released on rollback, got %v", repo.released)
	}
}

func TestStockReserveValidatesInput(t *testing.T) {
	svc := newTestStockService(t, &stubProductRepo{})

	if _, err := svc.Reserve(context.Background(), nil); !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("expected ErrStockInvalidInput for empty lines, got %v", err)
	}
	if _, err := svc.Reserve(context.Background(), []domain.StockLine{{ProductID: "p1", Quantity: 0}}); !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("expected ErrStockInvalidInput for zero quantity, got %v", err)
	}
}

func TestStockReleaseContinuesPastFailures(t *testing.T) {
	repo := &stubProductRepo{
		releaseFn: func(_ context.Context, line domain.StockLine) error {
			if line.ProductID == "p1" {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, "gone", nil)
			}
			return nil
		},
	}
	svc := newTestStockService(t, repo)

	err := svc.Release(context.Background(), []domain.StockLine{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
	})
	if !errors.Is(err, ErrStockProductNotFound) {
		t.Fatalf("expected first release error surfaced, got %v", err)
	}
	if len(repo.released) != 2 {
		t.Fatalf("expected both lines attempted, got %d", len(repo.released))
	}
}
