package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/repositories"
)

type stubUserRepo struct {
	balance  int
	findErr  error
	debits   []int
	credits  []int
	debitFn  func(points int) error
	creditFn func(points int) error
}

func (s *stubUserRepo) FindByID(_ context.Context, userID string) (domain.User, error) {
	if s.findErr != nil {
		return domain.User{}, s.findErr
	}
	return domain.User{ID: userID, LoyaltyPoints: s.balance}, nil
}

func (s *stubUserRepo) DebitPoints(_ context.Context, userID string, points int) (domain.User, error) {
	if s.debitFn != nil {
		if err := s.debitFn(points); err != nil {
			return domain.User{}, err
		}
	} else if points > s.balance {
		return domain.User{}, repositories.NewLoyaltyError(repositories.LoyaltyErrorInsufficientBalance, "balance too low", nil)
	}
	s.balance -= points
	s.debits = append(s.debits, points)
	return domain.User{ID: userID, LoyaltyPoints: s.balance}, nil
}

func (s *stubUserRepo) CreditPoints(_ context.Context, userID string, points int) (domain.User, error) {
	if s.creditFn != nil {
		if err := s.creditFn(points); err != nil {
			return domain.User{}, err
		}
	}
	s.balance += points
	s.credits = append(s.credits, points)
	return domain.User{ID: userID, LoyaltyPoints: s.balance}, nil
}

func newTestLoyaltyService(t *testing.T, repo repositories.UserRepository) LoyaltyService {
	t.Helper()
	svc, err := NewLoyaltyService(LoyaltyServiceDeps{
		Users:  repo,
		Config: LoyaltyConfig{PointValue: 1_000, EarnAmount: 100_000},
	})
	if err != nil {
		t.Fatalf("NewLoyaltyService returned error: %v", err)
	}
	return svc
}

func TestLoyaltyQuote(t *testing.T) {
	svc := newTestLoyaltyService(t, &stubUserRepo{balance: 100})

	quote, err := svc.Quote(context.Background(), "u1", 50, 1_000_000)
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.PointsUsed != 50 || quote.Discount != 50_000 {
		t.Errorf("unexpected quote %+v", quote)
	}
}

func TestLoyaltyQuoteZeroPoints(t *testing.T) {
	svc := newTestLoyaltyService(t, &stubUserRepo{balance: 0})
	quote, err := svc.Quote(context.Background(), "u1", 0, 1_000_000)
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.PointsUsed != 0 || quote.Discount != 0 {
		t.Errorf("expected empty quote, got %+v", quote)
	}
}

func TestLoyaltyQuoteInsufficientBalance(t *testing.T) {
	svc := newTestLoyaltyService(t, &stubUserRepo{balance: 10})
	if _, err := svc.Quote(context.Background(), "u1", 50, 1_000_000); !errors.Is(err, ErrLoyaltyInsufficientBalance) {
		t.Fatalf("expected ErrLoyaltyInsufficientBalance, got %v", err)
	}
}

func TestLoyaltyQuoteExceedsPayable(t *testing.T) {
	svc := newTestLoyaltyService(t, &stubUserRepo{balance: 500})
	if _, err := svc.Quote(context.Background(), "u1", 200, 100_000); !errors.Is(err, ErrLoyaltyExceedsPayable) {
		t.Fatalf("expected ErrLoyaltyExceedsPayable, got %v", err)
	}
}

func TestLoyaltyEarnedPoints(t *testing.T) {
	svc := newTestLoyaltyService(t, &stubUserRepo{})

	cases := []struct {
		total int64
		want  int
	}{
		{0, 0},
		{-100, 0},
		{99_999, 0},
		{100_000, 1},
		{6_600_000, 66},
		{6_699_999, 66},
	}
	for _, tc := range cases {
		if got := svc.EarnedPoints(tc.total); got != tc.want {
			t.Errorf("EarnedPoints(%d) = %d, want %d", tc.total, got, tc.want)
		}
	}
}

func TestLoyaltyReverseRefundsAndClawsBack(t *testing.T) {
	// Customer had 40, earned 50 at checkout, spent 30.
	repo := &stubUserRepo{balance: 60}
	svc := newTestLoyaltyService(t, repo)

	if err := svc.Reverse(context.Background(), "u1", 50, 30); err != nil {
		t.Fatalf("Reverse returned error: %v", err)
	}
	if repo.balance != 40 {
		t.Errorf("balance = %d, want 40 after claw-back and refund", repo.balance)
	}
}

func TestLoyaltyReverseSkipsClawBackWhenSpent(t *testing.T) {
	// Earned points were already spent elsewhere; claw-back is skipped but the
	// spent points are still refunded.
	repo := &stubUserRepo{balance: 20}
	svc := newTestLoyaltyService(t, repo)

	if err := svc.Reverse(context.Background(), "u1", 50, 30); err != nil {
		t.Fatalf("Reverse returned error: %v", err)
	}
	if len(repo.debits) != 0 {
		t.Errorf("expected no debit, got %v", repo.debits)
	}
	if repo.balance != 50 {
		t.Errorf("balance = %d, want 50 (20 + 30 refunded)", repo.balance)
	}
}

func TestLoyaltyReverseNoMovements(t *testing.T) {
	repo := &stubUserRepo{balance: 10}
	svc := newTestLoyaltyService(t, repo)

	if err := svc.Reverse(context.Background(), "u1", 0, 0); err != nil {
		t.Fatalf("Reverse returned error: %v", err)
	}
	if len(repo.debits) != 0 || len(repo.credits) != 0 {
		t.Error("expected no point movements")
	}
}

func TestLoyaltyDebitValidatesInput(t *testing.T) {
	svc := newTestLoyaltyService(t, &stubUserRepo{balance: 10})
	if err := svc.Debit(context.Background(), "", 5); !errors.Is(err, ErrLoyaltyInvalidInput) {
		t.Fatalf("expected ErrLoyaltyInvalidInput, got %v", err)
	}
	if err := svc.Credit(context.Background(), "u1", -5); !errors.Is(err, ErrLoyaltyInvalidInput) {
		t.Fatalf("expected ErrLoyaltyInvalidInput, got %v", err)
	}
}
