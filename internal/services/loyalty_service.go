package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/saigonmart/api/internal/repositories"
)

var (
	// ErrLoyaltyInvalidInput signals negative point amounts or a missing user id.
	ErrLoyaltyInvalidInput = errors.New("loyalty: invalid input")
	// ErrLoyaltyUserNotFound indicates the account document is missing.
	ErrLoyaltyUserNotFound = errors.New("loyalty: user not found")
	// ErrLoyaltyInsufficientBalance indicates the spend exceeds the balance.
	ErrLoyaltyInsufficientBalance = errors.New("loyalty: insufficient balance")
	// ErrLoyaltyExceedsPayable indicates the points discount exceeds the payable amount.
	ErrLoyaltyExceedsPayable = errors.New("loyalty: points exceed payable amount")
)

// LoyaltyConfig prices points in VND and sets the earn threshold.
type LoyaltyConfig struct {
	// PointValue is the VND discount granted per point spent.
	PointValue int64
	// EarnAmount is the VND of paid total required to earn one point.
	EarnAmount int64
}

// LoyaltyServiceDeps bundles dependencies required to construct a LoyaltyService implementation.
type LoyaltyServiceDeps struct {
	Users  repositories.UserRepository
	Config LoyaltyConfig
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type loyaltyService struct {
	users  repositories.UserRepository
	cfg    LoyaltyConfig
	logger func(context.Context, string, map[string]any)
}

// NewLoyaltyService wires a LoyaltyService backed by the user repository.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Users == nil {
		return nil, errors.New("loyalty service: user repository is required")
	}
	if deps.Config.PointValue <= 0 {
		return nil, errors.New("loyalty service: point value must be positive")
	}
	if deps.Config.EarnAmount <= 0 {
		return nil, errors.New("loyalty service: earn amount must be positive")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &loyaltyService{
		users:  deps.Users,
		cfg:    deps.Config,
		logger: logger,
	}, nil
}

func (s *loyaltyService) Quote(ctx context.Context, userID string, pointsUsed int, payable int64) (LoyaltyQuote, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return LoyaltyQuote{}, fmt.Errorf("%w: user id is required", ErrLoyaltyInvalidInput)
	}
	if pointsUsed < 0 {
		return LoyaltyQuote{}, fmt.Errorf("%w: points cannot be negative", ErrLoyaltyInvalidInput)
	}
	if pointsUsed == 0 {
		return LoyaltyQuote{}, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return LoyaltyQuote{}, s.mapRepositoryError(err)
	}
	if user.LoyaltyPoints < pointsUsed {
		return LoyaltyQuote{}, fmt.Errorf("%w: balance %d, requested %d", ErrLoyaltyInsufficientBalance, user.LoyaltyPoints, pointsUsed)
	}

	discount := int64(pointsUsed) * s.cfg.PointValue
	if discount > payable {
		return LoyaltyQuote{}, fmt.Errorf("%w: discount %d, payable %d", ErrLoyaltyExceedsPayable, discount, payable)
	}

	return LoyaltyQuote{PointsUsed: pointsUsed, Discount: discount}, nil
}

func (s *loyaltyService) Debit(ctx context.Context, userID string, points int) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || points < 0 {
		return fmt.Errorf("%w: user id and non-negative points required", ErrLoyaltyInvalidInput)
	}
	if points == 0 {
		return nil
	}
	if _, err := s.users.DebitPoints(ctx, userID, points); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *loyaltyService) Credit(ctx context.Context, userID string, points int) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || points < 0 {
		return fmt.Errorf("%w: user id and non-negative points required", ErrLoyaltyInvalidInput)
	}
	if points == 0 {
		return nil
	}
	if _, err := s.users.CreditPoints(ctx, userID, points); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// Reverse unwinds loyalty movements for a cancelled order. Points earned at
// checkout are clawed back only while the balance still covers them; points the
// customer spent are always refunded.
func (s *loyaltyService) Reverse(ctx context.Context, userID string, pointsEarned int, pointsUsed int) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || pointsEarned < 0 || pointsUsed < 0 {
		return fmt.Errorf("%w: user id and non-negative points required", ErrLoyaltyInvalidInput)
	}

	if pointsEarned > 0 {
		if _, err := s.users.DebitPoints(ctx, userID, pointsEarned); err != nil {
			mapped := s.mapRepositoryError(err)
			if errors.Is(mapped, ErrLoyaltyInsufficientBalance) {
				s.logger(ctx, "loyalty.clawback.skipped", map[string]any{
					"userId": userID,
					"points": pointsEarned,
				})
			} else {
				return mapped
			}
		}
	}

	if pointsUsed > 0 {
		if _, err := s.users.CreditPoints(ctx, userID, pointsUsed); err != nil {
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

func (s *loyaltyService) EarnedPoints(total int64) int {
	if total <= 0 {
		return 0
	}
	return int(total / s.cfg.EarnAmount)
}

func (s *loyaltyService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var loyaltyErr *repositories.LoyaltyError
	if errors.As(err, &loyaltyErr) {
		switch loyaltyErr.Code {
		case repositories.LoyaltyErrorUserNotFound:
			return fmt.Errorf("%w: %v", ErrLoyaltyUserNotFound, err)
		case repositories.LoyaltyErrorInsufficientBalance:
			return fmt.Errorf("%w: %v", ErrLoyaltyInsufficientBalance, err)
		case repositories.LoyaltyErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrLoyaltyInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrLoyaltyUserNotFound, err)
	}
	return err
}
