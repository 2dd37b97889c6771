package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/repositories"
)

var (
	// ErrDiscountInvalidInput signals the caller supplied a missing or malformed code.
	ErrDiscountInvalidInput = errors.New("discount: invalid input")
	// ErrDiscountNotFound indicates no code exists for the supplied value.
	ErrDiscountNotFound = errors.New("discount: code not found")
	// ErrDiscountNotActive covers disabled codes and codes outside their validity window.
	ErrDiscountNotActive = errors.New("discount: code not active")
	// ErrDiscountUsageExceeded indicates the global usage limit has been reached.
	ErrDiscountUsageExceeded = errors.New("discount: usage limit reached")
	// ErrDiscountAlreadyUsed indicates the user has already redeemed this code.
	ErrDiscountAlreadyUsed = errors.New("discount: already used")
	// ErrDiscountBelowMinimum indicates the order subtotal is below the code's minimum.
	ErrDiscountBelowMinimum = errors.New("discount: order below minimum amount")
	// ErrDiscountUnavailable indicates the backing store could not be reached.
	ErrDiscountUnavailable = errors.New("discount: unavailable")
)

// DiscountServiceDeps bundles dependencies required to construct a DiscountService implementation.
type DiscountServiceDeps struct {
	Discounts repositories.DiscountCodeRepository
	Clock     func() time.Time
}

type discountService struct {
	repo  repositories.DiscountCodeRepository
	clock func() time.Time
}

// NewDiscountService wires a DiscountService backed by the provided repository.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.Discounts == nil {
		return nil, errors.New("discount service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &discountService{
		repo:  deps.Discounts,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

func (s *discountService) Validate(ctx context.Context, cmd ValidateDiscountCommand) (DiscountQuote, error) {
	code := normalizeDiscountCode(cmd.Code)
	if code == "" {
		return DiscountQuote{}, fmt.Errorf("%w: code is required", ErrDiscountInvalidInput)
	}
	if cmd.Subtotal < 0 {
		return DiscountQuote{}, fmt.Errorf("%w: subtotal cannot be negative", ErrDiscountInvalidInput)
	}

	discount, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return DiscountQuote{}, s.mapRepositoryError(err)
	}

	if err := s.checkEligibility(discount, cmd.UserID, cmd.Subtotal); err != nil {
		return DiscountQuote{}, err
	}

	return DiscountQuote{
		Code:   discount.Code,
		Type:   discount.Type,
		Amount: discountAmount(discount, cmd.Subtotal),
	}, nil
}

func (s *discountService) Redeem(ctx context.Context, code string, userID string, orderID string) error {
	code = normalizeDiscountCode(code)
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if code == "" || userID == "" || orderID == "" {
		return fmt.Errorf("%w: code, user id, and order id are required", ErrDiscountInvalidInput)
	}
	if _, err := s.repo.Redeem(ctx, code, userID, orderID, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *discountService) Unredeem(ctx context.Context, code string, orderID string) error {
	code = normalizeDiscountCode(code)
	orderID = strings.TrimSpace(orderID)
	if code == "" || orderID == "" {
		return fmt.Errorf("%w: code and order id are required", ErrDiscountInvalidInput)
	}
	if err := s.repo.Unredeem(ctx, code, orderID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *discountService) checkEligibility(discount domain.DiscountCode, userID string, subtotal int64) error {
	now := s.clock()

	if !discount.IsActive {
		return ErrDiscountNotActive
	}
	if discount.StartsAt != nil && now.Before(*discount.StartsAt) {
		return fmt.Errorf("%w: not yet started", ErrDiscountNotActive)
	}
	if discount.ExpiresAt != nil && now.After(*discount.ExpiresAt) {
		return fmt.Errorf("%w: expired", ErrDiscountNotActive)
	}
	if discount.UsageLimit > 0 && discount.UsedCount >= discount.UsageLimit {
		return ErrDiscountUsageExceeded
	}
	if userID != "" && slices.ContainsFunc(discount.UsedBy, func(r domain.DiscountRedemption) bool { return r.UserID == userID }) {
		return ErrDiscountAlreadyUsed
	}
	if subtotal < discount.MinOrderAmount {
		return fmt.Errorf("%w: minimum is %d", ErrDiscountBelowMinimum, discount.MinOrderAmount)
	}
	return nil
}

// discountAmount prices a code against the subtotal. Percentage codes are
// capped at MaxDiscountAmount when set; fixed codes apply their face value
// unclamped, the order total is floored at zero downstream.
func discountAmount(discount domain.DiscountCode, subtotal int64) int64 {
	switch discount.Type {
	case domain.DiscountTypePercentage:
		amount := subtotal * discount.Value / 100
		if discount.MaxDiscountAmount > 0 && amount > discount.MaxDiscountAmount {
			amount = discount.MaxDiscountAmount
		}
		return amount
	case domain.DiscountTypeFixedAmount:
		return discount.Value
	default:
		return 0
	}
}

func (s *discountService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var discountErr *repositories.DiscountError
	if errors.As(err, &discountErr) {
		switch discountErr.Code {
		case repositories.DiscountErrorNotFound:
			return fmt.Errorf("%w: %v", ErrDiscountNotFound, err)
		case repositories.DiscountErrorUsageExceeded:
			return fmt.Errorf("%w: %v", ErrDiscountUsageExceeded, err)
		case repositories.DiscountErrorAlreadyUsed:
			return fmt.Errorf("%w: %v", ErrDiscountAlreadyUsed, err)
		case repositories.DiscountErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrDiscountInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrDiscountNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrDiscountUnavailable, err)
		}
	}
	return err
}

func normalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
