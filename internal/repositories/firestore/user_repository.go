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

const usersCollection = "users"

// UserRepository owns the loyalty slice of the account document.
type UserRepository struct {
	provider *pfirestore.Provider
	users    *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil)
	return &UserRepository{provider: provider, users: base}, nil
}

// FindByID loads the account document by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.users == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, repositories.NewLoyaltyError(repositories.LoyaltyErrorInvalidInput, "user id is required", nil)
	}

	doc, err := r.users.Get(ctx, userID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.User{}, repositories.NewLoyaltyError(repositories.LoyaltyErrorUserNotFound,
				fmt.Sprintf("user %s not found", userID), err)
		}
		return domain.User{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// DebitPoints subtracts points inside a transaction, failing when the balance
// is insufficient.
func (r *UserRepository) DebitPoints(ctx context.Context, userID string, points int) (domain.User, error) {
	return r.adjustPoints(ctx, "users.debitPoints", userID, points, func(doc *userDocument) error {
		if doc.LoyaltyPoints < points {
			return repositories.NewLoyaltyError(repositories.LoyaltyErrorInsufficientBalance,
				fmt.Sprintf("user %s has %d points, need %d", userID, doc.LoyaltyPoints, points), nil)
		}
		doc.LoyaltyPoints -= points
		return nil
	})
}

// CreditPoints adds points unconditionally.
func (r *UserRepository) CreditPoints(ctx context.Context, userID string, points int) (domain.User, error) {
	return r.adjustPoints(ctx, "users.creditPoints", userID, points, func(doc *userDocument) error {
		doc.LoyaltyPoints += points
		return nil
	})
}

func (r *UserRepository) adjustPoints(ctx context.Context, op string, userID string, points int, apply func(*userDocument) error) (domain.User, error) {
	if r == nil || r.provider == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, repositories.NewLoyaltyError(repositories.LoyaltyErrorInvalidInput, "user id is required", nil)
	}
	if points < 0 {
		return domain.User{}, repositories.NewLoyaltyError(repositories.LoyaltyErrorInvalidInput,
			fmt.Sprintf("points must not be negative, got %d", points), nil)
	}

	now := time.Now().UTC()
	var updated domain.User
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.users.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewLoyaltyError(repositories.LoyaltyErrorUserNotFound,
					fmt.Sprintf("user %s not found", userID), err)
			}
			return err
		}
		var doc userDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode user %s: %w", userID, err)
		}

		if err := apply(&doc); err != nil {
			return err
		}
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(userID)
		return nil
	})
	if err != nil {
		return domain.User{}, wrapLoyaltyError(op, err)
	}
	return updated, nil
}

func wrapLoyaltyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var loyaltyErr *repositories.LoyaltyError
	if errors.As(err, &loyaltyErr) {
		if loyaltyErr.Op == "" {
			loyaltyErr.Op = op
		}
		return loyaltyErr
	}
	return pfirestore.WrapError(op, err)
}

// Document structures --------------------------------------------------------

type userDocument struct {
	Email         string    `firestore:"email"`
	DisplayName   string    `firestore:"displayName"`
	LoyaltyPoints int       `firestore:"loyaltyPoints"`
	TotalSpent    int64     `firestore:"totalSpent"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (d userDocument) toDomain(id string) domain.User {
	return domain.User{
		ID:            id,
		Email:         strings.TrimSpace(d.Email),
		DisplayName:   d.DisplayName,
		LoyaltyPoints: d.LoyaltyPoints,
		TotalSpent:    d.TotalSpent,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
