package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/saigonmart/api/internal/domain"
	pfirestore "github.com/saigonmart/api/internal/platform/firestore"
	"github.com/saigonmart/api/internal/repositories"
)

const discountCodesCollection = "discountCodes"

// DiscountCodeRepository stores discount codes and their usage ledgers.
type DiscountCodeRepository struct {
	provider *pfirestore.Provider
	codes    *pfirestore.BaseRepository[discountCodeDocument]
}

// NewDiscountCodeRepository constructs a Firestore-backed discount code repository.
func NewDiscountCodeRepository(provider *pfirestore.Provider) (*DiscountCodeRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[discountCodeDocument](provider, discountCodesCollection, nil, nil)
	return &DiscountCodeRepository{provider: provider, codes: base}, nil
}

// FindByCode resolves a discount code by its normalised code value.
func (r *DiscountCodeRepository) FindByCode(ctx context.Context, code string) (domain.DiscountCode, error) {
	if r == nil || r.codes == nil {
		return domain.DiscountCode{}, errors.New("discount repository not initialised")
	}
	code = normaliseCode(code)
	if code == "" {
		return domain.DiscountCode{}, repositories.NewDiscountError(repositories.DiscountErrorInvalidInput, "discount code is required", nil)
	}

	docs, err := r.codes.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.DiscountCode{}, err
	}
	if len(docs) == 0 {
		return domain.DiscountCode{}, repositories.NewDiscountError(repositories.DiscountErrorNotFound,
			fmt.Sprintf("discount code %s not found", code), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Redeem increments usedCount and appends a redemption to the usage ledger
// inside a transaction. It fails when the limit is reached or the user already
// redeemed the code.
func (r *DiscountCodeRepository) Redeem(ctx context.Context, code string, userID string, orderID string, now time.Time) (domain.DiscountCode, error) {
	if r == nil || r.provider == nil {
		return domain.DiscountCode{}, errors.New("discount repository not initialised")
	}
	code = normaliseCode(code)
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if code == "" || userID == "" || orderID == "" {
		return domain.DiscountCode{}, repositories.NewDiscountError(repositories.DiscountErrorInvalidInput, "code, user id, and order id are required", nil)
	}

	var redeemed domain.DiscountCode
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getByCodeForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}
		if doc.data.UsageLimit > 0 && doc.data.UsedCount >= doc.data.UsageLimit {
			return repositories.NewDiscountError(repositories.DiscountErrorUsageExceeded,
				fmt.Sprintf("discount code %s usage limit reached", code), nil)
		}
		if slices.ContainsFunc(doc.data.UsedBy, func(u discountRedemptionDocument) bool { return u.UserID == userID }) {
			return repositories.NewDiscountError(repositories.DiscountErrorAlreadyUsed,
				fmt.Sprintf("discount code %s already used by %s", code, userID), nil)
		}
		doc.data.UsedCount++
		doc.data.UsedBy = append(doc.data.UsedBy, discountRedemptionDocument{
			UserID:  userID,
			OrderID: orderID,
			UsedAt:  now.UTC(),
		})
		doc.data.UpdatedAt = now.UTC()

		if err := tx.Set(ref, doc.data); err != nil {
			return err
		}
		redeemed = doc.data.toDomain(doc.id)
		return nil
	})
	if err != nil {
		return domain.DiscountCode{}, wrapDiscountError("discounts.redeem", err)
	}
	return redeemed, nil
}

// Unredeem reverses the redemption recorded for the order. Reversing a code
// the order never redeemed is a no-op.
func (r *DiscountCodeRepository) Unredeem(ctx context.Context, code string, orderID string) error {
	if r == nil || r.provider == nil {
		return errors.New("discount repository not initialised")
	}
	code = normaliseCode(code)
	orderID = strings.TrimSpace(orderID)
	if code == "" || orderID == "" {
		return repositories.NewDiscountError(repositories.DiscountErrorInvalidInput, "code and order id are required", nil)
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getByCodeForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(doc.data.UsedBy, func(u discountRedemptionDocument) bool { return u.OrderID == orderID })
		if idx < 0 {
			return nil
		}
		doc.data.UsedBy = slices.Delete(doc.data.UsedBy, idx, idx+1)
		if doc.data.UsedCount > 0 {
			doc.data.UsedCount--
		}
		doc.data.UpdatedAt = time.Now().UTC()

		return tx.Set(ref, doc.data)
	})
	if err != nil {
		return wrapDiscountError("discounts.unredeem", err)
	}
	return nil
}

type discountCodeSnapshot struct {
	id   string
	data discountCodeDocument
}

// getByCodeForUpdate resolves the document ref outside the transactional read
// set, then re-reads it through the transaction so concurrent redemptions
// serialise on the document.
func (r *DiscountCodeRepository) getByCodeForUpdate(ctx context.Context, tx *firestore.Transaction, code string) (*firestore.DocumentRef, discountCodeSnapshot, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, discountCodeSnapshot{}, err
	}

	query := client.Collection(discountCodesCollection).Query.Where("code", "==", code).Limit(1)
	iter := tx.Documents(query)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, discountCodeSnapshot{}, repositories.NewDiscountError(repositories.DiscountErrorNotFound,
			fmt.Sprintf("discount code %s not found", code), nil)
	}
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, discountCodeSnapshot{}, repositories.NewDiscountError(repositories.DiscountErrorNotFound,
				fmt.Sprintf("discount code %s not found", code), err)
		}
		return nil, discountCodeSnapshot{}, err
	}

	var doc discountCodeDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, discountCodeSnapshot{}, fmt.Errorf("decode discount code %s: %w", code, err)
	}
	return snap.Ref, discountCodeSnapshot{id: snap.Ref.ID, data: doc}, nil
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func wrapDiscountError(op string, err error) error {
	if err == nil {
		return nil
	}
	var discountErr *repositories.DiscountError
	if errors.As(err, &discountErr) {
		if discountErr.Op == "" {
			discountErr.Op = op
		}
		return discountErr
	}
	return pfirestore.WrapError(op, err)
}

// Document structures --------------------------------------------------------

type discountCodeDocument struct {
	Code              string                       `firestore:"code"`
	Type              string                       `firestore:"type"`
	Value             int64                        `firestore:"value"`
	MaxDiscountAmount int64                        `firestore:"maxDiscountAmount"`
	MinOrderAmount    int64                        `firestore:"minOrderAmount"`
	UsageLimit        int                          `firestore:"usageLimit"`
	UsedCount         int                          `firestore:"usedCount"`
	UsedBy            []discountRedemptionDocument `firestore:"usedBy"`
	IsActive          bool                         `firestore:"isActive"`
	StartsAt          *time.Time                   `firestore:"startsAt,omitempty"`
	ExpiresAt         *time.Time                   `firestore:"expiresAt,omitempty"`
	CreatedAt         time.Time                    `firestore:"createdAt"`
	UpdatedAt         time.Time                    `firestore:"updatedAt"`
}

type discountRedemptionDocument struct {
	UserID  string    `firestore:"userId"`
	OrderID string    `firestore:"orderId"`
	UsedAt  time.Time `firestore:"usedAt"`
}

func (d discountCodeDocument) toDomain(id string) domain.DiscountCode {
	usedBy := make([]domain.DiscountRedemption, 0, len(d.UsedBy))
	for _, u := range d.UsedBy {
		usedBy = append(usedBy, domain.DiscountRedemption{UserID: u.UserID, OrderID: u.OrderID, UsedAt: u.UsedAt})
	}
	return domain.DiscountCode{
		ID:                id,
		Code:              d.Code,
		Type:              domain.DiscountType(d.Type),
		Value:             d.Value,
		MaxDiscountAmount: d.MaxDiscountAmount,
		MinOrderAmount:    d.MinOrderAmount,
		UsageLimit:        d.UsageLimit,
		UsedCount:         d.UsedCount,
		UsedBy:            usedBy,
		IsActive:          d.IsActive,
		StartsAt:          d.StartsAt,
		ExpiresAt:         d.ExpiresAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}
