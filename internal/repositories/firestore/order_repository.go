package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
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

const ordersCollection = "orders"

// OrderRepository persists order aggregates in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert creates the order document, failing when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return errors.New("order insert: order number is required")
	}

	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order update: id is required")
	}

	if _, err := r.orders.Set(ctx, order.ID, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID loads an order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByOrderNumber resolves an order through its human-facing number. Order
// numbers are unique; the first match wins.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order find: order number is required")
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", orderNumber).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber",
			status.Errorf(codes.NotFound, "order %s not found", orderNumber))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListByUser pages through a user's orders newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order list: user id is required")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query.Where("userId", "==", userID)
	if len(filter.Status) > 0 {
		query = query.Where("status", "in", statusFilterValues(filter.Status))
	}
	if filter.CreatedAfter != nil {
		query = query.Where("createdAt", ">", filter.CreatedAfter.UTC())
	}
	if filter.CreatedBefore != nil {
		query = query.Where("createdAt", "<", filter.CreatedBefore.UTC())
	}
	query = query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

func statusFilterValues(statuses []string) []string {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// Document structures --------------------------------------------------------

type orderDocument struct {
	OrderNumber   string                  `firestore:"orderNumber"`
	UserID        string                  `firestore:"userId"`
	Status        string                  `firestore:"status"`
	Items         []orderItemDocument     `firestore:"items"`
	Amounts       orderAmountsDocument    `firestore:"amounts"`
	DiscountCode  *string                 `firestore:"discountCode,omitempty"`
	PointsUsed    int                     `firestore:"pointsUsed"`
	PointsEarned  int                     `firestore:"pointsEarned"`
	Payment       paymentInfoDocument     `firestore:"payment"`
	Shipping      shippingInfoDocument    `firestore:"shipping"`
	StatusHistory []statusHistoryDocument `firestore:"statusHistory"`
	Metadata      map[string]any          `firestore:"metadata,omitempty"`
	CreatedAt     time.Time               `firestore:"createdAt"`
	UpdatedAt     time.Time               `firestore:"updatedAt"`
	PaidAt        *time.Time              `firestore:"paidAt,omitempty"`
	DeliveredAt   *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt   *time.Time              `firestore:"cancelledAt,omitempty"`
	CancelReason  *string                 `firestore:"cancelReason,omitempty"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	VariantID   string `firestore:"variantId,omitempty"`
	Name        string `firestore:"name"`
	VariantName string `firestore:"variantName,omitempty"`
	Quantity    int    `firestore:"qty"`
	UnitPrice   int64  `firestore:"unitPrice"`
	LineTotal   int64  `firestore:"lineTotal"`
}

type orderAmountsDocument struct {
	Subtotal        int64 `firestore:"subtotal"`
	ShippingFee     int64 `firestore:"shippingFee"`
	Tax             int64 `firestore:"tax"`
	Discount        int64 `firestore:"discount"`
	LoyaltyDiscount int64 `firestore:"loyaltyDiscount"`
	Total           int64 `firestore:"total"`
}

type paymentInfoDocument struct {
	Method        string     `firestore:"method"`
	Status        string     `firestore:"status"`
	TransactionNo string     `firestore:"transactionNo,omitempty"`
	BankCode      string     `firestore:"bankCode,omitempty"`
	ResponseCode  string     `firestore:"responseCode,omitempty"`
	PayURL        string     `firestore:"payUrl,omitempty"`
	ExpiresAt     *time.Time `firestore:"expiresAt,omitempty"`
}

type shippingInfoDocument struct {
	Recipient string `firestore:"recipient"`
	Email     string `firestore:"email,omitempty"`
	Phone     string `firestore:"phone"`
	Line1     string `firestore:"line1"`
	Ward      string `firestore:"ward,omitempty"`
	District  string `firestore:"district,omitempty"`
	City      string `firestore:"city"`
	Note      string `firestore:"note,omitempty"`
}

type statusHistoryDocument struct {
	Status string    `firestore:"status"`
	Note   string    `firestore:"note,omitempty"`
	Actor  string    `firestore:"actor"`
	At     time.Time `firestore:"at"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID:   strings.TrimSpace(item.ProductID),
			VariantID:   strings.TrimSpace(item.VariantID),
			Name:        item.Name,
			VariantName: item.VariantName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		}
	}
	history := make([]statusHistoryDocument, len(order.StatusHistory))
	for i, entry := range order.StatusHistory {
		history[i] = statusHistoryDocument{
			Status: string(entry.Status),
			Note:   entry.Note,
			Actor:  entry.Actor,
			At:     entry.At.UTC(),
		}
	}
	return orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		Status:      string(order.Status),
		Items:       items,
		Amounts: orderAmountsDocument{
			Subtotal:        order.Amounts.Subtotal,
			ShippingFee:     order.Amounts.ShippingFee,
			Tax:             order.Amounts.Tax,
			Discount:        order.Amounts.Discount,
			LoyaltyDiscount: order.Amounts.LoyaltyDiscount,
			Total:           order.Amounts.Total,
		},
		DiscountCode: order.DiscountCode,
		PointsUsed:   order.PointsUsed,
		PointsEarned: order.PointsEarned,
		Payment: paymentInfoDocument{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			TransactionNo: order.Payment.TransactionNo,
			BankCode:      order.Payment.BankCode,
			ResponseCode:  order.Payment.ResponseCode,
			PayURL:        order.Payment.PayURL,
			ExpiresAt:     order.Payment.ExpiresAt,
		},
		Shipping: shippingInfoDocument{
			Recipient: strings.TrimSpace(order.Shipping.Recipient),
			Email:     strings.TrimSpace(order.Shipping.Email),
			Phone:     strings.TrimSpace(order.Shipping.Phone),
			Line1:     strings.TrimSpace(order.Shipping.Line1),
			Ward:      strings.TrimSpace(order.Shipping.Ward),
			District:  strings.TrimSpace(order.Shipping.District),
			City:      strings.TrimSpace(order.Shipping.City),
			Note:      order.Shipping.Note,
		},
		StatusHistory: history,
		Metadata:      order.Metadata,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		PaidAt:        order.PaidAt,
		DeliveredAt:   order.DeliveredAt,
		CancelledAt:   order.CancelledAt,
		CancelReason:  order.CancelReason,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			VariantName: item.VariantName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		}
	}
	history := make([]domain.StatusHistoryEntry, len(d.StatusHistory))
	for i, entry := range d.StatusHistory {
		history[i] = domain.StatusHistoryEntry{
			Status: domain.OrderStatus(entry.Status),
			Note:   entry.Note,
			Actor:  entry.Actor,
			At:     entry.At,
		}
	}
	return domain.Order{
		ID:           id,
		OrderNumber:  d.OrderNumber,
		UserID:       d.UserID,
		Status:       domain.OrderStatus(d.Status),
		Items:        items,
		Amounts: domain.OrderAmounts{
			Subtotal:        d.Amounts.Subtotal,
			ShippingFee:     d.Amounts.ShippingFee,
			Tax:             d.Amounts.Tax,
			Discount:        d.Amounts.Discount,
			LoyaltyDiscount: d.Amounts.LoyaltyDiscount,
			Total:           d.Amounts.Total,
		},
		DiscountCode: d.DiscountCode,
		PointsUsed:   d.PointsUsed,
		PointsEarned: d.PointsEarned,
		Payment: domain.PaymentInfo{
			Method:        domain.PaymentMethod(d.Payment.Method),
			Status:        domain.PaymentStatus(d.Payment.Status),
			TransactionNo: d.Payment.TransactionNo,
			BankCode:      d.Payment.BankCode,
			ResponseCode:  d.Payment.ResponseCode,
			PayURL:        d.Payment.PayURL,
			ExpiresAt:     d.Payment.ExpiresAt,
		},
		Shipping: domain.ShippingInfo{
			Recipient: d.Shipping.Recipient,
			Email:     d.Shipping.Email,
			Phone:     d.Shipping.Phone,
			Line1:     d.Shipping.Line1,
			Ward:      d.Shipping.Ward,
			District:  d.Shipping.District,
			City:      d.Shipping.City,
			Note:      d.Shipping.Note,
		},
		StatusHistory: history,
		Metadata:      d.Metadata,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		PaidAt:        d.PaidAt,
		DeliveredAt:   d.DeliveredAt,
		CancelledAt:   d.CancelledAt,
		CancelReason:  d.CancelReason,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return orderPageToken{}, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return orderPageToken{}, fmt.Errorf("decode order page token json: %w", err)
	}
	return token, nil
}
