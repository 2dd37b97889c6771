package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput signals missing items or non-positive quantities.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingProductNotFound indicates a requested product is missing or inactive.
	ErrPricingProductNotFound = errors.New("pricing: product not found")
	// ErrPricingVariantNotFound indicates no matching active variant exists.
	ErrPricingVariantNotFound = errors.New("pricing: variant not found")
)

// PricingConfig holds the tax and shipping knobs applied to every quote.
type PricingConfig struct {
	// TaxRatePercent is applied to the item subtotal.
	TaxRatePercent int64
	// FreeShippingThreshold waives the shipping fee for subtotals at or above it.
	FreeShippingThreshold int64
	// ShippingFlatFee is charged below the free shipping threshold.
	ShippingFlatFee int64
}

// PricingServiceDeps bundles collaborators for the pricing service.
type PricingServiceDeps struct {
	Products  repositories.ProductRepository
	Discounts DiscountService
	Loyalty   LoyaltyService
	Config    PricingConfig
}

type pricingService struct {
	products  repositories.ProductRepository
	discounts DiscountService
	loyalty   LoyaltyService
	cfg       PricingConfig
}

// NewPricingService wires a PricingService over the catalog and the discount
// and loyalty collaborators.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Products == nil {
		return nil, errors.New("pricing service: product repository is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("pricing service: discount service is required")
	}
	if deps.Loyalty == nil {
		return nil, errors.New("pricing service: loyalty service is required")
	}
	if deps.Config.TaxRatePercent < 0 || deps.Config.TaxRatePercent > 100 {
		return nil, errors.New("pricing service: tax rate must be between 0 and 100")
	}
	if deps.Config.ShippingFlatFee < 0 || deps.Config.FreeShippingThreshold < 0 {
		return nil, errors.New("pricing service: shipping fees cannot be negative")
	}
	return &pricingService{
		products:  deps.Products,
		discounts: deps.Discounts,
		loyalty:   deps.Loyalty,
		cfg:       deps.Config,
	}, nil
}

func (s *pricingService) PriceCart(ctx context.Context, cmd PriceCartCommand) (CartQuote, error) {
	if len(cmd.Items) == 0 {
		return CartQuote{}, fmt.Errorf("%w: cart must contain at least one item", ErrPricingInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CartQuote{}, fmt.Errorf("%w: user id is required", ErrPricingInvalidInput)
	}

	items, subtotal, err := s.resolveItems(ctx, cmd.Items)
	if err != nil {
		return CartQuote{}, err
	}

	amounts := domain.OrderAmounts{Subtotal: subtotal}
	amounts.Tax = subtotal * s.cfg.TaxRatePercent / 100
	if subtotal < s.cfg.FreeShippingThreshold {
		amounts.ShippingFee = s.cfg.ShippingFlatFee
	}

	quote := CartQuote{Items: items, Amounts: amounts}

	if code := strings.TrimSpace(cmd.DiscountCode); code != "" {
		discount, err := s.discounts.Validate(ctx, ValidateDiscountCommand{
			Code:     code,
			UserID:   userID,
			Subtotal: subtotal,
		})
		if err != nil {
			return CartQuote{}, err
		}
		quote.Discount = &discount
		quote.Amounts.Discount = discount.Amount
	}

	payable := quote.Amounts.Subtotal + quote.Amounts.ShippingFee + quote.Amounts.Tax - quote.Amounts.Discount
	if payable < 0 {
		payable = 0
	}

	if cmd.PointsUsed > 0 {
		loyalty, err := s.loyalty.Quote(ctx, userID, cmd.PointsUsed, payable)
		if err != nil {
			return CartQuote{}, err
		}
		quote.Loyalty = loyalty
		quote.Amounts.LoyaltyDiscount = loyalty.Discount
	}

	total := payable - quote.Amounts.LoyaltyDiscount
	if total < 0 {
		total = 0
	}
	quote.Amounts.Total = total
	quote.Loyalty.PointsEarned = s.loyalty.EarnedPoints(total)

	return quote, nil
}

func (s *pricingService) resolveItems(ctx context.Context, inputs []CartItemInput) ([]OrderItem, int64, error) {
	items := make([]OrderItem, 0, len(inputs))
	var subtotal int64

	for _, input := range inputs {
		productID := strings.TrimSpace(input.ProductID)
		if productID == "" {
			return nil, 0, fmt.Errorf("%w: product id is required", ErrPricingInvalidInput)
		}
		if input.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: quantity must be positive for product %s", ErrPricingInvalidInput, productID)
		}

		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			return nil, 0, s.mapRepositoryError(productID, err)
		}
		if !product.IsActive {
			return nil, 0, fmt.Errorf("%w: %s", ErrPricingProductNotFound, productID)
		}

		variant, err := pickVariant(product, strings.TrimSpace(input.VariantID))
		if err != nil {
			return nil, 0, err
		}

		unitPrice := product.BasePrice
		variantID := ""
		variantName := ""
		if variant != nil {
			unitPrice += variant.PriceAdjustment
			variantID = variant.ID
			variantName = variant.Name
		}
		if product.DiscountPercent > 0 {
			unitPrice -= unitPrice * int64(product.DiscountPercent) / 100
		}
		if unitPrice < 0 {
			unitPrice = 0
		}

		quantity := int64(input.Quantity)
		if unitPrice > 0 && unitPrice > math.MaxInt64/quantity {
			return nil, 0, fmt.Errorf("%w: line total overflow for product %s", ErrPricingInvalidInput, productID)
		}
		lineTotal := unitPrice * quantity
		if subtotal > math.MaxInt64-lineTotal {
			return nil, 0, fmt.Errorf("%w: cart subtotal overflow", ErrPricingInvalidInput)
		}
		subtotal += lineTotal

		items = append(items, domain.OrderItem{
			ProductID:   product.ID,
			VariantID:   variantID,
			Name:        product.Name,
			VariantName: variantName,
			Quantity:    input.Quantity,
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
	}

	return items, subtotal, nil
}

// pickVariant resolves the variant priced into the line. Products without
// variants sell at base price; when the caller does not choose a variant the
// first active one is used.
func pickVariant(product domain.Product, variantID string) (*domain.ProductVariant, error) {
	if len(product.Variants) == 0 {
		if variantID != "" {
			return nil, fmt.Errorf("%w: product %s has no variants", ErrPricingVariantNotFound, product.ID)
		}
		return nil, nil
	}

	if variantID != "" {
		for i := range product.Variants {
			if product.Variants[i].ID == variantID && product.Variants[i].IsActive {
				return &product.Variants[i], nil
			}
		}
		return nil, fmt.Errorf("%w: %s on product %s", ErrPricingVariantNotFound, variantID, product.ID)
	}

	for i := range product.Variants {
		if product.Variants[i].IsActive {
			return &product.Variants[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no active variant on product %s", ErrPricingVariantNotFound, product.ID)
}

func (s *pricingService) mapRepositoryError(productID string, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrPricingProductNotFound, productID)
	}
	return err
}
