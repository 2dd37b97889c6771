package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saigonmart/api/internal/payments"
	"github.com/saigonmart/api/internal/platform/config"
	"github.com/saigonmart/api/internal/platform/observability"
	"github.com/saigonmart/api/internal/platform/requestctx"
	"github.com/saigonmart/api/internal/repositories"
	"github.com/saigonmart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing   services.PricingService
	Discounts services.DiscountService
	Loyalty   services.LoyaltyService
	Stock     services.StockService
	Orders    services.OrderService
	Checkout  services.CheckoutService
	Payments  services.PaymentService
	System    services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerOption customises container construction.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	events services.OrderEventPublisher
	logger *zap.Logger
	clock  func() time.Time
	build  services.BuildInfo
}

// WithOrderEventPublisher wires the publisher used for order lifecycle events.
func WithOrderEventPublisher(events services.OrderEventPublisher) ContainerOption {
	return func(cfg *containerConfig) {
		cfg.events = events
	}
}

// WithLogger attaches a structured logger used by service-level event logging.
func WithLogger(logger *zap.Logger) ContainerOption {
	return func(cfg *containerConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the container clock, primarily for tests.
func WithClock(clock func() time.Time) ContainerOption {
	return func(cfg *containerConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithBuildInfo attaches build metadata surfaced by health endpoints.
func WithBuildInfo(build services.BuildInfo) ContainerOption {
	return func(cfg *containerConfig) {
		cfg.build = build
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore-backed registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	ccfg := containerConfig{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&ccfg)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, ccfg)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, ccfg containerConfig) (Services, error) {
	var svc Services

	eventLogger := serviceEventLogger(ccfg.logger)

	discountSvc, err := services.NewDiscountService(services.DiscountServiceDeps{
		Discounts: reg.DiscountCodes(),
		Clock:     ccfg.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount service: %w", err)
	}
	svc.Discounts = discountSvc

	loyaltySvc, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{
		Users: reg.Users(),
		Config: services.LoyaltyConfig{
			PointValue: cfg.Loyalty.PointValue,
			EarnAmount: cfg.Loyalty.EarnAmount,
		},
		Logger: eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build loyalty service: %w", err)
	}
	svc.Loyalty = loyaltySvc

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Products: reg.Products(),
		Logger:   eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock service: %w", err)
	}
	svc.Stock = stockSvc

	pricingSvc, err := services.NewPricingService(services.PricingServiceDeps{
		Products:  reg.Products(),
		Discounts: discountSvc,
		Loyalty:   loyaltySvc,
		Config: services.PricingConfig{
			TaxRatePercent:        cfg.Pricing.TaxRatePercent,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
			ShippingFlatFee:       cfg.Pricing.ShippingFlatFee,
		},
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}
	svc.Pricing = pricingSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:  reg.Orders(),
		Stock:   stockSvc,
		Loyalty: loyaltySvc,
		Clock:   ccfg.clock,
		Events:  ccfg.events,
		Logger:  eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:   reg.Orders(),
		Counters: reg.Counters(),
		Pricing:  pricingSvc,
		Discount: discountSvc,
		Loyalty:  loyaltySvc,
		Stock:    stockSvc,
		Clock:    ccfg.clock,
		Events:   ccfg.events,
		Logger:   eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	gateway, err := payments.NewGateway(payments.GatewayConfig{
		Endpoint:   cfg.Gateway.Endpoint,
		TmnCode:    cfg.Gateway.TmnCode,
		HashSecret: cfg.Gateway.HashSecret,
		ReturnURL:  cfg.Gateway.ReturnURL,
		Locale:     cfg.Gateway.Locale,
		OrderType:  cfg.Gateway.OrderType,
		Expiry:     cfg.Gateway.Expiry,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment gateway: %w", err)
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:  reg.Orders(),
		Gateway: gateway,
		Clock:   ccfg.clock,
		Events:  ccfg.events,
		Logger:  eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            ccfg.clock,
			Build:            ccfg.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

func serviceEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		return nil
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		log := logger
		if ctxLogger := observability.FromContext(ctx); ctxLogger != nil && ctxLogger != requestctx.NoopLogger() {
			log = ctxLogger
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		log.Info(event, zapFields...)
	}
}
