package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/chobo-shop/api/internal/platform/auth"
	"github.com/chobo-shop/api/internal/platform/config"
	"github.com/chobo-shop/api/internal/platform/observability"
	"github.com/chobo-shop/api/internal/repositories"
	"github.com/chobo-shop/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Carts    services.CartSessionManager
	Catalog  services.CatalogService
	Checkout services.CheckoutService
	Orders   services.OrderService
	Users    services.UserService
	System   services.SystemService
}

// Infrastructure carries the optional adapters built outside the repository registry.
type Infrastructure struct {
	Logger     *zap.Logger
	Meter      metric.Meter
	Images     services.ImageURLResolver
	Events     services.OrderEventPublisher
	CartNotice services.CartNotifier
	Clock      func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close stops cart sessions and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Services.Carts != nil {
		c.Services.Carts.Close()
	}
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	events := observability.EventLogger(logger)

	notifier := infra.CartNotice
	if notifier == nil {
		notifier = services.ContextNotifier{Next: services.LogNotifier{Logger: events}}
	}

	if cartRepo := reg.Carts(); cartRepo != nil {
		carts, err := services.NewCartSessions(services.CartSessionsDeps{
			Auth:                   auth.NewContextProvider(),
			Repository:             cartRepo,
			Notifier:               notifier,
			Clock:                  clock,
			Logger:                 events,
			ProvisionOnFirstAccess: cfg.Cart.ProvisionOnFirstAccess,
			IdleTTL:                cfg.Cart.SessionIdleTTL,
			MutationTimeout:        cfg.Cart.MutationTimeout,
			QueueSize:              cfg.Cart.QueueSize,
			Meter:                  infra.Meter,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart sessions: %w", err)
		}
		svc.Carts = carts
	}

	if catalogRepo := reg.Catalog(); catalogRepo != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Catalog:          catalogRepo,
			Images:           infra.Images,
			Logger:           events,
			DefaultLimit:     cfg.Catalog.DefaultLimit,
			NewArrivalsLimit: cfg.Catalog.NewArrivalsLimit,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders: ordersRepo,
			Logger: events,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if ordersRepo != nil && svc.Carts != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Carts:  svc.Carts,
			Orders: ordersRepo,
			Events: infra.Events,
			Clock:  clock,
			Logger: events,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if profiles, addresses := reg.Profiles(), reg.Addresses(); profiles != nil && addresses != nil {
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Profiles:  profiles,
			Addresses: addresses,
			Clock:     clock,
			Logger:    events,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build: services.BuildInfo{
				Version:     cfg.Build.Version,
				CommitSHA:   cfg.Build.CommitSHA,
				Environment: cfg.Build.Environment,
				StartedAt:   clock().UTC(),
			},
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
