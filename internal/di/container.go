package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/industrywaala/fulfillment/internal/carrier"
	"github.com/industrywaala/fulfillment/internal/invoices"
	"github.com/industrywaala/fulfillment/internal/notifications"
	"github.com/industrywaala/fulfillment/internal/payments"
	"github.com/industrywaala/fulfillment/internal/platform/config"
	"github.com/industrywaala/fulfillment/internal/platform/observability"
	"github.com/industrywaala/fulfillment/internal/repositories"
	"github.com/industrywaala/fulfillment/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders      services.OrderService
	Fulfillment services.FulfillmentService
	Shipping    services.ShippingService
	System      services.SystemService
}

// ContainerDeps carries the process-level collaborators the container does not
// build itself: the repository registry plus anything backed by a cloud client
// that main owns and closes.
type ContainerDeps struct {
	Registry repositories.Registry
	// Events receives order lifecycle events. Nil disables publishing.
	Events services.OrderEventPublisher
	// Uploader stores rendered invoice PDFs.
	Uploader invoices.Uploader
	// Logger is the process logger used when no request-scoped logger is
	// present. Nil degrades service event logging to a no-op.
	Logger *zap.Logger
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Reconciler   *services.Reconciler

	// CarrierTokens is the shared carrier credential source, exposed for the
	// operator token refresh endpoint.
	CarrierTokens *carrier.TokenSource
}

// NewContainer constructs the runtime dependencies. Production wiring supplies
// Firestore-backed repositories; tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	carrierClient, carrierTokens, err := buildCarrierClient(cfg.Carrier, deps.Registry, deps.Logger)
	if err != nil {
		return nil, err
	}

	svc, reconciler, err := buildServices(ctx, cfg, deps, carrierClient)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:        cfg,
		Repositories:  deps.Registry,
		Services:      svc,
		Reconciler:    reconciler,
		CarrierTokens: carrierTokens,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, cfg config.Config, deps ContainerDeps, carrierClient *carrier.Client) (Services, *services.Reconciler, error) {
	var svc Services
	reg := deps.Registry
	eventLog := observability.NewEventLogger(deps.Logger)

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
		})
		if err != nil {
			return Services{}, nil, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:            reg.Orders(),
		UnprocessedOrders: reg.UnprocessedOrders(),
		Counters:          reg.Counters(),
		UnitOfWork:        reg,
		Events:            deps.Events,
		Clock:             time.Now,
		Logger:            eventLog,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	gateway, err := buildPaymentGateway(cfg, eventLog)
	if err != nil {
		return Services{}, nil, err
	}

	invoiceGen, err := invoices.NewGenerator(invoices.GeneratorDeps{
		Uploader: deps.Uploader,
		Logger:   invoices.Logger(eventLog),
		Clock:    time.Now,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build invoice generator: %w", err)
	}

	mailer, err := buildMailer(cfg, eventLog)
	if err != nil {
		return Services{}, nil, err
	}

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Records:           orderSvc,
		Orders:            reg.Orders(),
		UnprocessedOrders: reg.UnprocessedOrders(),
		Products:          reg.Products(),
		UnitOfWork:        reg,
		Carrier:           carrierClient,
		Payments:          gateway,
		Invoices:          invoiceGen,
		Mailer:            mailer,
		Users:             reg.Users(),
		Events:            deps.Events,
		Features: services.Features{
			AssignCourier:    cfg.Features.AssignCourier,
			PreferredCourier: cfg.Carrier.PreferredCourier,
		},
		Booking: services.BookingDefaults{
			PickupLocation: cfg.Carrier.PickupLocation,
		},
		Clock:  time.Now,
		Logger: eventLog,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	shippingSvc, err := services.NewShippingService(services.ShippingServiceDeps{
		Orders:   reg.Orders(),
		Carrier:  carrierClient,
		Payments: gateway,
		Events:   deps.Events,
		Booking: services.BookingDefaults{
			PickupLocation: cfg.Carrier.PickupLocation,
		},
		Clock:  time.Now,
		Logger: eventLog,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build shipping service: %w", err)
	}
	svc.Shipping = shippingSvc

	reconciler, err := services.NewReconciler(services.ReconcilerDeps{
		Orders:      reg.Orders(),
		Fulfillment: fulfillmentSvc,
		Config: services.ReconciliationConfig{
			Interval:   cfg.Reconciliation.Interval,
			StaleAfter: cfg.Reconciliation.MaxAge,
			BatchSize:  cfg.Reconciliation.BatchSize,
		},
		Clock:  time.Now,
		Logger: eventLog,
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build reconciler: %w", err)
	}

	return svc, reconciler, nil
}

func buildCarrierClient(cfg config.CarrierConfig, reg repositories.Registry, logger *zap.Logger) (*carrier.Client, *carrier.TokenSource, error) {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	if cfg.RequestTimeout <= 0 {
		httpClient = nil
	}

	tokens, err := carrier.NewTokenSource(carrier.TokenSourceDeps{
		BaseURL:  cfg.BaseURL,
		Email:    cfg.Email,
		Password: cfg.Password,
		TTL:      cfg.TokenTTL,
		Client:   httpClient,
		Tokens:   reg.CarrierTokens(),
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build carrier token source: %w", err)
	}

	client, err := carrier.NewClient(carrier.ClientDeps{
		BaseURL:   cfg.BaseURL,
		ChannelID: cfg.ChannelID,
		Client:    httpClient,
		Tokens:    tokens,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build carrier client: %w", err)
	}
	return client, tokens, nil
}

func buildPaymentGateway(cfg config.Config, eventLog func(context.Context, string, map[string]any)) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider, 2)

	phonepe, err := payments.NewPhonePeProvider(payments.PhonePeConfig{
		BaseURL:     cfg.PhonePe.BaseURL,
		MerchantID:  cfg.PhonePe.MerchantID,
		SaltKey:     cfg.PhonePe.SaltKey,
		SaltIndex:   cfg.PhonePe.SaltIndex,
		RedirectURL: cfg.PhonePe.RedirectURL,
		CallbackURL: cfg.PhonePe.CallbackURL,
		Logger:      payments.PhonePeLogger(eventLog),
	})
	if err != nil {
		return nil, fmt.Errorf("build phonepe provider: %w", err)
	}
	providers["phonepe"] = phonepe

	if cfg.Stripe.APIKey != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:     cfg.Stripe.APIKey,
			SuccessURL: cfg.PhonePe.RedirectURL,
			Logger:     payments.StripeLogger(eventLog),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers["stripe"] = stripe
	}

	manager, err := payments.NewManager(providers)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func buildMailer(cfg config.Config, eventLog func(context.Context, string, map[string]any)) (services.ConfirmationMailer, error) {
	if !cfg.Features.SendConfirmation || cfg.Email.Host == "" {
		return noopMailer{}, nil
	}

	sender, err := notifications.NewSMTPSender(notifications.SMTPSenderConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
	})
	if err != nil {
		return nil, fmt.Errorf("build smtp sender: %w", err)
	}

	mailer, err := notifications.NewMailer(notifications.MailerDeps{
		Sender:      sender,
		FromName:    "Industrywaala",
		FromAddress: cfg.Email.From,
		Logger:      notifications.Logger(eventLog),
	})
	if err != nil {
		return nil, fmt.Errorf("build mailer: %w", err)
	}
	return mailer, nil
}

// noopMailer stands in when confirmation email is disabled by configuration.
type noopMailer struct{}

func (noopMailer) SendOrderConfirmation(context.Context, services.Order) error { return nil }
