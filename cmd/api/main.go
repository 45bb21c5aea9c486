package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/chobo-shop/api/internal/di"
	"github.com/chobo-shop/api/internal/handlers"
	"github.com/chobo-shop/api/internal/platform/auth"
	"github.com/chobo-shop/api/internal/platform/config"
	pfirestore "github.com/chobo-shop/api/internal/platform/firestore"
	"github.com/chobo-shop/api/internal/platform/idempotency"
	"github.com/chobo-shop/api/internal/platform/jobs"
	"github.com/chobo-shop/api/internal/platform/observability"
	"github.com/chobo-shop/api/internal/platform/secrets"
	platformstorage "github.com/chobo-shop/api/internal/platform/storage"
	"github.com/chobo-shop/api/internal/repositories"
	firestoreRepo "github.com/chobo-shop/api/internal/repositories/firestore"
	"github.com/chobo-shop/api/internal/services"
)

const meterName = "github.com/chobo-shop/api"

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	meter := otel.GetMeterProvider().Meter(meterName)

	fetcher, err := newSecretFetcher(ctx, logger, meter)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	var extraChecks []repositories.DependencyCheck
	var orderEvents *jobs.PubSubOrderEventPublisher
	var pubsubClient *pubsub.Client
	if topicName := strings.TrimSpace(cfg.Jobs.OrderEventsTopic); topicName != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Jobs.PubSubProjectID, firebaseClientOptions(cfg)...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicName)
		orderEvents, err = jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		extraChecks = append(extraChecks, repositories.DependencyCheck{
			Name:    services.DependencyPubSub,
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %q not found", topicName)
				}
				return nil
			},
		})
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, extraChecks...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	infra := di.Infrastructure{
		Logger: logger.Named("services"),
		Meter:  meter,
	}
	if orderEvents != nil {
		infra.Events = orderEvents
	}
	if bucket := strings.TrimSpace(cfg.Storage.ProductImagesBucket); bucket != "" {
		signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(cfg.Storage.SignerKey))
		if err != nil {
			logger.Fatal("failed to parse storage signer key", zap.Error(err))
		}
		images, err := platformstorage.NewImageURLSigner(bucket, signer, platformstorage.WithImageURLTTL(cfg.Storage.SignedURLTTL))
		if err != nil {
			logger.Fatal("failed to initialise image url signer", zap.Error(err))
		}
		infra.Images = images
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyStore, err := idempotency.NewFirestoreStore(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyOpts := []idempotency.Option{idempotency.WithTTL(cfg.Idempotency.TTL)}
	if cfg.Idempotency.RequireKey {
		idempotencyOpts = append(idempotencyOpts, idempotency.RequireKey())
	}
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore, idempotencyOpts...)

	svc := container.Services
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Carts,
		handlers.WithCartRateLimit(cfg.Cart.MutationsPerMinute, time.Now),
	)
	catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout, idempotencyMiddleware)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	meHandlers := handlers.NewMeHandlers(authenticator, svc.Users,
		handlers.WithMeCartSessions(svc.Carts),
		handlers.WithMeSessionRevoker(firebaseVerifier),
		handlers.WithMePasswordChanger(firebaseVerifier),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo(cfg)),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(catalogHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	if svc.Carts != nil && cfg.Cart.SweepInterval > 0 {
		sweepWG.Add(1)
		go func() {
			defer sweepWG.Done()
			runCartSweeper(sweepCtx, svc.Carts, cfg.Cart.SweepInterval, logger.Named("cart"))
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("chobo-shop api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	sweepCancel()
	sweepWG.Wait()

	if orderEvents != nil {
		orderEvents.Stop()
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

// runCartSweeper evicts idle cart sessions until ctx is cancelled.
func runCartSweeper(ctx context.Context, carts interface{ Sweep(time.Time) int }, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if evicted := carts.Sweep(now); evicted > 0 {
				logger.Info("evicted idle cart sessions", zap.Int("count", evicted))
			}
		}
	}
}

func buildInfo(cfg config.Config) services.BuildInfo {
	return services.BuildInfo{
		Version:     cfg.Build.Version,
		CommitSHA:   cfg.Build.CommitSHA,
		Environment: cfg.Build.Environment,
		StartedAt:   time.Now().UTC(),
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func firebaseClientOptions(cfg config.Config) []option.ClientOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// newSecretFetcher runs before config.Load, so it reads its own settings straight from the environment.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, meter metric.Meter) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithMeter(meter),
	}
	project := strings.TrimSpace(os.Getenv("API_SECRET_DEFAULT_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("API_FIREBASE_PROJECT_ID"))
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if path, ok := os.LookupEnv("API_SECRET_FALLBACK_FILE"); ok {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentials := strings.TrimSpace(os.Getenv("API_FIREBASE_CREDENTIALS_FILE")); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
