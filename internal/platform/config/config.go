package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultSignedURLTTL         = 15 * time.Minute
	defaultCartIdleTTL          = 30 * time.Minute
	defaultCartSweepInterval    = 5 * time.Minute
	defaultCartMutationTimeout  = 10 * time.Second
	defaultCartQueueSize        = 32
	defaultCartMutationsPerMin  = 120
	defaultCatalogLimit         = 200
	defaultCatalogNewArrivals   = 8
	defaultCurrency             = "VND"
	defaultOrderEventsTopicName = "order-events"
	defaultIdempotencyTTL       = 24 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Cart        CartConfig
	Catalog     CatalogConfig
	Jobs        JobsConfig
	Idempotency IdempotencyConfig
	Build       BuildConfig
	Currency    string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig controls signed product image URLs. Signing is disabled when ProductImagesBucket is empty.
type StorageConfig struct {
	ProductImagesBucket string
	SignerKey           string
	SignedURLTTL        time.Duration
}

// CartConfig tunes cart sessions and their mutation queues.
type CartConfig struct {
	ProvisionOnFirstAccess bool
	SessionIdleTTL         time.Duration
	SweepInterval          time.Duration
	MutationTimeout        time.Duration
	QueueSize              int
	MutationsPerMinute     int
}

// CatalogConfig bounds product listing queries.
type CatalogConfig struct {
	DefaultLimit     int
	NewArrivalsLimit int
}

// JobsConfig configures asynchronous event publishing. Publishing is disabled when OrderEventsTopic is empty.
type JobsConfig struct {
	PubSubProjectID  string
	OrderEventsTopic string
}

// IdempotencyConfig controls replay protection on POST /checkout.
type IdempotencyConfig struct {
	TTL        time.Duration
	RequireKey bool
}

// BuildConfig carries deployment metadata reported by /healthz.
type BuildConfig struct {
	Version     string
	CommitSHA   string
	Environment string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the configuration from defaults, .env overrides, environment variables,
// and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ProductImagesBucket: stringWithDefault(lookup, "API_STORAGE_PRODUCT_IMAGES_BUCKET", ""),
			SignerKey:           stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY", ""),
			SignedURLTTL:        durationWithDefault(lookup, "API_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
		},
		Cart: CartConfig{
			ProvisionOnFirstAccess: boolWithDefault(lookup, "API_CART_PROVISION_ON_FIRST_ACCESS", true),
			SessionIdleTTL:         durationWithDefault(lookup, "API_CART_SESSION_IDLE_TTL", defaultCartIdleTTL),
			SweepInterval:          durationWithDefault(lookup, "API_CART_SWEEP_INTERVAL", defaultCartSweepInterval),
			MutationTimeout:        durationWithDefault(lookup, "API_CART_MUTATION_TIMEOUT", defaultCartMutationTimeout),
			QueueSize:              intWithDefault(lookup, "API_CART_QUEUE_SIZE", defaultCartQueueSize),
			MutationsPerMinute:     intWithDefault(lookup, "API_CART_MUTATIONS_PER_MIN", defaultCartMutationsPerMin),
		},
		Catalog: CatalogConfig{
			DefaultLimit:     intWithDefault(lookup, "API_CATALOG_DEFAULT_LIMIT", defaultCatalogLimit),
			NewArrivalsLimit: intWithDefault(lookup, "API_CATALOG_NEW_ARRIVALS_LIMIT", defaultCatalogNewArrivals),
		},
		Jobs: JobsConfig{
			PubSubProjectID:  stringWithDefault(lookup, "API_JOBS_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_JOBS_ORDER_EVENTS_TOPIC", defaultOrderEventsTopicName),
		},
		Idempotency: IdempotencyConfig{
			TTL:        durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			RequireKey: boolWithDefault(lookup, "API_IDEMPOTENCY_REQUIRE_KEY", false),
		},
		Build: BuildConfig{
			Version:     stringWithDefault(lookup, "API_BUILD_VERSION", "dev"),
			CommitSHA:   stringWithDefault(lookup, "API_BUILD_COMMIT_SHA", "unknown"),
			Environment: stringWithDefault(lookup, "API_ENVIRONMENT", "local"),
		},
		Currency: strings.ToUpper(stringWithDefault(lookup, "API_CURRENCY", defaultCurrency)),
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Jobs.PubSubProjectID == "" {
		cfg.Jobs.PubSubProjectID = cfg.Firebase.ProjectID
	}

	signerKey, err := resolveSecret(ctx, cfg.Storage.SignerKey, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Storage.SignerKey = signerKey

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Storage.ProductImagesBucket != "" && strings.TrimSpace(cfg.Storage.SignerKey) == "" {
		missing = append(missing, "Storage.SignerKey")
	}
	if cfg.Cart.SessionIdleTTL <= 0 {
		missing = append(missing, "Cart.SessionIdleTTL")
	}
	if cfg.Cart.MutationTimeout <= 0 {
		missing = append(missing, "Cart.MutationTimeout")
	}
	if cfg.Cart.QueueSize <= 0 {
		missing = append(missing, "Cart.QueueSize")
	}
	if cfg.Catalog.DefaultLimit <= 0 {
		missing = append(missing, "Catalog.DefaultLimit")
	}
	if len(cfg.Currency) != 3 {
		missing = append(missing, "Currency")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}
