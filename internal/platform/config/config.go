package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultRequestTimeout      = 30 * time.Second
	defaultStoreDriver         = StoreDriverMemory
	defaultPostgresMaxConns    = 10
	defaultStripeCurrency      = "zar"
	defaultStripeTimeout       = 10 * time.Second
	defaultCourierTimeout      = 5 * time.Second
	defaultCourierCacheTTL     = 10 * time.Minute
	defaultCourierRate         = 5.0
	defaultNotifyTransport     = NotificationTransportPubSub
	defaultNotifyTopic         = "notifications"
	defaultNotifyExchange      = "rebooked.notifications"
	defaultCommitWindow        = 48 * time.Hour
	defaultConfirmationWindow  = 72 * time.Hour
	defaultPayoutEligibility   = "completed"
	defaultPayoutBatchSize     = 10
	defaultPayoutMaxAttempts   = 3
	defaultPayoutStaleAfter    = 15 * time.Minute
	defaultPayoutInterval      = 5 * time.Minute
	defaultSweepInterval       = 15 * time.Minute
	defaultSweepBatchSize      = 100
	defaultSweepConcurrency    = 8
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultSecurityIAPIssuer   = "https://cloud.google.com/iap"
)

// Store drivers accepted by Store.Driver.
const (
	StoreDriverMemory    = "memory"
	StoreDriverFirestore = "firestore"
	StoreDriverPostgres  = "postgres"
)

// Notification transports accepted by Notifications.Transport.
const (
	NotificationTransportPubSub = "pubsub"
	NotificationTransportAMQP   = "amqp"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Postgres      PostgresConfig
	Store         StoreConfig
	Stripe        StripeConfig
	Courier       CourierConfig
	Notifications NotificationsConfig
	Events        EventsConfig
	Lifecycle     LifecycleConfig
	Payouts       PayoutsConfig
	Sweeper       SweeperConfig
	Security      SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	Version        string
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

// PostgresConfig configures the relational order store.
type PostgresConfig struct {
	DSN      string
	MaxConns int
	Migrate  bool
}

// StoreConfig selects the order store backend.
type StoreConfig struct {
	Driver string
}

// StripeConfig holds the money transfer gateway credentials.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Currency      string
	Timeout       time.Duration
}

// CourierProvider names one HTTP rates endpoint.
type CourierProvider struct {
	Name    string
	BaseURL string
	APIKey  string
}

// CourierConfig configures the courier quote client.
type CourierConfig struct {
	Providers     []CourierProvider
	Timeout       time.Duration
	CacheTTL      time.Duration
	RatePerSecond float64
}

// NotificationsConfig selects where rendered notifications are published.
type NotificationsConfig struct {
	Transport string
	ProjectID string
	Topic     string
	AMQPURL   string
	Exchange  string
}

// EventsConfig configures the order domain-event topic.
type EventsConfig struct {
	Topic    string
	Ordering bool
}

// LifecycleConfig controls the order state machine windows.
type LifecycleConfig struct {
	CommitWindow               time.Duration
	DeliveryConfirmationWindow time.Duration
}

// PayoutsConfig controls the payout settlement engine.
type PayoutsConfig struct {
	Eligibility string
	BatchSize   int
	MaxAttempts int
	StaleAfter  time.Duration
	Interval    time.Duration
}

// SweeperConfig controls the auto-expiry sweeper.
type SweeperConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
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

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns stable hashes of the missing secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Stripe.APIKey") that must resolve to a
// non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Lookup reads a single key with the same precedence as Load. cmd/api uses it to find the
// Secret Manager project before the resolver exists.
func Lookup(key string, opts ...Option) (string, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return value, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			Version:        stringWithDefault(lookup, "API_VERSION", "dev"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:      stringWithDefault(lookup, "API_POSTGRES_DSN", ""),
			MaxConns: intWithDefault(lookup, "API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			Migrate:  boolWithDefault(lookup, "API_POSTGRES_MIGRATE", false),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_STORE_DRIVER", defaultStoreDriver)),
		},
		Stripe: StripeConfig{
			APIKey:        stringWithDefault(lookup, "API_STRIPE_API_KEY", ""),
			WebhookSecret: stringWithDefault(lookup, "API_STRIPE_WEBHOOK_SECRET", ""),
			Currency:      strings.ToLower(stringWithDefault(lookup, "API_STRIPE_CURRENCY", defaultStripeCurrency)),
			Timeout:       durationWithDefault(lookup, "API_STRIPE_TIMEOUT", defaultStripeTimeout),
		},
		Courier: CourierConfig{
			Providers:     courierProviders(mapWithDefault(lookup, "API_COURIER_PROVIDERS"), mapWithDefault(lookup, "API_COURIER_API_KEYS")),
			Timeout:       durationWithDefault(lookup, "API_COURIER_TIMEOUT", defaultCourierTimeout),
			CacheTTL:      durationWithDefault(lookup, "API_COURIER_CACHE_TTL", defaultCourierCacheTTL),
			RatePerSecond: floatWithDefault(lookup, "API_COURIER_RATE_PER_SECOND", defaultCourierRate),
		},
		Notifications: NotificationsConfig{
			Transport: strings.ToLower(stringWithDefault(lookup, "API_NOTIFICATIONS_TRANSPORT", defaultNotifyTransport)),
			ProjectID: stringWithDefault(lookup, "API_NOTIFICATIONS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "API_NOTIFICATIONS_TOPIC", defaultNotifyTopic),
			AMQPURL:   stringWithDefault(lookup, "API_NOTIFICATIONS_AMQP_URL", ""),
			Exchange:  stringWithDefault(lookup, "API_NOTIFICATIONS_EXCHANGE", defaultNotifyExchange),
		},
		Events: EventsConfig{
			Topic:    stringWithDefault(lookup, "API_ORDER_EVENTS_TOPIC", ""),
			Ordering: boolWithDefault(lookup, "API_ORDER_EVENTS_ORDERING", true),
		},
		Lifecycle: LifecycleConfig{
			CommitWindow:               durationWithDefault(lookup, "API_LIFECYCLE_COMMIT_WINDOW", defaultCommitWindow),
			DeliveryConfirmationWindow: durationWithDefault(lookup, "API_LIFECYCLE_DELIVERY_CONFIRMATION_WINDOW", defaultConfirmationWindow),
		},
		Payouts: PayoutsConfig{
			Eligibility: strings.ToLower(stringWithDefault(lookup, "API_PAYOUTS_ELIGIBILITY", defaultPayoutEligibility)),
			BatchSize:   intWithDefault(lookup, "API_PAYOUTS_BATCH_SIZE", defaultPayoutBatchSize),
			MaxAttempts: intWithDefault(lookup, "API_PAYOUTS_MAX_ATTEMPTS", defaultPayoutMaxAttempts),
			StaleAfter:  durationWithDefault(lookup, "API_PAYOUTS_STALE_AFTER", defaultPayoutStaleAfter),
			Interval:    durationWithDefault(lookup, "API_PAYOUTS_INTERVAL", defaultPayoutInterval),
		},
		Sweeper: SweeperConfig{
			Interval:    durationWithDefault(lookup, "API_SWEEPER_INTERVAL", defaultSweepInterval),
			BatchSize:   intWithDefault(lookup, "API_SWEEPER_BATCH_SIZE", defaultSweepBatchSize),
			Concurrency: intWithDefault(lookup, "API_SWEEPER_CONCURRENCY", defaultSweepConcurrency),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
	}

	// Firestore project defaults to Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Notifications.ProjectID == "" {
		cfg.Notifications.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Stripe.APIKey", &cfg.Stripe.APIKey},
		{"Stripe.WebhookSecret", &cfg.Stripe.WebhookSecret},
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Notifications.AMQPURL", &cfg.Notifications.AMQPURL},
	}
	for i := range cfg.Courier.Providers {
		provider := &cfg.Courier.Providers[i]
		secretFields = append(secretFields, struct {
			name  string
			field *string
		}{fmt.Sprintf("Courier.Providers[%s].APIKey", provider.Name), &provider.APIKey})
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// lookupFunc applies precedence explicit map > process env > .env file.
func (o loaderOptions) lookupFunc() (func(string) (string, bool), error) {
	dotEnv, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
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
	if cfg.Server.RequestTimeout <= 0 {
		missing = append(missing, "Server.RequestTimeout")
	}
	switch cfg.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreDriverPostgres:
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			missing = append(missing, "Postgres.DSN")
		}
	default:
		missing = append(missing, "Store.Driver")
	}
	switch cfg.Notifications.Transport {
	case NotificationTransportPubSub:
	case NotificationTransportAMQP:
		if strings.TrimSpace(cfg.Notifications.AMQPURL) == "" {
			missing = append(missing, "Notifications.AMQPURL")
		}
	default:
		missing = append(missing, "Notifications.Transport")
	}
	switch cfg.Payouts.Eligibility {
	case "completed", "delivered", "collected_held":
	default:
		missing = append(missing, "Payouts.Eligibility")
	}
	if cfg.Lifecycle.CommitWindow <= 0 {
		missing = append(missing, "Lifecycle.CommitWindow")
	}
	if cfg.Lifecycle.DeliveryConfirmationWindow <= 0 {
		missing = append(missing, "Lifecycle.DeliveryConfirmationWindow")
	}
	if cfg.Payouts.BatchSize <= 0 {
		missing = append(missing, "Payouts.BatchSize")
	}
	if cfg.Payouts.MaxAttempts <= 0 {
		missing = append(missing, "Payouts.MaxAttempts")
	}
	if cfg.Payouts.Interval <= 0 {
		missing = append(missing, "Payouts.Interval")
	}
	if cfg.Sweeper.Interval <= 0 {
		missing = append(missing, "Sweeper.Interval")
	}
	if cfg.Sweeper.BatchSize <= 0 {
		missing = append(missing, "Sweeper.BatchSize")
	}
	if cfg.Courier.RatePerSecond <= 0 {
		missing = append(missing, "Courier.RatePerSecond")
	}
	for _, provider := range cfg.Courier.Providers {
		if provider.BaseURL == "" {
			missing = append(missing, fmt.Sprintf("Courier.Providers[%s].BaseURL", provider.Name))
		}
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var missing []string
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] == "" {
			missing = append(missing, trimmed)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func courierProviders(urls, keys map[string]string) []CourierProvider {
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]CourierProvider, 0, len(names))
	for _, name := range names {
		out = append(out, CourierProvider{
			Name:    name,
			BaseURL: strings.TrimRight(urls[name], "/"),
			APIKey:  keys[name],
		})
	}
	return out
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

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// mapWithDefault parses "name=value,name=value"; names are lowercased.
func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
