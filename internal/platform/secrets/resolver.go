package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 15 * time.Minute
	meterName           = "github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/secrets"
)

var clientFactory = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver resolves secret://name[?version=N&project=P] references against Secret Manager.
// Values are cached for a TTL; references that cannot reach Secret Manager fall back to a local
// dotenv file keyed by the upper-cased secret name.
type Resolver struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger
	cache      *gocache.Cache

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	fetches metric.Int64Counter
}

// Config configures a Resolver.
type Config struct {
	ProjectID    string
	FallbackFile string
	CacheTTL     time.Duration
	Logger       *zap.Logger
	Meter        metric.Meter
	Client       secretManagerClient
	ClientOpts   []option.ClientOption
}

// NewResolver builds a Resolver. A Secret Manager client that cannot be created leaves the
// resolver in fallback-only mode.
func NewResolver(ctx context.Context, cfg Config) (*Resolver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	fetches, err := meter.Int64Counter("secrets.fetch", metric.WithDescription("Secret resolutions by source"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register metric: %w", err)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	fallbackPath := strings.TrimSpace(cfg.FallbackFile)
	if fallbackPath == "" {
		fallbackPath = defaultFallbackPath
	}

	r := &Resolver{
		projectID:    strings.TrimSpace(cfg.ProjectID),
		logger:       logger,
		cache:        gocache.New(ttl, 2*ttl),
		fallbackPath: fallbackPath,
		fetches:      fetches,
	}
	switch {
	case cfg.Client != nil:
		r.client = cfg.Client
	case r.projectID != "":
		client, err := clientFactory(ctx, cfg.ClientOpts...)
		if err != nil {
			logger.Warn("secrets: secret manager client unavailable; using local fallback", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.canonical + "#" + parsed.version
	if value, ok := r.cache.Get(key); ok {
		r.record(ctx, "cache")
		return value.(string), nil
	}

	project := parsed.project
	if project == "" {
		project = r.projectID
	}
	if r.client != nil && project != "" {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, parsed.secret, parsed.version)
		resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil && resp.GetPayload() != nil:
			value := strings.TrimSpace(string(resp.GetPayload().GetData()))
			r.cache.SetDefault(key, value)
			r.record(ctx, "remote")
			return value, nil
		case err == nil:
			return "", fmt.Errorf("secrets: empty payload for %s", parsed.canonical)
		case !isFallbackError(err):
			r.record(ctx, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.canonical, err)
		}
		r.logger.Debug("secrets: falling back to local secrets", zap.String("ref", parsed.canonical), zap.Error(err))
	}

	value, ok := r.lookupFallback(parsed)
	if !ok {
		r.record(ctx, "error")
		return "", fmt.Errorf("secrets: no value for %s", parsed.canonical)
	}
	r.cache.SetDefault(key, value)
	r.record(ctx, "fallback")
	return value, nil
}

// Invalidate drops cached values so the next resolution refetches.
func (r *Resolver) Invalidate() {
	r.cache.Flush()
}

func (r *Resolver) record(ctx context.Context, source string) {
	r.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (r *Resolver) lookupFallback(ref parsedReference) (string, bool) {
	r.fallbackOnce.Do(func() {
		r.fallback = map[string]string{}
		if _, err := os.Stat(r.fallbackPath); errors.Is(err, os.ErrNotExist) {
			return
		}
		values, err := godotenv.Read(r.fallbackPath)
		if err != nil {
			r.logger.Warn("secrets: unable to read fallback file", zap.String("path", r.fallbackPath), zap.Error(err))
			return
		}
		r.fallback = values
	})
	value, ok := r.fallback[fallbackKey(ref.secret)]
	return value, ok
}

// fallbackKey maps a secret name to its key in the fallback file: stripe-api-key becomes
// STRIPE_API_KEY.
func fallbackKey(secret string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(secret))
}

type parsedReference struct {
	canonical string
	secret    string
	version   string
	project   string
}

func parseReference(ref string) (parsedReference, error) {
	trimmed := strings.TrimSpace(ref)
	if strings.HasPrefix(trimmed, "sm://") {
		trimmed = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	if trimmed == "" {
		return parsedReference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return parsedReference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return parsedReference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(u.Host+u.Path, "/")
	if secret == "" {
		return parsedReference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	// Secret Manager names cannot contain slashes; nested references map to dashes.
	secret = strings.ReplaceAll(secret, "/", "-")

	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""
	return parsedReference{
		canonical: canonical.String(),
		secret:    secret,
		version:   version,
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	default:
		return false
	}
}
