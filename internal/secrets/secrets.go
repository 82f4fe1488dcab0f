// Package secrets resolves sensitive configuration values (gateway tokens,
// API keys) from environment variables or mounted secret files, with
// fallback and caching.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrSecretNotFound is returned when a secret is not found in any provider.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrNoProvider is returned when no secret providers are configured.
	ErrNoProvider = errors.New("no secret provider configured")

	// ErrNotSupported is returned for write operations on read-only providers.
	ErrNotSupported = errors.New("operation not supported by this provider")
)

// Secret represents a retrieved secret with metadata.
type Secret struct {
	Value    string
	Metadata map[string]string
}

// Provider is the interface that secret providers must implement.
type Provider interface {
	// Name returns the provider name for logging.
	Name() string

	// Get retrieves a secret by key.
	Get(ctx context.Context, key string) (*Secret, error)

	// HealthCheck verifies the provider is accessible.
	HealthCheck(ctx context.Context) error
}

// Config holds configuration for the secrets manager.
type Config struct {
	EnableEnv  bool   `yaml:"enable_env"`
	EnableFile bool   `yaml:"enable_file"`
	FileDir    string `yaml:"file_dir"`

	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the default secrets configuration.
func DefaultConfig() Config {
	return Config{
		EnableEnv:  true,
		EnableFile: false,
		FileDir:    "/etc/secrets",
		CacheTTL:   5 * time.Minute,
	}
}

// Manager manages secret providers with fallback and caching.
type Manager struct {
	providers []Provider
	cache     map[string]*cachedSecret
	cacheMu   sync.RWMutex
	cacheTTL  time.Duration
	logger    *slog.Logger
}

type cachedSecret struct {
	secret    *Secret
	fetchedAt time.Time
}

// NewManager creates a new secrets manager with the given configuration.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cache:    make(map[string]*cachedSecret),
		cacheTTL: cfg.CacheTTL,
		logger:   logger,
	}

	if cfg.EnableEnv {
		m.providers = append(m.providers, NewEnvProvider(logger))
	}
	if cfg.EnableFile {
		m.providers = append(m.providers, NewFileProvider(cfg.FileDir, logger))
	}

	if len(m.providers) == 0 {
		return nil, ErrNoProvider
	}

	return m, nil
}

// Get retrieves a secret, trying each provider in order until found.
// Results are cached for the configured TTL.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if cached := m.getFromCache(key); cached != nil {
		return cached.Value, nil
	}

	var lastErr error
	for _, provider := range m.providers {
		secret, err := provider.Get(ctx, key)
		if err == nil && secret != nil {
			m.cacheSecret(key, secret)
			m.logger.Debug("secret retrieved",
				"key", key,
				"provider", provider.Name())
			return secret.Value, nil
		}

		if err != nil && !errors.Is(err, ErrSecretNotFound) {
			m.logger.Warn("secret provider error",
				"provider", provider.Name(),
				"key", key,
				"error", err)
		}

		lastErr = err
	}

	if lastErr == nil {
		lastErr = ErrSecretNotFound
	}

	return "", fmt.Errorf("failed to get secret %q: %w", key, lastErr)
}

// GetWithDefault retrieves a secret, returning the default value if not found.
func (m *Manager) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// ResolveSecret resolves a secret reference. Supported formats:
//   - "value"          - literal value
//   - "env:VAR_NAME"   - environment variable
//   - "file:name"      - file-based secret
func (m *Manager) ResolveSecret(ctx context.Context, ref string) (string, error) {
	provider, key := ParseSecretRef(ref)
	if provider == "literal" {
		return key, nil
	}
	return m.Get(ctx, key)
}

// ParseSecretRef parses a secret reference string.
func ParseSecretRef(ref string) (provider, key string) {
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) == 1 {
		return "literal", parts[0]
	}
	return parts[0], parts[1]
}

// HealthCheck verifies all providers are accessible.
func (m *Manager) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, provider := range m.providers {
		if err := provider.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("provider health check failed: %v", errs)
	}
	return nil
}

func (m *Manager) getFromCache(key string) *Secret {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	cached, exists := m.cache[key]
	if !exists {
		return nil
	}

	if time.Since(cached.fetchedAt) > m.cacheTTL {
		return nil
	}

	return cached.secret
}

func (m *Manager) cacheSecret(key string, secret *Secret) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	m.cache[key] = &cachedSecret{
		secret:    secret,
		fetchedAt: time.Now(),
	}
}

// ClearCache clears all cached secrets.
func (m *Manager) ClearCache() {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	m.cache = make(map[string]*cachedSecret)
	m.logger.Debug("secret cache cleared")
}
