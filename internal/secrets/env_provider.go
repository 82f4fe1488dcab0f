package secrets

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// EnvProvider retrieves secrets from environment variables.
type EnvProvider struct {
	logger *slog.Logger
}

// NewEnvProvider creates a new environment variable provider.
func NewEnvProvider(logger *slog.Logger) *EnvProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvProvider{logger: logger}
}

// Name returns the provider name.
func (e *EnvProvider) Name() string {
	return "environment"
}

// Get retrieves a secret from environment variables. The key is uppercased
// and given the SENTINEL_ prefix if not already present.
func (e *EnvProvider) Get(ctx context.Context, key string) (*Secret, error) {
	envKey := normalizeEnvKey(key)

	value := os.Getenv(envKey)
	if value == "" {
		// Also try the key verbatim.
		value = os.Getenv(key)
		if value == "" {
			return nil, ErrSecretNotFound
		}
	}

	return &Secret{
		Value:    value,
		Metadata: map[string]string{"source": "environment"},
	}, nil
}

// HealthCheck always returns nil; the environment is always available.
func (e *EnvProvider) HealthCheck(ctx context.Context) error {
	return nil
}

// normalizeEnvKey converts a key to uppercase environment variable format.
// Examples:
//   - "platform_token"          -> "SENTINEL_PLATFORM_TOKEN"
//   - "platform.token"          -> "SENTINEL_PLATFORM_TOKEN"
//   - "SENTINEL_PLATFORM_TOKEN" -> "SENTINEL_PLATFORM_TOKEN"
func normalizeEnvKey(key string) string {
	upper := strings.ToUpper(key)

	normalized := strings.ReplaceAll(upper, ".", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")

	if !strings.HasPrefix(normalized, "SENTINEL_") {
		normalized = "SENTINEL_" + normalized
	}

	return normalized
}
