package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseSecretRef(t *testing.T) {
	tests := []struct {
		ref      string
		provider string
		key      string
	}{
		{"literal-value", "literal", "literal-value"},
		{"env:PLATFORM_TOKEN", "env", "PLATFORM_TOKEN"},
		{"file:platform_token", "file", "platform_token"},
		{"", "literal", ""},
	}

	for _, tt := range tests {
		provider, key := ParseSecretRef(tt.ref)
		if provider != tt.provider || key != tt.key {
			t.Errorf("ParseSecretRef(%q) = (%q, %q), want (%q, %q)",
				tt.ref, provider, key, tt.provider, tt.key)
		}
	}
}

func TestNormalizeEnvKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"platform_token", "SENTINEL_PLATFORM_TOKEN"},
		{"platform.token", "SENTINEL_PLATFORM_TOKEN"},
		{"platform-token", "SENTINEL_PLATFORM_TOKEN"},
		{"SENTINEL_PLATFORM_TOKEN", "SENTINEL_PLATFORM_TOKEN"},
	}

	for _, tt := range tests {
		if got := normalizeEnvKey(tt.key); got != tt.want {
			t.Errorf("normalizeEnvKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestEnvProviderGet(t *testing.T) {
	t.Setenv("SENTINEL_TEST_SECRET", "s3cret")

	p := NewEnvProvider(nil)
	secret, err := p.Get(context.Background(), "test_secret")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if secret.Value != "s3cret" {
		t.Errorf("value = %q", secret.Value)
	}

	if _, err := p.Get(context.Background(), "does_not_exist_anywhere"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("error = %v, want ErrSecretNotFound", err)
	}
}

func TestEnvProviderVerbatimFallback(t *testing.T) {
	t.Setenv("PLATFORM_TOKEN", "verbatim")

	p := NewEnvProvider(nil)
	secret, err := p.Get(context.Background(), "PLATFORM_TOKEN")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if secret.Value != "verbatim" {
		t.Errorf("value = %q", secret.Value)
	}
}

func TestFileProviderGet(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "platform_token"), []byte("tok-123\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewFileProvider(dir, nil)

	secret, err := p.Get(context.Background(), "platform.token")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if secret.Value != "tok-123" {
		t.Errorf("value = %q, want trailing newline trimmed", secret.Value)
	}

	if _, err := p.Get(context.Background(), "missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("error = %v, want ErrSecretNotFound", err)
	}
}

func TestFileProviderHealthCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "secrets")
	p := NewFileProvider(dir, nil)

	// Creates the directory on first check.
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Error("directory not created")
	}
}

func TestManagerFallbackChain(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "file_only"), []byte("from-file"), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(Config{EnableEnv: true, EnableFile: true, FileDir: dir, CacheTTL: time.Minute}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	// Env wins when both could serve.
	t.Setenv("SENTINEL_BOTH", "from-env")
	if got, _ := m.Get(context.Background(), "both"); got != "from-env" {
		t.Errorf("value = %q, want env to win", got)
	}

	// Falls through to the file provider.
	if got, err := m.Get(context.Background(), "file_only"); err != nil || got != "from-file" {
		t.Errorf("value = (%q, %v), want from-file", got, err)
	}

	if _, err := m.Get(context.Background(), "nowhere"); err == nil {
		t.Error("expected error for unknown secret")
	}
}

func TestManagerCache(t *testing.T) {
	m, err := NewManager(Config{EnableEnv: true, CacheTTL: time.Minute}, nil)
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("SENTINEL_CACHED", "v1")
	if got, _ := m.Get(context.Background(), "cached"); got != "v1" {
		t.Fatalf("value = %q", got)
	}

	// Cached value survives the env change until cleared.
	t.Setenv("SENTINEL_CACHED", "v2")
	if got, _ := m.Get(context.Background(), "cached"); got != "v1" {
		t.Errorf("value = %q, want cached v1", got)
	}

	m.ClearCache()
	if got, _ := m.Get(context.Background(), "cached"); got != "v2" {
		t.Errorf("value = %q, want v2 after cache clear", got)
	}
}

func TestManagerResolveSecret(t *testing.T) {
	m, err := NewManager(Config{EnableEnv: true, CacheTTL: time.Minute}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got, _ := m.ResolveSecret(context.Background(), "plain-token"); got != "plain-token" {
		t.Errorf("literal = %q", got)
	}

	t.Setenv("SENTINEL_RESOLVED", "via-env")
	if got, err := m.ResolveSecret(context.Background(), "env:RESOLVED"); err != nil || got != "via-env" {
		t.Errorf("env ref = (%q, %v)", got, err)
	}
}

func TestManagerGetWithDefault(t *testing.T) {
	m, err := NewManager(Config{EnableEnv: true, CacheTTL: time.Minute}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := m.GetWithDefault(context.Background(), "missing_everywhere", "fallback"); got != "fallback" {
		t.Errorf("value = %q, want fallback", got)
	}
}

func TestNewManagerRequiresProvider(t *testing.T) {
	if _, err := NewManager(Config{}, nil); !errors.Is(err, ErrNoProvider) {
		t.Errorf("error = %v, want ErrNoProvider", err)
	}
}
