// Package platform provides integration with the external gateway service
// that fronts the collaboration platform. The gateway delivers audit-trail
// lookups, rank comparisons, and executes punitive directives; the detector
// only consumes these capabilities through bounded-timeout calls.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"guild-sentinel/internal/escalation"
)

// Client provides access to the gateway API.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// ClientConfig holds configuration for the gateway client.
type ClientConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIToken string        `yaml:"api_token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "http://localhost:9400",
		Timeout: 5 * time.Second,
	}
}

// NewClient creates a new gateway client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// AuditEntry represents one audit-trail entry attributing a privileged
// action to an actor.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id"`
	ActorIsBot bool      `json:"actor_is_bot"`
	TargetID   string    `json:"target_id"`
	TargetName string    `json:"target_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RankCheck is the gateway's answer to an enforceability probe.
type RankCheck struct {
	ActorID    string `json:"actor_id"`
	Enforcable bool   `json:"enforceable"`
	Detail     string `json:"detail,omitempty"`
}

// LatestAuditEntry fetches the most recent audit entry of the given action
// kind for a tenant. Used by the kick verification path to distinguish a
// kick from a voluntary leave.
func (c *Client) LatestAuditEntry(ctx context.Context, tenantID, action string) (*AuditEntry, error) {
	path := fmt.Sprintf("/api/v1/tenants/%s/audit/latest?action=%s",
		url.PathEscape(tenantID), url.QueryEscape(action))
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	var entry AuditEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to decode audit entry: %w", err)
	}
	return &entry, nil
}

// CanEnforce reports whether the target actor's platform-assigned rank is
// strictly below the enforcing agent's own rank in the tenant.
func (c *Client) CanEnforce(ctx context.Context, tenantID, actorID string) (bool, error) {
	path := fmt.Sprintf("/api/v1/tenants/%s/members/%s/rank-check",
		url.PathEscape(tenantID), url.PathEscape(actorID))
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, fmt.Errorf("rank check failed: %w", err)
	}
	defer resp.Body.Close()

	var check RankCheck
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		return false, fmt.Errorf("failed to decode rank check: %w", err)
	}
	return check.Enforcable, nil
}

// executeRequest is the wire form of a directive execution call.
type executeRequest struct {
	ActorID        string `json:"actor_id"`
	Kind           string `json:"kind"`
	DurationMs     int64  `json:"duration_ms,omitempty"`
	PurgeWindowDay int    `json:"purge_window_days,omitempty"`
	Reason         string `json:"reason"`
}

// Execute carries out a punitive directive against the platform. The caller
// does not retry on failure; repeated attempts are an operator decision.
func (c *Client) Execute(ctx context.Context, tenantID, actorID string, d escalation.Directive) error {
	body, err := json.Marshal(executeRequest{
		ActorID:        actorID,
		Kind:           string(d.Kind),
		DurationMs:     d.Duration.Milliseconds(),
		PurgeWindowDay: d.PurgeWindowDay,
		Reason:         d.Reason,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal directive: %w", err)
	}

	path := fmt.Sprintf("/api/v1/tenants/%s/enforce", url.PathEscape(tenantID))
	resp, err := c.doRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("enforcement failed: %w", err)
	}
	defer resp.Body.Close()

	return nil
}

// doRequest performs an HTTP request to the gateway API.
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bot "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gateway error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return resp, nil
}
