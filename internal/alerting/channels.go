package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"guild-sentinel/internal/escalation"
)

// NotificationChannel delivers alerts to one destination.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// LogChannel writes alerts to the structured log. Always available; used as
// the diagnostic record when no notification target is configured.
type LogChannel struct{}

// NewLogChannel creates a new log channel.
func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, alert *Alert) error {
	slog.Warn("alert",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"title", alert.Title,
		"tenant_id", alert.TenantID,
		"actor_id", alert.ActorID,
		"action", alert.Action,
		"reason", alert.Reason,
		"count", alert.Metadata.Count,
		"threshold", alert.Metadata.Threshold,
	)
	return nil
}

// WebhookChannel sends alerts via HTTP webhook to the notification renderer.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	payload := map[string]any{
		"color":               severityColor(alert.Tier),
		"title":               alert.Title,
		"severity":            alert.Severity,
		"actor":               fmt.Sprintf("%s (%s)", alert.ActorTag, alert.ActorID),
		"action":              string(alert.Action),
		"tenant_id":           alert.TenantID,
		"reason":              alert.Reason,
		"target":              alert.Metadata.TargetName,
		"count":               fmt.Sprintf("%d/%d", alert.Metadata.Count, alert.Metadata.Threshold),
		"notification_target": alert.Target,
		"ts":                  alert.CreatedAt.Unix(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// severityColor maps tiers to the embed colors the original notifier used.
func severityColor(tier escalation.Tier) string {
	switch tier {
	case escalation.TierWarn:
		return "#ffa500"
	case escalation.TierLight, escalation.TierModerate, escalation.TierSevere:
		return "#ff0000"
	}
	return "#808080"
}

// Publisher abstracts the message broker used by the Kafka channel.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// KafkaChannel publishes alerts to a broker topic for downstream consumers.
type KafkaChannel struct {
	publisher Publisher
}

// NewKafkaChannel creates a new Kafka channel.
func NewKafkaChannel(p Publisher) *KafkaChannel {
	return &KafkaChannel{publisher: p}
}

func (k *KafkaChannel) Name() string {
	return "kafka"
}

func (k *KafkaChannel) Send(ctx context.Context, alert *Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	return k.publisher.Publish(ctx, []byte(alert.TenantID), value)
}
