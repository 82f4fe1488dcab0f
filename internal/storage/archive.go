package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"guild-sentinel/internal/detector"
	"guild-sentinel/internal/schema"
)

// IncidentRecord is the archived form of one evaluation.
type IncidentRecord struct {
	EventID    uuid.UUID
	TenantID   string
	ActorID    string
	Action     string
	Outcome    string
	Tier       string
	Count      int
	Threshold  int
	Directive  string
	TargetName string
	OccurredAt time.Time
	ArchivedAt time.Time
}

// ArchiveConfig holds configuration for the incident archive writer.
type ArchiveConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultArchiveConfig returns the default archive configuration.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// IncidentArchive batches evaluation records into ClickHouse. Archiving is
// best-effort: failures are logged and counted, never surfaced to detection.
type IncidentArchive struct {
	client *ClickHouseClient
	config ArchiveConfig

	buffer []IncidentRecord
	mu     sync.Mutex

	flushTimer *time.Timer
	closed     bool

	// Metrics
	totalWritten uint64
	totalFailed  uint64
	batchCount   uint64
}

// NewIncidentArchive creates a new incident archive writer.
func NewIncidentArchive(client *ClickHouseClient, cfg ArchiveConfig) *IncidentArchive {
	a := &IncidentArchive{
		client: client,
		config: cfg,
		buffer: make([]IncidentRecord, 0, cfg.BatchSize),
	}

	a.flushTimer = time.AfterFunc(cfg.FlushInterval, a.timerFlush)

	return a
}

// Archive buffers one evaluation record. Implements detector.Archiver.
func (a *IncidentArchive) Archive(event *schema.ActionEvent, result detector.Result) {
	record := IncidentRecord{
		EventID:    event.EventID,
		TenantID:   event.TenantID,
		ActorID:    event.ActorID,
		Action:     string(event.Action),
		Outcome:    result.Outcome.String(),
		Tier:       result.Tier.String(),
		Count:      result.Count,
		Threshold:  result.Threshold,
		TargetName: event.TargetName,
		OccurredAt: event.Timestamp,
		ArchivedAt: time.Now().UTC(),
	}
	if result.Directive != nil {
		record.Directive = string(result.Directive.Kind)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	a.buffer = append(a.buffer, record)

	if len(a.buffer) >= a.config.BatchSize {
		if err := a.flushLocked(); err != nil {
			slog.Error("incident archive flush failed", "error", err)
		}
	}
}

// timerFlush is called by the flush timer.
func (a *IncidentArchive) timerFlush() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	if len(a.buffer) > 0 {
		if err := a.flushLocked(); err != nil {
			slog.Error("timer flush failed", "error", err)
		}
	}

	a.flushTimer.Reset(a.config.FlushInterval)
}

// flushLocked flushes the buffer. Caller must hold the lock.
func (a *IncidentArchive) flushLocked() error {
	if len(a.buffer) == 0 {
		return nil
	}

	records := a.buffer
	a.buffer = make([]IncidentRecord, 0, a.config.BatchSize)

	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(a.config.RetryDelay * time.Duration(attempt))
		}

		if err := a.insertBatch(records); err != nil {
			lastErr = err
			slog.Warn("incident batch insert failed, retrying",
				"attempt", attempt+1,
				"max_retries", a.config.MaxRetries,
				"error", err,
			)
			continue
		}

		atomic.AddUint64(&a.totalWritten, uint64(len(records)))
		atomic.AddUint64(&a.batchCount, 1)
		return nil
	}

	atomic.AddUint64(&a.totalFailed, uint64(len(records)))
	return fmt.Errorf("%w: after %d retries: %v", ErrBatchInsertFailed, a.config.MaxRetries, lastErr)
}

// insertBatch inserts a batch of incident records into ClickHouse.
func (a *IncidentArchive) insertBatch(records []IncidentRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := a.client.PrepareBatch(ctx, `
		INSERT INTO incidents (
			event_id, tenant_id, actor_id, action,
			outcome, tier, count, threshold,
			directive, target_name, occurred_at, archived_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, r := range records {
		err := batch.Append(
			r.EventID,
			r.TenantID,
			r.ActorID,
			r.Action,
			r.Outcome,
			r.Tier,
			uint32(r.Count),
			uint32(r.Threshold),
			r.Directive,
			r.TargetName,
			r.OccurredAt,
			r.ArchivedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append record: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	slog.Debug("incident batch inserted", "count", len(records))
	return nil
}

// Flush forces a flush of the current buffer.
func (a *IncidentArchive) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

// Close flushes remaining records and stops the timer.
func (a *IncidentArchive) Close() error {
	a.mu.Lock()
	a.closed = true
	err := a.flushLocked()
	a.mu.Unlock()

	a.flushTimer.Stop()
	return err
}

// Metrics returns archive statistics.
func (a *IncidentArchive) Metrics() ArchiveMetrics {
	a.mu.Lock()
	pending := len(a.buffer)
	a.mu.Unlock()

	return ArchiveMetrics{
		Written: atomic.LoadUint64(&a.totalWritten),
		Failed:  atomic.LoadUint64(&a.totalFailed),
		Batches: atomic.LoadUint64(&a.batchCount),
		Pending: pending,
	}
}

// ArchiveMetrics holds archive statistics.
type ArchiveMetrics struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Batches uint64 `json:"batches"`
	Pending int    `json:"pending"`
}
