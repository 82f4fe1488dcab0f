// Package consumer drains the intake queue and runs each event through the
// detection orchestrator.
package consumer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"guild-sentinel/internal/detector"
	"guild-sentinel/internal/queue"
)

// Config holds the consumer configuration.
type Config struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DefaultConfig returns the default consumer configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		PollInterval: 10 * time.Millisecond,
		ShutdownWait: 30 * time.Second,
	}
}

// Consumer reads events from the queue and evaluates them. Events for
// different ledger keys proceed concurrently; ordering per key is preserved
// by the ledger's per-window locking, not by worker assignment.
type Consumer struct {
	queue        *queue.RingBuffer
	orchestrator *detector.Orchestrator
	config       Config

	wg   sync.WaitGroup
	done chan struct{}

	// Metrics
	evaluated uint64
	errors    uint64
}

// New creates a new Consumer.
func New(q *queue.RingBuffer, o *detector.Orchestrator, cfg Config) *Consumer {
	return &Consumer{
		queue:        q,
		orchestrator: o,
		config:       cfg,
		done:         make(chan struct{}),
	}
}

// Start starts the consumer workers.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	slog.Info("detection consumer started", "workers", c.config.Workers)
}

// worker is a single consumer worker goroutine.
func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	slog.Debug("detection worker started", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("detection worker stopping (context)", "worker_id", id)
			return
		case <-c.done:
			slog.Debug("detection worker stopping (done)", "worker_id", id)
			return
		default:
			event, err := c.queue.PopWithTimeout(c.config.PollInterval)
			if err != nil {
				if err == queue.ErrQueueEmpty {
					continue
				}
				if err == queue.ErrQueueClosed {
					return
				}
				slog.Warn("unexpected queue error", "worker_id", id, "error", err)
				atomic.AddUint64(&c.errors, 1)
				continue
			}

			c.orchestrator.Evaluate(ctx, event)
			atomic.AddUint64(&c.evaluated, 1)
		}
	}
}

// Stop stops the consumer gracefully.
func (c *Consumer) Stop() {
	close(c.done)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("detection consumer stopped gracefully")
	case <-time.After(c.config.ShutdownWait):
		slog.Warn("detection consumer shutdown timed out")
	}
}

// Metrics returns consumer statistics.
func (c *Consumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Evaluated: atomic.LoadUint64(&c.evaluated),
		Errors:    atomic.LoadUint64(&c.errors),
	}
}

// ConsumerMetrics holds consumer statistics.
type ConsumerMetrics struct {
	Evaluated uint64 `json:"evaluated"`
	Errors    uint64 `json:"errors"`
}
