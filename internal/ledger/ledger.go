// Package ledger maintains per-actor, per-tenant, per-action sliding windows
// of recent event timestamps. The post-prune window count is the live rate
// consumed by the escalation policy.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"guild-sentinel/internal/schema"
)

// Key identifies one tracked activity window.
type Key struct {
	ActorID  string
	TenantID string
	Action   schema.ActionType
}

// window holds the time-ordered timestamps for one key. Each window carries
// its own mutex so evaluations on different keys never block each other.
type window struct {
	mu         sync.Mutex
	timestamps []time.Time
	lastCount  int
	lastSeen   time.Time
}

// Ledger tracks activity windows for all keys. The outer map is guarded by
// an RWMutex for lookup and create only; record/prune work happens under
// the per-key lock.
type Ledger struct {
	mu      sync.RWMutex
	windows map[Key]*window

	stopCh chan struct{}
	wg     sync.WaitGroup

	// Metrics (accessed atomically)
	totalRecorded uint64
	totalPruned   uint64
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		windows: make(map[Key]*window),
		stopCh:  make(chan struct{}),
	}
}

// Record appends now to the window for the key, prunes every timestamp at
// or before now-windowLen, and returns the post-prune count. The
// append-prune-count sequence is atomic with respect to other evaluations
// of the same key.
func (l *Ledger) Record(key Key, windowLen time.Duration, now time.Time) int {
	w := l.getOrCreate(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.timestamps = append(w.timestamps, now)
	atomic.AddUint64(&l.totalRecorded, 1)

	cutoff := now.Add(-windowLen)
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		atomic.AddUint64(&l.totalPruned, uint64(i))
		w.timestamps = w.timestamps[i:]
	}

	w.lastCount = len(w.timestamps)
	w.lastSeen = now
	return w.lastCount
}

// Count returns the last-known count for the key without forcing a prune.
// Diagnostics only; policy decisions always go through Record.
func (l *Ledger) Count(key Key) int {
	l.mu.RLock()
	w := l.windows[key]
	l.mu.RUnlock()

	if w == nil {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCount
}

// Keys returns the number of tracked keys.
func (l *Ledger) Keys() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

func (l *Ledger) getOrCreate(key Key) *window {
	l.mu.RLock()
	w := l.windows[key]
	l.mu.RUnlock()
	if w != nil {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w = l.windows[key]; w != nil {
		return w
	}
	w = &window{}
	l.windows[key] = w
	return w
}

// StartSweeper periodically drops keys that have been idle longer than
// maxIdle, bounding memory under actor churn. Entries are recreated on the
// next event for the key, so sweeping never loses in-window activity as
// long as maxIdle exceeds every configured window length.
func (l *Ledger) StartSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				removed := l.sweep(time.Now(), maxIdle)
				if removed > 0 {
					slog.Debug("ledger sweep", "removed", removed, "remaining", l.Keys())
				}
			}
		}
	}()
}

// Stop halts the sweeper.
func (l *Ledger) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

func (l *Ledger) sweep(now time.Time, maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		idle := now.Sub(w.lastSeen) > maxIdle
		w.mu.Unlock()
		if idle {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Metrics returns ledger statistics.
func (l *Ledger) Metrics() Metrics {
	return Metrics{
		Recorded: atomic.LoadUint64(&l.totalRecorded),
		Pruned:   atomic.LoadUint64(&l.totalPruned),
		Keys:     l.Keys(),
	}
}

// Metrics holds statistics about ledger activity.
type Metrics struct {
	Recorded uint64 `json:"recorded"`
	Pruned   uint64 `json:"pruned"`
	Keys     int    `json:"keys"`
}
