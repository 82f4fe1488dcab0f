package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/column"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"guild-sentinel/internal/detector"
	"guild-sentinel/internal/escalation"
	"guild-sentinel/internal/schema"
)

// Mock implementations of driver.Conn and driver.Batch so the archive can be
// exercised without a real ClickHouse connection.

type mockConn struct {
	prepareBatchFunc func(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
}

func (m *mockConn) Contributors() []string                                           { return nil }
func (m *mockConn) ServerVersion() (*driver.ServerVersion, error)                    { return nil, nil }
func (m *mockConn) Select(_ context.Context, _ any, _ string, _ ...any) error        { return nil }
func (m *mockConn) Query(_ context.Context, _ string, _ ...any) (driver.Rows, error) { return nil, nil }
func (m *mockConn) QueryRow(_ context.Context, _ string, _ ...any) driver.Row        { return nil }
func (m *mockConn) Exec(_ context.Context, _ string, _ ...any) error                 { return nil }
func (m *mockConn) AsyncInsert(_ context.Context, _ string, _ bool, _ ...any) error  { return nil }
func (m *mockConn) Ping(_ context.Context) error                                     { return nil }
func (m *mockConn) Stats() driver.Stats                                              { return driver.Stats{} }
func (m *mockConn) Close() error                                                     { return nil }

func (m *mockConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	if m.prepareBatchFunc != nil {
		return m.prepareBatchFunc(ctx, query, opts...)
	}
	return &mockBatch{}, nil
}

type mockBatch struct {
	mu          sync.Mutex
	appendCount int
	sendFunc    func() error
}

func (m *mockBatch) Abort() error { return nil }
func (m *mockBatch) Append(_ ...any) error {
	m.mu.Lock()
	m.appendCount++
	m.mu.Unlock()
	return nil
}
func (m *mockBatch) AppendStruct(_ any) error        { return nil }
func (m *mockBatch) Column(_ int) driver.BatchColumn { return nil }
func (m *mockBatch) Flush() error                    { return nil }
func (m *mockBatch) Send() error {
	if m.sendFunc != nil {
		return m.sendFunc()
	}
	return nil
}
func (m *mockBatch) IsSent() bool                { return false }
func (m *mockBatch) Rows() int                   { return m.appendCount }
func (m *mockBatch) Columns() []column.Interface { return nil }
func (m *mockBatch) Close() error                { return nil }

func newMockClient(conn driver.Conn) *ClickHouseClient {
	return &ClickHouseClient{
		conn:   conn,
		config: DefaultClickHouseConfig(),
	}
}

func archiveResult() (*schema.ActionEvent, detector.Result) {
	event := &schema.ActionEvent{
		EventID:   uuid.New(),
		ActorID:   "actor-1",
		TenantID:  "tenant-1",
		Action:    schema.ActionChannelDelete,
		Timestamp: time.Now(),
	}
	directive := escalation.Directive{Kind: escalation.DirectiveSuspend, Duration: time.Hour}
	result := detector.Result{
		Outcome:   detector.OutcomeDirective,
		Tier:      escalation.TierLight,
		Count:     3,
		Threshold: 3,
		Directive: &directive,
	}
	return event, result
}

func testArchiveConfig() ArchiveConfig {
	cfg := DefaultArchiveConfig()
	cfg.FlushInterval = time.Hour // timer stays quiet during tests
	cfg.MaxRetries = 0
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestDefaultArchiveConfig(t *testing.T) {
	cfg := DefaultArchiveConfig()
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
}

func TestArchiveBuffers(t *testing.T) {
	a := NewIncidentArchive(newMockClient(&mockConn{}), testArchiveConfig())
	defer a.Close()

	event, result := archiveResult()
	a.Archive(event, result)

	m := a.Metrics()
	if m.Pending != 1 || m.Written != 0 {
		t.Errorf("metrics = %+v, want 1 pending, 0 written", m)
	}
}

func TestArchiveFlushesAtBatchSize(t *testing.T) {
	batch := &mockBatch{}
	conn := &mockConn{
		prepareBatchFunc: func(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
			return batch, nil
		},
	}

	cfg := testArchiveConfig()
	cfg.BatchSize = 2
	a := NewIncidentArchive(newMockClient(conn), cfg)
	defer a.Close()

	event, result := archiveResult()
	a.Archive(event, result)
	a.Archive(event, result)

	m := a.Metrics()
	if m.Written != 2 || m.Batches != 1 || m.Pending != 0 {
		t.Errorf("metrics = %+v, want 2 written in 1 batch", m)
	}
	if batch.Rows() != 2 {
		t.Errorf("appended rows = %d, want 2", batch.Rows())
	}
}

func TestArchiveFlushRetriesThenFails(t *testing.T) {
	conn := &mockConn{
		prepareBatchFunc: func(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
			return &mockBatch{sendFunc: func() error { return errors.New("connection reset") }}, nil
		},
	}

	cfg := testArchiveConfig()
	cfg.MaxRetries = 2
	a := NewIncidentArchive(newMockClient(conn), cfg)
	defer a.Close()

	event, result := archiveResult()
	a.Archive(event, result)

	err := a.Flush()
	if !errors.Is(err, ErrBatchInsertFailed) {
		t.Errorf("error = %v, want ErrBatchInsertFailed", err)
	}

	m := a.Metrics()
	if m.Failed != 1 || m.Written != 0 {
		t.Errorf("metrics = %+v, want 1 failed", m)
	}
}

func TestArchiveCloseFlushes(t *testing.T) {
	a := NewIncidentArchive(newMockClient(&mockConn{}), testArchiveConfig())

	event, result := archiveResult()
	a.Archive(event, result)

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	m := a.Metrics()
	if m.Written != 1 || m.Pending != 0 {
		t.Errorf("metrics after close = %+v", m)
	}

	// Records after close are dropped.
	a.Archive(event, result)
	if a.Metrics().Pending != 0 {
		t.Error("archive accepted a record after close")
	}
}
