package lifecycle

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
	"github.com/denwal/poolgate/internal/logger"
)

// --- fakes ---

type fakeDB struct {
	mu         sync.Mutex
	pingErr    error
	closed     bool
	blockClose chan struct{}
}

func (f *fakeDB) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeDB) Acquire(ctx context.Context) (database.Conn, error) {
	return nil, errs.New(errs.ErrKindUnavailable, "fake pool has no connections")
}

func (f *fakeDB) Stat() database.PoolStat {
	return database.PoolStat{MaxConns: 10}
}

func (f *fakeDB) Close() {
	if f.blockClose != nil {
		<-f.blockClose
	}
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeDB) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeDB) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

// scriptedOpener counts dials and delegates each one to fn.
type scriptedOpener struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (database.DB, error)
}

func (o *scriptedOpener) open(ctx context.Context) (database.DB, error) {
	o.mu.Lock()
	o.calls++
	n := o.calls
	fn := o.fn
	o.mu.Unlock()
	return fn(n)
}

func (o *scriptedOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func testConfig() Config {
	return Config{
		ConnectAttempts:   5,
		ConnectRetryDelay: time.Millisecond,
		KeepaliveInterval: time.Hour, // keep the ticker out of the way unless a test wants it
		ProbeTimeout:      time.Second,
		DrainTimeout:      time.Second,
	}
}

func newTestManager(t *testing.T, cfg Config, open OpenFunc) *Manager {
	t.Helper()
	log := logger.New(&logger.Config{Level: "error", Output: io.Discard})
	m := NewManager(cfg, open, log, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		2*time.Second, time.Millisecond, "manager never reached %s", want)
}

// --- tests ---

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateDegraded, "degraded"},
		{StateShuttingDown, "shutting_down"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
	}
}

func TestManagerConnectsOnStart(t *testing.T) {
	db := &fakeDB{}
	op := &scriptedOpener{fn: func(int) (database.DB, error) { return db, nil }}
	m := newTestManager(t, testConfig(), op.open)

	m.Start()
	waitForState(t, m, StateConnected)

	got, err := m.DB()
	require.NoError(t, err)
	require.Same(t, db, got)

	state, lastErr := m.Snapshot()
	assert.Equal(t, StateConnected, state)
	assert.NoError(t, lastErr)
	assert.Equal(t, 1, op.count())
}

func TestManagerRetriesUntilSuccess(t *testing.T) {
	db := &fakeDB{}
	op := &scriptedOpener{fn: func(call int) (database.DB, error) {
		if call < 3 {
			return nil, errs.New(errs.ErrKindConnectionFailed, "dial tcp 10.0.0.5:5432: connection refused")
		}
		return db, nil
	}}
	m := newTestManager(t, testConfig(), op.open)

	m.Start()
	waitForState(t, m, StateConnected)

	assert.Equal(t, 3, op.count())
}

func TestManagerGivesUpAfterConfiguredAttempts(t *testing.T) {
	dialErr := errs.New(errs.ErrKindConnectionFailed, "dial tcp 10.0.0.5:5432: connection refused")
	op := &scriptedOpener{fn: func(int) (database.DB, error) { return nil, dialErr }}
	m := newTestManager(t, testConfig(), op.open)

	m.Start()

	require.Eventually(t, func() bool {
		return m.State() == StateDisconnected && op.count() == 5
	}, 2*time.Second, time.Millisecond)

	// The sequence is bounded: no further dials happen on their own.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 5, op.count())

	_, err := m.DB()
	require.Error(t, err)
	assert.True(t, errs.IsUnavailable(err))

	_, lastErr := m.Snapshot()
	assert.ErrorIs(t, lastErr, dialErr)
}

func TestManagerCoalescesConcurrentTriggers(t *testing.T) {
	gate := make(chan struct{})
	db := &fakeDB{}
	op := &scriptedOpener{fn: func(int) (database.DB, error) {
		<-gate
		return db, nil
	}}
	m := newTestManager(t, testConfig(), op.open)

	m.Start()
	waitForState(t, m, StateConnecting)

	// While the dial is in flight every additional trigger is dropped.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RequestConnect()
		}()
	}
	wg.Wait()

	_, err := m.DB()
	require.Error(t, err)
	assert.True(t, errs.IsUnavailable(err))

	close(gate)
	waitForState(t, m, StateConnected)
	assert.Equal(t, 1, op.count())
}

func TestReportFailureDemotesThenRecovers(t *testing.T) {
	db1 := &fakeDB{}
	db2 := &fakeDB{}
	var oldClosedBeforeRedial atomic.Bool
	op := &scriptedOpener{}
	op.fn = func(call int) (database.DB, error) {
		if call == 1 {
			return db1, nil
		}
		oldClosedBeforeRedial.Store(db1.isClosed())
		return db2, nil
	}
	m := newTestManager(t, testConfig(), op.open)

	m.Start()
	waitForState(t, m, StateConnected)

	m.ReportFailure(errs.New(errs.ErrKindConnectionReset, "connection reset by peer"))

	require.Eventually(t, func() bool {
		got, err := m.DB()
		return err == nil && got == db2
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, 2, op.count())
	assert.True(t, db1.isClosed(), "retired pool must be drained")
	assert.True(t, oldClosedBeforeRedial.Load(), "retired pool must be drained before the replacement dial")
	assert.False(t, db2.isClosed())
}

func TestReportFailureCoalesces(t *testing.T) {
	db1 := &fakeDB{}
	db2 := &fakeDB{}
	gate := make(chan struct{})
	op := &scriptedOpener{}
	op.fn = func(call int) (database.DB, error) {
		if call == 1 {
			return db1, nil
		}
		<-gate
		return db2, nil
	}
	m := newTestManager(t, testConfig(), op.open)

	m.Start()
	waitForState(t, m, StateConnected)

	reset := errs.New(errs.ErrKindConnectionReset, "connection reset by peer")
	m.ReportFailure(reset)
	// The pool is already demoted: further reports must not stack recoveries.
	m.ReportFailure(reset)
	m.ReportFailure(reset)

	close(gate)
	waitForState(t, m, StateConnected)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, op.count())
}

func TestKeepaliveProbeFailureTriggersRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.KeepaliveInterval = 5 * time.Millisecond
	db1 := &fakeDB{}
	db2 := &fakeDB{}
	op := &scriptedOpener{}
	op.fn = func(call int) (database.DB, error) {
		if call == 1 {
			return db1, nil
		}
		return db2, nil
	}
	m := newTestManager(t, cfg, op.open)

	m.Start()
	waitForState(t, m, StateConnected)

	db1.setPingErr(errs.New(errs.ErrKindConnectionReset, "server closed the connection unexpectedly"))

	require.Eventually(t, func() bool {
		got, err := m.DB()
		return err == nil && got == db2
	}, 2*time.Second, time.Millisecond)

	assert.True(t, db1.isClosed())
}

func TestKeepaliveReconnectsAfterExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectAttempts = 2
	cfg.KeepaliveInterval = 5 * time.Millisecond
	db := &fakeDB{}
	var reachable atomic.Bool
	op := &scriptedOpener{fn: func(int) (database.DB, error) {
		if !reachable.Load() {
			return nil, errs.New(errs.ErrKindConnectionFailed, "dial tcp 10.0.0.5:5432: connection refused")
		}
		return db, nil
	}}
	m := newTestManager(t, cfg, op.open)

	m.Start()
	waitForState(t, m, StateDisconnected)

	// Database comes back; the next keepalive tick starts a fresh sequence.
	reachable.Store(true)
	waitForState(t, m, StateConnected)
}

func TestShutdownPreemptsRetryDelay(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectRetryDelay = time.Hour
	op := &scriptedOpener{fn: func(int) (database.DB, error) {
		return nil, errs.New(errs.ErrKindConnectionFailed, "dial tcp 10.0.0.5:5432: connection refused")
	}}
	m := newTestManager(t, cfg, op.open)

	m.Start()
	require.Eventually(t, func() bool { return op.count() == 1 }, 2*time.Second, time.Millisecond)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Less(t, time.Since(start), time.Second, "shutdown must interrupt the pending retry, not wait it out")
	assert.Equal(t, 1, op.count())
	assert.Equal(t, StateShuttingDown, m.State())
}

func TestShutdownDrainsPoolAndIsIdempotent(t *testing.T) {
	db := &fakeDB{}
	op := &scriptedOpener{fn: func(int) (database.DB, error) { return db, nil }}
	m := newTestManager(t, testConfig(), op.open)

	m.Start()
	waitForState(t, m, StateConnected)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, db.isClosed())
	assert.Equal(t, StateShuttingDown, m.State())

	_, err := m.DB()
	require.Error(t, err)
	assert.True(t, errs.IsUnavailable(err))

	// Late triggers are ignored once shutdown has begun.
	m.RequestConnect()
	m.ReportFailure(io.ErrUnexpectedEOF)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, op.count())

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestShutdownReportsDrainOverrun(t *testing.T) {
	db := &fakeDB{blockClose: make(chan struct{})}
	op := &scriptedOpener{fn: func(int) (database.DB, error) { return db, nil }}
	m := newTestManager(t, testConfig(), op.open)

	m.Start()
	waitForState(t, m, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := m.Shutdown(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
	assert.Equal(t, StateShuttingDown, m.State())

	close(db.blockClose) // release the stuck drain goroutine
}

func TestUnconfiguredManager(t *testing.T) {
	m := newTestManager(t, testConfig(), nil)

	assert.False(t, m.Configured())
	m.Start()
	m.RequestConnect()
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, StateDisconnected, m.State())

	_, err := m.DB()
	require.Error(t, err)
	assert.True(t, errs.IsUnavailable(err))
	assert.Contains(t, err.Error(), "not configured")

	state, lastErr := m.Snapshot()
	assert.Equal(t, StateDisconnected, state)
	assert.True(t, errs.IsConfigMissing(lastErr))

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestConnectRacedByShutdownDiscardsFreshPool(t *testing.T) {
	gate := make(chan struct{})
	fresh := &fakeDB{}
	op := &scriptedOpener{fn: func(int) (database.DB, error) {
		<-gate
		return fresh, nil
	}}
	m := newTestManager(t, testConfig(), op.open)

	m.Start()
	require.Eventually(t, func() bool { return op.count() == 1 }, 2*time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()
	waitForState(t, m, StateShuttingDown)

	close(gate) // the dial "succeeds" after shutdown began

	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return fresh.isClosed() }, 2*time.Second, time.Millisecond)

	_, err := m.DB()
	assert.True(t, errs.IsUnavailable(err))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.ConnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.ConnectRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.KeepaliveInterval)
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 10*time.Second, cfg.DrainTimeout)
}
