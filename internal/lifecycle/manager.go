package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
	"github.com/denwal/poolgate/internal/logger"
	"github.com/denwal/poolgate/internal/metrics"
)

// OpenFunc dials and validates a fresh pool. The context is canceled
// when the manager shuts down, so a slow dial never outlives the process.
type OpenFunc func(ctx context.Context) (database.DB, error)

// Manager is the sole owner of the pool handle and its lifecycle state.
//
// Connect sequences are serialized: no matter how many triggers fire
// concurrently (startup, keepalive tick, query while disconnected), at
// most one sequence runs, and at most one pool handle exists. A retired
// handle is fully drained before its replacement is dialed.
type Manager struct {
	cfg     Config
	opener  OpenFunc
	log     *logger.Logger
	metrics *metrics.Collector

	mu         sync.Mutex
	state      State
	db         database.DB
	lastErr    error
	connecting bool // a connect sequence is in flight

	baseCtx context.Context // canceled on shutdown; preempts sleeps and dials
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager builds a Manager. A nil opener means the database is not
// configured: the manager starts, stays Disconnected with a ConfigMissing
// cause, and refuses every connect trigger. The service keeps serving.
func NewManager(cfg Config, opener OpenFunc, log *logger.Logger, m *metrics.Collector) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		cfg:     cfg,
		opener:  opener,
		log:     log.Component("lifecycle"),
		metrics: m,
		state:   StateDisconnected,
		baseCtx: ctx,
		cancel:  cancel,
	}
	if opener == nil {
		mgr.lastErr = errs.New(errs.ErrKindConfigMissing, "database not configured")
	}
	return mgr
}

// Configured reports whether a database was configured at startup.
func (m *Manager) Configured() bool {
	return m.opener != nil
}

// Start launches the initial connect sequence and the keepalive loop in
// the background. It never blocks: the HTTP surface comes up regardless
// of database reachability.
func (m *Manager) Start() {
	if m.opener == nil {
		m.log.Warn("database not configured, starting with database features disabled")
		return
	}
	m.goSequence("startup", m.cfg.ConnectAttempts)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.keepaliveLoop()
	}()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current state together with the most recent
// connection error, for health reporting.
func (m *Manager) Snapshot() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastErr
}

// DB hands out the live pool handle. It fails with an unavailability
// error in every state but Connected, so callers can answer immediately
// instead of queuing behind a dead pool.
func (m *Manager) DB() (database.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateConnected:
		return m.db, nil
	case StateConnecting:
		return nil, errs.New(errs.ErrKindUnavailable, "database connection in progress")
	case StateDegraded:
		return nil, errs.New(errs.ErrKindUnavailable, "database connection is recovering")
	case StateShuttingDown:
		return nil, errs.New(errs.ErrKindUnavailable, "service is shutting down")
	default:
		if m.opener == nil {
			return nil, errs.New(errs.ErrKindUnavailable, "database not configured")
		}
		return nil, errs.New(errs.ErrKindUnavailable, "database not connected")
	}
}

// RequestConnect nudges the manager to start a full connect sequence.
// Safe to call from any state: a healthy pool, an in-flight sequence, or
// an unconfigured database make it a no-op.
func (m *Manager) RequestConnect() {
	m.goSequence("request", m.cfg.ConnectAttempts)
}

// ReportFailure tells the manager an established connection died mid-use.
// The pool is demoted and a single recovery attempt is scheduled.
// Concurrent reports coalesce into one recovery. Never blocks.
func (m *Manager) ReportFailure(err error) {
	m.demoteAndRecover(err, "query")
}

// Shutdown moves to ShuttingDown, cancels in-flight retries, and drains
// the pool. The context bounds the drain: on overrun the error is
// returned for logging and shutdown proceeds anyway. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateShuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateShuttingDown)
	db := m.db
	m.db = nil
	m.mu.Unlock()

	// Preempt retry sleeps, keepalive ticks, and in-flight dials.
	m.cancel()

	var drainErr error
	if db != nil {
		done := make(chan struct{})
		go func() {
			db.Close()
			close(done)
		}()
		select {
		case <-done:
			m.log.Info("pool drained")
		case <-ctx.Done():
			drainErr = errs.Wrap(errs.ErrKindTimeout, "pool drain timed out", ctx.Err())
			m.log.ErrorWith("pool drain incomplete, proceeding with shutdown", drainErr, nil)
		}
	}

	// Bounded wait for background goroutines; they exit promptly once
	// baseCtx is canceled.
	idle := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		if drainErr == nil {
			drainErr = errs.Wrap(errs.ErrKindTimeout, "background workers did not stop in time", ctx.Err())
		}
	}

	return drainErr
}

// --- connect sequence ---

// goSequence runs a connect sequence on its own goroutine, tracked for
// shutdown.
func (m *Manager) goSequence(reason string, maxAttempts int) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runSequence(reason, maxAttempts)
	}()
}

// runSequence executes one bounded connect sequence: up to maxAttempts
// dials separated by the fixed retry delay. The in-flight guard makes
// concurrent triggers collapse into a single sequence, which is what
// guarantees at most one pool handle ever exists.
func (m *Manager) runSequence(reason string, maxAttempts int) {
	m.mu.Lock()
	if m.opener == nil || m.connecting ||
		m.state == StateConnected || m.state == StateShuttingDown {
		m.mu.Unlock()
		return
	}
	m.connecting = true
	old := m.db
	m.db = nil
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	// A replacement is never dialed while the previous handle still has
	// connections out. Close blocks until the pool is fully drained.
	if old != nil {
		m.log.Info("retiring previous pool before reconnect")
		old.Close()
	}

	log := m.log.With().Str("reason", reason).Int("max_attempts", maxAttempts).Logger()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if m.baseCtx.Err() != nil {
			return
		}

		start := time.Now()
		db, err := m.opener(m.baseCtx)
		if err == nil {
			if !m.install(db) {
				// Shutdown won the race; the fresh pool is discarded.
				db.Close()
				return
			}
			if m.metrics != nil {
				m.metrics.ConnectAttempt(true)
			}
			log.With().
				Int("attempt", attempt).
				Dur("took", time.Since(start)).
				Logger().
				Info("database connected")
			return
		}

		if m.metrics != nil {
			m.metrics.ConnectAttempt(false)
		}
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		log.ErrorWith("connect attempt failed", err, map[string]interface{}{
			"attempt": attempt,
		})

		if attempt < maxAttempts {
			if !sleepCtx(m.baseCtx, m.cfg.ConnectRetryDelay) {
				// Shutdown preempted the pending retry; it never resumes.
				return
			}
		}
	}

	m.mu.Lock()
	if m.state != StateShuttingDown {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()
	log.Error("connect attempts exhausted, database remains disconnected")
}

// install publishes a fresh handle unless shutdown started meanwhile.
func (m *Manager) install(db database.DB) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateShuttingDown {
		return false
	}
	m.db = db
	m.lastErr = nil
	m.setStateLocked(StateConnected)
	return true
}

// demoteAndRecover marks a live pool as failed and schedules exactly one
// recovery attempt. Reports against an already-demoted pool are dropped,
// which is what coalesces a burst of failures into a single recovery.
func (m *Manager) demoteAndRecover(err error, source string) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	m.setStateLocked(StateDegraded)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Reconnect()
	}
	m.log.ErrorWith("pool demoted, scheduling recovery", err, map[string]interface{}{
		"source": source,
	})
	m.goSequence("recovery", 1)
}

// --- keepalive ---

func (m *Manager) keepaliveLoop() {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			m.keepaliveTick()
		}
	}
}

// keepaliveTick probes a live pool, or initiates a fresh full sequence
// when the pool is down. Ticks that land while a sequence is in flight
// are skipped, not queued.
func (m *Manager) keepaliveTick() {
	m.mu.Lock()
	if m.connecting || m.state == StateShuttingDown {
		m.mu.Unlock()
		return
	}
	state := m.state
	db := m.db
	m.mu.Unlock()

	switch state {
	case StateConnected:
		probeCtx, cancel := context.WithTimeout(m.baseCtx, m.cfg.ProbeTimeout)
		err := db.Ping(probeCtx)
		cancel()
		if err != nil {
			if m.metrics != nil {
				m.metrics.ProbeFailure()
			}
			m.demoteAndRecover(err, "keepalive")
			return
		}
		if m.metrics != nil {
			m.metrics.PoolStat(db.Stat())
		}

	case StateDisconnected:
		// Self-heal: start over with a full set of attempts.
		m.goSequence("keepalive", m.cfg.ConnectAttempts)
	}
}

// setStateLocked records a transition. Callers hold m.mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.log.With().
		Str("from", m.state.String()).
		Str("to", s.String()).
		Logger().
		Info("lifecycle state changed")
	m.state = s
	if m.metrics != nil {
		m.metrics.SetLifecycleState(s.String())
	}
}

// sleepCtx pauses for d, returning false early if ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
