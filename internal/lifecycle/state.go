// Package lifecycle owns the connection pool state machine: initial
// connect with bounded retries, periodic keepalive probing, demotion and
// recovery after failures, and coordinated shutdown.
//
// The Manager is the only writer of the pool handle and its state. Every
// other component reads through it: the gateway borrows the handle, the
// health reporter snapshots the state, and nothing else ever dials the
// database.
package lifecycle

import "time"

// State is the lifecycle position of the managed pool. Exactly one value
// holds at any time.
type State int

const (
	// StateDisconnected means no pool exists and nothing is being dialed.
	StateDisconnected State = iota

	// StateConnecting means a connect sequence is in flight.
	StateConnecting

	// StateConnected means a validated pool is installed and serving.
	StateConnected

	// StateDegraded means the pool failed mid-use and a recovery attempt
	// is pending or in flight.
	StateDegraded

	// StateShuttingDown is terminal: no connect is honored after it.
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Config tunes the retry, probe, and drain behavior of the Manager.
type Config struct {
	// ConnectAttempts bounds a full connect sequence. Recovery after a
	// failed probe always runs a single attempt regardless.
	ConnectAttempts int `yaml:"connect_attempts"`

	// ConnectRetryDelay is the fixed pause between attempts of a sequence.
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay"`

	// KeepaliveInterval is the period of the liveness probe while the
	// pool is up, and of the self-heal check while it is down.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	// ProbeTimeout bounds a single keepalive ping.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// DrainTimeout bounds the pool drain during shutdown. Callers pass it
	// to Shutdown via context; it lives here so configuration stays in
	// one place.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// DefaultConfig returns the production retry policy: five attempts five
// seconds apart, a thirty second keepalive, and a ten second drain.
func DefaultConfig() Config {
	return Config{
		ConnectAttempts:   5,
		ConnectRetryDelay: 5 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		ProbeTimeout:      2 * time.Second,
		DrainTimeout:      10 * time.Second,
	}
}
