// Package health produces point-in-time service health snapshots.
//
// A snapshot is always produced, whatever the database is doing. The
// reporter never returns an error: a broken database shows up in the
// payload, not as a transport failure.
package health

import (
	"context"
	"time"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/lifecycle"
)

// Status values for the service as a whole.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Database facet values reported to callers.
const (
	DBConnected    = "connected"
	DBConnecting   = "connecting"
	DBDisconnected = "disconnected"
	DBError        = "error"
)

// Source is the slice of the lifecycle manager the reporter reads.
type Source interface {
	Snapshot() (lifecycle.State, error)
	Configured() bool
	DB() (database.DB, error)
	ReportFailure(err error)
}

// Snapshot is the health payload. Field names are the wire contract.
type Snapshot struct {
	Status        string      `json:"status"`
	Uptime        int64       `json:"uptime"`
	Timestamp     string      `json:"timestamp"`
	Database      string      `json:"database"`
	DatabaseError string      `json:"databaseError,omitempty"`
	Environment   Environment `json:"environment"`
}

// Environment describes the deployment the service runs in.
type Environment struct {
	Env         string `json:"env"`
	HasDBConfig bool   `json:"hasDbConfig"`
}

// Reporter computes snapshots from lifecycle state and process uptime.
type Reporter struct {
	src          Source
	env          string
	probeTimeout time.Duration
	started      time.Time
}

// NewReporter builds a Reporter. A probeTimeout of zero disables the
// in-request liveness probe; snapshots then reflect lifecycle state alone.
func NewReporter(src Source, env string, probeTimeout time.Duration) *Reporter {
	return &Reporter{
		src:          src,
		env:          env,
		probeTimeout: probeTimeout,
		started:      time.Now(),
	}
}

// Check produces a snapshot. When the pool is Connected and probing is
// enabled, it pings once for accuracy: a probe failure demotes the pool
// via ReportFailure and surfaces as Database="error", never as an error
// to the caller.
func (r *Reporter) Check(ctx context.Context) Snapshot {
	state, lastErr := r.src.Snapshot()

	snap := Snapshot{
		Uptime:    int64(time.Since(r.started).Seconds()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Database:  databaseFacet(state),
		Environment: Environment{
			Env:         r.env,
			HasDBConfig: r.src.Configured(),
		},
	}

	if state == lifecycle.StateConnected && r.probeTimeout > 0 {
		// The handle can be retired between Snapshot and DB; a miss
		// just means the facet below already tells the truth.
		if db, err := r.src.DB(); err == nil {
			probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
			probeErr := db.Ping(probeCtx)
			cancel()
			if probeErr != nil {
				r.src.ReportFailure(probeErr)
				snap.Database = DBError
				snap.DatabaseError = probeErr.Error()
			}
		}
	}

	if snap.DatabaseError == "" && snap.Database != DBConnected && lastErr != nil {
		snap.DatabaseError = lastErr.Error()
	}

	// A missing database config is a deliberate deployment choice, not a
	// degradation.
	if snap.Database == DBConnected || !snap.Environment.HasDBConfig {
		snap.Status = StatusHealthy
	} else {
		snap.Status = StatusDegraded
	}

	return snap
}

func databaseFacet(s lifecycle.State) string {
	switch s {
	case lifecycle.StateConnected:
		return DBConnected
	case lifecycle.StateConnecting, lifecycle.StateDegraded:
		return DBConnecting
	default:
		return DBDisconnected
	}
}
