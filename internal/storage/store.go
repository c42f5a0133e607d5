// Package storage records flights in SQLite: one session per flight and the
// per-tick snapshots taken during it.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

// Session describes one recorded flight.
type Session struct {
	ID        int64     `json:"id"`
	FlightID  uuid.UUID `json:"flightId"`
	StartTime time.Time `json:"startTime"`
	Airframe  string    `json:"airframe"`
	Config    *string   `json:"config,omitempty"`
}

// Store provides flight recording operations. Writes are atomic per call.
type Store interface {
	// CreateSession starts a new flight record.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - airframe: Free-form airframe name
	//   - config: Optional flight configuration. Can be string, []byte, or a JSON-serializable value
	//
	// Returns:
	//   - sessionID: Identifier used by the other calls
	//   - flightID: Globally unique flight identifier
	//   - error: If creation fails or context is cancelled
	CreateSession(ctx context.Context, airframe string, config any) (sessionID int64, flightID uuid.UUID, err error)

	// Session retrieves one session by its ID.
	Session(ctx context.Context, id int64) (*Session, error)

	// Sessions returns all sessions ordered by start time.
	Sessions(ctx context.Context) ([]*Session, error)

	// StoreSnapshots saves a batch of snapshots in a single transaction.
	StoreSnapshots(ctx context.Context, sessionID int64, snapshots []telemetry.Snapshot) error

	// Close releases all database connections. It is safe to call Close
	// multiple times.
	Close() error
}
