package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

// ErrNoData indicates that no snapshots exist for the given parameters.
var ErrNoData = fmt.Errorf("no data available")

// SnapshotReader provides an iterator-based interface for reading recorded
// snapshots with optional time filtering.
type SnapshotReader interface {
	// Session returns metadata about the flight this reader is accessing.
	Session() *Session

	// Next advances the iterator and returns true if there is another
	// snapshot to read, false when the iteration is complete or if an error
	// occurred.
	Next(context.Context) bool

	// Current returns the current snapshot.
	// If called after Next() returns false, the behavior is undefined.
	Current() *telemetry.Snapshot

	// Error returns any error that occurred during iteration.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}

// ReaderOption configures a SnapshotReader with filtering criteria.
type ReaderOption func(*SqliteSnapshotReader)

// WithStartTime excludes snapshots taken before t.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteSnapshotReader) {
		r.startTime = &t
	}
}

// WithEndTime excludes snapshots taken after t.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteSnapshotReader) {
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteSnapshotReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

func newSqliteSnapshotReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*SqliteSnapshotReader, error) {
	sr := &SqliteSnapshotReader{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(sr)
	}
	if err := sr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return sr, nil
}

// SqliteSnapshotReader implements SnapshotReader for SQLite database backend.
type SqliteSnapshotReader struct {
	db *sql.DB

	sessionID int64
	session   *Session
	count     int64

	startTime *time.Time // Optional start of time range filter
	endTime   *time.Time // Optional end of time range filter

	current *telemetry.Snapshot
	rows    *sql.Rows
	err     error
}

var _ SnapshotReader = (*SqliteSnapshotReader)(nil)

func (sr *SqliteSnapshotReader) init(ctx context.Context) error {
	if sr.db == nil {
		return errors.New("database connection required")
	}
	if sr.sessionID <= 0 {
		return errors.New("session ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: sr.loadSession},
		{msg: "initializing filters", fn: sr.initFilters},
		{msg: "initializing query", fn: sr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (sr *SqliteSnapshotReader) loadSession(ctx context.Context) (err error) {
	stmt, err := sr.db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if sr.session, err = scanSession(stmt.QueryRowContext(ctx, sr.sessionID)); err != nil {
		return fmt.Errorf("querying session: %w", err)
	}
	return
}

func (sr *SqliteSnapshotReader) initFilters(ctx context.Context) (err error) {
	if sr.startTime != nil && sr.endTime != nil && sr.startTime.After(*sr.endTime) {
		return fmt.Errorf("start time %s is after end time %s", sr.startTime, sr.endTime)
	}

	stmt, err := sr.db.PrepareContext(ctx, selectTimeBoundsSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var first, last sql.NullInt64
	if err = stmt.QueryRowContext(ctx, sr.sessionID).Scan(&first, &last, &sr.count); err != nil {
		return fmt.Errorf("scanning time bounds: %w", err)
	}
	if sr.count == 0 || !first.Valid || !last.Valid {
		return ErrNoData
	}

	if sr.startTime == nil {
		t := time.Unix(0, first.Int64).UTC()
		sr.startTime = &t
	}
	if sr.endTime == nil {
		t := time.Unix(0, last.Int64).UTC()
		sr.endTime = &t
	}
	return nil
}

func (sr *SqliteSnapshotReader) initQuery(ctx context.Context) (err error) {
	stmt, err := sr.db.PrepareContext(ctx, selectSnapshotsSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if sr.rows, err = stmt.QueryContext(ctx, sr.sessionID, sr.startTime.UnixNano(), sr.endTime.UnixNano()); err != nil {
		return err
	}
	return nil
}

func (sr *SqliteSnapshotReader) Session() *Session {
	return sr.session
}

// StartTime returns the lower bound of the time filter.
func (sr *SqliteSnapshotReader) StartTime() time.Time {
	return *sr.startTime
}

// EndTime returns the upper bound of the time filter.
func (sr *SqliteSnapshotReader) EndTime() time.Time {
	return *sr.endTime
}

// Count returns the number of snapshots recorded for the session, ignoring
// the time filter.
func (sr *SqliteSnapshotReader) Count() int64 {
	return sr.count
}

func (sr *SqliteSnapshotReader) Next(ctx context.Context) bool {
	if sr.err != nil || sr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		sr.err = ctx.Err()
		return false
	default:
	}

	if !sr.rows.Next() {
		sr.current = nil
		sr.err = ErrNoData
		return false
	}

	var row snapshotRow
	if sr.err = sr.rows.Scan(row.dest()...); sr.err != nil {
		sr.err = fmt.Errorf("scanning snapshot: %w", sr.err)
		return false
	}
	sr.current = row.snapshot()
	return true
}

func (sr *SqliteSnapshotReader) Current() *telemetry.Snapshot {
	return sr.current
}

func (sr *SqliteSnapshotReader) Error() error {
	if sr.err != nil && !errors.Is(sr.err, ErrNoData) {
		return sr.err
	}
	if sr.rows != nil {
		return sr.rows.Err()
	}
	return nil
}

func (sr *SqliteSnapshotReader) Close() error {
	if sr.rows != nil {
		err := sr.rows.Close()
		sr.current = nil
		sr.rows = nil
		return err
	}
	return nil
}
