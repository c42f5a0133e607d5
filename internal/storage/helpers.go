package storage

import (
	"database/sql"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && cErr != sql.ErrTxDone && *err == nil {
		*err = cErr
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func appendSnapshotValues(values []any, sessionID int64, s *telemetry.Snapshot) []any {
	return append(values,
		sessionID,
		s.Timestamp.UnixNano(),
		s.State,
		s.Pitch,
		s.Roll,
		s.YawRate,
		s.Thrust,
		s.Duty[0],
		s.Duty[1],
		s.Duty[2],
		s.Duty[3],
		boolToInt(s.Saturated),
		s.BatteryMillivolts,
		boolToInt(s.LowBattery),
		s.Distance,
		boolToInt(s.Connected),
		boolToInt(s.SensorFault),
	)
}

// snapshotRow mirrors a snapshots row as returned by selectSnapshotsSQL.
type snapshotRow struct {
	TimeNs      int64
	State       string
	Pitch       float64
	Roll        float64
	YawRate     float64
	Thrust      float64
	Duty        [4]float64
	Saturated   bool
	BatteryMv   int
	LowBattery  bool
	Distance    float64
	Connected   bool
	SensorFault bool
}

func (r *snapshotRow) dest() []any {
	return []any{
		&r.TimeNs,
		&r.State,
		&r.Pitch,
		&r.Roll,
		&r.YawRate,
		&r.Thrust,
		&r.Duty[0],
		&r.Duty[1],
		&r.Duty[2],
		&r.Duty[3],
		&r.Saturated,
		&r.BatteryMv,
		&r.LowBattery,
		&r.Distance,
		&r.Connected,
		&r.SensorFault,
	}
}

func (r *snapshotRow) snapshot() *telemetry.Snapshot {
	return &telemetry.Snapshot{
		Timestamp:         time.Unix(0, r.TimeNs).UTC(),
		State:             r.State,
		Pitch:             r.Pitch,
		Roll:              r.Roll,
		YawRate:           r.YawRate,
		Thrust:            r.Thrust,
		Duty:              r.Duty,
		Saturated:         r.Saturated,
		BatteryMillivolts: r.BatteryMv,
		LowBattery:        r.LowBattery,
		Distance:          r.Distance,
		Connected:         r.Connected,
		SensorFault:       r.SensorFault,
	}
}
