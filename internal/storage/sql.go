package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_snapshots_session_time ON snapshots (session_id, time_ns)`

	insertSessionSQL = `
INSERT INTO sessions (flight_id,
                      start_time,
                      airframe,
                      config)
VALUES (?, ?, ?, ?)`

	selectSessionSQL = `
SELECT id,
       flight_id,
       start_time,
       airframe,
       config
FROM sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       flight_id,
       start_time,
       airframe,
       config
FROM sessions
ORDER BY start_time, id`

	insertSnapshotsSQL = `
INSERT INTO snapshots (session_id,
                       time_ns,
                       state,
                       pitch,
                       roll,
                       yaw_rate,
                       thrust,
                       duty_1,
                       duty_2,
                       duty_3,
                       duty_4,
                       saturated,
                       battery_mv,
                       low_battery,
                       distance,
                       connected,
                       sensor_fault)
VALUES `

	snapshotPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	snapshotColumns     = 17

	selectTimeBoundsSQL = `
SELECT MIN(time_ns),
       MAX(time_ns),
       COUNT(*)
FROM snapshots
WHERE session_id = ?`

	selectSnapshotsSQL = `
SELECT time_ns,
       state,
       pitch,
       roll,
       yaw_rate,
       thrust,
       duty_1,
       duty_2,
       duty_3,
       duty_4,
       saturated,
       battery_mv,
       low_battery,
       distance,
       connected,
       sensor_fault
FROM snapshots
WHERE session_id = ?
  AND time_ns BETWEEN ? AND ?
ORDER BY time_ns, id`
)
