package app

import (
	"context"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/storage"
	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

func writeTestFlight(t *testing.T, dbPath string) int64 {
	t.Helper()
	ctx := context.Background()

	store := storage.NewSqliteStore(dbPath)
	defer store.Close()

	id, _, err := store.CreateSession(ctx, "x250", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	snapshots := make([]telemetry.Snapshot, 200)
	for i := range snapshots {
		snapshots[i] = telemetry.Snapshot{
			Timestamp: flightStart.Add(time.Duration(i) * 5 * time.Millisecond),
			State:     "FLYING",
			Pitch:     float64(i%20) - 10,
			Duty:      [4]float64{50, 50, 50, 50},
		}
	}
	if err = store.StoreSnapshots(ctx, id, snapshots); err != nil {
		t.Fatalf("StoreSnapshots() error = %v", err)
	}
	return id
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "flight.sqlite")
	id := writeTestFlight(t, dbPath)

	from := flightStart.Add(100 * time.Millisecond)
	config := NewConfig()
	config.DBPath = dbPath
	config.SessionID = id
	config.OutputFile = filepath.Join(dir, "flight.png")
	config.Width = 400
	config.From = &from

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := Run(context.Background(), config, logger); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	f, err := os.Open(config.OutputFile)
	if err != nil {
		t.Fatalf("opening output: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if img.Bounds().Dx() != defaultLeftBorder+400+defaultRightBorder {
		t.Errorf("image width = %d", img.Bounds().Dx())
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "flight.sqlite")
	id := writeTestFlight(t, dbPath)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	after := flightStart.Add(time.Hour)

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "missing database", modify: func(c *Config) { c.DBPath = filepath.Join(dir, "nope.sqlite") }},
		{name: "unknown session", modify: func(c *Config) { c.SessionID = id + 10 }},
		{name: "empty range", modify: func(c *Config) { c.From = &after }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewConfig()
			config.DBPath = dbPath
			config.SessionID = id
			config.OutputFile = filepath.Join(dir, tt.name+".png")
			tt.modify(config)

			if err := Run(context.Background(), config, logger); err == nil {
				t.Error("Run() error = nil, want error")
			}
			if _, err := os.Stat(config.OutputFile); err == nil {
				t.Error("no image should be written on failure")
			}
		})
	}
}
