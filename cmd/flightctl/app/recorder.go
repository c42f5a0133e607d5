package app

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/quadrotor-fc/internal/storage"
	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

const (
	maxBatchSize       = 100
	subscriptionBuffer = 256
	flushInterval      = time.Second
	finalFlushDeadline = 5 * time.Second
)

// Subscriber hands out snapshot subscriptions.
type Subscriber interface {
	Subscribe(buffer int) (<-chan telemetry.Snapshot, func())
}

// WithMaxBatchSize sets the maximum number of snapshots to store within a
// single database transaction.
func WithMaxBatchSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		r.maxBatchSize = size
	}
}

// WithEvery keeps one snapshot out of every n.
func WithEvery(n int) func(*Recorder) {
	return func(r *Recorder) {
		r.every = n
	}
}

// WithFlushInterval sets how often pending snapshots are written.
func WithFlushInterval(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		r.flushInterval = d
	}
}

// Recorder stores a down-sampled stream of snapshots as one flight session.
type Recorder struct {
	store    storage.Store
	source   Subscriber
	logger   *slog.Logger
	airframe string
	config   any

	maxBatchSize  int
	every         int
	flushInterval time.Duration

	sessionID int64
	pending   []telemetry.Snapshot
	seen      uint64
	stored    uint64
	failed    uint64
}

// NewRecorder creates a Recorder
func NewRecorder(store storage.Store, source Subscriber, airframe string, config any, logger *slog.Logger, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		store:         store,
		source:        source,
		logger:        logger.With(slog.String("component", "recorder")),
		airframe:      airframe,
		config:        config,
		maxBatchSize:  maxBatchSize,
		every:         1,
		flushInterval: flushInterval,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Run creates the session and records until ctx is cancelled; whatever is
// pending at that point is flushed before returning. If the session cannot
// be created the flight goes unrecorded.
func (r *Recorder) Run(ctx context.Context) error {
	sessionID, flightID, err := r.store.CreateSession(ctx, r.airframe, r.config)
	if err != nil {
		r.logger.Error("failed to create session, recording disabled", slog.String("error", err.Error()))
		return nil
	}
	r.sessionID = sessionID
	r.logger.Info("recording flight", slog.Int64("session", sessionID), slog.String("flight", flightID.String()))

	snapshots, unsubscribe := r.source.Subscribe(max(subscriptionBuffer, r.maxBatchSize))
	defer unsubscribe()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushDeadline)
			r.flush(flushCtx)
			cancel()

			r.logger.Info("recording stopped",
				slog.String("stored", humanize.Comma(int64(r.stored))),
				slog.String("failed", humanize.Comma(int64(r.failed))),
				slog.String("started", humanize.Time(started)))
			return nil

		case s, ok := <-snapshots:
			if !ok {
				return nil
			}
			r.add(s)

		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) add(s telemetry.Snapshot) {
	r.seen++
	if (r.seen-1)%uint64(r.every) != 0 {
		return
	}
	r.pending = append(r.pending, s)
}

func (r *Recorder) flush(ctx context.Context) {
	if len(r.pending) == 0 {
		return
	}

	for chunk := range slices.Chunk(r.pending, r.maxBatchSize) {
		if err := r.store.StoreSnapshots(ctx, r.sessionID, chunk); err != nil {
			r.failed += uint64(len(chunk))
			r.logger.Error("failed to store snapshots",
				slog.Int("count", len(chunk)),
				slog.String("error", err.Error()))
			continue
		}
		r.stored += uint64(len(chunk))
	}

	r.pending = r.pending[:0]
}

// Stored returns how many snapshots have been written so far.
func (r *Recorder) Stored() uint64 {
	return r.stored
}
