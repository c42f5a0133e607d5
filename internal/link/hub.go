// Package link owns the ground-station connection: it decodes incoming
// frames into a single-slot latest command, tracks whether the link is up,
// queues gain updates for the control loop and drains outgoing telemetry.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/quadrotor-fc/internal/protocol"
)

var (
	// ErrTimeout is returned by a Transport when no frame arrived within its
	// poll interval. It is not a failure.
	ErrTimeout = errors.New("read timeout")

	// ErrNoPeer is returned when there is nobody to send a frame to yet.
	ErrNoPeer = errors.New("no peer to send to")
)

const (
	DefaultTimeout      = 500 * time.Millisecond
	DefaultTxQueueSize  = 8
	DefaultGainsBacklog = 4

	pollInterval = 50 * time.Millisecond
	maxBackoff   = time.Second
)

// Transport moves whole frames. ReadFrame must return within a bounded time,
// with ErrTimeout when nothing arrived.
type Transport interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Stats are cumulative frame counters.
type Stats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Sent      uint64 `json:"sent"`
	TxDropped uint64 `json:"txDropped"`
	RxErrors  uint64 `json:"rxErrors"`
	Connected bool   `json:"connected"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithTimeout sets how long the link may stay silent before it is reported
// as lost. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.timeout = d
	}
}

// WithTxQueueSize sets the capacity of the outgoing queue.
func WithTxQueueSize(n uint64) Option {
	return func(h *Hub) {
		h.txSize = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// Hub is shared between the transport goroutines and the control tick. All
// state the tick reads is held in atomics or a bounded channel.
type Hub struct {
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration
	txSize    uint64

	latest    atomic.Pointer[protocol.Command]
	fresh     atomic.Bool
	connected atomic.Bool
	lastRx    atomic.Int64
	requested atomic.Bool

	gains chan protocol.GainUpdate
	tx    *queue.RingBuffer

	received  atomic.Uint64
	dropped   atomic.Uint64
	sent      atomic.Uint64
	txDropped atomic.Uint64
	rxErrors  atomic.Uint64
}

// NewHub returns a hub reading from and writing to t.
func NewHub(t Transport, opts ...Option) *Hub {
	h := &Hub{
		transport: t,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		timeout:   DefaultTimeout,
		txSize:    DefaultTxQueueSize,
		gains:     make(chan protocol.GainUpdate, DefaultGainsBacklog),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.tx = queue.NewRingBuffer(h.txSize)
	return h
}

// Run receives and transmits until ctx is cancelled. Transport read errors
// mark the link lost and are retried with backoff; they never end Run.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.receive(ctx)
	})
	g.Go(func() error {
		return h.transmit(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		h.tx.Dispose()
		return nil
	})

	return g.Wait()
}

func (h *Hub) receive(ctx context.Context) error {
	backoff := pollInterval
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := h.transport.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}

			h.rxErrors.Add(1)
			if h.connected.Swap(false) {
				h.logger.Warn("ground station lost", slog.String("error", err.Error()))
			} else {
				h.logger.Debug("failed to read frame", slog.String("error", err.Error()))
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = pollInterval
		h.Inject(frame)
	}
}

func (h *Hub) transmit(ctx context.Context) error {
	for {
		item, err := h.tx.Poll(pollInterval)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				if ctx.Err() != nil {
					return nil
				}
				continue
			}
			if errors.Is(err, queue.ErrDisposed) {
				return nil
			}
			return fmt.Errorf("polling tx queue: %w", err)
		}

		if err = h.transport.WriteFrame(item.([]byte)); err != nil {
			h.txDropped.Add(1)
			if !errors.Is(err, ErrNoPeer) {
				h.logger.Warn("failed to send frame", slog.String("error", err.Error()))
			}
			continue
		}
		h.sent.Add(1)
	}
}

// Inject handles a frame as if it had arrived on the transport. It is safe
// to call from any goroutine.
func (h *Hub) Inject(frame []byte) {
	p, err := protocol.Parse(frame)
	if err != nil {
		h.dropped.Add(1)
		h.logger.Debug("dropped frame", slog.String("error", err.Error()), slog.Int("size", len(frame)))
		return
	}

	now := h.now()
	h.received.Add(1)

	switch p := p.(type) {
	case protocol.Command:
		h.latest.Store(&p)
		h.fresh.Store(true)
		h.markSeen(now)
		if !h.connected.Swap(true) {
			h.logger.Info("ground station connected", slog.String("via", "command"))
		}

	case protocol.LinkControl:
		h.markSeen(now)
		if h.connected.Swap(p.Connect) != p.Connect {
			if p.Connect {
				h.logger.Info("ground station connected", slog.String("via", "handshake"))
			} else {
				h.logger.Info("ground station disconnected")
			}
		}

	case protocol.GainUpdate:
		h.markSeen(now)
		select {
		case h.gains <- p:
		default:
			h.dropped.Add(1)
			h.logger.Warn("gain update backlog full, dropping", slog.Int("axis", int(p.Axis)))
		}

	case protocol.TelemetryRequest:
		h.markSeen(now)
		h.requested.Store(true)

	default:
		h.dropped.Add(1)
		h.logger.Debug("ignored packet", slog.String("kind", fmt.Sprintf("0x%02x", byte(p.Kind()))))
	}
}

func (h *Hub) markSeen(now time.Time) {
	h.lastRx.Store(now.UnixNano())
}

// TryRecvCommand returns the latest command if one arrived since the last
// call. It never blocks.
func (h *Hub) TryRecvCommand() (protocol.Command, bool) {
	if !h.fresh.Swap(false) {
		return protocol.Command{}, false
	}
	if c := h.latest.Load(); c != nil {
		return *c, true
	}
	return protocol.Command{}, false
}

// IsConnected reports whether the ground station announced itself and has
// been heard from within the timeout.
func (h *Hub) IsConnected() bool {
	if !h.connected.Load() {
		return false
	}
	if h.timeout <= 0 {
		return true
	}
	return h.now().Sub(time.Unix(0, h.lastRx.Load())) < h.timeout
}

// Send queues p for transmission and reports whether it was accepted. A full
// queue drops the packet.
func (h *Hub) Send(p protocol.Packet) bool {
	frame, err := protocol.Marshal(p)
	if err != nil {
		h.logger.Error("failed to marshal packet", slog.String("error", err.Error()))
		return false
	}

	ok, err := h.tx.Offer(frame)
	if err != nil || !ok {
		h.txDropped.Add(1)
		return false
	}
	return true
}

// Gains delivers gain updates to the control loop.
func (h *Hub) Gains() <-chan protocol.GainUpdate {
	return h.gains
}

// TelemetryRequested reports and clears a pending telemetry request.
func (h *Hub) TelemetryRequested() bool {
	return h.requested.Swap(false)
}

// Stats returns a snapshot of the frame counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Received:  h.received.Load(),
		Dropped:   h.dropped.Load(),
		Sent:      h.sent.Load(),
		TxDropped: h.txDropped.Load(),
		RxErrors:  h.rxErrors.Load(),
		Connected: h.IsConnected(),
	}
}
