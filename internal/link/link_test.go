package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/protocol"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTransport struct {
	in      chan []byte
	mu      sync.Mutex
	written [][]byte
	noPeer  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16)}
}

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.in:
		return frame, nil
	case <-time.After(5 * time.Millisecond):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noPeer {
		return ErrNoPeer
	}
	f.written = append(f.written, frame)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

// flakyTransport fails every read while failing is set.
type flakyTransport struct {
	*fakeTransport
	failing atomic.Bool
	reads   atomic.Int64
}

func (f *flakyTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	if f.failing.Load() {
		f.reads.Add(1)
		return nil, io.ErrUnexpectedEOF
	}
	return f.fakeTransport.ReadFrame(ctx)
}

func mustMarshal(t *testing.T, p protocol.Packet) []byte {
	t.Helper()
	frame, err := protocol.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return frame
}

func TestHubCommandSlot(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	h := NewHub(newFakeTransport(), WithClock(clock.Now))

	if _, ok := h.TryRecvCommand(); ok {
		t.Fatal("TryRecvCommand() on empty hub returned a command")
	}

	h.Inject(mustMarshal(t, protocol.Command{Pitch: 1, Thrust: 100}))
	h.Inject(mustMarshal(t, protocol.Command{Pitch: 2, Thrust: 200}))

	cmd, ok := h.TryRecvCommand()
	if !ok {
		t.Fatal("TryRecvCommand() = false, want true")
	}
	if cmd.Pitch != 2 {
		t.Errorf("latest command pitch = %v, want 2 (overwrite on write)", cmd.Pitch)
	}
	if _, ok = h.TryRecvCommand(); ok {
		t.Error("second TryRecvCommand() should report nothing fresh")
	}
	if !h.IsConnected() {
		t.Error("a valid command should mark the link connected")
	}
}

func TestHubConnectionLifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	h := NewHub(newFakeTransport(), WithClock(clock.Now), WithTimeout(500*time.Millisecond))

	if h.IsConnected() {
		t.Fatal("new hub should not be connected")
	}

	h.Inject([]byte{0xFF, 0x01, 0x01, 0x01})
	if !h.IsConnected() {
		t.Fatal("connect handshake should mark the link connected")
	}

	clock.Advance(499 * time.Millisecond)
	if !h.IsConnected() {
		t.Error("link should stay up inside the timeout")
	}
	clock.Advance(time.Millisecond)
	if h.IsConnected() {
		t.Error("link should drop once the timeout elapses")
	}

	h.Inject(mustMarshal(t, protocol.Command{Thrust: 10}))
	if !h.IsConnected() {
		t.Error("fresh command should restore the link")
	}

	h.Inject([]byte{0xFF, 0x01, 0x02, 0x02})
	if h.IsConnected() {
		t.Error("disconnect handshake should drop the link")
	}
}

func TestHubDropsCorruptFrames(t *testing.T) {
	h := NewHub(newFakeTransport())

	frame := mustMarshal(t, protocol.Command{Thrust: 500})
	frame[3] ^= 0x10
	h.Inject(frame)
	h.Inject([]byte{0x30})
	h.Inject(make([]byte, 80))

	if _, ok := h.TryRecvCommand(); ok {
		t.Error("corrupt frames must not reach the command slot")
	}
	st := h.Stats()
	if st.Dropped != 3 || st.Received != 0 {
		t.Errorf("Stats() = %+v, want 3 dropped, 0 received", st)
	}
	if h.IsConnected() {
		t.Error("corrupt frames must not mark the link connected")
	}
}

func TestHubGainsAndRequests(t *testing.T) {
	h := NewHub(newFakeTransport())

	for i := 0; i < DefaultGainsBacklog+2; i++ {
		h.Inject(mustMarshal(t, protocol.GainUpdate{Axis: 1, Kp: float64(i)}))
	}

	var got []protocol.GainUpdate
	for done := false; !done; {
		select {
		case g := <-h.Gains():
			got = append(got, g)
		default:
			done = true
		}
	}
	if len(got) != DefaultGainsBacklog {
		t.Fatalf("received %d gain updates, want %d", len(got), DefaultGainsBacklog)
	}
	if got[0].Kp != 0 {
		t.Errorf("first gain update Kp = %v, want 0", got[0].Kp)
	}

	if h.TelemetryRequested() {
		t.Error("no telemetry request yet")
	}
	h.Inject(mustMarshal(t, protocol.TelemetryRequest{}))
	if !h.TelemetryRequested() {
		t.Error("telemetry request not recorded")
	}
	if h.TelemetryRequested() {
		t.Error("telemetry request should be cleared after reading")
	}
}

func TestHubRun(t *testing.T) {
	ft := newFakeTransport()
	h := NewHub(ft)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.Run(ctx)
	}()

	ft.in <- mustMarshal(t, protocol.Command{Roll: 3, Thrust: 300})
	if !h.Send(protocol.Telemetry{Pitch: 1}) {
		t.Fatal("Send() = false, want true")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := h.TryRecvCommand(); ok && len(ft.Written()) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("hub did not receive and transmit in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := mustMarshal(t, protocol.Telemetry{Pitch: 1})
	if !bytes.Equal(ft.Written()[0], want) {
		t.Errorf("written frame = %x, want %x", ft.Written()[0], want)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestHubSurvivesReadErrors(t *testing.T) {
	ft := &flakyTransport{fakeTransport: newFakeTransport()}
	h := NewHub(ft)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.Run(ctx)
	}()

	waitFor := func(what string, cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for !cond() {
			select {
			case err := <-done:
				t.Fatalf("Run() returned early with %v while waiting for %s", err, what)
			default:
			}
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %s", what)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	ft.in <- mustMarshal(t, protocol.LinkControl{Connect: true})
	waitFor("connect", h.IsConnected)

	ft.failing.Store(true)
	waitFor("link loss", func() bool { return !h.IsConnected() })
	waitFor("retries", func() bool { return ft.reads.Load() >= 3 })
	if got := h.Stats().RxErrors; got < 3 {
		t.Errorf("RxErrors = %d, want at least 3", got)
	}

	ft.failing.Store(false)
	ft.in <- mustMarshal(t, protocol.Command{Thrust: 200})
	waitFor("reconnect", h.IsConnected)
	if c, ok := h.TryRecvCommand(); !ok || c.Thrust != 200 {
		t.Errorf("TryRecvCommand() = %+v, %v, want thrust 200", c, ok)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestHubSendDropsWhenFull(t *testing.T) {
	h := NewHub(newFakeTransport(), WithTxQueueSize(2))

	accepted := 0
	for i := 0; i < 10; i++ {
		if h.Send(protocol.Telemetry{}) {
			accepted++
		}
	}
	if accepted == 0 || accepted == 10 {
		t.Errorf("accepted %d of 10 sends, want a bounded number", accepted)
	}
	if h.Stats().TxDropped != uint64(10-accepted) {
		t.Errorf("TxDropped = %d, want %d", h.Stats().TxDropped, 10-accepted)
	}
}

// scriptedPort replays chunks; an empty chunk models a read timeout.
type scriptedPort struct {
	chunks [][]byte
	out    bytes.Buffer
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := p.chunks[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		p.chunks[0] = chunk[n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *scriptedPort) Write(b []byte) (int, error) { return p.out.Write(b) }
func (p *scriptedPort) Close() error                { return nil }

func TestSerialTransport(t *testing.T) {
	frame := []byte{0xFF, 0x01, 0x01, 0x01}
	port := &scriptedPort{chunks: [][]byte{
		{},
		{byte(len(frame)), frame[0]},
		frame[1:],
		{0x00},
		{byte(len(frame))},
		{},
	}}
	s := newSerialTransport(port)
	ctx := context.Background()

	if _, err := s.ReadFrame(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadFrame() error = %v, want timeout", err)
	}

	got, err := s.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("ReadFrame() = %x, want %x", got, frame)
	}

	// invalid length byte is skipped
	if _, err = s.ReadFrame(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("ReadFrame() error = %v, want timeout on bad length", err)
	}
	// timeout mid-frame drops the partial frame
	if _, err = s.ReadFrame(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("ReadFrame() error = %v, want timeout mid-frame", err)
	}
	if _, err = s.ReadFrame(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame() error = %v, want EOF", err)
	}

	if err = s.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if want := append([]byte{4}, frame...); !bytes.Equal(port.out.Bytes(), want) {
		t.Errorf("written = %x, want %x", port.out.Bytes(), want)
	}
	if err = s.WriteFrame(make([]byte, 100)); !errors.Is(err, protocol.ErrFrameTooLong) {
		t.Errorf("WriteFrame() error = %v, want %v", err, protocol.ErrFrameTooLong)
	}
}

func TestUDPTransport(t *testing.T) {
	srv, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Skipf("udp not available: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	if err = srv.WriteFrame([]byte{1, 1}); !errors.Is(err, ErrNoPeer) {
		t.Errorf("WriteFrame() before any peer error = %v, want %v", err, ErrNoPeer)
	}
	if _, err = srv.ReadFrame(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Errorf("ReadFrame() with no traffic error = %v, want %v", err, ErrTimeout)
	}
}
