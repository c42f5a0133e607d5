package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/quadrotor-fc/internal/link"
	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

type fixedStats link.Stats

func (s fixedStats) Stats() link.Stats { return link.Stats(s) }

func newTestServer(latest *telemetry.Latest) *Server {
	return NewServer(&StatusConfig{
		Enabled:        true,
		Listen:         "127.0.0.1:0",
		StreamInterval: Duration(5 * time.Millisecond),
	}, latest, fixedStats{Received: 7, Connected: true}, discardLogger())
}

func TestServerStatus(t *testing.T) {
	latest := &telemetry.Latest{}
	srv := newTestServer(latest)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status before first snapshot = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	latest.Publish(telemetry.Snapshot{State: "FLYING", Pitch: 1.5})

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got telemetry.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got.State != "FLYING" || got.Pitch != 1.5 {
		t.Errorf("body = %+v", got)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestServerLink(t *testing.T) {
	srv := newTestServer(&telemetry.Latest{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/link", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got link.Stats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got.Received != 7 || !got.Connected {
		t.Errorf("body = %+v", got)
	}
}

func TestServerStream(t *testing.T) {
	latest := &telemetry.Latest{}
	srv := newTestServer(latest)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	latest.Publish(telemetry.Snapshot{Timestamp: time.Unix(1700000000, 0), State: "LANDING"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got telemetry.Snapshot
	if err = conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got.State != "LANDING" {
		t.Errorf("streamed state = %q, want LANDING", got.State)
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	srv := newTestServer(&telemetry.Latest{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestServerRunSurvivesBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer busy.Close()

	srv := NewServer(&StatusConfig{
		Enabled:        true,
		Listen:         busy.Addr().String(),
		StreamInterval: Duration(5 * time.Millisecond),
	}, &telemetry.Latest{}, fixedStats{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return on bind failure")
	}
}
