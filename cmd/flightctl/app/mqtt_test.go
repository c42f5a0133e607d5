package app

import (
	"context"
	"testing"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

type nopInjector struct{}

func (nopInjector) Inject([]byte) {}

func TestBridgeRunWithoutBroker(t *testing.T) {
	latest := &telemetry.Latest{}
	latest.Publish(telemetry.Snapshot{Timestamp: time.Unix(1700000000, 0), State: "FLYING"})

	b := NewBridge(&MQTTConfig{
		Enabled:         true,
		Broker:          "tcp://127.0.0.1:1",
		ClientID:        "flightctl-test",
		TopicPrefix:     "quadrotor",
		PublishInterval: Duration(5 * time.Millisecond),
	}, latest, nopInjector{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()

	// an unreachable broker must not end Run on its own
	select {
	case err := <-done:
		t.Fatalf("Run() returned %v before cancel", err)
	case <-time.After(100 * time.Millisecond):
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
