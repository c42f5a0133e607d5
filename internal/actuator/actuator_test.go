package actuator

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return strings.TrimSpace(string(data))
}

func fakeChip(t *testing.T, channels [Motors]int) string {
	t.Helper()
	chip := t.TempDir()
	for _, ch := range channels {
		dir := filepath.Join(chip, "pwm"+string(rune('0'+ch)))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("creating %s: %v", dir, err)
		}
	}
	return chip
}

func TestPWM(t *testing.T) {
	channels := [Motors]int{0, 1, 2, 3}
	chip := fakeChip(t, channels)

	p, err := NewPWM(chip, channels, 1000)
	if err != nil {
		t.Fatalf("NewPWM() error = %v", err)
	}
	for _, ch := range []string{"pwm0", "pwm3"} {
		if got := readFile(t, filepath.Join(chip, ch, "period")); got != "1000" {
			t.Errorf("%s period = %s, want 1000", ch, got)
		}
		if got := readFile(t, filepath.Join(chip, ch, "enable")); got != "1" {
			t.Errorf("%s enable = %s, want 1", ch, got)
		}
	}

	if err = p.SetMotorDuty([Motors]float64{0, 50, 100, 150}); err != nil {
		t.Fatalf("SetMotorDuty() error = %v", err)
	}
	want := []string{"0", "500", "1000", "1000"}
	for i, w := range want {
		if got := readFile(t, filepath.Join(chip, "pwm"+string(rune('0'+i)), "duty_cycle")); got != w {
			t.Errorf("motor %d duty_cycle = %s, want %s", i+1, got, w)
		}
	}

	if err = p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := readFile(t, filepath.Join(chip, "pwm2", "duty_cycle")); got != "0" {
		t.Errorf("duty_cycle after Close = %s, want 0", got)
	}
	if got := readFile(t, filepath.Join(chip, "pwm2", "enable")); got != "0" {
		t.Errorf("enable after Close = %s, want 0", got)
	}
}

func TestDutyToNanos(t *testing.T) {
	tests := []struct {
		duty float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{25, 12_500},
		{100, DefaultPeriod},
		{250, DefaultPeriod},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := dutyToNanos(tt.duty, DefaultPeriod); got != tt.want {
			t.Errorf("dutyToNanos(%v) = %d, want %d", tt.duty, got, tt.want)
		}
	}
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(nil)
	duty := [Motors]float64{10, 20, 30, 40}
	if err := s.SetMotorDuty(duty); err != nil {
		t.Fatalf("SetMotorDuty() error = %v", err)
	}
	if s.Last() != duty {
		t.Errorf("Last() = %v, want %v", s.Last(), duty)
	}
}
