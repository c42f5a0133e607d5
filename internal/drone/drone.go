package drone

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/attitude"
	"github.com/roman-kulish/quadrotor-fc/internal/control"
	"github.com/roman-kulish/quadrotor-fc/internal/fsm"
	"github.com/roman-kulish/quadrotor-fc/internal/indicator"
	"github.com/roman-kulish/quadrotor-fc/internal/protocol"
	"github.com/roman-kulish/quadrotor-fc/internal/rangefinder"
	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

// State is a lifecycle state.
type State uint8

const (
	Calibrating State = iota
	WaitingController
	Flying
	Landing
)

func (s State) String() string {
	switch s {
	case Calibrating:
		return "CALIBRATING"
	case WaitingController:
		return "WAITING_CONTROLLER"
	case Flying:
		return "FLYING"
	case Landing:
		return "LANDING"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Option configures a Drone.
type Option func(*Drone)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Drone) {
		d.logger = logger
	}
}

// inputs are captured once at the start of a tick; guards only look at these.
type inputs struct {
	now       time.Time
	dt        float64
	gyro      attitude.GyroSample
	accel     attitude.AccelSample
	sampleErr error
	connected bool
	distance  float64
}

// Drone owns the lifecycle machine and every piece of state its rules touch.
// Tick must be called from a single goroutine.
type Drone struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	machine *fsm.Machine[State, *Drone]

	estimator  *attitude.Estimator
	calibrator *attitude.Calibrator
	calOpts    []attitude.CalibratorOption
	mixer      *control.Mixer

	in       inputs
	started  bool
	lastTick time.Time
	ticks    uint64

	command           protocol.Command // held until a newer one arrives
	yawRate           float64          // last good bias-corrected yaw rate
	outputs           control.Outputs
	thrust            float64 // thrust in effect this tick
	landing           float64 // landing thrust ramp
	touched           bool
	batteryMillivolts int
	batteryKnown      bool
	lowBattery        bool

	// edge tracking for logs
	saturated   bool
	batteryErr  bool
	motorErr    bool
	sensorFault bool
}

// New builds the drone and validates its transition table.
func New(cfg Config, deps Deps, opts ...Option) (*Drone, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("validating dependencies: %w", err)
	}

	d := &Drone{
		cfg:       cfg,
		deps:      deps,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		estimator: attitude.NewEstimator(),
		calOpts: []attitude.CalibratorOption{
			attitude.WithWindow(cfg.CalibrationWindow),
			attitude.WithGyroThreshold(cfg.GyroThreshold),
			attitude.WithAccelThreshold(cfg.AccelThreshold),
		},
		mixer: control.NewMixer(cfg.Pitch, cfg.Roll, cfg.Yaw, cfg.Period,
			control.WithMinThrust(cfg.MinThrust),
			control.WithFloorDuty(cfg.FloorDuty),
		),
		outputs: control.Floor(cfg.FloorDuty),
	}
	for _, opt := range opts {
		opt(d)
	}

	m, err := fsm.New(Calibrating, d, transitions(), fsm.WithUnmatched[State, *Drone](d.unmatched))
	if err != nil {
		return nil, fmt.Errorf("building lifecycle machine: %w", err)
	}
	d.machine = m

	return d, nil
}

// Tick runs one control cycle at now: it captures the inputs, fires the
// lifecycle machine exactly once and then updates the side outputs.
func (d *Drone) Tick(now time.Time) {
	d.capture(now)

	prev := d.machine.State()
	d.machine.Fire()
	if s := d.machine.State(); s != prev {
		d.logger.Info("state changed", slog.String("from", prev.String()), slog.String("to", s.String()))
	}

	d.updateIndicators(now)
	d.sendTelemetry()
	d.publish()

	d.lastTick = now
	d.ticks++
}

func (d *Drone) capture(now time.Time) {
	d.in.now = now
	d.in.dt = d.cfg.Period.Seconds()
	if !d.started {
		d.calibrator = attitude.NewCalibrator(now, d.calOpts...)
		d.mixer.Reset(now)
		d.started = true
	} else if dt := now.Sub(d.lastTick).Seconds(); dt > 0 {
		d.in.dt = dt
	}

	d.in.gyro, d.in.accel, d.in.sampleErr = d.deps.IMU.ReadRaw()
	if d.in.sampleErr == nil && (!d.in.gyro.Finite() || !d.in.accel.Finite()) {
		d.in.sampleErr = attitude.ErrNonFiniteSample
	}
	if fault := d.in.sampleErr != nil; fault != d.sensorFault {
		d.sensorFault = fault
		if fault {
			d.logger.Warn("imu sample rejected, holding estimate", slog.String("error", d.in.sampleErr.Error()))
		} else {
			d.logger.Info("imu samples recovered")
		}
	}

	d.in.connected = d.deps.Link.IsConnected()
	if cmd, ok := d.deps.Link.TryRecvCommand(); ok {
		d.command = cmd
	}
	d.applyGains()

	if d.ticks%uint64(d.cfg.BatteryEvery) == 0 {
		d.readBattery()
	}

	d.in.distance = rangefinder.NoReading
	if d.deps.Rangefinder != nil {
		d.in.distance = d.deps.Rangefinder.Latest()
	}
}

func (d *Drone) applyGains() {
	for {
		select {
		case g := <-d.deps.Link.Gains():
			axis := control.Axis(g.Axis)
			pid := d.mixer.PID(axis)
			if pid == nil {
				d.logger.Warn("gain update for unknown axis", slog.Int("axis", int(g.Axis)))
				continue
			}
			pid.UpdateConstants(control.Gains{Kp: g.Kp, Ki: g.Ki, Kd: g.Kd})
			d.logger.Info("gains updated",
				slog.String("axis", axis.String()),
				slog.Float64("kp", g.Kp),
				slog.Float64("ki", g.Ki),
				slog.Float64("kd", g.Kd),
			)
		default:
			return
		}
	}
}

func (d *Drone) readBattery() {
	mv, err := d.deps.Battery.ReadMillivolts()
	if err != nil {
		if !d.batteryErr {
			d.logger.Warn("failed to read battery, keeping last value", slog.String("error", err.Error()))
		}
		d.batteryErr = true
		return
	}
	d.batteryErr = false
	d.batteryMillivolts = mv
	d.batteryKnown = true
}

func (d *Drone) drive(out control.Outputs) {
	d.outputs = out

	if sat := out.Saturation(); sat != d.saturated {
		d.saturated = sat
		if sat {
			d.logger.Warn("motor output saturated", slog.Any("duty", out.Duty))
		}
	}

	if err := d.deps.Motors.SetMotorDuty(out.Duty); err != nil {
		if !d.motorErr {
			d.logger.Error("failed to drive motors", slog.String("error", err.Error()))
		}
		d.motorErr = true
		return
	}
	d.motorErr = false
}

func (d *Drone) updateIndicators(now time.Time) {
	p := d.deps.Indicators
	if p == nil {
		return
	}

	switch d.machine.State() {
	case Calibrating, Landing:
		p.Status.Set(indicator.Blinking)
	default:
		p.Status.Set(indicator.On)
	}

	if d.in.connected {
		p.Link.Set(indicator.On)
	} else {
		p.Link.Set(indicator.Off)
	}

	if d.lowBattery {
		p.Battery.Set(indicator.Blinking)
	} else {
		p.Battery.Set(indicator.Off)
	}

	if err := p.Tick(now); err != nil {
		d.logger.Debug("failed to drive indicators", slog.String("error", err.Error()))
	}
}

func (d *Drone) sendTelemetry() {
	requested := d.deps.Link.TelemetryRequested()
	every := d.cfg.TelemetryEvery > 0 && d.ticks%uint64(d.cfg.TelemetryEvery) == 0
	if !requested && !(every && d.in.connected) {
		return
	}

	est := d.estimator.Hold()
	d.deps.Link.Send(protocol.Telemetry{Pitch: est.Pitch, Roll: est.Roll, YawRate: d.yawRate})
}

func (d *Drone) publish() {
	if d.deps.Telemetry == nil {
		return
	}
	d.deps.Telemetry.Publish(d.Snapshot())
}

// Snapshot returns the state at the end of the last tick.
func (d *Drone) Snapshot() telemetry.Snapshot {
	est := d.estimator.Hold()
	return telemetry.Snapshot{
		Timestamp:         d.in.now,
		State:             d.machine.State().String(),
		Pitch:             est.Pitch,
		Roll:              est.Roll,
		YawRate:           d.yawRate,
		Thrust:            d.thrust,
		Duty:              d.outputs.Duty,
		Saturated:         d.outputs.Saturation(),
		BatteryMillivolts: d.batteryMillivolts,
		LowBattery:        d.lowBattery,
		Distance:          d.in.distance,
		Connected:         d.in.connected,
		SensorFault:       d.in.sampleErr != nil,
	}
}

func (d *Drone) unmatched(s State) {
	d.logger.Error("no transition matched", slog.String("state", s.String()))
}

// State returns the lifecycle state.
func (d *Drone) State() State {
	return d.machine.State()
}

// Estimate returns the fused attitude.
func (d *Drone) Estimate() attitude.Estimate {
	return d.estimator.Hold()
}

// Bias returns the calibration offsets in use.
func (d *Drone) Bias() attitude.BiasOffsets {
	return d.estimator.Bias()
}

// Outputs returns the motor outputs of the last tick.
func (d *Drone) Outputs() control.Outputs {
	return d.outputs
}

// Gains returns the current gains of axis.
func (d *Drone) Gains(axis control.Axis) (control.Gains, bool) {
	pid := d.mixer.PID(axis)
	if pid == nil {
		return control.Gains{}, false
	}
	return pid.Gains(), true
}
