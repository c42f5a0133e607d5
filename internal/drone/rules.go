package drone

import (
	"log/slog"
	"math"

	"github.com/roman-kulish/quadrotor-fc/internal/control"
	"github.com/roman-kulish/quadrotor-fc/internal/fsm"
	"github.com/roman-kulish/quadrotor-fc/internal/protocol"
)

type rule = fsm.Transition[State, *Drone]

// transitions is the lifecycle table. Within a state the guards are
// complementary, so every tick matches exactly one rule; order still
// decides priority.
func transitions() []rule {
	return []rule{
		{From: Calibrating, Guard: (*Drone).sampleInvalid, To: Calibrating, Action: (*Drone).holdCalibration},
		{From: Calibrating, Guard: (*Drone).stillWithinWindow, To: Calibrating, Action: (*Drone).foldSample},
		{From: Calibrating, Guard: (*Drone).movingWithinWindow, To: Calibrating, Action: (*Drone).restartCalibration},
		{From: Calibrating, Guard: (*Drone).windowDone, To: WaitingController, Action: (*Drone).finishCalibration},
		{From: Calibrating, Guard: (*Drone).windowEmpty, To: Calibrating, Action: (*Drone).restartCalibration},

		{From: WaitingController, Guard: (*Drone).connected, To: Flying, Action: (*Drone).arm},
		{From: WaitingController, Guard: (*Drone).disconnected, To: WaitingController, Action: (*Drone).idle},

		{From: Flying, Guard: (*Drone).batteryOK, To: Flying, Action: (*Drone).controlCycle},
		{From: Flying, Guard: (*Drone).batteryLow, To: Flying, Action: (*Drone).lowBatteryCycle},
		{From: Flying, Guard: (*Drone).mustLand, To: Landing, Action: (*Drone).beginLanding},

		{From: Landing, Guard: fsm.Always[*Drone], To: Landing, Action: (*Drone).descend},
	}
}

// guards

func (d *Drone) sampleInvalid() bool {
	return d.in.sampleErr != nil
}

func (d *Drone) still() bool {
	return d.calibrator.Still(d.in.gyro, d.in.accel)
}

func (d *Drone) stillWithinWindow() bool {
	return d.calibrator.Remaining(d.in.now) && d.still()
}

func (d *Drone) movingWithinWindow() bool {
	return d.calibrator.Remaining(d.in.now) && !d.still()
}

func (d *Drone) windowDone() bool {
	return !d.calibrator.Remaining(d.in.now) && d.calibrator.Samples() > 0
}

func (d *Drone) windowEmpty() bool {
	return !d.calibrator.Remaining(d.in.now) && d.calibrator.Samples() == 0
}

func (d *Drone) connected() bool {
	return d.in.connected
}

func (d *Drone) disconnected() bool {
	return !d.in.connected
}

// batteryAtLeast treats an unknown voltage as a full battery.
func (d *Drone) batteryAtLeast(mv int) bool {
	return !d.batteryKnown || d.batteryMillivolts >= mv
}

func (d *Drone) batteryOK() bool {
	return d.in.connected && d.batteryAtLeast(d.cfg.LowBatteryMillivolts)
}

func (d *Drone) batteryLow() bool {
	return d.in.connected &&
		d.batteryAtLeast(d.cfg.CriticalBatteryMillivolts) &&
		!d.batteryAtLeast(d.cfg.LowBatteryMillivolts)
}

func (d *Drone) mustLand() bool {
	return !d.in.connected || !d.batteryAtLeast(d.cfg.CriticalBatteryMillivolts)
}

// actions

func (d *Drone) floor() {
	d.thrust = 0
	d.drive(control.Floor(d.mixer.FloorDuty()))
}

func (d *Drone) holdCalibration() {
	d.floor()
}

func (d *Drone) foldSample() {
	// sampleInvalid has priority, so this only fails if that ordering changes
	if err := d.calibrator.Add(d.in.gyro, d.in.accel); err != nil {
		d.logger.Error("failed to fold calibration sample", slog.String("error", err.Error()))
	}
	d.floor()
}

func (d *Drone) restartCalibration() {
	d.calibrator.Restart(d.in.now, d.in.gyro, d.in.accel)
	d.floor()
}

func (d *Drone) finishCalibration() {
	bias, err := d.calibrator.Finish()
	if err != nil {
		// windowDone guarantees samples; keep the zero bias if that ever changes
		d.logger.Error("failed to finish calibration", slog.String("error", err.Error()))
	}
	d.estimator.SetBias(bias)
	d.estimator.Reset()
	d.floor()

	d.logger.Info("calibration finished",
		slog.Int("samples", d.calibrator.Samples()),
		slog.Group("gyro",
			slog.Float64("pitchRate", bias.Gyro.PitchRate),
			slog.Float64("rollRate", bias.Gyro.RollRate),
			slog.Float64("yawRate", bias.Gyro.YawRate),
		),
		slog.Group("accel",
			slog.Float64("x", bias.Accel.X),
			slog.Float64("y", bias.Accel.Y),
			slog.Float64("z", bias.Accel.Z),
		),
	)
}

func (d *Drone) arm() {
	d.mixer.Reset(d.in.now)
	d.command = protocol.Command{}
	d.lowBattery = false
	d.fuse()
	d.floor()
	d.logger.Info("armed")
}

func (d *Drone) idle() {
	d.fuse()
	d.floor()
}

// fuse updates the estimate from a good sample; a bad one holds the last
// estimate and yaw rate.
func (d *Drone) fuse() {
	if d.in.sampleErr != nil {
		return
	}
	if _, err := d.estimator.Update(d.in.gyro, d.in.accel, d.in.dt); err != nil {
		return
	}
	d.yawRate = d.estimator.Correct(d.in.gyro).YawRate
}

func (d *Drone) controlCycle() {
	d.lowBattery = false
	d.cycle()
}

func (d *Drone) lowBatteryCycle() {
	if !d.lowBattery {
		d.logger.Warn("battery low", slog.Int("millivolts", d.batteryMillivolts))
	}
	d.lowBattery = true
	d.cycle()
}

func (d *Drone) cycle() {
	d.fuse()
	d.thrust = d.command.Thrust
	sp := control.Setpoint{
		Pitch:   d.command.Pitch,
		Roll:    d.command.Roll,
		YawRate: d.command.YawRate,
		Thrust:  d.command.Thrust,
	}
	d.drive(d.mixer.Mix(sp, d.estimator.Hold(), d.yawRate, d.in.now))
}

func (d *Drone) beginLanding() {
	reason := "link lost"
	if !d.batteryAtLeast(d.cfg.CriticalBatteryMillivolts) {
		reason = "battery critical"
		d.lowBattery = true
	}
	d.landing = math.Max(0, math.Min(d.command.Thrust, control.MaxThrust))
	d.touched = false

	d.logger.Warn("landing",
		slog.String("reason", reason),
		slog.Float64("thrust", d.landing),
		slog.Int("batteryMillivolts", d.batteryMillivolts),
	)
	d.descend()
}

// descend ramps thrust down with a level setpoint until touchdown, then
// keeps the motors at the floor duty.
func (d *Drone) descend() {
	d.fuse()
	if d.touched {
		d.floor()
		return
	}

	d.landing -= d.cfg.LandingRampPerSecond * d.in.dt
	near := d.cfg.TouchdownHeight > 0 && d.in.distance >= 0 && d.in.distance <= d.cfg.TouchdownHeight
	if d.landing <= 0 || near {
		d.landing = 0
		d.touched = true
		d.mixer.Reset(d.in.now)
		d.floor()
		d.logger.Info("touched down", slog.Float64("distance", d.in.distance))
		return
	}

	d.thrust = d.landing
	d.drive(d.mixer.Mix(control.Setpoint{Thrust: d.landing}, d.estimator.Hold(), d.yawRate, d.in.now))
}
