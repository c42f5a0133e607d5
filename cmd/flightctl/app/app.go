package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/quadrotor-fc/internal/actuator"
	"github.com/roman-kulish/quadrotor-fc/internal/battery"
	"github.com/roman-kulish/quadrotor-fc/internal/drone"
	"github.com/roman-kulish/quadrotor-fc/internal/i2cdev"
	"github.com/roman-kulish/quadrotor-fc/internal/imu"
	"github.com/roman-kulish/quadrotor-fc/internal/indicator"
	"github.com/roman-kulish/quadrotor-fc/internal/link"
	"github.com/roman-kulish/quadrotor-fc/internal/rangefinder"
	"github.com/roman-kulish/quadrotor-fc/internal/scheduler"
	"github.com/roman-kulish/quadrotor-fc/internal/storage"
	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

// runner collects what Run opened so it can be closed in reverse order.
type runner struct {
	logger  *slog.Logger
	closers []io.Closer
}

func (r *runner) own(c io.Closer) {
	r.closers = append(r.closers, c)
}

func (r *runner) close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run wires the flight controller from config and flies until ctx is
// cancelled. Only a failure while wiring ends Run early.
func Run(ctx context.Context, config *Config, logger *slog.Logger) (err error) {
	r := &runner{logger: logger}
	defer func() {
		if cErr := r.close(); cErr != nil {
			err = errors.Join(err, fmt.Errorf("closing resources: %w", cErr))
		}
	}()

	transport, err := r.createTransport(&config.Link)
	if err != nil {
		return fmt.Errorf("failed to create link transport: %w", err)
	}
	hub := link.NewHub(transport,
		link.WithLogger(logger.With(slog.String("component", "link"))),
		link.WithTimeout(time.Duration(config.Link.Timeout)),
		link.WithTxQueueSize(config.Link.TxQueueSize),
	)

	source, err := r.createIMU(&config.IMU)
	if err != nil {
		return fmt.Errorf("failed to create imu: %w", err)
	}

	bat, err := createBattery(&config.Battery)
	if err != nil {
		return fmt.Errorf("failed to create battery monitor: %w", err)
	}

	motors, err := r.createMotors(&config.Motors, logger)
	if err != nil {
		return fmt.Errorf("failed to create motors: %w", err)
	}

	panel, err := createIndicators(&config.Indicators)
	if err != nil {
		return fmt.Errorf("failed to create indicators: %w", err)
	}

	var rangeCell *rangefinder.Cell
	var lidar *rangefinder.TFMini
	if config.Rangefinder.Enabled {
		rangeCell = rangefinder.NewCell(rangefinder.WithMaxAge(time.Duration(config.Rangefinder.MaxAge)))
		if lidar, err = rangefinder.OpenTFMini(config.Rangefinder.Device, rangeCell,
			rangefinder.WithLogger(logger.With(slog.String("component", "rangefinder")))); err != nil {
			return fmt.Errorf("failed to open rangefinder: %w", err)
		}
		r.own(lidar)
	}

	fanout := telemetry.NewFanout()

	deps := drone.Deps{
		IMU:        source,
		Link:       hub,
		Motors:     motors,
		Battery:    bat,
		Indicators: panel,
		Telemetry:  fanout,
	}
	if rangeCell != nil {
		deps.Rangefinder = rangeCell
	}

	d, err := drone.New(config.Drone(), deps, drone.WithLogger(logger.With(slog.String("component", "drone"))))
	if err != nil {
		return fmt.Errorf("failed to create drone: %w", err)
	}

	ticker, err := scheduler.New(time.Duration(config.Control.Period))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	var rec *Recorder
	if config.Storage.Enabled {
		store, err := createStorage(&config.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		r.own(store)

		rec = NewRecorder(store, fanout, config.Airframe, config, logger,
			WithMaxBatchSize(config.Storage.MaxBatchSize),
			WithEvery(config.Storage.Every),
		)
	}

	tasks := []task{{name: "link", run: hub.Run}}
	if lidar != nil {
		tasks = append(tasks, task{name: "rangefinder", run: lidar.Run})
	}
	if rec != nil {
		tasks = append(tasks, task{name: "recorder", run: rec.Run})
	}
	if config.Status.Enabled {
		tasks = append(tasks, task{name: "status", run: NewServer(&config.Status, fanout, hub, logger).Run})
	}
	if config.MQTT.Enabled {
		tasks = append(tasks, task{name: "mqtt", run: NewBridge(&config.MQTT, fanout, hub, logger).Run})
	}

	return fly(ctx, logger, func(ctx context.Context) error {
		logger.Info("control loop started", slog.Duration("period", ticker.Period()))
		err := ticker.Run(ctx, d.Tick)
		logger.Info("control loop stopped",
			slog.Uint64("ticks", ticker.Ticks()),
			slog.Uint64("missed", ticker.Missed()),
			slog.String("state", d.State().String()))
		return err
	}, tasks)
}

// task is a background job that runs beside the control loop.
type task struct {
	name string
	run  func(ctx context.Context) error
}

// fly runs the control loop until ctx is cancelled. Tasks are stopped once
// the loop returns; a task that fails is logged and stays down, the loop
// keeps flying.
func fly(ctx context.Context, logger *slog.Logger, loop func(ctx context.Context) error, tasks []task) error {
	taskCtx, stop := context.WithCancel(ctx)
	defer stop()

	var g errgroup.Group
	for _, t := range tasks {
		g.Go(func() error {
			if err := t.run(taskCtx); err != nil {
				logger.Error("background task failed", slog.String("task", t.name), slog.String("error", err.Error()))
			}
			return nil
		})
	}

	err := loop(ctx)
	stop()
	_ = g.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *runner) createTransport(config *LinkConfig) (link.Transport, error) {
	var t link.Transport
	var err error
	switch config.Transport {
	case LinkTransportUDP:
		t, err = link.ListenUDP(config.Address)
	case LinkTransportSerial:
		t, err = link.OpenSerial(config.Device, config.BaudRate, 0)
	default:
		return nil, fmt.Errorf("unknown transport '%s'", config.Transport)
	}
	if err != nil {
		return nil, err
	}

	r.own(t)
	return t, nil
}

func (r *runner) createIMU(config *IMUConfig) (imu.Source, error) {
	switch config.Type {
	case IMUTypeSim:
		r.logger.Warn("using simulated imu")
		return imu.NewSim(), nil

	case IMUTypeLSM6DS3TR:
		bus := i2cdev.Open(config.Bus)
		r.own(bus)
		return imu.NewLSM6DS3TR(bus)

	case IMUTypeMPU6050:
		bus := i2cdev.Open(config.Bus)
		r.own(bus)
		return imu.NewMPU6050(bus, config.MPU6050)

	default:
		return nil, fmt.Errorf("unknown type '%s'", config.Type)
	}
}

func createBattery(config *BatteryConfig) (drone.BatterySource, error) {
	switch config.Source {
	case BatterySourceSim:
		return battery.NewSim(config.SimMillivolts), nil
	case BatterySourceIIO:
		return battery.NewIIO(config.Path, config.Divider)
	default:
		return nil, fmt.Errorf("unknown source '%s'", config.Source)
	}
}

func (r *runner) createMotors(config *MotorsConfig, logger *slog.Logger) (actuator.Sink, error) {
	switch config.Type {
	case MotorsTypeLog:
		return actuator.NewLogSink(logger.With(slog.String("component", "motors"))), nil

	case MotorsTypePWM:
		pwm, err := actuator.NewPWM(config.Chip, config.Channels, config.Period)
		if err != nil {
			return nil, err
		}
		r.own(pwm)
		return pwm, nil

	default:
		return nil, fmt.Errorf("unknown type '%s'", config.Type)
	}
}

func createIndicators(config *IndicatorsConfig) (*indicator.Panel, error) {
	pin := func(path string) indicator.Pin {
		if path == "" {
			return indicator.NopPin{}
		}
		return indicator.NewSysfsPin(path)
	}

	return indicator.NewPanel(pin(config.Status), pin(config.Link), pin(config.Battery), time.Duration(config.BlinkInterval))
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	dir := config.DataDirectory
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dir, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("flight_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), nil
}
