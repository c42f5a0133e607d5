package app

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/quadrotor-fc/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	flight, err := readFlight(ctx, store, config, logger)
	if err != nil {
		return err
	}
	return renderFlight(flight, config, logger)
}

func readFlight(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*FlightData, error) {
	var opts []storage.ReaderOption
	var filters []any
	switch {
	case config.From != nil && config.To != nil:
		opts = append(opts, storage.WithTimeRange(config.From.UTC(), config.To.UTC()))

		filters = append(filters,
			slog.String("from", config.From.UTC().Format(time.DateTime)),
			slog.String("to", config.To.UTC().Format(time.DateTime)))

	case config.From != nil:
		opts = append(opts, storage.WithStartTime(config.From.UTC()))
		filters = append(filters, slog.String("from", config.From.UTC().Format(time.DateTime)))

	case config.To != nil:
		opts = append(opts, storage.WithEndTime(config.To.UTC()))
		filters = append(filters, slog.String("to", config.To.UTC().Format(time.DateTime)))
	}

	logger.Info("iterator configuration", append(filters, slog.Int64("session", config.SessionID))...)

	iter, err := store.ReadSnapshots(ctx, config.SessionID, opts...)
	if err != nil {
		if errors.Is(err, storage.ErrNoData) {
			return nil, fmt.Errorf("session %d has no snapshots in the requested range", config.SessionID)
		}
		return nil, err
	}
	defer iter.Close()

	logger.Info("reading snapshots", slog.String("count", humanize.Comma(iter.Count())))

	flight := NewFlightData(iter.Session())
	for iter.Next(ctx) {
		flight.Update(iter.Current())
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}

	logger.Info("finished reading snapshots",
		slog.Group("stats",
			slog.String("flightID", flight.Session.FlightID.String()),
			slog.String("start", flight.TimestampStart.In(config.TimeZone).Format(time.DateTime)),
			slog.String("end", flight.TimestampEnd.In(config.TimeZone).Format(time.DateTime)),
			slog.String("duration", flight.Duration().String()),
			slog.String("maxAngle", fmt.Sprintf("%0.1f°", flight.MaxAngle)),
			slog.Int("saturated", flight.SaturatedSamples),
		))

	return flight, nil
}

func renderFlight(flight *FlightData, config *Config, logger *slog.Logger) (err error) {
	renderer, err := NewFlightRenderer(RenderConfig{
		Location:      config.TimeZone,
		ColorTheme:    config.Theme,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating flight renderer: %w", err)
	}

	img, err := renderer.Render(flight, config.Width)
	if err != nil {
		return fmt.Errorf("rendering flight: %w", err)
	}

	logger.Info("rendering flight",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", img.Bounds().Dx()),
			slog.Int("height", img.Bounds().Dy()),
		))

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	return err
}
