// insert-test-spectrum writes a synthetic Cs-137 / Ba-133 gamma spectrum into
// the map database: one marker per zoom level at Mitsue onsen and a spectrum
// row attached to the zoom-0 marker, all in a single transaction.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chicha-spectrum-seed/pkg/config"
	"chicha-spectrum-seed/pkg/database"
	"chicha-spectrum-seed/pkg/maplink"
	"chicha-spectrum-seed/pkg/seed"
	"chicha-spectrum-seed/pkg/spectrum"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Parse(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		stop()
		var reported *runAborted
		if errors.As(err, &reported) {
			// The run log already printed the error.
			os.Exit(1)
		}
		log.Fatalf("Error inserting test spectrum: %v", err)
	}
}

// runAborted marks a seeding failure that the run log has already reported.
type runAborted struct{ err error }

func (e *runAborted) Error() string { return e.err.Error() }
func (e *runAborted) Unwrap() error { return e.err }

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	spec, err := spectrum.Synthesize(spectrum.DefaultParams())
	if err != nil {
		return fmt.Errorf("synthesize spectrum: %w", err)
	}

	db, err := database.NewDatabase(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.InitSchema {
		if err := db.InitSchema(ctx); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	fmt.Fprintln(out, "Inserting test spectrum...")
	fmt.Fprintf(out, "Location: %v, %v\n", cfg.Lat, cfg.Lon)
	fmt.Fprintf(out, "Total counts: %d\n", spec.TotalCounts)
	fmt.Fprintf(out, "Count rate: %.2f CPS\n", spec.CountRate)
	fmt.Fprintf(out, "Dose rate: %.3f µSv/h\n", spec.DoseRate)
	fmt.Fprintf(out, "Cs-137 peak: channel %d (%.1f keV)\n",
		spectrum.Cs137Channel, spec.Calibration.Energy(spectrum.Cs137Channel))

	plan := seed.DefaultPlan()
	plan.Lat = cfg.Lat
	plan.Lon = cfg.Lon
	plan.TrackID = cfg.TrackID
	plan.Detector = cfg.Detector
	plan.MaxZoom = config.MaxZoom
	plan.SpectrumZoom = cfg.SpectrumZoom
	plan.FlagAllZooms = cfg.FlagAllZooms

	rep, err := seed.New(db).Seed(ctx, plan, spec)
	if err != nil {
		if errors.Is(err, seed.ErrInvalidPlan) {
			return err
		}
		return &runAborted{err: err}
	}

	link := maplink.URL(cfg.MapHost, cfg.MapZoom, cfg.Lat, cfg.Lon)
	if cfg.QROut != "" {
		if err := maplink.WritePNGFile(cfg.QROut, link, maplink.Options{}); err != nil {
			log.Printf("QR code not written: %v", err)
		} else {
			fmt.Fprintf(out, "QR code: %s\n", cfg.QROut)
		}
	}
	if cfg.MetricsOut != "" {
		m := seed.NewMetrics()
		m.Observe(db.Driver, rep)
		if err := m.WriteTextfile(cfg.MetricsOut); err != nil {
			log.Printf("metrics not written: %v", err)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Test spectrum successfully inserted!")
	fmt.Fprintf(out, "Spectrum %d attached to marker %d (zoom %d), fingerprint %s\n",
		rep.SpectrumID, rep.SpectrumMarkerID, plan.SpectrumZoom, rep.Fingerprint)
	fmt.Fprintf(out, "Open map at: %s\n", link)
	return nil
}
