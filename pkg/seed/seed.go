// Package seed writes a synthetic spectrum into a map database: one marker
// per zoom level at a fixed point, and one spectrum row attached to the
// marker of a chosen zoom level.
package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"chicha-spectrum-seed/pkg/database"
	"chicha-spectrum-seed/pkg/logger"
	"chicha-spectrum-seed/pkg/spectrum"
)

// ErrInvalidPlan is returned before anything is written when a Plan fails
// Validate.
var ErrInvalidPlan = errors.New("invalid seed plan")

// Plan describes where and how a spectrum is seeded.
type Plan struct {
	Lat      float64
	Lon      float64
	TrackID  string
	Detector string // markers.detector and spectra.device_model

	MinZoom      int
	MaxZoom      int
	SpectrumZoom int

	// FlagAllZooms sets has_spectrum on every zoom marker, matching the
	// long-standing behaviour of the test data. When false only the marker
	// that owns the spectrum row is flagged.
	FlagAllZooms bool

	SourceFormat string
	RawData      []byte
}

// DefaultPlan returns the reference run at Mitsue onsen, Nara, Japan.
func DefaultPlan() Plan {
	return Plan{
		Lat:          34.4883891,
		Lon:          136.1659156,
		TrackID:      "TEST_MITSUE_ONSEN",
		Detector:     "Test Spectrum Generator",
		MinZoom:      0,
		MaxZoom:      20,
		SpectrumZoom: 0,
		FlagAllZooms: true,
		SourceFormat: "test",
		RawData:      []byte("Test spectrum data"),
	}
}

// Validate reports the first inconsistency in p.
func (p Plan) Validate() error {
	if p.TrackID == "" {
		return errors.New("track id must not be empty")
	}
	if p.MinZoom < 0 || p.MaxZoom < p.MinZoom {
		return fmt.Errorf("zoom range [%d, %d] is invalid", p.MinZoom, p.MaxZoom)
	}
	if p.SpectrumZoom < p.MinZoom || p.SpectrumZoom > p.MaxZoom {
		return fmt.Errorf("spectrum zoom %d outside [%d, %d]", p.SpectrumZoom, p.MinZoom, p.MaxZoom)
	}
	return nil
}

// ZoomMarker pairs a zoom level with the id the storage assigned to it.
type ZoomMarker struct {
	Zoom int
	ID   int64
}

// Report summarises a committed run.
type Report struct {
	TrackID          string
	Timestamp        int64
	Markers          []ZoomMarker // ascending zoom
	SpectrumID       int64
	SpectrumMarkerID int64
	TotalCounts      int64
	CountRate        float64
	DoseRate         float64
	Fingerprint      string
	Duration         time.Duration
}

// Seeder owns the database handle and the clock used for timestamps.
type Seeder struct {
	DB    *database.Database
	Clock clockwork.Clock

	// wrapExec, when set, decorates the executor every insert goes through.
	wrapExec func(database.Executor) database.Executor
}

// New returns a Seeder on the real clock.
func New(db *database.Database) *Seeder {
	return &Seeder{DB: db, Clock: clockwork.NewRealClock()}
}

func logT(trackID, component, format string, v ...any) {
	logger.Append(trackID, fmt.Sprintf("[%-6s][%s] %s", trackID, component, fmt.Sprintf(format, v...)))
}

// Seed inserts the markers and the spectrum of plan inside one transaction.
// Either every row commits or none does; the error is returned unchanged
// apart from wrapping. Seed is not idempotent: each call adds a new set.
func (s *Seeder) Seed(ctx context.Context, plan Plan, spec spectrum.Result) (rep Report, err error) {
	if err := plan.Validate(); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	started := clock.Now()

	rep = Report{
		TrackID:     plan.TrackID,
		Timestamp:   started.Unix(),
		TotalCounts: spec.TotalCounts,
		CountRate:   spec.CountRate,
		DoseRate:    spec.DoseRate,
		Fingerprint: spectrum.Fingerprint(spec),
	}

	logger.Begin(plan.TrackID)
	defer func() {
		if err != nil {
			logger.FlushError(plan.TrackID, err)
			return
		}
		logger.Success(plan.TrackID, fmt.Sprintf("committed %d markers and spectrum %d", len(rep.Markers), rep.SpectrumID))
	}()

	logT(plan.TrackID, "Seed", "location %v, %v", plan.Lat, plan.Lon)
	logT(plan.TrackID, "Seed", "total counts %d, count rate %.2f CPS, estimated dose rate %.3f µSv/h",
		spec.TotalCounts, spec.CountRate, spec.DoseRate)
	logT(plan.TrackID, "Seed", "spectrum digest %s", rep.Fingerprint)

	var (
		exec database.Executor = s.DB.DB
		tx   *sql.Tx
	)
	if s.DB.SupportsTransactions() {
		tx, err = s.DB.DB.BeginTx(ctx, nil)
		if err != nil {
			return Report{}, fmt.Errorf("begin transaction: %w", err)
		}
		exec = tx
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()
	} else {
		logT(plan.TrackID, "Seed", "driver %s has no transactions; rows are written directly", s.DB.Driver)
	}
	if s.wrapExec != nil {
		exec = s.wrapExec(exec)
	}

	for zoom := plan.MinZoom; zoom <= plan.MaxZoom; zoom++ {
		m := database.Marker{
			DoseRate:    spec.DoseRate,
			Date:        rep.Timestamp,
			Lon:         plan.Lon,
			Lat:         plan.Lat,
			CountRate:   spec.CountRate,
			Zoom:        zoom,
			Speed:       0,
			TrackID:     plan.TrackID,
			Detector:    plan.Detector,
			HasSpectrum: plan.FlagAllZooms || zoom == plan.SpectrumZoom,
		}
		id, ierr := s.DB.InsertMarker(ctx, exec, m)
		if ierr != nil {
			return Report{}, describe(ierr, plan)
		}
		rep.Markers = append(rep.Markers, ZoomMarker{Zoom: zoom, ID: id})
		logT(plan.TrackID, "Seed", "Inserted marker at zoom %d with ID %d", zoom, id)

		if zoom != plan.SpectrumZoom {
			continue
		}
		cal := database.EnergyCalibration(spec.Calibration)
		sid, ierr := s.DB.InsertSpectrum(ctx, exec, database.Spectrum{
			MarkerID:     id,
			Channels:     spec.Channels,
			ChannelCount: len(spec.Channels),
			EnergyMinKeV: spec.EnergyMinKeV,
			EnergyMaxKeV: spec.EnergyMaxKeV,
			LiveTimeSec:  spec.LiveTimeSec,
			RealTimeSec:  spec.RealTimeSec,
			DeviceModel:  plan.Detector,
			Calibration:  &cal,
			SourceFormat: plan.SourceFormat,
			RawData:      plan.RawData,
			CreatedAt:    rep.Timestamp,
		})
		if ierr != nil {
			return Report{}, ierr
		}
		rep.SpectrumID = sid
		rep.SpectrumMarkerID = id
		logT(plan.TrackID, "Seed", "Inserted spectrum with ID %d for marker %d", sid, id)
	}

	if tx != nil {
		if err = tx.Commit(); err != nil {
			return Report{}, fmt.Errorf("commit: %w", err)
		}
	}
	rep.Duration = clock.Since(started)
	return rep, nil
}

// describe adds a hint to uniqueness failures: the map's marker index treats
// two runs of one track within the same second as the same reading.
func describe(err error, plan Plan) error {
	if database.IsDuplicate(err) {
		return fmt.Errorf("%w (track %s already has markers at this timestamp; wait a second and rerun)", err, plan.TrackID)
	}
	return err
}
