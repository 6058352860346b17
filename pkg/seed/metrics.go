package seed

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gauges describing the last run. A private registry keeps
// the textfile free of Go runtime collectors.
type Metrics struct {
	reg *prometheus.Registry

	markers     *prometheus.GaugeVec
	spectra     *prometheus.GaugeVec
	totalCounts prometheus.Gauge
	countRate   prometheus.Gauge
	doseRate    prometheus.Gauge
	duration    prometheus.Gauge
	markerTime  prometheus.Gauge
}

// NewMetrics registers the seeder gauges on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		markers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chicha_seed_markers_inserted",
			Help: "Markers inserted by the last successful seeding run.",
		}, []string{"track_id", "driver"}),
		spectra: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chicha_seed_spectra_inserted",
			Help: "Spectrum rows inserted by the last successful seeding run.",
		}, []string{"track_id", "driver"}),
		totalCounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chicha_seed_spectrum_total_counts",
			Help: "Sum of all channel counts of the seeded spectrum.",
		}),
		countRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chicha_seed_count_rate_cps",
			Help: "Count rate of the seeded spectrum in counts per second.",
		}),
		doseRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chicha_seed_dose_rate_usvh",
			Help: "Estimated dose rate of the seeded markers in µSv/h.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chicha_seed_duration_seconds",
			Help: "Wall time of the seeding transaction.",
		}),
		markerTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chicha_seed_marker_timestamp_seconds",
			Help: "Unix time written into the seeded markers.",
		}),
	}
	m.reg.MustRegister(m.markers, m.spectra, m.totalCounts, m.countRate, m.doseRate, m.duration, m.markerTime)
	return m
}

// Observe records a committed run.
func (m *Metrics) Observe(driver string, rep Report) {
	m.markers.WithLabelValues(rep.TrackID, driver).Set(float64(len(rep.Markers)))
	spectra := 0.0
	if rep.SpectrumID != 0 {
		spectra = 1
	}
	m.spectra.WithLabelValues(rep.TrackID, driver).Set(spectra)
	m.totalCounts.Set(float64(rep.TotalCounts))
	m.countRate.Set(rep.CountRate)
	m.doseRate.Set(rep.DoseRate)
	m.duration.Set(rep.Duration.Seconds())
	m.markerTime.Set(float64(rep.Timestamp))
}

// Registry exposes the underlying registry for callers that serve or gather it.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WriteTextfile writes the gauges in Prometheus text format, the layout
// node_exporter's textfile collector picks up. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
