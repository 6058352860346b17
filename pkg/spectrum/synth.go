// Package spectrum synthesizes deterministic gamma spectra for seeding maps
// with test data. The shapes are not physical fits: background is a coarse
// staircase and photopeaks are symmetric triangles approximating a Gaussian.
package spectrum

import (
	"fmt"
)

// Peak describes one photopeak written into the histogram.
// Wings[k] is the count stored at Center-(k+1) and Center+(k+1).
type Peak struct {
	Isotope string
	Center  int
	Height  int
	Wings   []int
}

// Background models the detector noise floor: channels below StairEnd rise
// from StairBase by one count every StairStep channels, the rest stay Flat.
type Background struct {
	StairEnd  int
	StairBase int
	StairStep int
	Flat      int
}

// Params holds every input of a synthesis run.
type Params struct {
	ChannelCount int
	EnergyMinKeV float64
	EnergyMaxKeV float64
	LiveTimeSec  float64
	RealTimeSec  float64
	// DoseFactor converts counts per second into µSv/h. It is a placeholder
	// linear factor, not a calibrated dose model.
	DoseFactor float64
	Background Background
	Peaks      []Peak
}

// Calibration maps a channel index to energy: a + b·ch + c·ch².
type Calibration struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// Energy returns the calibrated energy of channel ch in keV.
func (c Calibration) Energy(ch int) float64 {
	x := float64(ch)
	return c.A + c.B*x + c.C*x*x
}

// Result is the synthesized histogram together with its derived statistics.
type Result struct {
	Channels     []int
	EnergyMinKeV float64
	EnergyMaxKeV float64
	LiveTimeSec  float64
	RealTimeSec  float64
	Calibration  Calibration
	TotalCounts  int64
	CountRate    float64 // counts per second of live time
	DoseRate     float64 // µSv/h, CountRate × DoseFactor
}

// Cs-137 and Ba-133 channel positions for a 3 MeV / 1024 channel axis.
const (
	Cs137Channel = 226
	Ba133Height  = 400
	Ba133Slope   = 2
	Ba133Wing    = 150
)

// Ba133Channels lists the Ba-133 lines used by the reference spectrum.
var Ba133Channels = []int{28, 94, 103, 122, 131}

// DefaultPeaks returns the Cs-137 triangle followed by the Ba-133 lines whose
// height grows mildly with channel.
func DefaultPeaks() []Peak {
	peaks := []Peak{{
		Isotope: "Cs-137",
		Center:  Cs137Channel,
		Height:  1500,
		Wings:   []int{800, 300, 100},
	}}
	for _, ch := range Ba133Channels {
		peaks = append(peaks, Peak{
			Isotope: "Ba-133",
			Center:  ch,
			Height:  Ba133Height + Ba133Slope*ch,
			Wings:   []int{Ba133Wing},
		})
	}
	return peaks
}

// DefaultParams reproduces the reference test spectrum: 1024 channels over
// 0..3000 keV, 300 s live time out of 305 s real time.
func DefaultParams() Params {
	return Params{
		ChannelCount: 1024,
		EnergyMinKeV: 0,
		EnergyMaxKeV: 3000,
		LiveTimeSec:  300,
		RealTimeSec:  305,
		DoseFactor:   0.001,
		Background: Background{
			StairEnd:  50,
			StairBase: 5,
			StairStep: 10,
			Flat:      3,
		},
		Peaks: DefaultPeaks(),
	}
}

// Validate reports the first inconsistency found in p.
func (p Params) Validate() error {
	if p.ChannelCount <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", p.ChannelCount)
	}
	if p.LiveTimeSec <= 0 {
		return fmt.Errorf("live time must be positive, got %g", p.LiveTimeSec)
	}
	if p.LiveTimeSec > p.RealTimeSec {
		return fmt.Errorf("live time %g exceeds real time %g", p.LiveTimeSec, p.RealTimeSec)
	}
	if p.EnergyMaxKeV <= p.EnergyMinKeV {
		return fmt.Errorf("energy range [%g, %g] is empty", p.EnergyMinKeV, p.EnergyMaxKeV)
	}
	bg := p.Background
	if bg.StairBase < 0 || bg.Flat < 0 {
		return fmt.Errorf("background counts must be non-negative")
	}
	if bg.StairEnd > 0 && bg.StairStep <= 0 {
		return fmt.Errorf("background stair step must be positive, got %d", bg.StairStep)
	}
	for i, pk := range p.Peaks {
		if pk.Center < 0 || pk.Center >= p.ChannelCount {
			return fmt.Errorf("peak %d (%s) centre %d outside [0,%d)", i, pk.Isotope, pk.Center, p.ChannelCount)
		}
		if pk.Height < 0 {
			return fmt.Errorf("peak %d (%s) has negative height", i, pk.Isotope)
		}
		for _, w := range pk.Wings {
			if w < 0 {
				return fmt.Errorf("peak %d (%s) has negative wing", i, pk.Isotope)
			}
		}
	}
	return nil
}

// Synthesize builds the histogram described by p.
func Synthesize(p Params) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, fmt.Errorf("spectrum params: %w", err)
	}

	channels := make([]int, p.ChannelCount)
	fillBackground(channels, p.Background)
	for _, pk := range p.Peaks {
		injectPeak(channels, pk)
	}

	var total int64
	for _, c := range channels {
		total += int64(c)
	}
	countRate := float64(total) / p.LiveTimeSec

	return Result{
		Channels:     channels,
		EnergyMinKeV: p.EnergyMinKeV,
		EnergyMaxKeV: p.EnergyMaxKeV,
		LiveTimeSec:  p.LiveTimeSec,
		RealTimeSec:  p.RealTimeSec,
		Calibration: Calibration{
			A: 0,
			B: p.EnergyMaxKeV / float64(p.ChannelCount),
			C: 0,
		},
		TotalCounts: total,
		CountRate:   countRate,
		DoseRate:    countRate * p.DoseFactor,
	}, nil
}

func fillBackground(channels []int, bg Background) {
	for i := range channels {
		if i < bg.StairEnd {
			channels[i] = bg.StairBase + i/bg.StairStep
			continue
		}
		channels[i] = bg.Flat
	}
}

// injectPeak overwrites the centre and wings of pk. Writes falling outside the
// histogram are dropped, and later peaks win over earlier ones.
func injectPeak(channels []int, pk Peak) {
	set := func(ch, v int) {
		if ch >= 0 && ch < len(channels) {
			channels[ch] = v
		}
	}
	set(pk.Center, pk.Height)
	for k, w := range pk.Wings {
		set(pk.Center-(k+1), w)
		set(pk.Center+(k+1), w)
	}
}
