package viz

import (
	"fmt"
	"image/color"
	"math"
	"math/cmplx"
	"sync"

	dspfft "github.com/mjibson/go-dsp/fft"
	"github.com/norasector/benchtop/pkg/dsp/filters/fir"
	"gonum.org/v1/plot/plotter"
)

const (
	// spectrumAverage is the weight of a new spectrum in the running average.
	spectrumAverage = 0.10
	// spectrumFloor keeps log10 away from zero.
	spectrumFloor = 1e-12
)

// nextRadix is the smallest power of two, at least 16, that holds size samples.
func nextRadix(size int) int {
	radix := 16
	for size > radix {
		radix *= 2
	}
	return radix
}

// Spectrum returns the one-sided amplitude spectrum of samples after applying
// window w and zero padding to a power of two. Amplitudes are corrected for the
// window's coherent gain, so a sine centered on a bin reads its own amplitude.
// A sampleRate of 0 or less gives frequencies in cycles per sample.
func Spectrum(samples []float64, sampleRate float64, w fir.WindowType) (freqs, amplitudes []float64, err error) {
	if len(samples) == 0 {
		return nil, nil, nil
	}
	taps, err := fir.Window(w, len(samples))
	if err != nil {
		return nil, nil, err
	}
	windowed, gain := fir.Apply(samples, taps)

	size := nextRadix(len(samples))
	padded := make([]float64, size)
	copy(padded, windowed)
	coeffs := dspfft.FFTReal(padded)

	if sampleRate <= 0 {
		sampleRate = 1
	}
	bins := size/2 + 1
	freqs = make([]float64, bins)
	amplitudes = make([]float64, bins)
	norm := float64(len(samples)) * gain
	for i := 0; i < bins; i++ {
		freqs[i] = float64(i) * sampleRate / float64(size)
		mag := cmplx.Abs(coeffs[i]) / norm
		if i != 0 && i != size/2 {
			mag *= 2
		}
		amplitudes[i] = mag
	}
	return freqs, amplitudes, nil
}

// SpectrumPlotter keeps a running average of a channel's spectrum in dB.
type SpectrumPlotter struct {
	mu          sync.Mutex
	name        string
	color       color.Color
	window      fir.WindowType
	freqs       []float64
	average     []float64
	plotOptions []PlotOptions
}

func NewSpectrumPlotter(name string, c color.Color, window fir.WindowType) *SpectrumPlotter {
	return &SpectrumPlotter{name: name, color: c, window: window}
}

func (s *SpectrumPlotter) Name() string {
	return s.name
}

func (s *SpectrumPlotter) AddPlotOption(opt PlotOptions) {
	s.mu.Lock()
	s.plotOptions = append(s.plotOptions, opt)
	s.mu.Unlock()
}

// Update folds the spectrum of samples into the running average. A change of
// length restarts the average.
func (s *SpectrumPlotter) Update(samples []float64, sampleRate float64) error {
	freqs, amplitudes, err := Spectrum(samples, sampleRate, s.window)
	if err != nil || freqs == nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.average) != len(amplitudes) {
		s.freqs = freqs
		s.average = amplitudes
		return nil
	}
	s.freqs = freqs
	for i, a := range amplitudes {
		s.average[i] = (1-spectrumAverage)*s.average[i] + spectrumAverage*a
	}
	return nil
}

// Peak returns the frequency and level in dB of the strongest non-DC bin.
func (s *SpectrumPlotter) Peak() (freq, db float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakLocked()
}

func (s *SpectrumPlotter) peakLocked() (float64, float64, bool) {
	best := -1
	for i := 1; i < len(s.average); i++ {
		if best < 0 || s.average[i] > s.average[best] {
			best = i
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return s.freqs[best], toDB(s.average[best]), true
}

func toDB(amplitude float64) float64 {
	return 20 * math.Log10(math.Max(amplitude, spectrumFloor))
}

func (s *SpectrumPlotter) GetImage() (*ImageContainer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.average) == 0 {
		return nil, nil
	}

	title := s.name
	if freq, db, ok := s.peakLocked(); ok {
		title = fmt.Sprintf("%s  peak %.4g @ %.4g", s.name, db, freq)
	}
	p := newPlot(title, "frequency", "dBV", s.plotOptions)
	p.Y.Min = -120
	p.Y.Max = 20

	xys := make(plotter.XYs, len(s.average))
	for i, a := range s.average {
		xys[i] = plotter.XY{X: s.freqs[i], Y: toDB(a)}
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, err
	}
	line.Color = s.color
	p.Add(line)

	return encodePNG(p, s.name)
}
