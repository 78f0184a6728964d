// Package fir holds the window functions applied to a trace before its
// spectrum is taken.
package fir

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

type WindowFunc func(int) []float64

type WindowType int

const (
	Hamming  WindowType = 0
	Hann     WindowType = 1
	Blackman WindowType = 3
)

var (
	windowMaxAttenuation = map[WindowType]int{
		Hamming:  53,
		Hann:     44,
		Blackman: 74,
	}
	windowFuncs = map[WindowType]WindowFunc{
		Hamming:  HammingWindow,
		Hann:     HannWindow,
		Blackman: BlackmanWindow,
	}
)

func (w WindowType) String() string {
	switch w {
	case Hamming:
		return "hamming"
	case Hann:
		return "hann"
	case Blackman:
		return "blackman"
	default:
		return fmt.Sprintf("window(%d)", int(w))
	}
}

// MaxAttenuation is the sidelobe attenuation of the window in dB.
func (w WindowType) MaxAttenuation() int {
	return windowMaxAttenuation[w]
}

// ParseWindowType accepts the names printed by String.
func ParseWindowType(name string) (WindowType, error) {
	for w := range windowFuncs {
		if w.String() == name {
			return w, nil
		}
	}
	return 0, fmt.Errorf("unknown window %q", name)
}

func cosWindow(ntaps int, c0, c1, c2 float64) []float64 {
	ret := make([]float64, ntaps)
	if ntaps == 1 {
		ret[0] = 1
		return ret
	}
	M := float64(ntaps - 1)

	for i := 0; i < ntaps; i++ {
		fi := float64(i)
		ret[i] = c0 - c1*math.Cos((2*math.Pi*fi)/M) +
			c2*math.Cos((4*math.Pi*fi)/M)
	}
	return ret
}

func BlackmanWindow(ntaps int) []float64 {
	return cosWindow(ntaps, 0.42, 0.5, 0.08)
}

func HammingWindow(ntaps int) []float64 {
	return cosWindow(ntaps, 0.54, 0.46, 0)
}

func HannWindow(ntaps int) []float64 {
	return cosWindow(ntaps, 0.5, 0.5, 0)
}

// Window returns the taps of window type w.
func Window(w WindowType, ntaps int) ([]float64, error) {
	fn, ok := windowFuncs[w]
	if !ok {
		return nil, fmt.Errorf("unknown window %d", int(w))
	}
	return fn(ntaps), nil
}

// Apply multiplies samples by taps into a new slice and returns it together
// with the coherent gain of the window, the factor a windowed amplitude has
// to be divided by.
func Apply(samples, taps []float64) ([]float64, float64) {
	if len(samples) != len(taps) {
		panic(fmt.Errorf("window has %d taps for %d samples", len(taps), len(samples)))
	}
	ret := make([]float64, len(samples))
	floats.MulTo(ret, samples, taps)
	if len(taps) == 0 {
		return ret, 1
	}
	return ret, floats.Sum(taps) / float64(len(taps))
}
