// Package oscillator produces sampled sine waves. The simulated instruments use
// it as their signal source.
package oscillator

import (
	"math"
)

const (
	tau float64 = math.Pi * 2
)

type Oscillator struct {
	sampleRate     float64
	frequency      float64
	amplitude      float64
	offset         float64
	phase          float64
	phaseIncrement float64
}

func (o *Oscillator) incrementPhase() {
	o.phase += o.phaseIncrement
	if o.phase > tau {
		o.phase -= tau
	} else if o.phase < -tau {
		o.phase += tau
	}
}

// NewOscillator returns a sine of the given frequency and peak amplitude,
// sampled at sampleRate and shifted by offset volts.
func NewOscillator(sampleRate, frequency, amplitude, offset float64) *Oscillator {
	ret := &Oscillator{
		sampleRate:     sampleRate,
		frequency:      frequency,
		amplitude:      amplitude,
		offset:         offset,
		phaseIncrement: frequency * tau / sampleRate,
		phase:          0.0,
	}

	return ret
}

func (o *Oscillator) SampleRate() float64 { return o.sampleRate }
func (o *Oscillator) Frequency() float64  { return o.frequency }

// SetPhase moves the oscillator to phase radians.
func (o *Oscillator) SetPhase(phase float64) {
	o.phase = math.Mod(phase, tau)
}

// WorkBuffer fills output with the next len(output) samples.
func (o *Oscillator) WorkBuffer(output []float64) int {
	for i := 0; i < len(output); i++ {
		output[i] = o.offset + o.amplitude*math.Sin(o.phase)
		o.incrementPhase()
	}

	return len(output)
}

func (o *Oscillator) Work(n int) []float64 {
	ret := make([]float64, n)
	o.WorkBuffer(ret)
	return ret
}
