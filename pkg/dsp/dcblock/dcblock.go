// Package dcblock holds the in-place amplitude conditioning applied to
// waveforms before they are sent to a generator: DC offset removal and a
// proportional shrink that fits a waveform inside an allowed peak-to-peak range.
package dcblock

import (
	"errors"
	"fmt"
	"math"

	"github.com/norasector/benchtop/pkg/util"
	"gonum.org/v1/gonum/floats"
)

// NegligibleOffset is the mean below which a waveform is treated as already
// centered. Subtracting smaller means only adds floating point noise.
const NegligibleOffset = 1e-4

// ErrOffsetOutOfRange is returned when centering a waveform would push one of
// its peaks outside of half the allowed amplitude.
var ErrOffsetOutOfRange = errors.New("dc offset removal exceeds amplitude bounds")

// Mean returns the arithmetic mean of samples, or 0 for an empty slice.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return floats.Sum(samples) / float64(len(samples))
}

// RemoveDCOffset subtracts the mean from every sample. maxAmplitude is the
// allowed peak-to-peak range centered on 0 V. When the centered waveform would
// not fit, samples is left untouched and ErrOffsetOutOfRange is returned.
func RemoveDCOffset(samples []float64, maxAmplitude float64) error {
	if len(samples) == 0 {
		return nil
	}

	mean := Mean(samples)
	if math.Abs(mean) < NegligibleOffset {
		return nil
	}

	half := maxAmplitude / 2
	if high := floats.Max(samples) - mean; high > half {
		return fmt.Errorf("%w: peak %.6f V above +%.6f V after removing mean %.6f V", ErrOffsetOutOfRange, high, half, mean)
	}
	if low := floats.Min(samples) - mean; low < -half {
		return fmt.Errorf("%w: trough %.6f V below -%.6f V after removing mean %.6f V", ErrOffsetOutOfRange, low, half, mean)
	}

	util.ParallelFor(len(samples), func(lo, hi int) {
		floats.AddConst(-mean, samples[lo:hi])
	})
	return nil
}

// FitAmplitude shrinks samples uniformly when their peak-to-peak span exceeds
// maxAmplitude, so the larger of |max| and |min| lands on maxAmplitude/2.
// It returns the factor applied, 1 when samples already fit.
func FitAmplitude(samples []float64, maxAmplitude float64) float64 {
	if len(samples) == 0 {
		return 1
	}

	high, low := floats.Max(samples), floats.Min(samples)
	if high-low <= maxAmplitude {
		return 1
	}

	absMax := math.Max(math.Abs(high), math.Abs(low))
	factor := (maxAmplitude / 2) / absMax
	util.ParallelFor(len(samples), func(lo, hi int) {
		floats.Scale(factor, samples[lo:hi])
	})
	return factor
}
