package fir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowShapes(t *testing.T) {
	tests := []struct {
		window   WindowType
		edge     float64
		midpoint float64
	}{
		{Hamming, 0.08, 1},
		{Hann, 0, 1},
		{Blackman, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.window.String(), func(t *testing.T) {
			taps, err := Window(tt.window, 65)
			require.NoError(t, err)
			require.Len(t, taps, 65)
			assert.InDelta(t, tt.edge, taps[0], 1e-9)
			assert.InDelta(t, tt.edge, taps[64], 1e-9)
			assert.InDelta(t, tt.midpoint, taps[32], 1e-9)
			for i := 0; i < 32; i++ {
				assert.InDelta(t, taps[i], taps[64-i], 1e-9, "window is symmetric")
			}
		})
	}
}

func TestParseWindowType(t *testing.T) {
	w, err := ParseWindowType("blackman")
	require.NoError(t, err)
	assert.Equal(t, Blackman, w)
	assert.Equal(t, 74, w.MaxAttenuation())

	_, err = ParseWindowType("kaiser")
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	out, gain := Apply([]float64{2, 2, 2, 2}, []float64{0, 0.5, 1, 0.5})
	assert.Equal(t, []float64{0, 1, 2, 1}, out)
	assert.Equal(t, 0.5, gain)
}
