package waveform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordLevels(t *testing.T) {
	rec := NewRecord(1000, []float64{-0.2, 0.4, 0.1}, "a.txt", "/tmp/a.txt")
	assert.Equal(t, -0.2, rec.LowLevel())
	assert.Equal(t, 0.4, rec.HighLevel())
	assert.Equal(t, 3, rec.Len())
	assert.False(t, rec.Empty())

	empty := NewPlaceholder()
	assert.True(t, empty.Empty())
	assert.Equal(t, 0.0, empty.LowLevel())
	assert.Equal(t, 0.0, empty.HighLevel())
}

func TestScaleAmplitudeOneResetsActive(t *testing.T) {
	rec := NewRecord(1000, []float64{-0.4, 0.4, 0.2, -0.2}, "a.txt", "")

	require.NoError(t, rec.ScaleAmplitude(0.5, 1))
	assert.NotSame(t, &rec.Original()[0], &rec.Samples()[0])
	assert.Equal(t, 0.5, rec.ScaleFactor())

	require.NoError(t, rec.ScaleAmplitude(1, 1))
	assert.Same(t, &rec.Original()[0], &rec.Samples()[0])
	assert.Equal(t, 1.0, rec.ScaleFactor())

	// Already at 1.
	require.NoError(t, rec.ScaleAmplitude(1, 1))
	assert.Same(t, &rec.Original()[0], &rec.Samples()[0])
}

func TestScaleAmplitudeReusesBuffers(t *testing.T) {
	rec := NewRecord(1000, []float64{-0.4, 0.4, 0.2, -0.2}, "a.txt", "")

	require.NoError(t, rec.ScaleAmplitude(0.5, 1))
	first := &rec.Samples()[0]
	require.NoError(t, rec.ScaleAmplitude(0.25, 1))
	second := &rec.Samples()[0]
	assert.NotSame(t, first, second, "the active buffer is not rewritten")
	assert.InDeltaSlice(t, []float64{-0.1, 0.1, 0.05, -0.05}, rec.Samples(), 1e-12)

	require.NoError(t, rec.ScaleAmplitude(0.75, 1))
	assert.Same(t, first, &rec.Samples()[0])
	require.NoError(t, rec.ScaleAmplitude(0.5, 1))
	assert.Same(t, second, &rec.Samples()[0])
	assert.Equal(t, []float64{-0.4, 0.4, 0.2, -0.2}, rec.Original())
}

func TestScaleAmplitudeOffsetFailureKeepsSamples(t *testing.T) {
	rec := NewRecord(1000, []float64{-0.2, -0.2, 0.2}, "a.txt", "")

	require.NoError(t, rec.ScaleAmplitude(1.2, 0.8))
	want := []float64{-0.16, -0.16, 0.32}
	assert.InDeltaSlice(t, want, rec.Samples(), 1e-12)
	held := rec.Samples()

	err := rec.ScaleAmplitude(2, 0.8)
	require.ErrorIs(t, err, ErrOffsetOutOfRange)
	assert.InDeltaSlice(t, want, rec.Samples(), 1e-12)
	assert.InDeltaSlice(t, want, held, 1e-12)
	assert.Equal(t, 1.2, rec.ScaleFactor())

	require.NoError(t, rec.ScaleAmplitude(1, 0.8))
	assert.Equal(t, []float64{-0.2, -0.2, 0.2}, rec.Samples())
}

func TestCopySamplesDuringScale(t *testing.T) {
	original := []float64{-0.4, 0.4, 0.2, -0.2}
	rec := NewRecord(1000, original, "a.txt", "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 300; i++ {
			assert.NoError(t, rec.ScaleAmplitude([]float64{0.5, 0.6, 0.7}[i%3], 1))
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		got := rec.CopySamples()
		factor := got[1] / original[1]
		for i, v := range got {
			assert.InDelta(t, original[i]*factor, v, 1e-12)
		}
	}
}

func TestScaleAmplitudeExceeded(t *testing.T) {
	rec := NewRecord(1000, []float64{-0.4, 0.4}, "a.txt", "")
	require.NoError(t, rec.ScaleAmplitude(0.5, 1))
	before := append([]float64(nil), rec.Samples()...)

	err := rec.ScaleAmplitude(2, 1)
	require.ErrorIs(t, err, ErrAmplitudeExceeded)
	assert.Equal(t, before, rec.Samples())
	assert.Equal(t, 0.5, rec.ScaleFactor())
}

func TestScaleAmplitudeInvalidFactor(t *testing.T) {
	rec := NewRecord(1000, []float64{-0.4, 0.4}, "a.txt", "")
	for _, factor := range []float64{0, -1} {
		assert.ErrorIs(t, rec.ScaleAmplitude(factor, 1), ErrInvalidScale)
	}
}

func TestUploadBookkeeping(t *testing.T) {
	rec := NewRecord(1000, []float64{-0.2, 0.4}, "a.txt", "")
	assert.InDelta(t, 0.1, rec.UploadOffset(), 1e-12)

	rec.BeginUpload()
	rec.MarkUploaded()
	rec.MarkLoaded(2)
	rec.MarkLoaded(1)
	assert.True(t, rec.IsUploaded())
	assert.Equal(t, []int{1, 2}, rec.LoadedChannels())
	assert.True(t, rec.IsLoadedTo(1))

	require.NoError(t, rec.SetSampleRate(1000))
	assert.True(t, rec.IsUploaded(), "unchanged rate keeps the upload")

	require.NoError(t, rec.SetSampleRate(2000))
	assert.False(t, rec.IsUploaded())
	assert.ErrorIs(t, rec.SetSampleRate(0), ErrInvalidSampleRate)
	assert.Equal(t, 2000.0, rec.SampleRate())

	rec.MarkUploaded()
	require.NoError(t, rec.ScaleAmplitude(0.5, 1))
	assert.False(t, rec.IsUploaded())
	assert.InDelta(t, 0.05, rec.UploadOffset(), 1e-12)

	rec.BeginUpload()
	assert.Empty(t, rec.LoadedChannels())
	assert.False(t, rec.IsLoadedTo(1))
}

func TestSlots(t *testing.T) {
	slots := NewSlots([]string{"M1", "M2"})
	assert.Equal(t, []string{"M1", "M2"}, slots.Locations())
	assert.False(t, slots.Occupied("M1"))

	rec := NewRecord(1000, []float64{0.1, -0.1}, "a.txt", "")
	prev, err := slots.Commit("M1", rec)
	require.NoError(t, err)
	assert.True(t, prev.Empty())
	assert.True(t, slots.Occupied("M1"))

	got, err := slots.Get("M1")
	require.NoError(t, err)
	assert.Same(t, rec, got)

	_, err = slots.Get("M9")
	assert.ErrorIs(t, err, ErrUnknownSlot)
	_, err = slots.Commit("M9", rec)
	assert.ErrorIs(t, err, ErrUnknownSlot)
}
