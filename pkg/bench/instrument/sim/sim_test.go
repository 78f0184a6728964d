package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeReads(t *testing.T) {
	ctx := context.Background()
	s := NewScope()

	v, err := s.WaveVoltages(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, v, screenPoints)

	s.SetSamples(2, []float64{0.1, 0.2})
	v, err = s.WaveVoltages(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, v)

	inc, err := s.TimeIncrement(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1e-3*horizontalDivisions/2, inc, 1e-12)

	_, err = s.WaveVoltages(ctx, 5)
	assert.ErrorIs(t, err, instrument.ErrUnsupported)
}

func TestScopeDeepMemory(t *testing.T) {
	ctx := context.Background()
	s := NewScope()

	_, err := s.DeepMemVoltages(ctx, 1)
	assert.True(t, instrument.IsDeviceError(err), "deep memory needs a stopped scope")

	require.NoError(t, s.SetMemDepth(ctx, 12000))
	require.NoError(t, s.Stop(ctx))
	v, err := s.DeepMemVoltages(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, v, 12000)

	assert.ErrorIs(t, s.SetMemDepth(ctx, 77), instrument.ErrUnsupported)
}

func TestScopeActiveChannel(t *testing.T) {
	ctx := context.Background()
	s := NewScope()
	require.NoError(t, s.EnableChannel(ctx, 3))
	require.NoError(t, s.SetActiveChannel(ctx, 2))

	assert.Equal(t, 2, s.ActiveChannel())
	for ch := 1; ch <= 4; ch++ {
		assert.Equal(t, ch == 2, s.ChannelEnabled(ch))
	}
}

func TestScopeMemDepths(t *testing.T) {
	s := NewScope()
	assert.Equal(t, []int{12000, 120000, 1200000}, s.MemDepths(1))
	assert.Equal(t, []int{6000, 60000, 600000}, s.MemDepths(2))
	assert.Equal(t, []int{3000, 30000, 300000}, s.MemDepths(4))
}

func TestScopeFaults(t *testing.T) {
	ctx := context.Background()
	s := NewScope()
	boom := errors.New("boom")

	s.FailChannel(2, boom)
	_, err := s.WaveVoltages(ctx, 2)
	assert.ErrorIs(t, err, boom)
	assert.True(t, instrument.IsDeviceError(err))
	_, err = s.WaveVoltages(ctx, 1)
	assert.NoError(t, err)

	s.FailOp("TriggerLevel", boom)
	_, err = s.TriggerLevel(ctx)
	assert.ErrorIs(t, err, boom)

	s.ClearFaults()
	_, err = s.TriggerLevel(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Calls("TriggerLevel"))

	s.SetDelay("YScale", time.Second)
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = s.YScale(cctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerator(t *testing.T) {
	ctx := context.Background()
	g := NewGenerator("A", "B")

	assert.Equal(t, []string{"A", "B"}, g.ValidMemoryLocations())
	assert.Equal(t, 5.0, g.MaxVoltage())
	assert.Equal(t, -5.0, g.MinVoltage())

	assert.Error(t, g.LoadWaveform(ctx, "A", 1), "nothing uploaded yet")

	samples := []float64{0.1, -0.1}
	require.NoError(t, g.UploadWaveformData(ctx, samples, 1000, 0.05, 0, "A"))
	samples[0] = 9
	ups := g.Uploads()
	require.Len(t, ups, 1)
	assert.Equal(t, Upload{Slot: "A", Samples: []float64{0.1, -0.1}, SampleRate: 1000, Offset: 0.05}, ups[0])

	require.NoError(t, g.LoadWaveform(ctx, "A", 2))
	slot, ok := g.LoadedSlot(2)
	assert.True(t, ok)
	assert.Equal(t, "A", slot)

	require.NoError(t, g.SetWaveformType(ctx, instrument.Arbitrary, 2))
	require.NoError(t, g.SetSampleRate(ctx, 1000, 2))
	require.NoError(t, g.SetOutputOn(ctx, 2))
	assert.True(t, g.OutputOn(2))
	assert.Equal(t, instrument.Arbitrary, g.WaveformType(2))
	assert.Equal(t, 1000.0, g.ChannelSampleRate(2))

	require.NoError(t, g.CalibrateWaveform(ctx, 1))
	assert.True(t, g.Calibrated(1))
	assert.Equal(t, instrument.Sine, g.WaveformType(1))

	require.NoError(t, g.SetAllOutputsOff(ctx))
	assert.False(t, g.OutputOn(2))

	assert.ErrorIs(t, g.UploadWaveformData(ctx, samples, 1000, 0, 0, "Z"), instrument.ErrUnsupported)
	assert.ErrorIs(t, g.SetOutputOn(ctx, 3), instrument.ErrUnsupported)
}
