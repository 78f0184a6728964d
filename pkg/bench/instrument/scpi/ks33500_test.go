package scpi

import (
	"context"
	"strings"
	"testing"

	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opcHandler(cmd string) string {
	if cmd == "*OPC?" {
		return "1\n"
	}
	return ""
}

func TestNormalizeArb(t *testing.T) {
	out, amp := NormalizeArb([]float64{0.6, 0.2, 0.4}, 0.4, 1)
	assert.InDelta(t, 0.4, amp, 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, -0.5, 0, -1}, out, 1e-12)

	out, amp = NormalizeArb([]float64{0, 0}, 0, 0)
	assert.Equal(t, 0.0, amp)
	assert.Equal(t, []float64{0, 0}, out)
}

func TestKeysightUploadAndLoad(t *testing.T) {
	conn := newFakeConn(opcHandler)
	gen := NewKeysight33500(NewClient(conn), []string{"SLOT1"}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, gen.UploadWaveformData(ctx, []float64{-0.5, 0.5}, 1000, 0, 0, "SLOT1"))
	require.NoError(t, gen.LoadWaveform(ctx, "SLOT1", 2))

	assert.Equal(t, []string{
		":SOUR1:DATA:VOL:CLE",
		":SOUR1:DATA:ARB SLOT1,-1.000000,1.000000",
		":SOUR1:FUNC:ARB SLOT1",
		":SOUR1:FUNC:ARB:SRAT 1000",
		`:MMEM:STOR:DATA1 "INT:\SLOT1.arb"`,
		"*OPC?",
		`:MMEM:LOAD:DATA2 "INT:\SLOT1.arb"`,
		":SOUR2:FUNC ARB",
		`:SOUR2:FUNC:ARB "INT:\SLOT1.arb"`,
		":SOUR2:VOLT 1",
		":SOUR2:VOLT:OFFS 0",
		"*OPC?",
	}, conn.Commands())
}

func TestKeysightChannelCommands(t *testing.T) {
	conn := newFakeConn(opcHandler)
	gen := NewKeysight33500(NewClient(conn), nil, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, gen.SetWaveformType(ctx, instrument.Arbitrary, 1))
	require.NoError(t, gen.SetSampleRate(ctx, 844, 1))
	require.NoError(t, gen.SetOutputOn(ctx, 1))
	require.NoError(t, gen.CalibrateWaveform(ctx, 2))
	require.NoError(t, gen.SetAllOutputsOff(ctx))

	assert.Equal(t, strings.Join([]string{
		":SOUR1:FUNC ARB",
		":SOUR1:FUNC:ARB:SRAT 844",
		":OUTP1 ON",
		":SOUR2:APPL:SIN 1000,1,0",
		":OUTP1 OFF",
		":OUTP2 OFF",
	}, "\n"), strings.Join(conn.Commands(), "\n"))
	assert.Len(t, gen.ValidMemoryLocations(), 4)
	assert.Equal(t, 10.0, gen.MaxVoltage()-gen.MinVoltage())
}

func TestKeysightUploadFailure(t *testing.T) {
	conn := newFakeConn(func(cmd string) string {
		if cmd == "*OPC?" {
			return "0\n"
		}
		return ""
	})
	gen := NewKeysight33500(NewClient(conn), []string{"SLOT1"}, zerolog.Nop())
	err := gen.UploadWaveformData(context.Background(), []float64{0.1, -0.1}, 1000, 0, 0, "SLOT1")
	require.Error(t, err)
	assert.True(t, instrument.IsDeviceError(err))
}
