// Package instrument describes the oscilloscope and generator operations a
// bench session depends on. Drivers live in the scpi and sim subpackages.
package instrument

import (
	"context"
	"fmt"
	"image/color"
)

// MemDepthAuto is the memory depth value meaning "let the scope choose".
const MemDepthAuto = 0

// ScaleConstants relate a scope's vertical and horizontal scale to the range of
// its offset and trigger controls, in divisions.
type ScaleConstants struct {
	VoltageOffset   float64
	TriggerPosition float64
	TimeOffset      float64
}

// Oscilloscope channels are numbered from 1.
type Oscilloscope interface {
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
	Single(ctx context.Context) error

	// WaveVoltages reads the screen resolution buffer of channel.
	WaveVoltages(ctx context.Context, channel int) ([]float64, error)
	// DeepMemVoltages reads the full acquisition memory of channel. The scope
	// has to be stopped first.
	DeepMemVoltages(ctx context.Context, channel int) ([]float64, error)

	YScale(ctx context.Context, channel int) (float64, error)
	SetYScale(ctx context.Context, channel int, scale float64) error
	VerticalOffset(ctx context.Context, channel int) (float64, error)
	SetVerticalOffset(ctx context.Context, channel int, offset float64) error
	TriggerLevel(ctx context.Context) (float64, error)
	SetTriggerLevel(ctx context.Context, level float64) error
	MemDepth(ctx context.Context) (int, error)
	SetMemDepth(ctx context.Context, depth int) error
	// TimeIncrement is the time between two samples of the last read.
	TimeIncrement(ctx context.Context) (float64, error)
	SetTimeScale(ctx context.Context, scale float64) error
	SetTimeOffset(ctx context.Context, offset float64) error

	EnableChannel(ctx context.Context, channel int) error
	DisableChannel(ctx context.Context, channel int) error
	SetActiveChannel(ctx context.Context, channel int) error

	NumChannels() int
	ChannelColor(channel int) color.RGBA
	ScaleConstants() ScaleConstants
	VoltageScales() []float64
	TimeScales() []float64
	// MemDepths lists the depths allowed with enabledChannels channels on.
	MemDepths(enabledChannels int) []int

	Close() error
}

type WaveformType int

const (
	Sine WaveformType = iota
	Square
	Ramp
	Arbitrary
)

func (w WaveformType) String() string {
	switch w {
	case Sine:
		return "SIN"
	case Square:
		return "SQU"
	case Ramp:
		return "RAMP"
	case Arbitrary:
		return "ARB"
	default:
		return fmt.Sprintf("WaveformType(%d)", int(w))
	}
}

// Generator channels are numbered from 1. Slots are named memory locations.
type Generator interface {
	SetWaveformType(ctx context.Context, wt WaveformType, channel int) error
	SetSampleRate(ctx context.Context, rate float64, channel int) error
	SetOutputOn(ctx context.Context, channel int) error
	SetOutputOff(ctx context.Context, channel int) error
	SetAllOutputsOff(ctx context.Context) error

	// UploadWaveformData stores samples in slot. offset is the DC level the
	// samples are centered on and padding the number of zero samples appended.
	UploadWaveformData(ctx context.Context, samples []float64, sampleRate, offset float64, padding int, slot string) error
	LoadWaveform(ctx context.Context, slot string, channel int) error
	// CalibrateWaveform outputs a known reference signal on channel.
	CalibrateWaveform(ctx context.Context, channel int) error

	ValidMemoryLocations() []string
	NumChannels() int
	MaxVoltage() float64
	MinVoltage() float64

	Close() error
}
