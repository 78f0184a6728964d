package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/norasector/benchtop/pkg/bench/instrument"
)

const generatorChannels = 2

var _ instrument.Generator = (*Generator)(nil)

// Upload is one waveform the generator received.
type Upload struct {
	Slot       string
	Samples    []float64
	SampleRate float64
	Offset     float64
	Padding    int
}

// Generator is a two channel arbitrary waveform generator that remembers what
// it was told to do.
type Generator struct {
	*faults

	mu          sync.Mutex
	locations   []string
	uploads     []Upload
	stored      map[string]Upload
	loaded      map[int]string
	outputs     map[int]bool
	types       map[int]instrument.WaveformType
	sampleRates map[int]float64
	calibrated  map[int]bool
	maxVoltage  float64
	minVoltage  float64
}

// NewGenerator returns a generator with the given memory locations and a
// ±5 V output range.
func NewGenerator(locations ...string) *Generator {
	if len(locations) == 0 {
		locations = []string{"BENCH1", "BENCH2", "BENCH3", "BENCH4"}
	}
	return &Generator{
		faults:      newFaults(),
		locations:   locations,
		stored:      make(map[string]Upload),
		loaded:      make(map[int]string),
		outputs:     make(map[int]bool),
		types:       make(map[int]instrument.WaveformType),
		sampleRates: make(map[int]float64),
		calibrated:  make(map[int]bool),
		maxVoltage:  5,
		minVoltage:  -5,
	}
}

func (g *Generator) FailOp(op string, err error)         { g.failOp(op, err) }
func (g *Generator) SetDelay(op string, d time.Duration) { g.setDelay(op, d) }
func (g *Generator) ClearFaults()                        { g.clear() }
func (g *Generator) Calls(op string) int                 { return g.callCount(op) }
func (g *Generator) MaxConcurrent() int                  { return g.maxConcurrent() }

func (g *Generator) SetVoltageRange(min, max float64) {
	g.mu.Lock()
	g.minVoltage, g.maxVoltage = min, max
	g.mu.Unlock()
}

// Uploads returns every upload received, oldest first.
func (g *Generator) Uploads() []Upload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Upload(nil), g.uploads...)
}

// LoadedSlot returns the slot last loaded to channel.
func (g *Generator) LoadedSlot(channel int) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, ok := g.loaded[channel]
	return slot, ok
}

func (g *Generator) OutputOn(channel int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outputs[channel]
}

func (g *Generator) WaveformType(channel int) instrument.WaveformType {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.types[channel]
}

func (g *Generator) ChannelSampleRate(channel int) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sampleRates[channel]
}

func (g *Generator) Calibrated(channel int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calibrated[channel]
}

func (g *Generator) checkChannel(op string, channel int) error {
	if channel < 1 || channel > generatorChannels {
		return instrument.Wrap(op, fmt.Errorf("%w: channel %d", instrument.ErrUnsupported, channel))
	}
	return nil
}

func (g *Generator) SetWaveformType(ctx context.Context, wt instrument.WaveformType, channel int) error {
	done, err := g.enter(ctx, "SetWaveformType", channel)
	if err != nil {
		return err
	}
	defer done()
	if err := g.checkChannel("SetWaveformType", channel); err != nil {
		return err
	}
	g.mu.Lock()
	g.types[channel] = wt
	if wt != instrument.Sine {
		g.calibrated[channel] = false
	}
	g.mu.Unlock()
	return nil
}

func (g *Generator) SetSampleRate(ctx context.Context, rate float64, channel int) error {
	done, err := g.enter(ctx, "SetSampleRate", channel)
	if err != nil {
		return err
	}
	defer done()
	if err := g.checkChannel("SetSampleRate", channel); err != nil {
		return err
	}
	g.mu.Lock()
	g.sampleRates[channel] = rate
	g.mu.Unlock()
	return nil
}

func (g *Generator) setOutput(ctx context.Context, op string, channel int, on bool) error {
	done, err := g.enter(ctx, op, channel)
	if err != nil {
		return err
	}
	defer done()
	if err := g.checkChannel(op, channel); err != nil {
		return err
	}
	g.mu.Lock()
	g.outputs[channel] = on
	g.mu.Unlock()
	return nil
}

func (g *Generator) SetOutputOn(ctx context.Context, channel int) error {
	return g.setOutput(ctx, "SetOutputOn", channel, true)
}

func (g *Generator) SetOutputOff(ctx context.Context, channel int) error {
	return g.setOutput(ctx, "SetOutputOff", channel, false)
}

func (g *Generator) SetAllOutputsOff(ctx context.Context) error {
	done, err := g.enter(ctx, "SetAllOutputsOff", 0)
	if err != nil {
		return err
	}
	defer done()
	g.mu.Lock()
	for ch := 1; ch <= generatorChannels; ch++ {
		g.outputs[ch] = false
	}
	g.mu.Unlock()
	return nil
}

func (g *Generator) UploadWaveformData(ctx context.Context, samples []float64, sampleRate, offset float64, padding int, slot string) error {
	done, err := g.enter(ctx, "UploadWaveformData", 0)
	if err != nil {
		return err
	}
	defer done()
	if !g.validLocation(slot) {
		return instrument.Wrap("UploadWaveformData", fmt.Errorf("%w: memory location %q", instrument.ErrUnsupported, slot))
	}
	up := Upload{
		Slot:       slot,
		Samples:    append([]float64(nil), samples...),
		SampleRate: sampleRate,
		Offset:     offset,
		Padding:    padding,
	}
	g.mu.Lock()
	g.uploads = append(g.uploads, up)
	g.stored[slot] = up
	g.mu.Unlock()
	return nil
}

func (g *Generator) LoadWaveform(ctx context.Context, slot string, channel int) error {
	done, err := g.enter(ctx, "LoadWaveform", channel)
	if err != nil {
		return err
	}
	defer done()
	if err := g.checkChannel("LoadWaveform", channel); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.stored[slot]; !ok {
		return instrument.Wrap("LoadWaveform", fmt.Errorf("memory location %q is empty", slot))
	}
	g.loaded[channel] = slot
	return nil
}

func (g *Generator) CalibrateWaveform(ctx context.Context, channel int) error {
	done, err := g.enter(ctx, "CalibrateWaveform", channel)
	if err != nil {
		return err
	}
	defer done()
	if err := g.checkChannel("CalibrateWaveform", channel); err != nil {
		return err
	}
	g.mu.Lock()
	g.types[channel] = instrument.Sine
	g.calibrated[channel] = true
	g.mu.Unlock()
	return nil
}

func (g *Generator) validLocation(slot string) bool {
	for _, loc := range g.locations {
		if loc == slot {
			return true
		}
	}
	return false
}

func (g *Generator) ValidMemoryLocations() []string {
	return append([]string(nil), g.locations...)
}

func (g *Generator) NumChannels() int { return generatorChannels }

func (g *Generator) MaxVoltage() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxVoltage
}

func (g *Generator) MinVoltage() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.minVoltage
}

func (g *Generator) Close() error { return nil }
