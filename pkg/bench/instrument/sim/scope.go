package sim

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/norasector/benchtop/pkg/dsp/oscillator"
)

const (
	scopeChannels = 4
	// screenPoints is the length of a screen resolution read.
	screenPoints = 1200
	// horizontalDivisions is the number of time divisions on screen.
	horizontalDivisions = 12
)

var (
	scopeColors = [scopeChannels]color.RGBA{
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
	}
	scopeVoltageScales = []float64{0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
	scopeTimeScales    = []float64{1e-6, 2e-6, 5e-6, 1e-5, 2e-5, 5e-5, 1e-4, 2e-4, 5e-4, 1e-3, 2e-3, 5e-3, 1e-2}
)

var _ instrument.Oscilloscope = (*Scope)(nil)

type scopeChannel struct {
	enabled bool
	yScale  float64
	offset  float64
	osc     *oscillator.Oscillator
	fixed   []float64
}

// Scope is a four channel oscilloscope whose channels show sine waves from
// independent oscillators. Every call can be made to fail or stall.
type Scope struct {
	*faults

	mu           sync.Mutex
	running      bool
	channels     [scopeChannels + 1]*scopeChannel
	active       int
	triggerLevel float64
	memDepth     int
	timeScale    float64
	timeOffset   float64
	lastReadLen  int
	closed       bool
}

func NewScope() *Scope {
	s := &Scope{
		faults:    newFaults(),
		running:   true,
		active:    1,
		timeScale: 1e-3,
	}
	for ch := 1; ch <= scopeChannels; ch++ {
		s.channels[ch] = &scopeChannel{
			enabled: ch == 1,
			yScale:  1,
			osc:     oscillator.NewOscillator(screenPoints, float64(2*ch), 0.5*float64(ch), 0),
		}
	}
	return s
}

// SetSignal replaces the oscillator feeding channel.
func (s *Scope) SetSignal(channel int, frequency, amplitude, offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel].osc = oscillator.NewOscillator(screenPoints, frequency, amplitude, offset)
	s.channels[channel].fixed = nil
}

// SetSamples makes channel return a copy of samples on every read.
func (s *Scope) SetSamples(channel int, samples []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel].fixed = append([]float64(nil), samples...)
}

// FailChannel makes every sample read of channel fail with err.
func (s *Scope) FailChannel(channel int, err error) { s.failChannel(channel, err) }

// FailOp makes the named method fail with err.
func (s *Scope) FailOp(op string, err error) { s.failOp(op, err) }

// SetDelay stalls the named method for d before it answers.
func (s *Scope) SetDelay(op string, d time.Duration) { s.setDelay(op, d) }

func (s *Scope) ClearFaults() { s.clear() }

// Calls returns how many times the named method was called.
func (s *Scope) Calls(op string) int { return s.callCount(op) }

// MaxConcurrent is the largest number of calls that were ever in progress at
// the same time.
func (s *Scope) MaxConcurrent() int { return s.maxConcurrent() }

func (s *Scope) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scope) ActiveChannel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scope) ChannelEnabled(channel int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[channel].enabled
}

func (s *Scope) channel(channel int) (*scopeChannel, error) {
	if channel < 1 || channel > scopeChannels {
		return nil, fmt.Errorf("%w: channel %d", instrument.ErrUnsupported, channel)
	}
	return s.channels[channel], nil
}

func (s *Scope) setRunning(ctx context.Context, op string, running bool) error {
	done, err := s.enter(ctx, op, 0)
	if err != nil {
		return err
	}
	defer done()
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
	return nil
}

func (s *Scope) Run(ctx context.Context) error    { return s.setRunning(ctx, "Run", true) }
func (s *Scope) Stop(ctx context.Context) error   { return s.setRunning(ctx, "Stop", false) }
func (s *Scope) Single(ctx context.Context) error { return s.setRunning(ctx, "Single", false) }

func (s *Scope) read(ctx context.Context, op string, channel, n int) ([]float64, error) {
	done, err := s.enter(ctx, op, channel)
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(channel)
	if err != nil {
		return nil, instrument.Wrap(op, err)
	}
	var ret []float64
	if c.fixed != nil {
		ret = append([]float64(nil), c.fixed...)
	} else {
		ret = c.osc.Work(n)
	}
	s.lastReadLen = len(ret)
	return ret, nil
}

func (s *Scope) WaveVoltages(ctx context.Context, channel int) ([]float64, error) {
	return s.read(ctx, "WaveVoltages", channel, screenPoints)
}

func (s *Scope) DeepMemVoltages(ctx context.Context, channel int) ([]float64, error) {
	s.mu.Lock()
	depth, running := s.memDepth, s.running
	s.mu.Unlock()
	if running {
		return nil, instrument.Wrap("DeepMemVoltages", fmt.Errorf("scope is running"))
	}
	if depth == instrument.MemDepthAuto {
		depth = screenPoints
	}
	return s.read(ctx, "DeepMemVoltages", channel, depth)
}

func (s *Scope) YScale(ctx context.Context, channel int) (float64, error) {
	done, err := s.enter(ctx, "YScale", 0)
	if err != nil {
		return 0, err
	}
	defer done()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(channel)
	if err != nil {
		return 0, instrument.Wrap("YScale", err)
	}
	return c.yScale, nil
}

func (s *Scope) SetYScale(ctx context.Context, channel int, scale float64) error {
	done, err := s.enter(ctx, "SetYScale", 0)
	if err != nil {
		return err
	}
	defer done()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(channel)
	if err != nil {
		return instrument.Wrap("SetYScale", err)
	}
	c.yScale = scale
	return nil
}

func (s *Scope) VerticalOffset(ctx context.Context, channel int) (float64, error) {
	done, err := s.enter(ctx, "VerticalOffset", 0)
	if err != nil {
		return 0, err
	}
	defer done()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(channel)
	if err != nil {
		return 0, instrument.Wrap("VerticalOffset", err)
	}
	return c.offset, nil
}

func (s *Scope) SetVerticalOffset(ctx context.Context, channel int, offset float64) error {
	done, err := s.enter(ctx, "SetVerticalOffset", 0)
	if err != nil {
		return err
	}
	defer done()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(channel)
	if err != nil {
		return instrument.Wrap("SetVerticalOffset", err)
	}
	c.offset = offset
	return nil
}

func (s *Scope) TriggerLevel(ctx context.Context) (float64, error) {
	done, err := s.enter(ctx, "TriggerLevel", 0)
	if err != nil {
		return 0, err
	}
	defer done()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggerLevel, nil
}

func (s *Scope) SetTriggerLevel(ctx context.Context, level float64) error {
	done, err := s.enter(ctx, "SetTriggerLevel", 0)
	if err != nil {
		return err
	}
	defer done()
	s.mu.Lock()
	s.triggerLevel = level
	s.mu.Unlock()
	return nil
}

func (s *Scope) MemDepth(ctx context.Context) (int, error) {
	done, err := s.enter(ctx, "MemDepth", 0)
	if err != nil {
		return 0, err
	}
	defer done()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memDepth, nil
}

func (s *Scope) SetMemDepth(ctx context.Context, depth int) error {
	done, err := s.enter(ctx, "SetMemDepth", 0)
	if err != nil {
		return err
	}
	defer done()
	s.mu.Lock()
	defer s.mu.Unlock()
	if depth != instrument.MemDepthAuto && !containsInt(s.memDepthsLocked(), depth) {
		return instrument.Wrap("SetMemDepth", fmt.Errorf("%w: depth %d", instrument.ErrUnsupported, depth))
	}
	s.memDepth = depth
	return nil
}

func (s *Scope) TimeIncrement(ctx context.Context) (float64, error) {
	done, err := s.enter(ctx, "TimeIncrement", 0)
	if err != nil {
		return 0, err
	}
	defer done()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.lastReadLen
	if n == 0 {
		n = screenPoints
	}
	return s.timeScale * horizontalDivisions / float64(n), nil
}

func (s *Scope) SetTimeScale(ctx context.Context, scale float64) error {
	done, err := s.enter(ctx, "SetTimeScale", 0)
	if err != nil {
		return err
	}
	defer done()
	s.mu.Lock()
	s.timeScale = scale
	s.mu.Unlock()
	return nil
}

func (s *Scope) SetTimeOffset(ctx context.Context, offset float64) error {
	done, err := s.enter(ctx, "SetTimeOffset", 0)
	if err != nil {
		return err
	}
	defer done()
	s.mu.Lock()
	s.timeOffset = offset
	s.mu.Unlock()
	return nil
}

func (s *Scope) setEnabled(ctx context.Context, op string, channel int, enabled bool) error {
	done, err := s.enter(ctx, op, 0)
	if err != nil {
		return err
	}
	defer done()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(channel)
	if err != nil {
		return instrument.Wrap(op, err)
	}
	c.enabled = enabled
	return nil
}

func (s *Scope) EnableChannel(ctx context.Context, channel int) error {
	return s.setEnabled(ctx, "EnableChannel", channel, true)
}

func (s *Scope) DisableChannel(ctx context.Context, channel int) error {
	return s.setEnabled(ctx, "DisableChannel", channel, false)
}

// SetActiveChannel leaves channel as the only enabled one.
func (s *Scope) SetActiveChannel(ctx context.Context, channel int) error {
	done, err := s.enter(ctx, "SetActiveChannel", 0)
	if err != nil {
		return err
	}
	defer done()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.channel(channel); err != nil {
		return instrument.Wrap("SetActiveChannel", err)
	}
	for ch := 1; ch <= scopeChannels; ch++ {
		s.channels[ch].enabled = ch == channel
	}
	s.active = channel
	return nil
}

func (s *Scope) NumChannels() int { return scopeChannels }

func (s *Scope) ChannelColor(channel int) color.RGBA {
	if channel < 1 || channel > scopeChannels {
		return color.RGBA{A: 255}
	}
	return scopeColors[channel-1]
}

func (s *Scope) ScaleConstants() instrument.ScaleConstants {
	return instrument.ScaleConstants{VoltageOffset: 8, TriggerPosition: 5, TimeOffset: 6}
}

func (s *Scope) VoltageScales() []float64 { return append([]float64(nil), scopeVoltageScales...) }
func (s *Scope) TimeScales() []float64    { return append([]float64(nil), scopeTimeScales...) }

// MemDepths follows the DS1000Z split: memory is shared between the enabled channels.
func (s *Scope) MemDepths(enabledChannels int) []int {
	base := []int{12000, 120000, 1200000}
	switch {
	case enabledChannels >= 3:
		for i := range base {
			base[i] /= 4
		}
	case enabledChannels == 2:
		for i := range base {
			base[i] /= 2
		}
	}
	return base
}

func (s *Scope) memDepthsLocked() []int {
	enabled := 0
	for ch := 1; ch <= scopeChannels; ch++ {
		if s.channels[ch].enabled {
			enabled++
		}
	}
	return s.MemDepths(enabled)
}

func (s *Scope) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func containsInt(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
