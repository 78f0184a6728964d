package bench

import (
	"context"
	"fmt"
	"sync"

	"github.com/norasector/benchtop/pkg/bench/instrument"
)

type scopeState struct {
	scopeMu  sync.Mutex
	running  bool
	memDepth int
	focus    int
}

func (s *Session) initScopeState() {
	s.focus = s.opts.EnabledChannels[0]
}

func (st *scopeState) fill(out *State) {
	st.scopeMu.Lock()
	defer st.scopeMu.Unlock()
	out.Running = st.running
	out.MemDepth = st.memDepth
}

// Range is the span a slider may cover.
type Range struct {
	Min, Max float64
}

func symmetric(v float64) Range {
	if v < 0 {
		v = -v
	}
	return Range{Min: -v, Max: v}
}

// VoltageScaleChange is the outcome of a voltage scale change on the focused
// channel: the new slider spans and the rescaled offset and trigger values.
type VoltageScaleChange struct {
	Scale        float64
	OffsetRange  Range
	TriggerRange Range
	Offset       float64
	TriggerLevel float64
}

// scopeCall runs fn with both locks held, unless a capture owns the scope.
func (s *Session) scopeCall(ctx context.Context, fn func() error) error {
	if s.capturing.Load() {
		return ErrBusy
	}
	return s.locks.WithDevice(ctx, fn)
}

func (s *Session) checkScopeChannel(channel int) error {
	if channel < 1 || channel > s.scope.NumChannels() {
		return fmt.Errorf("%w: scope channel %d", ErrUnknownInput, channel)
	}
	return nil
}

func (s *Session) setRunning(running bool) {
	s.scopeMu.Lock()
	s.running = running
	s.scopeMu.Unlock()
}

// RunAcquisition puts the scope in continuous run mode.
func (s *Session) RunAcquisition(ctx context.Context) error {
	if err := s.scopeCall(ctx, func() error { return s.scope.Run(ctx) }); err != nil {
		return err
	}
	s.setRunning(true)
	return nil
}

func (s *Session) StopAcquisition(ctx context.Context) error {
	if err := s.scopeCall(ctx, func() error { return s.scope.Stop(ctx) }); err != nil {
		return err
	}
	s.setRunning(false)
	return nil
}

// Single arms one acquisition; the scope stops after it.
func (s *Session) Single(ctx context.Context) error {
	if err := s.scopeCall(ctx, func() error { return s.scope.Single(ctx) }); err != nil {
		return err
	}
	s.setRunning(false)
	return nil
}

func (s *Session) FocusedChannel() int {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()
	return s.focus
}

// SetChannelInFocus picks the channel the vertical controls act on.
func (s *Session) SetChannelInFocus(channel int) error {
	if err := s.checkScopeChannel(channel); err != nil {
		return err
	}
	s.scopeMu.Lock()
	s.focus = channel
	s.scopeMu.Unlock()
	return nil
}

// SetVoltageScale switches the focused channel to the preset at index. The
// channel's offset and the trigger level are multiplied by new/previous scale
// so they stay at the same screen position.
func (s *Session) SetVoltageScale(ctx context.Context, index int) (VoltageScaleChange, error) {
	scales := s.scope.VoltageScales()
	if index < 0 || index >= len(scales) {
		return VoltageScaleChange{}, fmt.Errorf("%w: voltage scale index %d", instrument.ErrUnsupported, index)
	}
	scale := scales[index]
	channel := s.FocusedChannel()
	k := s.scope.ScaleConstants()

	ret := VoltageScaleChange{
		Scale:        scale,
		OffsetRange:  symmetric(k.VoltageOffset * scale),
		TriggerRange: symmetric(k.TriggerPosition * scale),
	}
	err := s.scopeCall(ctx, func() error {
		prev, err := s.scope.YScale(ctx, channel)
		if err != nil {
			return err
		}
		offset, err := s.scope.VerticalOffset(ctx, channel)
		if err != nil {
			return err
		}
		trigger, err := s.scope.TriggerLevel(ctx)
		if err != nil {
			return err
		}
		ratio := 1.0
		if prev > 0 {
			ratio = scale / prev
		}
		ret.Offset = offset * ratio
		ret.TriggerLevel = trigger * ratio

		if err := s.scope.SetYScale(ctx, channel, scale); err != nil {
			return err
		}
		if err := s.scope.SetVerticalOffset(ctx, channel, ret.Offset); err != nil {
			return err
		}
		return s.scope.SetTriggerLevel(ctx, ret.TriggerLevel)
	})
	if err != nil {
		return VoltageScaleChange{}, err
	}
	s.logger.Debug().Int("channel", channel).Float64("scale", scale).Msg("voltage scale changed")
	return ret, nil
}

// SetTimeScale switches to the time preset at index and returns the span of
// the time offset slider.
func (s *Session) SetTimeScale(ctx context.Context, index int) (Range, error) {
	scales := s.scope.TimeScales()
	if index < 0 || index >= len(scales) {
		return Range{}, fmt.Errorf("%w: time scale index %d", instrument.ErrUnsupported, index)
	}
	scale := scales[index]
	if err := s.scopeCall(ctx, func() error { return s.scope.SetTimeScale(ctx, scale) }); err != nil {
		return Range{}, err
	}
	return symmetric(s.scope.ScaleConstants().TimeOffset * scale), nil
}

func (s *Session) SetVerticalOffset(ctx context.Context, offset float64) error {
	channel := s.FocusedChannel()
	return s.scopeCall(ctx, func() error { return s.scope.SetVerticalOffset(ctx, channel, offset) })
}

func (s *Session) SetTriggerLevel(ctx context.Context, level float64) error {
	return s.scopeCall(ctx, func() error { return s.scope.SetTriggerLevel(ctx, level) })
}

func (s *Session) SetTimeOffset(ctx context.Context, offset float64) error {
	return s.scopeCall(ctx, func() error { return s.scope.SetTimeOffset(ctx, offset) })
}

// MemDepths lists the depths allowed with the channels currently enabled.
// AUTO is always allowed as well.
func (s *Session) MemDepths() []int {
	return s.scope.MemDepths(len(s.scheduler.EnabledChannels()))
}

func (s *Session) MemDepth() int {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()
	return s.memDepth
}

// SetMemDepth sets the acquisition memory depth; instrument.MemDepthAuto lets
// the scope choose, which rules out deep memory capture.
func (s *Session) SetMemDepth(ctx context.Context, depth int) error {
	if depth != instrument.MemDepthAuto {
		allowed := false
		for _, d := range s.MemDepths() {
			if d == depth {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: memory depth %d", instrument.ErrUnsupported, depth)
		}
	}
	if err := s.scopeCall(ctx, func() error { return s.scope.SetMemDepth(ctx, depth) }); err != nil {
		return err
	}
	s.scopeMu.Lock()
	s.memDepth = depth
	s.scopeMu.Unlock()
	return nil
}

func (s *Session) syncMemDepth(ctx context.Context) error {
	var depth int
	err := s.scopeCall(ctx, func() error {
		var err error
		depth, err = s.scope.MemDepth(ctx)
		return err
	})
	if err != nil {
		return err
	}
	s.scopeMu.Lock()
	s.memDepth = depth
	s.scopeMu.Unlock()
	return nil
}

// SetChannelEnabled turns a scope channel on or off, together with its live
// refresh and its trace on the display.
func (s *Session) SetChannelEnabled(ctx context.Context, channel int, enabled bool) error {
	if err := s.checkScopeChannel(channel); err != nil {
		return err
	}
	err := s.scopeCall(ctx, func() error {
		if enabled {
			return s.scope.EnableChannel(ctx, channel)
		}
		return s.scope.DisableChannel(ctx, channel)
	})
	if err != nil {
		return err
	}
	if err := s.scheduler.SetChannelEnabled(channel, enabled); err != nil {
		return err
	}
	return s.display.SetChannelEnabled(ctx, channel, enabled)
}

// ShowTrigger toggles the trigger level overlay. Hiding it clears the line at
// once instead of waiting for the next refresh.
func (s *Session) ShowTrigger(ctx context.Context, show bool) error {
	s.pipeline.ShowTrigger(show)
	if show {
		return nil
	}
	return s.display.HideTrigger(ctx)
}
