package render

import (
	"context"
	"image/color"
	"sort"
	"sync/atomic"
)

// ChannelView is a copy of one channel's display state.
type ChannelView struct {
	Channel int
	Enabled bool
	Color   color.RGBA
	AxisMin float64
	AxisMax float64
	Samples int
	// Series is the last committed trace, shown only when Enabled.
	Series  *Series
	Commits int
}

// View is a copy of the display model.
type View struct {
	Channels []ChannelView
	Trigger  *Series
}

// Channel returns the view of channel, or false if the display has no such channel.
func (v View) Channel(channel int) (ChannelView, bool) {
	for _, c := range v.Channels {
		if c.Channel == channel {
			return c, true
		}
	}
	return ChannelView{}, false
}

type channelState struct {
	enabled bool
	color   color.RGBA
	axisMin float64
	axisMax float64
	samples int
	series  *Series
	commits int
}

// Display is the display model. Its state is only read and written on the
// dispatcher goroutine; every method hands work to the dispatcher.
type Display struct {
	d        *Dispatcher
	channels map[int]*channelState
	trigger  *Series
	closed   atomic.Bool
}

// NewDisplay creates the model with one entry per channel in colors.
func NewDisplay(d *Dispatcher, colors map[int]color.RGBA) *Display {
	s := &Display{
		d:        d,
		channels: make(map[int]*channelState, len(colors)),
	}
	for ch, c := range colors {
		s.channels[ch] = &channelState{color: c}
	}
	return s
}

// Submit commits f on the dispatcher goroutine. Frames that arrive after Close
// are dropped.
func (s *Display) Submit(ctx context.Context, f Frame) error {
	if s.closed.Load() {
		return nil
	}
	return s.d.Post(ctx, func() { s.apply(f) })
}

func (s *Display) apply(f Frame) {
	if s.closed.Load() {
		return
	}
	st, ok := s.channels[f.Channel]
	if !ok {
		return
	}
	st.series = f.Series
	st.samples = f.Samples
	st.axisMin = -f.Scale / 2
	st.axisMax = f.Scale / 2
	st.commits++
	s.trigger = f.Trigger
}

func (s *Display) SetChannelEnabled(ctx context.Context, channel int, enabled bool) error {
	return s.d.Post(ctx, func() {
		if st, ok := s.channels[channel]; ok {
			st.enabled = enabled
		}
	})
}

// HideTrigger removes the overlay until the next frame carrying one.
func (s *Display) HideTrigger(ctx context.Context) error {
	return s.d.Post(ctx, func() { s.trigger = nil })
}

// Snapshot copies the model on the dispatcher goroutine.
func (s *Display) Snapshot(ctx context.Context) (View, error) {
	views := make(chan View, 1)
	err := s.d.Invoke(ctx, func() {
		v := View{
			Trigger:  s.trigger,
			Channels: make([]ChannelView, 0, len(s.channels)),
		}
		for ch, st := range s.channels {
			v.Channels = append(v.Channels, ChannelView{
				Channel: ch,
				Enabled: st.enabled,
				Color:   st.color,
				AxisMin: st.axisMin,
				AxisMax: st.axisMax,
				Samples: st.samples,
				Series:  st.series,
				Commits: st.commits,
			})
		}
		views <- v
	})
	if err != nil {
		return View{}, err
	}
	v := <-views
	sort.Slice(v.Channels, func(i, j int) bool { return v.Channels[i].Channel < v.Channels[j].Channel })
	return v, nil
}

// Close stops the model from accepting frames, including ones already queued.
func (s *Display) Close() {
	s.closed.Store(true)
}

func (s *Display) Closed() bool { return s.closed.Load() }
