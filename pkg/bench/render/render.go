// Package render turns oscilloscope reads into screen space series and owns
// the display model they are committed to.
package render

import (
	"image/color"
	"sync/atomic"

	"github.com/norasector/benchtop/pkg/util"
)

// TriggerColor is the color of the trigger level overlay.
var TriggerColor = color.RGBA{R: 255, G: 165, B: 0, A: 255}

// ScaleVoltageToScreen maps a voltage to the vertical screen position the scope
// would draw it at, for a channel at scale volts per division shifted by
// verticalOffset. offsetScaleConstant is the scope's offset range in divisions.
func ScaleVoltageToScreen(voltage, scale, verticalOffset, offsetScaleConstant float64) float64 {
	fractional := (verticalOffset + voltage + (offsetScaleConstant/2)*scale) / (offsetScaleConstant * scale)
	return fractional*scale - scale/2
}

type Point struct {
	X, Y float64
}

// Series is an immutable drawn line. A new one is built for every refresh.
type Series struct {
	Channel int
	Color   color.RGBA
	Dashed  bool
	Points  []Point
}

// Acquisition is everything read from the scope for one channel refresh.
type Acquisition struct {
	Channel        int
	Voltages       []float64
	Scale          float64
	VerticalOffset float64
	TriggerLevel   float64
}

// Frame is a finished channel refresh ready to be committed.
type Frame struct {
	Channel int
	Scale   float64
	Samples int
	Series  *Series
	// Trigger is nil when the overlay is hidden.
	Trigger *Series
}

// Pipeline builds frames. Channel colors are fixed when it is created.
type Pipeline struct {
	colors              map[int]color.RGBA
	offsetScaleConstant float64
	showTrigger         atomic.Bool
}

func NewPipeline(offsetScaleConstant float64, colors map[int]color.RGBA) *Pipeline {
	p := &Pipeline{
		colors:              make(map[int]color.RGBA, len(colors)),
		offsetScaleConstant: offsetScaleConstant,
	}
	for ch, c := range colors {
		p.colors[ch] = c
	}
	return p
}

func (p *Pipeline) ShowTrigger(show bool) { p.showTrigger.Store(show) }
func (p *Pipeline) TriggerShown() bool    { return p.showTrigger.Load() }

func (p *Pipeline) Color(channel int) color.RGBA {
	if c, ok := p.colors[channel]; ok {
		return c
	}
	return color.RGBA{A: 255}
}

// Render builds the frame for one acquisition.
func (p *Pipeline) Render(acq Acquisition) Frame {
	f := Frame{
		Channel: acq.Channel,
		Scale:   acq.Scale,
		Samples: len(acq.Voltages),
		Series:  p.BuildSeries(acq),
	}
	if p.showTrigger.Load() {
		f.Trigger = p.TriggerLine(acq.TriggerLevel, acq.Scale, len(acq.Voltages))
	}
	return f
}

// BuildSeries places sample i at x = i - n/2 so the trace is centered like it
// is on the scope.
func (p *Pipeline) BuildSeries(acq Acquisition) *Series {
	n := len(acq.Voltages)
	points := make([]Point, n)
	util.ParallelFor(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			points[i] = Point{
				X: float64(i - n/2),
				Y: ScaleVoltageToScreen(acq.Voltages[i], acq.Scale, acq.VerticalOffset, p.offsetScaleConstant),
			}
		}
	})
	return &Series{Channel: acq.Channel, Color: p.Color(acq.Channel), Points: points}
}

// TriggerLine is a horizontal line across an n sample trace at the trigger level.
// The trigger level is not shifted by the channel offset.
func (p *Pipeline) TriggerLine(level, scale float64, n int) *Series {
	y := ScaleVoltageToScreen(level, scale, 0, p.offsetScaleConstant)
	return &Series{
		Color:  TriggerColor,
		Dashed: true,
		Points: []Point{{X: float64(-n / 2), Y: y}, {X: float64(n / 2), Y: y}},
	}
}
