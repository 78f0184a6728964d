package viz

import (
	"image/color"
	"sync"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// TracePlotter draws the most recent trace of one channel, centered on x = 0
// like the scope screen.
type TracePlotter struct {
	mu          sync.Mutex
	name        string
	color       color.Color
	samples     []float64
	yMin        float64
	yMax        float64
	plotOptions []PlotOptions
}

func NewTracePlotter(name string, c color.Color) *TracePlotter {
	return &TracePlotter{name: name, color: c}
}

func (t *TracePlotter) Name() string {
	return t.name
}

// Update replaces the trace. yMin and yMax fix the vertical axis; pass equal
// values to let the plot pick its own range.
func (t *TracePlotter) Update(samples []float64, yMin, yMax float64) {
	t.mu.Lock()
	t.samples = append(t.samples[:0], samples...)
	t.yMin, t.yMax = yMin, yMax
	t.mu.Unlock()
}

func (t *TracePlotter) AddPlotOption(opt PlotOptions) {
	t.mu.Lock()
	t.plotOptions = append(t.plotOptions, opt)
	t.mu.Unlock()
}

// GetImage returns nil until the first trace arrives.
func (t *TracePlotter) GetImage() (*ImageContainer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == 0 {
		return nil, nil
	}

	p := newPlot(t.name, "sample", "screen", t.plotOptions)
	if t.yMin != t.yMax {
		p.Y.Min, p.Y.Max = t.yMin, t.yMax
	}

	n := len(t.samples)
	xys := make(plotter.XYs, n)
	for i, v := range t.samples {
		xys[i] = plotter.XY{X: float64(i - n/2), Y: v}
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, err
	}
	line.Color = t.color
	line.Width = vg.Points(1)
	p.Add(line)

	return encodePNG(p, t.name)
}
