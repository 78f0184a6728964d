// Package viz serves PNG plots of live signals over HTTP.
package viz

import (
	"bytes"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	imageWidth  = 8 * vg.Inch
	imageHeight = 4 * vg.Inch
)

type PlotOptions func(p *plot.Plot)

// newPlot returns a plot styled for a dark page, with a grid and opts applied.
func newPlot(title, xLabel, yLabel string, opts []PlotOptions) *plot.Plot {
	p := plot.New()
	p.BackgroundColor = color.Black
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	for _, axis := range []*plot.Axis{&p.X, &p.Y} {
		axis.Color = color.White
		axis.Label.TextStyle.Color = color.White
		axis.Tick.Color = color.White
		axis.Tick.Label.Color = color.White
	}
	p.Title.TextStyle.Color = color.White
	p.Legend.TextStyle.Color = color.White

	grid := plotter.NewGrid()
	grid.Vertical.Color = color.Gray{Y: 64}
	grid.Horizontal.Color = color.Gray{Y: 64}
	p.Add(grid)

	for _, opt := range opts {
		opt(p)
	}
	return p
}

func encodePNG(p *plot.Plot, name string) (*ImageContainer, error) {
	w, err := p.WriterTo(imageWidth, imageHeight, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return &ImageContainer{name: name, data: buf.Bytes()}, nil
}
