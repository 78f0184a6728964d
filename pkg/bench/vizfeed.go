package bench

import (
	"context"
	"fmt"
	"image/color"
	"time"

	"github.com/norasector/benchtop/pkg/dsp/filters/fir"
	"github.com/norasector/benchtop/pkg/dsp/viz"
)

const (
	scopeBucket     = "scope"
	generatorBucket = "generator"
)

// vizFeed copies the display model into the viz producers.
type vizFeed struct {
	traces   map[int]*viz.TracePlotter
	spectra  map[int]*viz.SpectrumPlotter
	waveform *viz.TracePlotter
}

func (s *Session) registerViz() *vizFeed {
	feed := &vizFeed{
		traces:   make(map[int]*viz.TracePlotter),
		spectra:  make(map[int]*viz.SpectrumPlotter),
		waveform: viz.NewTracePlotter("waveform", color.White),
	}
	for ch := 1; ch <= s.scope.NumChannels(); ch++ {
		c := s.pipeline.Color(ch)
		feed.traces[ch] = viz.NewTracePlotter(fmt.Sprintf("ch%d-trace", ch), c)
		feed.spectra[ch] = viz.NewSpectrumPlotter(fmt.Sprintf("ch%d-spectrum", ch), c, fir.Blackman)
		s.vizServer.Register(scopeBucket, feed.traces[ch])
		s.vizServer.Register(scopeBucket, feed.spectra[ch])
	}
	s.vizServer.Register(generatorBucket, feed.waveform)
	return feed
}

func (s *Session) feedViz(ctx context.Context) error {
	timer := time.NewTimer(s.vizServer.UpdateInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if err := s.updateViz(ctx); err != nil && ctx.Err() == nil {
				s.logger.Debug().Err(err).Msg("viz update failed")
			}
			timer.Reset(s.vizServer.UpdateInterval())
		}
	}
}

// updateViz hands the latest committed traces and the current waveform to the
// plotters. The display is read through a snapshot only.
func (s *Session) updateViz(ctx context.Context) error {
	view, err := s.display.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, cv := range view.Channels {
		if !cv.Enabled || cv.Series == nil {
			continue
		}
		ys := make([]float64, len(cv.Series.Points))
		for i, p := range cv.Series.Points {
			ys[i] = p.Y
		}
		if trace, ok := s.feed.traces[cv.Channel]; ok {
			trace.Update(ys, cv.AxisMin, cv.AxisMax)
		}
		if spectrum, ok := s.feed.spectra[cv.Channel]; ok {
			if err := spectrum.Update(ys, 0); err != nil {
				return err
			}
		}
	}

	if rec := s.CurrentRecord(); !rec.Empty() {
		s.feed.waveform.Update(rec.CopySamples(), -s.maxAmplitude/2, s.maxAmplitude/2)
	}
	return nil
}
