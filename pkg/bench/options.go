// Package bench ties one oscilloscope and one generator into a session: live
// acquisition into the display model, deep memory capture, the generator's
// waveform slots and the availability of every control.
package bench

import (
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/benchtop/pkg/dsp/viz"
	"github.com/rs/zerolog"
)

type Options struct {
	// RefreshInterval of the live display. Zero derives it from the number of
	// enabled channels.
	RefreshInterval time.Duration
	Workers         int
	// MaxAmplitude is the peak-to-peak limit for waveforms. Zero, negative or
	// more than the generator can produce means the generator's full range.
	MaxAmplitude      float64
	DefaultSampleRate float64
	CapturesDir       string
	// MemoryLocations overrides the generator's own list of slots.
	MemoryLocations []string
	EnabledChannels []int
	// MemDepth is set on the scope at start when non-zero.
	MemDepth    int
	ShowTrigger bool
	// DispatchQueue is the number of display updates that may wait for the
	// display goroutine.
	DispatchQueue int
}

type SessionOption func(s *Session) error

func WithInfluxDB(writeAPI api.WriteAPI) SessionOption {
	return func(s *Session) error {
		s.writeAPI = writeAPI
		return nil
	}
}

func WithImageServer(vizServer *viz.Server) SessionOption {
	return func(s *Session) error {
		s.vizServer = vizServer
		return nil
	}
}

func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}
