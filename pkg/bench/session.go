package bench

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/benchtop/pkg/bench/acquisition"
	"github.com/norasector/benchtop/pkg/bench/capture"
	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/norasector/benchtop/pkg/bench/render"
	"github.com/norasector/benchtop/pkg/dsp/viz"
	"github.com/norasector/benchtop/pkg/util"
	"github.com/norasector/benchtop/pkg/waveform"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultDispatchQueue = 64

var (
	ErrBusy         = errors.New("operation already in progress")
	ErrUnknownInput = errors.New("unknown channel")
)

// Session owns the instruments and everything built on them. All state that
// used to be global to the application lives here.
type Session struct {
	scope     instrument.Oscilloscope
	gen       instrument.Generator
	opts      Options
	writeAPI  api.WriteAPI
	vizServer *viz.Server
	feed      *vizFeed
	logger    zerolog.Logger

	locks      *acquisition.Locks
	pipeline   *render.Pipeline
	dispatcher *render.Dispatcher
	display    *render.Display
	scheduler  *acquisition.Scheduler
	capturer   *capture.Capturer

	capturing atomic.Bool
	ready     chan struct{}

	scopeState
	generatorState

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewSession(scope instrument.Oscilloscope, gen instrument.Generator, options Options, opts ...SessionOption) (*Session, error) {
	s := &Session{
		scope:    scope,
		gen:      gen,
		opts:     options,
		writeAPI: &util.MockWriteAPI{}, // overwritten with option
		logger:   log.Logger,
		locks:    acquisition.NewLocks(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.opts.DispatchQueue <= 0 {
		s.opts.DispatchQueue = defaultDispatchQueue
	}
	if s.opts.DefaultSampleRate <= 0 {
		s.opts.DefaultSampleRate = waveform.DefaultSampleRate
	}
	if len(s.opts.EnabledChannels) == 0 {
		s.opts.EnabledChannels = []int{1}
	}
	for _, ch := range s.opts.EnabledChannels {
		if ch < 1 || ch > scope.NumChannels() {
			return nil, fmt.Errorf("%w: scope channel %d", ErrUnknownInput, ch)
		}
	}

	// Colors are read once; the scope is never asked again.
	colors := make(map[int]color.RGBA, scope.NumChannels())
	for ch := 1; ch <= scope.NumChannels(); ch++ {
		colors[ch] = scope.ChannelColor(ch)
	}
	s.pipeline = render.NewPipeline(scope.ScaleConstants().VoltageOffset, colors)
	s.pipeline.ShowTrigger(s.opts.ShowTrigger)
	s.dispatcher = render.NewDispatcher(s.opts.DispatchQueue)
	s.display = render.NewDisplay(s.dispatcher, colors)

	var err error
	s.scheduler, err = acquisition.NewScheduler(scope, s.locks, s.pipeline, s.display,
		acquisition.Options{
			Interval: s.opts.RefreshInterval,
			Workers:  s.opts.Workers,
		},
		acquisition.WithInfluxDB(s.writeAPI),
		acquisition.WithLogger(s.logger.With().Str("component", "acquisition").Logger()))
	if err != nil {
		return nil, err
	}

	s.capturer, err = capture.NewCapturer(scope, s.locks, captureGate{s},
		capture.Options{Dir: s.opts.CapturesDir},
		capture.WithInfluxDB(s.writeAPI),
		capture.WithLogger(s.logger.With().Str("component", "capture").Logger()))
	if err != nil {
		return nil, err
	}

	s.initScopeState()
	if err := s.initGeneratorState(); err != nil {
		return nil, err
	}
	if s.vizServer != nil {
		s.feed = s.registerViz()
	}
	return s, nil
}

func (s *Session) Display() *render.Display {
	return s.display
}

func (s *Session) Scheduler() *acquisition.Scheduler {
	return s.scheduler
}

func (s *Session) Locks() *acquisition.Locks {
	return s.locks
}

// Snapshot copies the display model on the display goroutine.
func (s *Session) Snapshot(ctx context.Context) (render.View, error) {
	return s.display.Snapshot(ctx)
}

// Ready is closed once Start has configured the scope and the live display is
// refreshing.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Start runs the display goroutine, the acquisition scheduler and the viz
// server until ctx is done or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.dispatcher.Run(ctx)
	})

	eg.Go(func() error {
		if err := s.setup(ctx); err != nil {
			return fmt.Errorf("configure scope: %w", err)
		}
		close(s.ready)

		eg.Go(func() error {
			return s.scheduler.Run(ctx)
		})
		if s.vizServer != nil {
			eg.Go(func() error {
				return s.vizServer.Run(ctx)
			})
			eg.Go(func() error {
				return s.feedViz(ctx)
			})
		}
		return nil
	})

	s.logger.Info().
		Ints("channels", s.opts.EnabledChannels).
		Strs("memory_locations", s.slots.Locations()).
		Float64("max_amplitude", s.maxAmplitude).
		Msg("starting session")

	return eg.Wait()
}

// setup brings the scope to the configured state.
func (s *Session) setup(ctx context.Context) error {
	enabled := make(map[int]bool, len(s.opts.EnabledChannels))
	for _, ch := range s.opts.EnabledChannels {
		enabled[ch] = true
	}
	for ch := 1; ch <= s.scope.NumChannels(); ch++ {
		if err := s.SetChannelEnabled(ctx, ch, enabled[ch]); err != nil {
			return err
		}
	}
	if err := s.ShowTrigger(ctx, s.opts.ShowTrigger); err != nil {
		return err
	}
	if s.opts.MemDepth != 0 {
		if err := s.SetMemDepth(ctx, s.opts.MemDepth); err != nil {
			return err
		}
	} else if err := s.syncMemDepth(ctx); err != nil {
		return err
	}
	return s.RunAcquisition(ctx)
}

// Stop cancels the session. No display commit happens after Stop returns.
func (s *Session) Stop() error {
	s.scheduler.Cancel()
	s.display.Close()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Close releases both instruments.
func (s *Session) Close() error {
	return errors.Join(s.scope.Close(), s.gen.Close())
}

// State gathers everything control availability depends on.
func (s *Session) State() State {
	st := State{Capturing: s.capturing.Load()}
	s.scopeState.fill(&st)
	s.generatorState.fill(&st)
	return st
}

func (s *Session) Controls() Controls {
	return Availability(s.State())
}

// captureGate keeps the scheduler from starting refreshes for the duration of
// a capture.
type captureGate struct {
	s *Session
}

func (g captureGate) Suspend() func() {
	g.s.scheduler.Pause()
	return g.s.scheduler.Resume
}

// CaptureTask is a running deep memory capture.
type CaptureTask struct {
	*Task
	result *capture.Result
}

// Result is the written capture, nil unless the task succeeded.
func (t *CaptureTask) Result() *capture.Result {
	if t.Err() != nil {
		return nil
	}
	select {
	case <-t.Done():
		return t.result
	default:
		return nil
	}
}

// Capture downloads channel's deep memory to a CSV file. The scope is left
// stopped with channel as its only enabled channel, and the live display
// follows.
func (s *Session) Capture(ctx context.Context, channel int) *CaptureTask {
	ct := &CaptureTask{}
	if !s.capturing.CompareAndSwap(false, true) {
		ct.Task = failedTask(ErrBusy)
		return ct
	}
	st := s.State()
	st.Capturing = false
	if !Availability(st).Capture {
		s.capturing.Store(false)
		ct.Task = failedTask(capture.ErrAutoMemDepth)
		return ct
	}
	if channel < 1 || channel > s.scope.NumChannels() {
		s.capturing.Store(false)
		ct.Task = failedTask(fmt.Errorf("%w: scope channel %d", ErrUnknownInput, channel))
		return ct
	}

	ct.Task = startTask(ctx, func(ctx context.Context) error {
		res, err := s.capturer.Capture(ctx, channel)
		ct.result = res
		return err
	}, func(err error) {
		defer s.capturing.Store(false)
		if err != nil {
			return
		}
		s.afterCapture(ctx, channel)
	})
	return ct
}

// afterCapture mirrors what the capture did to the scope.
func (s *Session) afterCapture(ctx context.Context, channel int) {
	s.scopeMu.Lock()
	s.running = false
	s.focus = channel
	s.scopeMu.Unlock()

	for ch := 1; ch <= s.scope.NumChannels(); ch++ {
		on := ch == channel
		if err := s.scheduler.SetChannelEnabled(ch, on); err != nil {
			continue
		}
		if err := s.display.SetChannelEnabled(ctx, ch, on); err != nil {
			s.logger.Debug().Err(err).Int("channel", ch).Msg("display not updated after capture")
		}
	}
}
