package acquisition

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/norasector/benchtop/pkg/bench/render"
	"github.com/norasector/benchtop/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	fastInterval = 200 * time.Millisecond
	slowInterval = 300 * time.Millisecond
)

// IntervalFor is the refresh interval used for the given number of enabled
// channels when none is configured.
func IntervalFor(channels int) time.Duration {
	if channels >= 3 {
		return slowInterval
	}
	return fastInterval
}

// Sink receives finished frames, typically handing them to the display goroutine.
type Sink interface {
	Submit(ctx context.Context, f render.Frame) error
}

// State is where a channel is in its refresh cycle.
type State int32

const (
	Idle State = iota
	Fetching
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Committing:
		return "committing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Options struct {
	// Interval between refreshes. Zero derives it from the enabled channel count.
	Interval time.Duration
	// Workers fetching concurrently. Zero means one per CPU.
	Workers int
}

type Stats struct {
	Ticks   int64
	Skipped int64
	Fetched int64
	Failed  int64
	Dropped int64
}

// Scheduler refreshes every enabled channel on a timer. Each refresh is a task
// on a worker pool; tasks for different channels run concurrently and are
// serialized on the scope only by Locks. A channel has at most one task in
// flight, later ticks skip it until it is idle again.
type Scheduler struct {
	scope    instrument.Oscilloscope
	locks    *Locks
	pipeline *render.Pipeline
	sink     Sink
	writeAPI api.WriteAPI
	logger   zerolog.Logger
	opts     Options

	mu      sync.RWMutex
	enabled map[int]bool

	states    map[int]*atomic.Int32
	tasks     chan int
	paused    atomic.Bool
	commitMu  sync.RWMutex
	cancelled atomic.Bool

	ticks, skipped, fetched, failed, dropped atomic.Int64
}

type SchedulerOption func(s *Scheduler) error

func WithInfluxDB(writeAPI api.WriteAPI) SchedulerOption {
	return func(s *Scheduler) error {
		s.writeAPI = writeAPI
		return nil
	}
}

func WithLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) error {
		s.logger = logger
		return nil
	}
}

func NewScheduler(scope instrument.Oscilloscope, locks *Locks, pipeline *render.Pipeline, sink Sink, options Options, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		scope:    scope,
		locks:    locks,
		pipeline: pipeline,
		sink:     sink,
		opts:     options,
		writeAPI: &util.MockWriteAPI{},
		logger:   log.Logger,
		enabled:  make(map[int]bool),
		states:   make(map[int]*atomic.Int32),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.opts.Workers <= 0 {
		s.opts.Workers = runtime.NumCPU()
	}
	if s.opts.Interval < 0 {
		return nil, fmt.Errorf("negative refresh interval %v", s.opts.Interval)
	}
	for ch := 1; ch <= scope.NumChannels(); ch++ {
		s.states[ch] = &atomic.Int32{}
	}
	s.tasks = make(chan int, scope.NumChannels())
	return s, nil
}

// SetChannelEnabled adds or removes channel from the refresh set.
func (s *Scheduler) SetChannelEnabled(channel int, enabled bool) error {
	if _, ok := s.states[channel]; !ok {
		return fmt.Errorf("%w: channel %d", instrument.ErrUnsupported, channel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		s.enabled[channel] = true
	} else {
		delete(s.enabled, channel)
	}
	return nil
}

// EnabledChannels returns the refreshed channels in ascending order.
func (s *Scheduler) EnabledChannels() []int {
	s.mu.RLock()
	ret := make([]int, 0, len(s.enabled))
	for ch := range s.enabled {
		ret = append(ret, ch)
	}
	s.mu.RUnlock()
	sort.Ints(ret)
	return ret
}

func (s *Scheduler) Interval() time.Duration {
	if s.opts.Interval > 0 {
		return s.opts.Interval
	}
	return IntervalFor(len(s.EnabledChannels()))
}

func (s *Scheduler) State(channel int) State {
	st, ok := s.states[channel]
	if !ok {
		return Idle
	}
	return State(st.Load())
}

// Pause stops ticks from starting refreshes. Refreshes already running finish.
func (s *Scheduler) Pause()  { s.paused.Store(true) }
func (s *Scheduler) Resume() { s.paused.Store(false) }
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Cancel stops the scheduler for good. No frame is submitted after Cancel
// returns; refreshes in flight finish and their frames are dropped.
func (s *Scheduler) Cancel() {
	s.commitMu.Lock()
	s.cancelled.Store(true)
	s.commitMu.Unlock()
}

func (s *Scheduler) Cancelled() bool { return s.cancelled.Load() }

func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:   s.ticks.Load(),
		Skipped: s.skipped.Load(),
		Fetched: s.fetched.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
	}
}

// Tick queues a refresh for every enabled channel that is idle.
func (s *Scheduler) Tick() {
	if s.paused.Load() || s.cancelled.Load() {
		return
	}
	s.ticks.Add(1)
	for _, ch := range s.EnabledChannels() {
		st := s.states[ch]
		if !st.CompareAndSwap(int32(Idle), int32(Fetching)) {
			s.skipped.Add(1)
			continue
		}
		select {
		case s.tasks <- ch:
		default:
			st.Store(int32(Idle))
			s.skipped.Add(1)
		}
	}
}

// Run starts the workers and the refresh timer and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < s.opts.Workers; i++ {
		eg.Go(func() error {
			return s.work(ctx)
		})
	}

	eg.Go(func() error {
		timer := time.NewTimer(s.Interval())
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				if s.cancelled.Load() {
					return nil
				}
				s.Tick()
				timer.Reset(s.Interval())
			}
		}
	})

	s.logger.Info().
		Ints("channels", s.EnabledChannels()).
		Dur("interval", s.Interval()).
		Int("workers", s.opts.Workers).
		Msg("starting acquisition")

	return eg.Wait()
}

func (s *Scheduler) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch := <-s.tasks:
			s.refresh(ctx, ch)
		}
	}
}

// refresh runs one channel task. Failures are logged and counted; they never
// stop the worker.
func (s *Scheduler) refresh(ctx context.Context, channel int) {
	st := s.states[channel]
	defer st.Store(int32(Idle))
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			s.logger.Error().Int("channel", channel).Interface("panic", r).Msg("channel refresh panicked")
		}
	}()

	var frame render.Frame
	durationUs, err := util.TimeOperation(func() error {
		var err error
		frame, err = s.fetchAndRender(ctx, channel)
		return err
	})

	s.writeAPI.WritePoint(influxdb2.NewPoint("acquisition.fetch",
		map[string]string{
			"channel": strconv.Itoa(channel),
		},
		map[string]interface{}{
			"duration_us": durationUs,
			"samples":     frame.Samples,
			"error":       err != nil,
		}, time.Now()))

	if err != nil {
		s.failed.Add(1)
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Int("channel", channel).Msg("failed to refresh channel")
		}
		return
	}
	s.fetched.Add(1)

	st.Store(int32(Committing))
	s.commit(ctx, frame)
}

func (s *Scheduler) commit(ctx context.Context, frame render.Frame) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	if s.cancelled.Load() || ctx.Err() != nil {
		s.dropped.Add(1)
		return
	}
	if err := s.sink.Submit(ctx, frame); err != nil {
		s.dropped.Add(1)
		s.logger.Debug().Err(err).Int("channel", frame.Channel).Msg("frame not committed")
	}
}

// fetchAndRender reads one channel under the download lock. The graph lock
// covers only the scope queries; the frame is built after it is released.
func (s *Scheduler) fetchAndRender(ctx context.Context, channel int) (render.Frame, error) {
	release, err := s.locks.AcquireDownload(ctx)
	if err != nil {
		return render.Frame{}, err
	}
	defer release()

	acq := render.Acquisition{Channel: channel}
	err = s.locks.WithGraph(func() error {
		var err error
		if acq.Voltages, err = s.scope.WaveVoltages(ctx, channel); err != nil {
			return err
		}
		if acq.Scale, err = s.scope.YScale(ctx, channel); err != nil {
			return err
		}
		if acq.TriggerLevel, err = s.scope.TriggerLevel(ctx); err != nil {
			return err
		}
		acq.VerticalOffset, err = s.scope.VerticalOffset(ctx, channel)
		return err
	})
	if err != nil {
		return render.Frame{}, err
	}
	if acq.Scale <= 0 {
		return render.Frame{}, instrument.Wrap("YScale", fmt.Errorf("scope reported scale %v", acq.Scale))
	}
	return s.pipeline.Render(acq), nil
}
