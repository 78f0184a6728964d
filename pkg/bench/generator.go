package bench

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/norasector/benchtop/pkg/util"
	"github.com/norasector/benchtop/pkg/waveform"
)

var (
	ErrSlotOccupied = errors.New("memory location already holds a waveform")
	ErrNotOpening   = errors.New("no opened file waiting for a memory location")
	ErrNoRecord     = errors.New("no waveform selected")
	ErrNotCommitted = errors.New("opened file is not stored in a memory location yet")
	ErrNotUploaded  = errors.New("waveform not uploaded")
	ErrNotLoaded    = errors.New("waveform not loaded to the generator channel")
)

// generatorState is the waveform workflow. genMu guards the record pointers
// and the selections; devMu serializes generator commands.
type generatorState struct {
	genMu        sync.Mutex
	slots        *waveform.Slots
	slot         string
	current      *waveform.Record
	pending      *waveform.Record
	opening      bool
	warnings     []error
	genChannel   int
	playing      map[int]struct{}
	maxAmplitude float64

	devMu       sync.Mutex
	parsing     atomic.Bool
	uploading   atomic.Bool
	loading     atomic.Bool
	calibrating atomic.Bool
}

func (s *Session) initGeneratorState() error {
	locations := s.opts.MemoryLocations
	if len(locations) == 0 {
		locations = s.gen.ValidMemoryLocations()
	}
	if len(locations) == 0 {
		return fmt.Errorf("generator reports no memory locations")
	}
	s.slots = waveform.NewSlots(locations)
	s.slot = locations[0]
	s.current, _ = s.slots.Get(s.slot)
	s.genChannel = 1
	s.playing = make(map[int]struct{})
	s.maxAmplitude = ClampAmplitude(s.opts.MaxAmplitude, s.gen.MinVoltage(), s.gen.MaxVoltage())
	return nil
}

// ClampAmplitude returns requested unless it is not positive or wider than the
// generator's output range, in which case it returns the range.
func ClampAmplitude(requested, minVoltage, maxVoltage float64) float64 {
	span := maxVoltage - minVoltage
	if requested <= 0 || requested > span {
		return span
	}
	return requested
}

func (st *generatorState) fill(out *State) {
	out.Parsing = st.parsing.Load()
	out.Uploading = st.uploading.Load()
	out.Loading = st.loading.Load()
	out.Calibrating = st.calibrating.Load()

	st.genMu.Lock()
	out.OpeningFile = st.opening
	ch := st.genChannel
	rec, err := st.slots.Get(st.slot)
	st.genMu.Unlock()

	if err != nil || rec.Empty() {
		return
	}
	out.SlotOccupied = true
	out.RecordUploaded = rec.IsUploaded()
	out.LoadedToFocusedChannel = rec.IsLoadedTo(ch)
}

func (s *Session) MaxAmplitude() float64   { return s.maxAmplitude }
func (s *Session) Slots() *waveform.Slots { return s.slots }

// CurrentRecord is the waveform being edited: the opened file while one waits
// for a memory location, the selected slot's record otherwise.
func (s *Session) CurrentRecord() *waveform.Record {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.current
}

func (s *Session) SelectedSlot() string {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.slot
}

// Warnings returns the non-fatal problems found in the last opened file.
func (s *Session) Warnings() []error {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return append([]error(nil), s.warnings...)
}

// OpenFile parses a waveform file in the background. On success the file
// becomes the current record until CommitPending stores it or CancelOpen drops
// it. A failed parse leaves the previous record current.
func (s *Session) OpenFile(ctx context.Context, path string) *Task {
	if !s.parsing.CompareAndSwap(false, true) {
		return failedTask(ErrBusy)
	}
	logger := s.logger.With().Str("component", "generator").Str("path", path).Logger()

	return startTask(ctx, func(ctx context.Context) error {
		res, err := waveform.ParseFile(ctx, path, waveform.ParseOptions{
			MaxAmplitude:      s.maxAmplitude,
			DefaultSampleRate: s.opts.DefaultSampleRate,
		})

		s.genMu.Lock()
		defer s.genMu.Unlock()
		if err != nil {
			s.opening = false
			s.pending = nil
			s.current, _ = s.slots.Get(s.slot)
			logger.Error().Err(err).Msg("failed to open waveform file")
			return err
		}
		s.opening = true
		s.pending = res.Record
		s.current = res.Record
		s.warnings = res.Warnings
		for _, w := range res.Warnings {
			logger.Warn().Err(w).Msg("waveform adjusted")
		}
		logger.Info().
			Int("samples", res.Record.Len()).
			Float64("sample_rate", res.Record.SampleRate()).
			Msg("opened waveform file")
		return nil
	}, func(error) {
		s.parsing.Store(false)
	})
}

// CancelOpen drops an opened file that was not stored.
func (s *Session) CancelOpen() {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.opening = false
	s.pending = nil
	s.current, _ = s.slots.Get(s.slot)
}

// SelectSlot makes slot the target of uploads and loads. Outside of opening a
// file its record becomes the current one.
func (s *Session) SelectSlot(slot string) error {
	rec, err := s.slots.Get(slot)
	if err != nil {
		return err
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.slot = slot
	if !s.opening {
		s.current = rec
	}
	return nil
}

// CommitPending stores the opened file in slot, replacing its record. A slot
// holding a file is only replaced when overwrite is set.
func (s *Session) CommitPending(slot string, overwrite bool) error {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if !s.opening || s.pending == nil {
		return ErrNotOpening
	}
	if s.slots.Occupied(slot) && !overwrite {
		return fmt.Errorf("%w: %q", ErrSlotOccupied, slot)
	}
	if _, err := s.slots.Commit(slot, s.pending); err != nil {
		return err
	}
	s.logger.Info().Str("slot", slot).Str("file", s.pending.FileName()).Msg("waveform stored")
	s.slot = slot
	s.current = s.pending
	s.pending = nil
	s.opening = false
	return nil
}

// SaveParameters edits the current record. A sample rate of 0 keeps the
// current one. Either change means the record has to be uploaded again.
func (s *Session) SaveParameters(sampleRate, scaleFactor float64) error {
	if s.uploading.Load() {
		return ErrBusy
	}
	rec := s.CurrentRecord()
	if rec.Empty() {
		return ErrNoRecord
	}
	if sampleRate != 0 {
		if err := rec.SetSampleRate(sampleRate); err != nil {
			return err
		}
	}
	if scaleFactor != rec.ScaleFactor() {
		if err := rec.ScaleAmplitude(scaleFactor, s.maxAmplitude); err != nil {
			return err
		}
	}
	return nil
}

// committedRecord returns the selected slot and its record, which must hold a
// file and not be waiting in opening mode.
func (s *Session) committedRecord() (string, *waveform.Record, error) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.opening {
		return "", nil, ErrNotCommitted
	}
	rec, err := s.slots.Get(s.slot)
	if err != nil {
		return "", nil, err
	}
	if rec.Empty() {
		return "", nil, ErrNoRecord
	}
	return s.slot, rec, nil
}

// Upload sends the selected slot's active samples to the generator. Channels
// the slot was loaded to before are forgotten.
func (s *Session) Upload(ctx context.Context) *Task {
	slot, rec, err := s.committedRecord()
	if err != nil {
		return failedTask(err)
	}
	if s.loading.Load() || !s.uploading.CompareAndSwap(false, true) {
		return failedTask(ErrBusy)
	}
	logger := s.logger.With().Str("component", "generator").Str("slot", slot).Logger()

	return startTask(ctx, func(ctx context.Context) error {
		s.devMu.Lock()
		defer s.devMu.Unlock()

		rec.BeginUpload()
		samples := rec.CopySamples()
		durationUs, err := util.TimeOperation(func() error {
			return s.gen.UploadWaveformData(ctx, samples, rec.SampleRate(), rec.UploadOffset(), 0, slot)
		})
		if err != nil {
			logger.Error().Err(err).Msg("upload failed")
			return err
		}
		rec.MarkUploaded()

		s.writeAPI.WritePoint(influxdb2.NewPoint("generator.upload",
			map[string]string{
				"slot": slot,
			},
			map[string]interface{}{
				"samples":     len(samples),
				"duration_us": durationUs,
			}, time.Now()))
		logger.Info().Int("samples", len(samples)).Int64("duration_us", durationUs).Msg("waveform uploaded")
		return nil
	}, func(error) {
		s.uploading.Store(false)
	})
}

// Load makes the generator channel in focus play from the selected slot.
func (s *Session) Load(ctx context.Context) *Task {
	slot, rec, err := s.committedRecord()
	if err != nil {
		return failedTask(err)
	}
	if !rec.IsUploaded() {
		return failedTask(ErrNotUploaded)
	}
	if s.uploading.Load() || !s.loading.CompareAndSwap(false, true) {
		return failedTask(ErrBusy)
	}
	channel := s.GeneratorChannel()

	return startTask(ctx, func(ctx context.Context) error {
		s.devMu.Lock()
		defer s.devMu.Unlock()
		if err := s.gen.LoadWaveform(ctx, slot, channel); err != nil {
			s.logger.Error().Err(err).Str("slot", slot).Int("channel", channel).Msg("load failed")
			return err
		}
		rec.MarkLoaded(channel)
		return nil
	}, func(error) {
		s.loading.Store(false)
	})
}

func (s *Session) GeneratorChannel() int {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.genChannel
}

func (s *Session) SetGeneratorChannel(channel int) error {
	if channel < 1 || channel > s.gen.NumChannels() {
		return fmt.Errorf("%w: generator channel %d", ErrUnknownInput, channel)
	}
	s.genMu.Lock()
	s.genChannel = channel
	s.genMu.Unlock()
	return nil
}

// Playing returns the generator channels with their output on.
func (s *Session) Playing() []int {
	s.genMu.Lock()
	ret := make([]int, 0, len(s.playing))
	for ch := range s.playing {
		ret = append(ret, ch)
	}
	s.genMu.Unlock()
	sort.Ints(ret)
	return ret
}

// Play turns on the focused generator channel. While calibrating it plays the
// calibration sine, otherwise the arbitrary waveform loaded to it.
func (s *Session) Play(ctx context.Context) error {
	if s.loading.Load() {
		return ErrBusy
	}
	channel := s.GeneratorChannel()
	calibrating := s.calibrating.Load()

	var rec *waveform.Record
	if !calibrating {
		var err error
		if _, rec, err = s.committedRecord(); err != nil {
			return err
		}
		if !rec.IsLoadedTo(channel) {
			return ErrNotLoaded
		}
	}

	s.devMu.Lock()
	defer s.devMu.Unlock()
	if calibrating {
		if err := s.gen.SetWaveformType(ctx, instrument.Sine, channel); err != nil {
			return err
		}
	} else {
		if err := s.gen.SetWaveformType(ctx, instrument.Arbitrary, channel); err != nil {
			return err
		}
		if err := s.gen.SetSampleRate(ctx, rec.SampleRate(), channel); err != nil {
			return err
		}
	}
	if err := s.gen.SetOutputOn(ctx, channel); err != nil {
		return err
	}

	s.genMu.Lock()
	s.playing[channel] = struct{}{}
	s.genMu.Unlock()
	s.logger.Info().Int("channel", channel).Bool("calibration", calibrating).Msg("output on")
	return nil
}

// StopOutput turns off the focused generator channel. A channel left in
// calibration goes back to arbitrary waveforms.
func (s *Session) StopOutput(ctx context.Context) error {
	channel := s.GeneratorChannel()

	s.devMu.Lock()
	defer s.devMu.Unlock()
	if err := s.gen.SetOutputOff(ctx, channel); err != nil {
		return err
	}
	s.genMu.Lock()
	delete(s.playing, channel)
	s.genMu.Unlock()

	if s.calibrating.Load() {
		if err := s.gen.SetWaveformType(ctx, instrument.Arbitrary, channel); err != nil {
			return err
		}
		s.calibrating.Store(false)
	}
	return nil
}

// EmergencyStop turns every generator output off and leaves calibration.
func (s *Session) EmergencyStop(ctx context.Context) error {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	err := s.gen.SetAllOutputsOff(ctx)
	if err != nil {
		return err
	}
	s.genMu.Lock()
	s.playing = make(map[int]struct{})
	s.genMu.Unlock()
	s.calibrating.Store(false)
	s.logger.Warn().Msg("all generator outputs off")
	return nil
}

// Calibrate sets the focused generator channel up for the calibration sine.
// Play then outputs it.
func (s *Session) Calibrate(ctx context.Context) error {
	if !s.calibrating.CompareAndSwap(false, true) {
		return ErrBusy
	}
	channel := s.GeneratorChannel()

	s.devMu.Lock()
	defer s.devMu.Unlock()
	if err := s.gen.CalibrateWaveform(ctx, channel); err != nil {
		s.calibrating.Store(false)
		return err
	}
	s.logger.Info().Int("channel", channel).Msg("calibration waveform set")
	return nil
}
