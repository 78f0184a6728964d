package scpi

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

const ks33500Channels = 2

var _ instrument.Generator = (*Keysight33500)(nil)

// arbLevels is what the generator needs to reproduce an uploaded waveform in
// volts: arb data is stored normalized to ±1.
type arbLevels struct {
	amplitude float64
	offset    float64
}

// Keysight33500 drives a Keysight 33500 series waveform generator. Arbitrary
// waveforms are stored as files on its internal memory, one per slot.
type Keysight33500 struct {
	mu        sync.Mutex
	c         *Client
	logger    zerolog.Logger
	locations []string
	levels    map[string]arbLevels
}

func NewKeysight33500(c *Client, locations []string, logger zerolog.Logger) *Keysight33500 {
	if len(locations) == 0 {
		locations = []string{"BENCH1", "BENCH2", "BENCH3", "BENCH4"}
	}
	return &Keysight33500{
		c:         c,
		logger:    logger,
		locations: locations,
		levels:    make(map[string]arbLevels),
	}
}

func DialKeysight33500(ctx context.Context, cfg TransportConfig, locations []string, logger zerolog.Logger) (*Keysight33500, error) {
	conn, err := Dial(ctx, cfg)
	if err != nil {
		return nil, instrument.Wrap("dial", err)
	}
	logger = logger.With().Str("instrument", "ks33500").Logger()
	return NewKeysight33500(NewClient(conn, WithTimeout(cfg.Timeout), WithClientLogger(logger)), locations, logger), nil
}

func arbFile(slot string) string {
	return fmt.Sprintf(`"INT:\%s.arb"`, slot)
}

func (k *Keysight33500) send(ctx context.Context, cmds ...string) error {
	for _, cmd := range cmds {
		if err := k.c.Write(ctx, cmd); err != nil {
			return instrument.Wrap(cmd, err)
		}
	}
	return nil
}

func (k *Keysight33500) SetWaveformType(ctx context.Context, wt instrument.WaveformType, channel int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.send(ctx, fmt.Sprintf(":SOUR%d:FUNC %s", channel, wt))
}

func (k *Keysight33500) SetSampleRate(ctx context.Context, rate float64, channel int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.send(ctx, fmt.Sprintf(":SOUR%d:FUNC:ARB:SRAT %g", channel, rate))
}

func (k *Keysight33500) SetOutputOn(ctx context.Context, channel int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.send(ctx, fmt.Sprintf(":OUTP%d ON", channel))
}

func (k *Keysight33500) SetOutputOff(ctx context.Context, channel int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.send(ctx, fmt.Sprintf(":OUTP%d OFF", channel))
}

func (k *Keysight33500) SetAllOutputsOff(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	cmds := make([]string, 0, ks33500Channels)
	for ch := 1; ch <= ks33500Channels; ch++ {
		cmds = append(cmds, fmt.Sprintf(":OUTP%d OFF", ch))
	}
	return k.send(ctx, cmds...)
}

// NormalizeArb maps samples centered on offset to the ±1 range arb data is
// stored in and returns the peak amplitude in volts that restores them.
// padding samples of 0 V are appended.
func NormalizeArb(samples []float64, offset float64, padding int) ([]float64, float64) {
	ret := make([]float64, len(samples), len(samples)+padding)
	copy(ret, samples)
	for i := 0; i < padding; i++ {
		ret = append(ret, 0)
	}
	floats.AddConst(-offset, ret)

	amplitude := math.Max(math.Abs(floats.Max(ret)), math.Abs(floats.Min(ret)))
	if amplitude == 0 {
		return ret, 0
	}
	floats.Scale(1/amplitude, ret)
	return ret, amplitude
}

func (k *Keysight33500) UploadWaveformData(ctx context.Context, samples []float64, sampleRate, offset float64, padding int, slot string) error {
	if len(samples) == 0 {
		return instrument.Wrap("upload", fmt.Errorf("no samples for %s", slot))
	}
	normalized, amplitude := NormalizeArb(samples, offset, padding)

	var sb strings.Builder
	sb.Grow(len(normalized) * 10)
	fmt.Fprintf(&sb, ":SOUR1:DATA:ARB %s", slot)
	for _, v := range normalized {
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.send(ctx,
		":SOUR1:DATA:VOL:CLE",
		sb.String(),
		fmt.Sprintf(":SOUR1:FUNC:ARB %s", slot),
		fmt.Sprintf(":SOUR1:FUNC:ARB:SRAT %g", sampleRate),
		fmt.Sprintf(":MMEM:STOR:DATA1 %s", arbFile(slot)),
	); err != nil {
		return err
	}
	if err := k.c.Sync(ctx); err != nil {
		return instrument.Wrap("*OPC?", err)
	}
	k.levels[slot] = arbLevels{amplitude: amplitude, offset: offset}
	k.logger.Debug().Str("slot", slot).Int("samples", len(normalized)).Float64("amplitude", amplitude).Msg("stored arbitrary waveform")
	return nil
}

func (k *Keysight33500) LoadWaveform(ctx context.Context, slot string, channel int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	cmds := []string{
		fmt.Sprintf(":MMEM:LOAD:DATA%d %s", channel, arbFile(slot)),
		fmt.Sprintf(":SOUR%d:FUNC ARB", channel),
		fmt.Sprintf(":SOUR%d:FUNC:ARB %s", channel, arbFile(slot)),
	}
	if lv, ok := k.levels[slot]; ok && lv.amplitude > 0 {
		cmds = append(cmds,
			fmt.Sprintf(":SOUR%d:VOLT %g", channel, 2*lv.amplitude),
			fmt.Sprintf(":SOUR%d:VOLT:OFFS %g", channel, lv.offset),
		)
	}
	if err := k.send(ctx, cmds...); err != nil {
		return err
	}
	return instrument.Wrap("*OPC?", k.c.Sync(ctx))
}

// CalibrateWaveform outputs a 1 kHz, 1 Vpp sine with no offset.
func (k *Keysight33500) CalibrateWaveform(ctx context.Context, channel int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.send(ctx, fmt.Sprintf(":SOUR%d:APPL:SIN 1000,1,0", channel))
}

func (k *Keysight33500) ValidMemoryLocations() []string {
	return append([]string(nil), k.locations...)
}

func (k *Keysight33500) NumChannels() int    { return ks33500Channels }
func (k *Keysight33500) MaxVoltage() float64 { return 5 }
func (k *Keysight33500) MinVoltage() float64 { return -5 }

func (k *Keysight33500) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.c.Close()
}
