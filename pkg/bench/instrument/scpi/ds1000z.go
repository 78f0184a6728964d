package scpi

import (
	"context"
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"sync"

	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/rs/zerolog"
)

const (
	ds1000zChannels = 4
	// deepMemChunk is the largest number of BYTE points one :WAV:DATA? read
	// returns in RAW mode.
	deepMemChunk = 250000
)

var (
	ds1000zColors = [ds1000zChannels]color.RGBA{
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 0, G: 127, B: 255, A: 255},
	}
	ds1000zVoltageScales = []float64{
		0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10,
	}
	ds1000zTimeScales = []float64{
		5e-9, 1e-8, 2e-8, 5e-8, 1e-7, 2e-7, 5e-7,
		1e-6, 2e-6, 5e-6, 1e-5, 2e-5, 5e-5, 1e-4, 2e-4, 5e-4,
		1e-3, 2e-3, 5e-3, 1e-2, 2e-2, 5e-2, 0.1, 0.2, 0.5,
		1, 2, 5, 10, 20, 50,
	}
)

var _ instrument.Oscilloscope = (*DS1000Z)(nil)

// Preamble is the reply to :WAV:PRE?.
type Preamble struct {
	Format     int
	Type       int
	Points     int
	Count      int
	XIncrement float64
	XOrigin    float64
	XReference float64
	YIncrement float64
	YOrigin    float64
	YReference float64
}

// ParsePreamble decodes the ten comma separated preamble fields.
func ParsePreamble(reply string) (*Preamble, error) {
	parts := strings.Split(strings.TrimSpace(reply), ",")
	if len(parts) != 10 {
		return nil, fmt.Errorf("preamble has %d fields, want 10", len(parts))
	}
	vals := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("preamble field %d: %w", i, err)
		}
		vals[i] = v
	}
	return &Preamble{
		Format:     int(vals[0]),
		Type:       int(vals[1]),
		Points:     int(vals[2]),
		Count:      int(vals[3]),
		XIncrement: vals[4],
		XOrigin:    vals[5],
		XReference: vals[6],
		YIncrement: vals[7],
		YOrigin:    vals[8],
		YReference: vals[9],
	}, nil
}

// Voltages converts BYTE format waveform data to volts.
func (p *Preamble) Voltages(data []byte, dst []float64) []float64 {
	for _, b := range data {
		dst = append(dst, (float64(b)-p.YOrigin-p.YReference)*p.YIncrement)
	}
	return dst
}

// DS1000Z drives a Rigol DS1000Z series oscilloscope.
type DS1000Z struct {
	mu     sync.Mutex
	c      *Client
	logger zerolog.Logger
}

func NewDS1000Z(c *Client, logger zerolog.Logger) *DS1000Z {
	return &DS1000Z{c: c, logger: logger}
}

// DialDS1000Z connects to the scope described by cfg.
func DialDS1000Z(ctx context.Context, cfg TransportConfig, logger zerolog.Logger) (*DS1000Z, error) {
	conn, err := Dial(ctx, cfg)
	if err != nil {
		return nil, instrument.Wrap("dial", err)
	}
	logger = logger.With().Str("instrument", "ds1000z").Logger()
	return NewDS1000Z(NewClient(conn, WithTimeout(cfg.Timeout), WithClientLogger(logger)), logger), nil
}

func (d *DS1000Z) write(ctx context.Context, cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return instrument.Wrap(cmd, d.c.Write(ctx, cmd))
}

func (d *DS1000Z) queryFloat(ctx context.Context, cmd string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.c.QueryFloat(ctx, cmd)
	return v, instrument.Wrap(cmd, err)
}

func (d *DS1000Z) Run(ctx context.Context) error    { return d.write(ctx, ":RUN") }
func (d *DS1000Z) Stop(ctx context.Context) error   { return d.write(ctx, ":STOP") }
func (d *DS1000Z) Single(ctx context.Context) error { return d.write(ctx, ":SING") }

func (d *DS1000Z) setupRead(ctx context.Context, channel int, mode string) (*Preamble, error) {
	for _, cmd := range []string{
		fmt.Sprintf(":WAV:SOUR CHAN%d", channel),
		":WAV:MODE " + mode,
		":WAV:FORM BYTE",
	} {
		if err := d.c.Write(ctx, cmd); err != nil {
			return nil, instrument.Wrap(cmd, err)
		}
	}
	reply, err := d.c.Query(ctx, ":WAV:PRE?")
	if err != nil {
		return nil, instrument.Wrap(":WAV:PRE?", err)
	}
	pre, err := ParsePreamble(reply)
	return pre, instrument.Wrap(":WAV:PRE?", err)
}

func (d *DS1000Z) WaveVoltages(ctx context.Context, channel int) ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pre, err := d.setupRead(ctx, channel, "NORM")
	if err != nil {
		return nil, err
	}
	data, err := d.c.QueryBlock(ctx, ":WAV:DATA?")
	if err != nil {
		return nil, instrument.Wrap(":WAV:DATA?", err)
	}
	return pre.Voltages(data, make([]float64, 0, len(data))), nil
}

// DeepMemVoltages reads the whole acquisition memory of channel in chunks.
// The scope must be stopped.
func (d *DS1000Z) DeepMemVoltages(ctx context.Context, channel int) ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pre, err := d.setupRead(ctx, channel, "RAW")
	if err != nil {
		return nil, err
	}

	ret := make([]float64, 0, pre.Points)
	for start := 1; start <= pre.Points; start += deepMemChunk {
		stop := start + deepMemChunk - 1
		if stop > pre.Points {
			stop = pre.Points
		}
		for _, cmd := range []string{
			fmt.Sprintf(":WAV:STAR %d", start),
			fmt.Sprintf(":WAV:STOP %d", stop),
		} {
			if err := d.c.Write(ctx, cmd); err != nil {
				return nil, instrument.Wrap(cmd, err)
			}
		}
		data, err := d.c.QueryBlock(ctx, ":WAV:DATA?")
		if err != nil {
			return nil, instrument.Wrap(":WAV:DATA?", err)
		}
		ret = pre.Voltages(data, ret)
		d.logger.Debug().Int("channel", channel).Int("start", start).Int("stop", stop).Msg("read deep memory chunk")
	}
	return ret, nil
}

func (d *DS1000Z) YScale(ctx context.Context, channel int) (float64, error) {
	return d.queryFloat(ctx, fmt.Sprintf(":CHAN%d:SCAL?", channel))
}

func (d *DS1000Z) SetYScale(ctx context.Context, channel int, scale float64) error {
	return d.write(ctx, fmt.Sprintf(":CHAN%d:SCAL %g", channel, scale))
}

func (d *DS1000Z) VerticalOffset(ctx context.Context, channel int) (float64, error) {
	return d.queryFloat(ctx, fmt.Sprintf(":CHAN%d:OFFS?", channel))
}

func (d *DS1000Z) SetVerticalOffset(ctx context.Context, channel int, offset float64) error {
	return d.write(ctx, fmt.Sprintf(":CHAN%d:OFFS %g", channel, offset))
}

func (d *DS1000Z) TriggerLevel(ctx context.Context) (float64, error) {
	return d.queryFloat(ctx, ":TRIG:EDG:LEV?")
}

func (d *DS1000Z) SetTriggerLevel(ctx context.Context, level float64) error {
	return d.write(ctx, fmt.Sprintf(":TRIG:EDG:LEV %g", level))
}

// MemDepth returns instrument.MemDepthAuto when the scope picks the depth.
func (d *DS1000Z) MemDepth(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reply, err := d.c.Query(ctx, ":ACQ:MDEP?")
	if err != nil {
		return 0, instrument.Wrap(":ACQ:MDEP?", err)
	}
	reply = strings.TrimSpace(reply)
	if strings.EqualFold(reply, "AUTO") {
		return instrument.MemDepthAuto, nil
	}
	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, instrument.Wrap(":ACQ:MDEP?", err)
	}
	return int(v), nil
}

func (d *DS1000Z) SetMemDepth(ctx context.Context, depth int) error {
	if depth == instrument.MemDepthAuto {
		return d.write(ctx, ":ACQ:MDEP AUTO")
	}
	return d.write(ctx, fmt.Sprintf(":ACQ:MDEP %d", depth))
}

func (d *DS1000Z) TimeIncrement(ctx context.Context) (float64, error) {
	return d.queryFloat(ctx, ":WAV:XINC?")
}

func (d *DS1000Z) SetTimeScale(ctx context.Context, scale float64) error {
	return d.write(ctx, fmt.Sprintf(":TIM:MAIN:SCAL %g", scale))
}

func (d *DS1000Z) SetTimeOffset(ctx context.Context, offset float64) error {
	return d.write(ctx, fmt.Sprintf(":TIM:MAIN:OFFS %g", offset))
}

func (d *DS1000Z) EnableChannel(ctx context.Context, channel int) error {
	return d.write(ctx, fmt.Sprintf(":CHAN%d:DISP ON", channel))
}

func (d *DS1000Z) DisableChannel(ctx context.Context, channel int) error {
	return d.write(ctx, fmt.Sprintf(":CHAN%d:DISP OFF", channel))
}

// SetActiveChannel turns channel on and every other channel off.
func (d *DS1000Z) SetActiveChannel(ctx context.Context, channel int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := 1; ch <= ds1000zChannels; ch++ {
		state := "OFF"
		if ch == channel {
			state = "ON"
		}
		cmd := fmt.Sprintf(":CHAN%d:DISP %s", ch, state)
		if err := d.c.Write(ctx, cmd); err != nil {
			return instrument.Wrap(cmd, err)
		}
	}
	return nil
}

func (d *DS1000Z) NumChannels() int { return ds1000zChannels }

func (d *DS1000Z) ChannelColor(channel int) color.RGBA {
	if channel < 1 || channel > ds1000zChannels {
		return color.RGBA{A: 255}
	}
	return ds1000zColors[channel-1]
}

func (d *DS1000Z) ScaleConstants() instrument.ScaleConstants {
	return instrument.ScaleConstants{VoltageOffset: 8, TriggerPosition: 5, TimeOffset: 6}
}

func (d *DS1000Z) VoltageScales() []float64 { return append([]float64(nil), ds1000zVoltageScales...) }
func (d *DS1000Z) TimeScales() []float64    { return append([]float64(nil), ds1000zTimeScales...) }

// MemDepths lists the depths the scope accepts; the 24 Mpts of memory are
// shared between the enabled channels.
func (d *DS1000Z) MemDepths(enabledChannels int) []int {
	switch {
	case enabledChannels <= 1:
		return []int{12000, 120000, 1200000, 12000000, 24000000}
	case enabledChannels == 2:
		return []int{6000, 60000, 600000, 6000000, 12000000}
	default:
		return []int{3000, 30000, 300000, 3000000, 6000000}
	}
}

func (d *DS1000Z) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c.Close()
}
