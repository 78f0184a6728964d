// Package capture downloads an oscilloscope channel's full acquisition memory
// and writes it to a CSV file.
package capture

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/benchtop/pkg/bench/acquisition"
	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/norasector/benchtop/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const timestampLayout = "2006-01-02_15-04-05"

var (
	// ErrAutoMemDepth is returned when the scope picks its own memory depth;
	// the capture length would be unknown.
	ErrAutoMemDepth = errors.New("capture needs a fixed memory depth")
	ErrNoSamples    = errors.New("scope returned no samples")
)

// Header is the first row of every capture file.
var Header = []string{"channel", "voltage", "timestamp"}

// IOError is a failure to write the capture file. The partial file is left
// in place.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("write capture %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Gate suspends whatever should not run during a capture. The returned func
// undoes it and is always called, whatever the capture outcome.
type Gate interface {
	Suspend() (resume func())
}

type Options struct {
	Dir string
	// Now and Create default to time.Now and an exclusive os.OpenFile.
	Now    func() time.Time
	Create func(path string) (io.WriteCloser, error)
}

type Result struct {
	ID            string
	Channel       int
	Path          string
	Samples       int
	TimeIncrement float64
	Bytes         int64
	Duration      time.Duration
}

type Capturer struct {
	scope    instrument.Oscilloscope
	locks    *acquisition.Locks
	gate     Gate
	opts     Options
	writeAPI api.WriteAPI
	logger   zerolog.Logger
}

type CapturerOption func(c *Capturer) error

func WithInfluxDB(writeAPI api.WriteAPI) CapturerOption {
	return func(c *Capturer) error {
		c.writeAPI = writeAPI
		return nil
	}
}

func WithLogger(logger zerolog.Logger) CapturerOption {
	return func(c *Capturer) error {
		c.logger = logger
		return nil
	}
}

func NewCapturer(scope instrument.Oscilloscope, locks *acquisition.Locks, gate Gate, options Options, opts ...CapturerOption) (*Capturer, error) {
	c := &Capturer{
		scope:    scope,
		locks:    locks,
		gate:     gate,
		opts:     options,
		writeAPI: &util.MockWriteAPI{},
		logger:   log.Logger,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.opts.Dir == "" {
		c.opts.Dir = "captures"
	}
	if c.opts.Now == nil {
		c.opts.Now = time.Now
	}
	if c.opts.Create == nil {
		c.opts.Create = createExclusive
	}
	return c, nil
}

func createExclusive(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// FileName is the capture file name for a capture started at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("capture_%s-%03d.csv", t.Format(timestampLayout), t.Nanosecond()/int(time.Millisecond))
}

// Capture stops the scope, makes channel the only active one and writes its
// deep memory to a new file in the capture directory. The gate is suspended
// and the download lock held for the whole capture, so no channel refresh
// touches the scope meanwhile. The scope is left stopped.
func (c *Capturer) Capture(ctx context.Context, channel int) (*Result, error) {
	if c.gate != nil {
		resume := c.gate.Suspend()
		defer resume()
	}

	release, err := c.locks.AcquireDownload(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := c.opts.Now()
	res := &Result{ID: uuid.NewString(), Channel: channel}
	logger := c.logger.With().Str("capture_id", res.ID).Int("channel", channel).Logger()
	logger.Info().Msg("starting deep memory capture")

	voltages, err := c.download(ctx, channel, res)
	if err != nil {
		logger.Error().Err(err).Msg("deep memory download failed")
		return nil, err
	}

	if err := os.MkdirAll(c.opts.Dir, 0o755); err != nil {
		return nil, &IOError{Path: c.opts.Dir, Err: err}
	}
	res.Path = filepath.Join(c.opts.Dir, FileName(start))
	if err := c.write(res, voltages); err != nil {
		logger.Error().Err(err).Str("path", res.Path).Msg("failed to write capture")
		return nil, err
	}
	res.Duration = c.opts.Now().Sub(start)

	c.writeAPI.WritePoint(influxdb2.NewPoint("capture.written",
		map[string]string{
			"channel": strconv.Itoa(channel),
		},
		map[string]interface{}{
			"samples":     res.Samples,
			"bytes":       res.Bytes,
			"duration_us": res.Duration.Microseconds(),
		}, time.Now()))

	logger.Info().
		Str("path", res.Path).
		Int("samples", res.Samples).
		Int64("bytes", res.Bytes).
		Dur("duration", res.Duration).
		Msg("capture written")
	return res, nil
}

func (c *Capturer) download(ctx context.Context, channel int, res *Result) ([]float64, error) {
	if err := c.scope.Stop(ctx); err != nil {
		return nil, err
	}
	if err := c.scope.SetActiveChannel(ctx, channel); err != nil {
		return nil, err
	}
	depth, err := c.scope.MemDepth(ctx)
	if err != nil {
		return nil, err
	}
	if depth == instrument.MemDepthAuto {
		return nil, ErrAutoMemDepth
	}
	voltages, err := c.scope.DeepMemVoltages(ctx, channel)
	if err != nil {
		return nil, err
	}
	if len(voltages) == 0 {
		return nil, ErrNoSamples
	}
	if res.TimeIncrement, err = c.scope.TimeIncrement(ctx); err != nil {
		return nil, err
	}
	return voltages, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (c *Capturer) write(res *Result, voltages []float64) (err error) {
	f, err := c.opts.Create(res.Path)
	if err != nil {
		return &IOError{Path: res.Path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &IOError{Path: res.Path, Err: cerr}
		}
	}()

	counter := &countingWriter{w: f}
	bw := bufio.NewWriterSize(counter, 1<<16)
	w := csv.NewWriter(bw)

	if err := w.Write(Header); err != nil {
		return &IOError{Path: res.Path, Err: err}
	}
	ch := strconv.Itoa(res.Channel)
	row := make([]string, 3)
	for i, v := range voltages {
		row[0] = ch
		row[1] = strconv.FormatFloat(v, 'g', -1, 64)
		row[2] = strconv.FormatFloat(float64(i)*res.TimeIncrement, 'g', -1, 64)
		if err := w.Write(row); err != nil {
			return &IOError{Path: res.Path, Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &IOError{Path: res.Path, Err: err}
	}
	if err := bw.Flush(); err != nil {
		return &IOError{Path: res.Path, Err: err}
	}
	res.Samples = len(voltages)
	res.Bytes = counter.n
	return nil
}
