package waveform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/norasector/benchtop/pkg/dsp/dcblock"
	"github.com/norasector/benchtop/pkg/util"
	"golang.org/x/sync/errgroup"
)

const sampleRatePrefix = "samplerate="

var (
	ErrNoSamples = errors.New("waveform file holds no samples")
	ErrNonFinite = errors.New("sample is not a finite number")
)

// ParseError is returned for any waveform file that could not be turned into a
// record. Line is 1-based; it is 0 when the failure concerns the whole file.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("parse waveform: %v", e.Err)
	}
	return fmt.Sprintf("parse waveform: line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type ParseOptions struct {
	// MaxAmplitude is the allowed peak-to-peak range. Zero or less disables the
	// amplitude fit and lets the DC offset removal accept any waveform.
	MaxAmplitude      float64
	DefaultSampleRate float64
	FileName          string
	FilePath          string
}

type ParseResult struct {
	Record *Record
	// Rescaled is set when the samples had to be shrunk to fit MaxAmplitude.
	Rescaled      bool
	RescaleFactor float64
	Warnings      []error
}

type numberedLine struct {
	num  int
	text string
}

// Parse builds a record from the lines of a waveform file. An optional first
// line "samplerate=<hz>" sets the sample rate; every other non-blank line is
// one voltage. Lines are parsed concurrently but the samples keep file order.
//
// A waveform wider than MaxAmplitude is shrunk to fit and reported through
// ParseResult.Warnings. A waveform whose DC offset cannot be removed fails the
// whole parse and no record is returned.
func Parse(ctx context.Context, lines []string, opts ParseOptions) (*ParseResult, error) {
	sampleRate := opts.DefaultSampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	first := 0
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), sampleRatePrefix) {
		text := strings.TrimSpace(lines[0])
		rate, err := strconv.ParseFloat(strings.TrimSpace(text[len(sampleRatePrefix):]), 64)
		if err != nil {
			return nil, &ParseError{Line: 1, Text: text, Err: err}
		}
		if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return nil, &ParseError{Line: 1, Text: text, Err: ErrInvalidSampleRate}
		}
		sampleRate = rate
		first = 1
	}

	numbered := make([]numberedLine, 0, len(lines)-first)
	for i := first; i < len(lines); i++ {
		text := strings.TrimSpace(lines[i])
		if text == "" {
			continue
		}
		numbered = append(numbered, numberedLine{num: i + 1, text: text})
	}
	if len(numbered) == 0 {
		return nil, &ParseError{Err: ErrNoSamples}
	}

	samples, err := parseSamples(ctx, numbered)
	if err != nil {
		return nil, err
	}

	ret := &ParseResult{RescaleFactor: 1}
	maxAmplitude := opts.MaxAmplitude
	if maxAmplitude <= 0 {
		maxAmplitude = math.Inf(1)
	}

	if factor := dcblock.FitAmplitude(samples, maxAmplitude); factor != 1 {
		ret.Rescaled = true
		ret.RescaleFactor = factor
		ret.Warnings = append(ret.Warnings, fmt.Errorf("%w: waveform shrunk by %.6f to fit %.3f Vpp", ErrAmplitudeExceeded, factor, maxAmplitude))
	}

	if err := dcblock.RemoveDCOffset(samples, maxAmplitude); err != nil {
		return nil, &ParseError{Err: err}
	}

	ret.Record = NewRecord(sampleRate, samples, opts.FileName, opts.FilePath)
	return ret, nil
}

// parseSamples converts lines on up to NumCPU goroutines. Every goroutine owns a
// contiguous range of the output, so the result keeps input order.
func parseSamples(ctx context.Context, lines []numberedLine) ([]float64, error) {
	samples := make([]float64, len(lines))
	parts := runtime.NumCPU()
	if len(lines) < 1024 {
		parts = 1
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, bounds := range util.Chunks(len(lines), parts) {
		lo, hi := bounds[0], bounds[1]
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				v, err := strconv.ParseFloat(lines[i].text, 64)
				if err != nil {
					return &ParseError{Line: lines[i].num, Text: lines[i].text, Err: err}
				}
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return &ParseError{Line: lines[i].num, Text: lines[i].text, Err: ErrNonFinite}
				}
				samples[i] = v
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

// ParseReader reads every line of r and parses it with Parse.
func ParseReader(ctx context.Context, r io.Reader, opts ParseOptions) (*ParseResult, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return Parse(ctx, lines, opts)
}

// ParseFile parses the waveform file at path. The record is named after the
// file unless opts already carries a name.
func ParseFile(ctx context.Context, path string, opts ParseOptions) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if opts.FileName == "" {
		opts.FileName = filepath.Base(path)
	}
	if opts.FilePath == "" {
		opts.FilePath = path
	}
	return ParseReader(ctx, f, opts)
}
