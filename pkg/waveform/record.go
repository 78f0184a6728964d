// Package waveform models the arbitrary waveforms a session keeps for the
// generator's memory slots, and the parsing and amplitude editing applied to them.
package waveform

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/norasector/benchtop/pkg/dsp/dcblock"
	"github.com/norasector/benchtop/pkg/util"
	"gonum.org/v1/gonum/floats"
)

// DefaultSampleRate is used when a waveform file does not declare one.
const DefaultSampleRate = 844.0

var (
	// ErrAmplitudeExceeded reports a waveform that does not fit the allowed
	// amplitude. Scaling fails with it; parsing only warns with it.
	ErrAmplitudeExceeded = errors.New("amplitude exceeds allowed range")
	// ErrOffsetOutOfRange reports a waveform whose DC offset cannot be removed
	// without clipping.
	ErrOffsetOutOfRange  = dcblock.ErrOffsetOutOfRange
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	ErrInvalidScale      = errors.New("scale factor must be positive and finite")
)

// Record is one waveform: the samples as loaded, an optional rescaled copy, and
// the upload bookkeeping for the generator.
//
// The original samples never change after construction and may be shared
// freely. The scaled buffers belong to the record: ScaleAmplitude writes into
// whichever one is not active and swaps it in once it is complete. Readers
// that outlive a call into the record take a copy with CopySamples.
type Record struct {
	fileName string
	filePath string

	original  []float64
	lowLevel  float64
	highLevel float64

	mu               sync.RWMutex
	sampleRate       float64
	active           []float64
	scaled           []float64
	spare            []float64
	scaleFactor      float64
	uploaded         bool
	channelsLoadedTo map[int]struct{}
}

// NewRecord builds a record that takes ownership of samples. lowLevel and
// highLevel are computed before the record is returned.
func NewRecord(sampleRate float64, samples []float64, fileName, filePath string) *Record {
	r := &Record{
		fileName:         fileName,
		filePath:         filePath,
		original:         samples,
		active:           samples,
		sampleRate:       sampleRate,
		scaleFactor:      1,
		channelsLoadedTo: make(map[int]struct{}),
	}
	if len(samples) > 0 {
		r.lowLevel = floats.Min(samples)
		r.highLevel = floats.Max(samples)
	}
	return r
}

// NewPlaceholder returns the empty record every slot starts with.
func NewPlaceholder() *Record {
	return NewRecord(0, nil, "", "")
}

// Empty reports whether the record is a placeholder with no file behind it.
func (r *Record) Empty() bool { return r.fileName == "" }

func (r *Record) FileName() string { return r.fileName }
func (r *Record) FilePath() string { return r.filePath }
func (r *Record) Len() int         { return len(r.original) }
func (r *Record) LowLevel() float64 {
	return r.lowLevel
}
func (r *Record) HighLevel() float64 {
	return r.highLevel
}

// Original returns the unscaled samples. The slice must not be modified.
func (r *Record) Original() []float64 { return r.original }

// Samples returns the samples that would be uploaded: the original buffer at
// a scale factor of 1, the scaled buffer otherwise.
func (r *Record) Samples() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// CopySamples returns a copy of the active samples taken under the record's
// lock, so a concurrent ScaleAmplitude cannot change it mid-copy.
func (r *Record) CopySamples() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]float64(nil), r.active...)
}

func (r *Record) SampleRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sampleRate
}

// SetSampleRate changes the playback rate. An uploaded record has to be
// uploaded again afterwards.
func (r *Record) SetSampleRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRate, rate)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rate != r.sampleRate {
		r.sampleRate = rate
		r.uploaded = false
	}
	return nil
}

func (r *Record) ScaleFactor() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scaleFactor
}

// ScaleAmplitude multiplies the original samples by factor into the scaled
// buffer and makes it the active one. maxAmplitude is the allowed
// peak-to-peak range around 0 V.
//
// The bound check uses the stored low and high levels of the original samples,
// which is only exact for linear scaling of a centered waveform. On failure
// every buffer the record has handed out is unchanged.
func (r *Record) ScaleAmplitude(factor, maxAmplitude float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, factor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if factor == 1 {
		r.active = r.original
		if r.scaleFactor != 1 {
			r.uploaded = false
		}
		r.scaleFactor = 1
		return nil
	}

	half := maxAmplitude / 2
	if high := r.highLevel * factor; high > half {
		return fmt.Errorf("%w: scaled peak %.6f V above +%.6f V", ErrAmplitudeExceeded, high, half)
	}
	if low := r.lowLevel * factor; low < -half {
		return fmt.Errorf("%w: scaled trough %.6f V below -%.6f V", ErrAmplitudeExceeded, low, half)
	}

	// While scaled is active, the next factor goes into spare.
	live := r.scaleFactor != 1
	buf := r.scaled
	if live {
		buf = r.spare
	}
	if buf == nil {
		buf = make([]float64, len(r.original))
	}
	original := r.original
	util.ParallelFor(len(original), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			buf[i] = original[i] * factor
		}
	})
	if err := dcblock.RemoveDCOffset(buf, maxAmplitude); err != nil {
		if live {
			r.spare = buf
		} else {
			r.scaled = buf
		}
		return err
	}

	if live {
		r.spare = r.scaled
	}
	r.scaled = buf
	r.active = buf
	if r.scaleFactor != factor {
		r.uploaded = false
	}
	r.scaleFactor = factor
	return nil
}

// UploadOffset is the DC offset handed to the generator with the samples: the
// midpoint of the scaled low and high levels.
func (r *Record) UploadOffset() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scaleFactor * (r.highLevel + r.lowLevel) / 2
}

func (r *Record) IsUploaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uploaded
}

// BeginUpload forgets every channel the record was loaded to; a new upload
// invalidates them all.
func (r *Record) BeginUpload() {
	r.mu.Lock()
	r.uploaded = false
	r.channelsLoadedTo = make(map[int]struct{})
	r.mu.Unlock()
}

func (r *Record) MarkUploaded() {
	r.mu.Lock()
	r.uploaded = true
	r.mu.Unlock()
}

func (r *Record) MarkLoaded(channel int) {
	r.mu.Lock()
	r.channelsLoadedTo[channel] = struct{}{}
	r.mu.Unlock()
}

func (r *Record) IsLoadedTo(channel int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channelsLoadedTo[channel]
	return ok
}

// LoadedChannels returns the generator channels holding this waveform, sorted.
func (r *Record) LoadedChannels() []int {
	r.mu.RLock()
	ret := make([]int, 0, len(r.channelsLoadedTo))
	for ch := range r.channelsLoadedTo {
		ret = append(ret, ch)
	}
	r.mu.RUnlock()
	sort.Ints(ret)
	return ret
}
