package viz

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/norasector/benchtop/pkg/dsp/filters/fir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRadix(t *testing.T) {
	tests := []struct{ in, want int }{
		{1, 16},
		{16, 16},
		{17, 32},
		{1200, 2048},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextRadix(tt.in), "size %d", tt.in)
	}
}

func TestSpectrumSinePeak(t *testing.T) {
	const (
		n    = 1024
		bin  = 64
		amp  = 0.75
		rate = 2048.0
	)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amp * math.Sin(2*math.Pi*bin*float64(i)/n)
	}

	freqs, amplitudes, err := Spectrum(samples, rate, fir.Blackman)
	require.NoError(t, err)
	require.Len(t, freqs, n/2+1)

	best := 0
	for i := range amplitudes {
		if amplitudes[i] > amplitudes[best] {
			best = i
		}
	}
	assert.Equal(t, bin, best)
	assert.InDelta(t, bin*rate/n, freqs[best], 1e-9)
	assert.InDelta(t, amp, amplitudes[best], 0.02)
}

func TestSpectrumPlotterAverages(t *testing.T) {
	sp := NewSpectrumPlotter("ch1-spectrum", color.White, fir.Hann)
	_, _, ok := sp.Peak()
	assert.False(t, ok)

	samples := make([]float64, 256)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * 8 * float64(i) / 256)
	}
	require.NoError(t, sp.Update(samples, 0))
	freq, db, ok := sp.Peak()
	require.True(t, ok)
	assert.InDelta(t, 8.0/256, freq, 1e-12)
	assert.InDelta(t, 0, db, 0.5)

	// A silent frame pulls the average down by the averaging weight.
	require.NoError(t, sp.Update(make([]float64, 256), 0))
	_, db2, _ := sp.Peak()
	assert.InDelta(t, db+20*math.Log10(1-spectrumAverage), db2, 0.5)

	img, err := sp.GetImage()
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(img.Data()))
	assert.NoError(t, err)
}

func TestTracePlotter(t *testing.T) {
	tp := NewTracePlotter("ch1-trace", color.RGBA{R: 255, G: 255, A: 255})
	img, err := tp.GetImage()
	require.NoError(t, err)
	assert.Nil(t, img)

	tp.Update([]float64{0, 0.5, 0, -0.5}, -1, 1)
	img, err = tp.GetImage()
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "ch1-trace", img.Name())
	_, err = png.Decode(bytes.NewReader(img.Data()))
	assert.NoError(t, err)
}

type stubProducer struct {
	name string
	err  error
}

func (p *stubProducer) Name() string                  { return p.name }
func (p *stubProducer) AddPlotOption(opt PlotOptions) {}
func (p *stubProducer) GetImage() (*ImageContainer, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &ImageContainer{name: p.name, data: []byte("png:" + p.name)}, nil
}

func TestServerRoutes(t *testing.T) {
	s := NewServer(0, 50*time.Millisecond)
	s.Register("scope", &stubProducer{name: "ch1-trace"})
	s.Register("scope", &stubProducer{name: "broken", err: errors.New("no data")})
	s.Register("generator", &stubProducer{name: "slot"})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/view/generator", resp.Header.Get("Location"))

	resp, err = client.Get(ts.URL + "/img/scope/ch1-trace")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "nothing rendered before a view")

	resp, err = client.Get(ts.URL + "/view/scope")
	require.NoError(t, err)
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(page), "/img/scope/ch1-trace")

	resp, err = client.Get(ts.URL + "/img/scope/ch1-trace")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "png:ch1-trace", string(body))

	_, ok := s.Image("scope", "broken")
	assert.False(t, ok)

	resp, err = client.Get(ts.URL + "/view/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
