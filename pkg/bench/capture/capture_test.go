package capture

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/norasector/benchtop/pkg/bench/acquisition"
	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/norasector/benchtop/pkg/bench/instrument/sim"
	"github.com/norasector/benchtop/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGate struct {
	suspended atomic.Int32
	resumed   atomic.Int32
}

func (g *countingGate) Suspend() func() {
	g.suspended.Add(1)
	return func() { g.resumed.Add(1) }
}

type failingFile struct{}

func (failingFile) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
func (failingFile) Close() error                { return nil }

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 123456789, time.UTC)

func newTestCapturer(t *testing.T, scope *sim.Scope, opts Options) (*Capturer, *countingGate, *acquisition.Locks, *util.MockWriteAPI) {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = filepath.Join(t.TempDir(), "captures")
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	gate := &countingGate{}
	locks := acquisition.NewLocks()
	writeAPI := &util.MockWriteAPI{}
	c, err := NewCapturer(scope, locks, gate, opts, WithInfluxDB(writeAPI))
	require.NoError(t, err)
	return c, gate, locks, writeAPI
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "capture_2024-03-05_14-07-09-123.csv", FileName(fixedNow))
}

func TestCaptureWritesCSV(t *testing.T) {
	ctx := context.Background()
	scope := sim.NewScope()
	require.NoError(t, scope.EnableChannel(ctx, 2))
	require.NoError(t, scope.SetMemDepth(ctx, 6000))
	scope.SetSamples(2, []float64{0.5, -0.5, 0.25})

	c, gate, locks, writeAPI := newTestCapturer(t, scope, Options{})
	res, err := c.Capture(ctx, 2)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 2, res.Channel)
	assert.Equal(t, 3, res.Samples)
	assert.Equal(t, "capture_2024-03-05_14-07-09-123.csv", filepath.Base(res.Path))
	assert.False(t, scope.Running())
	assert.Equal(t, 2, scope.ActiveChannel())
	assert.False(t, scope.ChannelEnabled(1))

	f, err := os.Open(res.Path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Header, rows[0])

	info, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), res.Bytes)

	want := []float64{0.5, -0.5, 0.25}
	for i, row := range rows[1:] {
		assert.Equal(t, "2", row[0])
		v, err := strconv.ParseFloat(row[1], 64)
		require.NoError(t, err)
		assert.Equal(t, want[i], v)
		ts, err := strconv.ParseFloat(row[2], 64)
		require.NoError(t, err)
		assert.InDelta(t, float64(i)*res.TimeIncrement, ts, 1e-15)
	}
	assert.InDelta(t, 1e-3*12/3, res.TimeIncrement, 1e-15)

	assert.Equal(t, int32(1), gate.suspended.Load())
	assert.Equal(t, int32(1), gate.resumed.Load())
	release, ok := locks.TryDownload()
	require.True(t, ok)
	release()
	assert.Len(t, writeAPI.Points("capture.written"), 1)
}

func TestCaptureAutoMemDepth(t *testing.T) {
	scope := sim.NewScope()
	c, gate, _, _ := newTestCapturer(t, scope, Options{})

	_, err := c.Capture(context.Background(), 1)
	assert.ErrorIs(t, err, ErrAutoMemDepth)
	assert.Equal(t, 0, scope.Calls("DeepMemVoltages"))
	assert.Equal(t, int32(1), gate.resumed.Load())
}

func TestCaptureDeviceError(t *testing.T) {
	ctx := context.Background()
	scope := sim.NewScope()
	require.NoError(t, scope.SetMemDepth(ctx, 12000))
	scope.FailOp("DeepMemVoltages", errors.New("usb reset"))
	c, gate, locks, _ := newTestCapturer(t, scope, Options{})

	_, err := c.Capture(ctx, 1)
	assert.True(t, instrument.IsDeviceError(err))
	assert.Equal(t, int32(1), gate.resumed.Load())
	release, ok := locks.TryDownload()
	require.True(t, ok)
	release()
}

func TestCaptureWriteFailure(t *testing.T) {
	ctx := context.Background()
	scope := sim.NewScope()
	require.NoError(t, scope.SetMemDepth(ctx, 12000))
	scope.SetSamples(1, []float64{0.1, 0.2})

	c, gate, locks, writeAPI := newTestCapturer(t, scope, Options{
		Create: func(string) (io.WriteCloser, error) { return failingFile{}, nil },
	})
	_, err := c.Capture(ctx, 1)

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Contains(t, ioErr.Path, "capture_")
	assert.Equal(t, int32(1), gate.resumed.Load())
	release, ok := locks.TryDownload()
	require.True(t, ok)
	release()
	assert.Empty(t, writeAPI.Points("capture.written"))
}

func TestCaptureWaitsForDownloadLock(t *testing.T) {
	ctx := context.Background()
	scope := sim.NewScope()
	require.NoError(t, scope.SetMemDepth(ctx, 12000))
	c, gate, locks, _ := newTestCapturer(t, scope, Options{})

	release, err := locks.AcquireDownload(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Capture(ctx, 1)
		done <- err
	}()

	require.Eventually(t, func() bool { return gate.suspended.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, scope.Calls("Stop"))

	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not finish")
	}
	assert.Equal(t, 1, scope.Calls("Stop"))
}

func TestCaptureCancelledWhileWaiting(t *testing.T) {
	scope := sim.NewScope()
	c, gate, locks, _ := newTestCapturer(t, scope, Options{})
	release, err := locks.AcquireDownload(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Capture(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), gate.resumed.Load())
}
