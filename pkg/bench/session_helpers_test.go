package bench

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/norasector/benchtop/pkg/bench/instrument/sim"
	"github.com/norasector/benchtop/pkg/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testBench struct {
	s        *Session
	scope    *sim.Scope
	gen      *sim.Generator
	writeAPI *util.MockWriteAPI
}

func newTestSession(t *testing.T, opts Options, sopts ...SessionOption) *testBench {
	t.Helper()
	if opts.CapturesDir == "" {
		opts.CapturesDir = filepath.Join(t.TempDir(), "captures")
	}
	tb := &testBench{
		scope:    sim.NewScope(),
		gen:      sim.NewGenerator(),
		writeAPI: &util.MockWriteAPI{},
	}
	sopts = append([]SessionOption{WithLogger(zerolog.Nop()), WithInfluxDB(tb.writeAPI)}, sopts...)
	s, err := NewSession(tb.scope, tb.gen, opts, sopts...)
	require.NoError(t, err)
	tb.s = s
	return tb
}

// start runs the session until the test ends.
func (tb *testBench) start(t *testing.T) {
	t.Helper()
	errc := make(chan error, 1)
	go func() {
		errc <- tb.s.Start(context.Background())
	}()
	select {
	case <-tb.s.Ready():
	case err := <-errc:
		t.Fatalf("session exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("session not ready")
	}
	t.Cleanup(func() {
		require.NoError(t, tb.s.Stop())
		select {
		case <-errc:
		case <-time.After(5 * time.Second):
			t.Error("session did not stop")
		}
	})
}

func writeWaveform(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))
	return path
}

func waitTask(t *testing.T, task *Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := task.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}
