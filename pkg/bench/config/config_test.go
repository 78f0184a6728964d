package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DeviceSim, cfg.Device)
	assert.Equal(t, 844.0, cfg.DefaultSampleRate)
	assert.Equal(t, time.Duration(0), cfg.RefreshInterval)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
device: scpi
scope:
  address: 192.168.1.20
generator:
  transport: serial
  address: /dev/ttyUSB0
  baud_rate: 57600
refresh_interval: 250ms
enabled_channels: [1, 3]
memory_locations: [WAVE1, WAVE2]
mem_depth: 120000
viz_server:
  port: 8080
influxdb:
  host: http://localhost:8086
  bucket: bench
`))
	require.NoError(t, err)

	assert.Equal(t, DeviceSCPI, cfg.Device)
	assert.Equal(t, "tcp", cfg.Scope.Transport, "default transport kept")
	assert.Equal(t, 2*time.Second, cfg.Scope.Timeout)
	assert.Equal(t, "serial", cfg.Generator.Transport)
	assert.Equal(t, 57600, cfg.Generator.TransportConfig().BaudRate)
	assert.Equal(t, 250*time.Millisecond, cfg.RefreshInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.VizServer.UpdateInterval)
	assert.Equal(t, "bench", cfg.InfluxDB.Bucket)

	opts := cfg.SessionOptions()
	assert.Equal(t, []int{1, 3}, opts.EnabledChannels)
	assert.Equal(t, []string{"WAVE1", "WAVE2"}, opts.MemoryLocations)
	assert.Equal(t, 120000, opts.MemDepth)
	assert.Equal(t, "captures", opts.CapturesDir)
	assert.True(t, opts.ShowTrigger)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown device", "device: hackrf"},
		{"scpi without address", "device: scpi"},
		{"bad transport", "device: scpi\nscope: {transport: usb, address: x}\ngenerator: {address: y}"},
		{"negative interval", "refresh_interval: -1s"},
		{"zero sample rate", "default_sample_rate: 0"},
		{"bad channel", "enabled_channels: [0]"},
		{"viz without interval", "viz_server: {port: 8080, update_interval: 0s}"},
		{"unknown key", "colour: red"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchtop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
