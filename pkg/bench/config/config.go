// Package config is the YAML configuration of the benchtop command.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/norasector/benchtop/pkg/bench"
	"github.com/norasector/benchtop/pkg/bench/instrument/scpi"
	"github.com/norasector/benchtop/pkg/waveform"
	"gopkg.in/yaml.v2"
)

const (
	DeviceSim  = "sim"
	DeviceSCPI = "scpi"
)

// Connection describes how to reach one instrument.
type Connection struct {
	Transport string        `yaml:"transport"`
	Address   string        `yaml:"address"`
	BaudRate  int           `yaml:"baud_rate"`
	Timeout   time.Duration `yaml:"timeout"`
}

func (c Connection) TransportConfig() scpi.TransportConfig {
	return scpi.TransportConfig{
		Transport: c.Transport,
		Address:   c.Address,
		BaudRate:  c.BaudRate,
		Timeout:   c.Timeout,
	}
}

type VizServer struct {
	// Port 0 disables the server.
	Port           int           `yaml:"port"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

type InfluxDB struct {
	Host         string `yaml:"host"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

type Config struct {
	Device    string     `yaml:"device"`
	Scope     Connection `yaml:"scope"`
	Generator Connection `yaml:"generator"`

	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	Workers           int           `yaml:"workers"`
	MaxAmplitude      float64       `yaml:"max_amplitude"`
	DefaultSampleRate float64       `yaml:"default_sample_rate"`
	CapturesDir       string        `yaml:"captures_dir"`
	MemoryLocations   []string      `yaml:"memory_locations,flow"`
	EnabledChannels   []int         `yaml:"enabled_channels,flow"`
	MemDepth          int           `yaml:"mem_depth"`
	ShowTrigger       bool          `yaml:"show_trigger"`

	VizServer VizServer `yaml:"viz_server"`
	InfluxDB  InfluxDB  `yaml:"influxdb"`
}

// Default is the configuration used for every key a file leaves out.
func Default() Config {
	return Config{
		Device: DeviceSim,
		Scope: Connection{
			Transport: "tcp",
			Timeout:   2 * time.Second,
		},
		Generator: Connection{
			Transport: "tcp",
			Timeout:   2 * time.Second,
		},
		DefaultSampleRate: waveform.DefaultSampleRate,
		CapturesDir:       "captures",
		EnabledChannels:   []int{1},
		ShowTrigger:       true,
		VizServer: VizServer{
			UpdateInterval: 500 * time.Millisecond,
		},
	}
}

// Parse overlays data on Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func validateConnection(name string, c Connection) error {
	switch c.Transport {
	case "", "tcp", "serial":
	default:
		return fmt.Errorf("%s: unknown transport %q", name, c.Transport)
	}
	if c.Address == "" {
		return fmt.Errorf("%s: address required", name)
	}
	if c.BaudRate < 0 || c.Timeout < 0 {
		return fmt.Errorf("%s: negative baud rate or timeout", name)
	}
	return nil
}

// Validate rejects configurations no session could run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Device {
	case DeviceSim:
	case DeviceSCPI:
		errs = append(errs,
			validateConnection("scope", c.Scope),
			validateConnection("generator", c.Generator))
	default:
		errs = append(errs, fmt.Errorf("unknown device %q", c.Device))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("negative refresh_interval %v", c.RefreshInterval))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("negative workers %d", c.Workers))
	}
	if c.DefaultSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("default_sample_rate must be positive, got %v", c.DefaultSampleRate))
	}
	if c.CapturesDir == "" {
		errs = append(errs, errors.New("captures_dir required"))
	}
	if c.MemDepth < 0 {
		errs = append(errs, fmt.Errorf("negative mem_depth %d", c.MemDepth))
	}
	for _, ch := range c.EnabledChannels {
		if ch < 1 {
			errs = append(errs, fmt.Errorf("invalid channel %d in enabled_channels", ch))
		}
	}
	if c.VizServer.Port < 0 || c.VizServer.Port > 65535 {
		errs = append(errs, fmt.Errorf("viz_server port %d out of range", c.VizServer.Port))
	}
	if c.VizServer.Port > 0 && c.VizServer.UpdateInterval <= 0 {
		errs = append(errs, errors.New("viz_server update_interval must be positive"))
	}
	return errors.Join(errs...)
}

// SessionOptions maps the file onto the session's options.
func (c Config) SessionOptions() bench.Options {
	return bench.Options{
		RefreshInterval:   c.RefreshInterval,
		Workers:           c.Workers,
		MaxAmplitude:      c.MaxAmplitude,
		DefaultSampleRate: c.DefaultSampleRate,
		CapturesDir:       c.CapturesDir,
		MemoryLocations:   c.MemoryLocations,
		EnabledChannels:   c.EnabledChannels,
		MemDepth:          c.MemDepth,
		ShowTrigger:       c.ShowTrigger,
	}
}
