package scpi

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

const defaultPort = "5555"

type TransportConfig struct {
	// Transport is "tcp" or "serial".
	Transport string
	// Address is host[:port] for tcp or the device path for serial.
	Address  string
	BaudRate int
	Timeout  time.Duration
}

// Dial opens the transport described by cfg.
func Dial(ctx context.Context, cfg TransportConfig) (io.ReadWriteCloser, error) {
	switch cfg.Transport {
	case "", "tcp":
		addr := cfg.Address
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, defaultPort)
		}
		d := net.Dialer{Timeout: cfg.Timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	case "serial":
		return openSerial(cfg)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func openSerial(cfg TransportConfig) (serial.Port, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Address, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Address, err)
	}
	if cfg.Timeout > 0 {
		if err := port.SetReadTimeout(cfg.Timeout); err != nil {
			port.Close()
			return nil, err
		}
	}
	return port, nil
}
