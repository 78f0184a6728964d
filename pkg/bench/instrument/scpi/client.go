// Package scpi drives bench instruments over SCPI: a Rigol DS1000Z series
// oscilloscope and a Keysight 33500 series waveform generator.
package scpi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrMalformedBlock = errors.New("malformed definite length block")

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Client exchanges newline terminated SCPI messages over a transport. It is
// not safe for concurrent use; drivers serialize whole command sequences.
type Client struct {
	conn    io.ReadWriteCloser
	r       *bufio.Reader
	timeout time.Duration
	logger  zerolog.Logger
}

type ClientOption func(c *Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(conn io.ReadWriteCloser, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 1<<16),
		timeout: 5 * time.Second,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// arm applies the earlier of the context deadline and the client timeout to
// transports that support deadlines.
func (c *Client) arm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, ok := c.conn.(deadliner)
	if !ok {
		return nil
	}
	deadline := time.Time{}
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return d.SetDeadline(deadline)
}

func (c *Client) Write(ctx context.Context, cmd string) error {
	if err := c.arm(ctx); err != nil {
		return err
	}
	c.logger.Trace().Str("cmd", cmd).Msg("scpi write")
	_, err := io.WriteString(c.conn, cmd+"\n")
	return err
}

func (c *Client) Writef(ctx context.Context, format string, args ...interface{}) error {
	return c.Write(ctx, fmt.Sprintf(format, args...))
}

func (c *Client) readLine() (string, error) {
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		// A block terminator that arrived late shows up as an empty line.
		if line != "" {
			return line, nil
		}
	}
}

// Query sends cmd and returns the reply line without its terminator.
func (c *Client) Query(ctx context.Context, cmd string) (string, error) {
	if err := c.Write(ctx, cmd); err != nil {
		return "", err
	}
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	c.logger.Trace().Str("cmd", cmd).Str("reply", line).Msg("scpi query")
	return line, nil
}

func (c *Client) QueryFloat(ctx context.Context, cmd string) (float64, error) {
	reply, err := c.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	return v, nil
}

// QueryBlock sends cmd and reads an IEEE 488.2 definite length block reply,
// "#<n><n digits of length><payload>".
func (c *Client) QueryBlock(ctx context.Context, cmd string) ([]byte, error) {
	if err := c.Write(ctx, cmd); err != nil {
		return nil, err
	}
	return c.readBlock()
}

func (c *Client) readBlock() ([]byte, error) {
	var b byte
	var err error
	// Skip whitespace left behind by an earlier reply.
	for {
		if b, err = c.r.ReadByte(); err != nil {
			return nil, err
		}
		if b != '\n' && b != '\r' {
			break
		}
	}
	if b != '#' {
		return nil, fmt.Errorf("%w: header starts with %q", ErrMalformedBlock, b)
	}
	digits, err := c.r.ReadByte()
	if err != nil {
		return nil, err
	}
	n := int(digits - '0')
	if n < 1 || n > 9 {
		return nil, fmt.Errorf("%w: length digit %q", ErrMalformedBlock, digits)
	}
	lenBuf := make([]byte, n)
	if _, err := io.ReadFull(c.r, lenBuf); err != nil {
		return nil, err
	}
	size, err := strconv.Atoi(string(lenBuf))
	if err != nil {
		return nil, fmt.Errorf("%w: length %q", ErrMalformedBlock, lenBuf)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return nil, err
	}
	if c.r.Buffered() > 0 {
		if next, _ := c.r.Peek(1); len(next) == 1 && next[0] == '\n' {
			c.r.ReadByte()
		}
	}
	return data, nil
}

// Sync blocks until the instrument has finished every pending operation.
func (c *Client) Sync(ctx context.Context) error {
	reply, err := c.Query(ctx, "*OPC?")
	if err != nil {
		return err
	}
	if strings.TrimSpace(reply) != "1" {
		return fmt.Errorf("*OPC? answered %q", reply)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
