package scpi

import (
	"bytes"
	"fmt"
	"sync"
)

// fakeConn passes every command written to handler, queues whatever it
// returns as the reply and records the command.
type fakeConn struct {
	mu       sync.Mutex
	handler  func(cmd string) string
	commands []string
	out      bytes.Buffer
	pending  []byte
	closed   bool
}

func newFakeConn(handler func(cmd string) string) *fakeConn {
	return &fakeConn{handler: handler}
}

func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, p...)
	for {
		idx := bytes.IndexByte(f.pending, '\n')
		if idx < 0 {
			break
		}
		cmd := string(f.pending[:idx])
		f.pending = f.pending[idx+1:]
		f.commands = append(f.commands, cmd)
		if f.handler != nil {
			f.out.WriteString(f.handler(cmd))
		}
	}
	return len(p), nil
}

func (f *fakeConn) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Read(p)
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// block encodes data as a definite length block followed by a newline.
func block(data []byte) string {
	n := fmt.Sprintf("%d", len(data))
	return fmt.Sprintf("#%d%s%s\n", len(n), n, data)
}
