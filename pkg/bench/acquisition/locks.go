// Package acquisition polls the oscilloscope for the enabled channels and feeds
// the reads through the render pipeline.
package acquisition

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Locks is the two tier lock guarding the scope's command channel.
//
// The download lock is coarse: it is held for a whole exchange, a channel
// refresh or a deep memory capture. The graph lock is fine: it is held only
// around the queries of a channel refresh. Always take download before graph.
// Never take download while holding graph.
type Locks struct {
	download *semaphore.Weighted
	graph    sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{download: semaphore.NewWeighted(1)}
}

// AcquireDownload blocks until the download lock is free or ctx is done. The
// returned release func may be called more than once.
func (l *Locks) AcquireDownload(ctx context.Context) (func(), error) {
	if err := l.download.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.download.Release(1) }) }, nil
}

// TryDownload takes the download lock only if it is free.
func (l *Locks) TryDownload() (func(), bool) {
	if !l.download.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { l.download.Release(1) }) }, true
}

// WithDownload runs fn holding the download lock.
func (l *Locks) WithDownload(ctx context.Context, fn func() error) error {
	release, err := l.AcquireDownload(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// WithGraph runs fn holding the graph lock. The caller must hold the
// download lock.
func (l *Locks) WithGraph(fn func() error) error {
	l.graph.Lock()
	defer l.graph.Unlock()
	return fn()
}

// WithDevice runs fn holding both locks in order. Single device commands
// issued outside of a refresh or capture go through here.
func (l *Locks) WithDevice(ctx context.Context, fn func() error) error {
	return l.WithDownload(ctx, func() error {
		return l.WithGraph(fn)
	})
}
