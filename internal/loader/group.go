// Package loader loads images in the background through named groups.
//
// A Group owns one FIFO work queue, drained by a single goroutine, and one
// imagecache.Cache shared by every Loader bound to it. Groups are obtained
// from a Registry by name. A Loader serves one request: it answers
// synchronously from the group cache or schedules a decode job on the
// group queue and publishes state changes to its subscribers.
//
// Clearing a group is cooperative. ClearQueue marks the group clearing and
// enqueues a barrier job that unmarks it; decode jobs that start while the
// group is clearing are skipped, the job already running finishes normally.
package loader

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/smileynet/fluffy/internal/imagecache"
)

type job func(ctx context.Context)

// Group is a named partition of the image cache and work queue space.
// Views with different visual roles use different groups so their
// eviction and queueing don't interfere.
type Group struct {
	name  string
	cache *imagecache.Cache
	log   logrus.FieldLogger

	mu      sync.Mutex
	pending []job
	wake    chan struct{}

	clearing atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newGroup(parent context.Context, name string, capacity int64, log logrus.FieldLogger) *Group {
	ctx, cancel := context.WithCancel(parent)
	log = log.WithField("group", name)

	g := &Group{
		name:   name,
		log:    log,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	g.cache = imagecache.New(capacity, imagecache.WithEvictCallback(func(k imagecache.Key, img *imagecache.Image) {
		log.WithField("key", k.Path()).WithField("bytes", img.ByteSize()).Debug("evicted")
	}))

	go g.run()
	return g
}

// Name returns the group's registry name.
func (g *Group) Name() string { return g.name }

// Cache returns the cache shared by the group's loaders.
func (g *Group) Cache() *imagecache.Cache { return g.cache }

// Equal reports whether g and other have the same name.
func (g *Group) Equal(other *Group) bool {
	if g == nil || other == nil {
		return g == other
	}
	return g.name == other.name
}

// IsClearing reports whether a clear pass is in progress.
func (g *Group) IsClearing() bool {
	return g.clearing.Load() > 0
}

// Pending returns the number of queued jobs that have not started.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// ClearQueue abandons the decode jobs queued so far. The group stays
// clearing until a barrier job enqueued now reaches the head of the queue,
// so every job queued before the call is skipped unless it is already
// running. Jobs queued after the call run normally.
func (g *Group) ClearQueue() {
	g.clearing.Add(1)
	g.log.WithField("pending", g.Pending()).Debug("clearing queue")

	if !g.enqueue(func(context.Context) { g.clearing.Add(-1) }) {
		g.clearing.Add(-1)
	}
}

// Sync blocks until every job queued before the call has run or been
// skipped. It returns early with ctx's error, or with context.Canceled
// once the group has been stopped.
func (g *Group) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reached := make(chan struct{})
	if !g.enqueue(func(context.Context) { close(reached) }) {
		return context.Canceled
	}

	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return context.Canceled
	}
}

// enqueue appends j to the queue. It reports false once the group has
// been stopped.
func (g *Group) enqueue(j job) bool {
	g.mu.Lock()
	if g.ctx.Err() != nil {
		g.mu.Unlock()
		return false
	}
	g.pending = append(g.pending, j)
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return true
}

func (g *Group) next() (job, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.pending) == 0 {
		return nil, false
	}
	j := g.pending[0]
	g.pending[0] = nil
	g.pending = g.pending[1:]
	return j, true
}

func (g *Group) run() {
	defer close(g.done)

	for {
		if g.ctx.Err() != nil {
			return
		}

		j, ok := g.next()
		if !ok {
			select {
			case <-g.wake:
				continue
			case <-g.ctx.Done():
				return
			}
		}

		j(g.ctx)
	}
}

// stop cancels the worker and waits for the running job to return.
func (g *Group) stop() {
	g.cancel()
	<-g.done
}
