package loader

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smileynet/fluffy/internal/imagecache"
)

// countingDecoder returns a 10x10 gray image for every key and counts calls.
type countingDecoder struct {
	calls atomic.Int32
	err   error
}

func (d *countingDecoder) Decode(_ context.Context, _ imagecache.Key) (*imagecache.Image, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return imagecache.NewImage(image.NewGray(image.Rect(0, 0, 10, 10))), nil
}

// decodeFunc adapts a function to the Decoder interface.
type decodeFunc func(ctx context.Context, key imagecache.Key) (*imagecache.Image, error)

func (f decodeFunc) Decode(ctx context.Context, key imagecache.Key) (*imagecache.Image, error) {
	return f(ctx, key)
}

// gateDecoder blocks every decode until released and reports each start.
type gateDecoder struct {
	started chan imagecache.Key
	release chan struct{}
	calls   atomic.Int32
}

func newGateDecoder() *gateDecoder {
	return &gateDecoder{
		started: make(chan imagecache.Key, 16),
		release: make(chan struct{}),
	}
}

func (d *gateDecoder) Decode(ctx context.Context, key imagecache.Key) (*imagecache.Image, error) {
	d.calls.Add(1)
	d.started <- key
	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return imagecache.NewImage(image.NewGray(image.Rect(0, 0, 10, 10))), nil
}

// recorder collects published updates.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) record(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]State, len(r.updates))
	for i, u := range r.updates {
		states[i] = u.State
	}
	return states
}

func statesEqual(got, want []State) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	t.Cleanup(r.Close)
	return r
}

func syncGroup(t *testing.T, g *Group) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.Sync(ctx); err != nil {
		t.Fatalf("Sync(%s) error = %v", g.Name(), err)
	}
}

// blockWorker occupies the group worker until the returned func is called.
func blockWorker(t *testing.T, g *Group) (release func()) {
	t.Helper()
	running := make(chan struct{})
	unblock := make(chan struct{})
	if !g.enqueue(func(context.Context) {
		close(running)
		<-unblock
	}) {
		t.Fatal("enqueue on a stopped group")
	}
	<-running

	var once sync.Once
	release = func() { once.Do(func() { close(unblock) }) }
	t.Cleanup(release)
	return release
}

var errBroken = errors.New("broken")
