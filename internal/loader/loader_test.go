package loader

import (
	"context"
	"errors"
	"image"
	"runtime"
	"testing"
	"weak"

	jmerrors "github.com/jmgilman/go/errors"

	"github.com/smileynet/fluffy/internal/imagecache"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Queued, "queued"},
		{Loading, "loading"},
		{Loaded, "loaded"},
		{Failed, "failed"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestLoader_CacheHitIsSynchronous(t *testing.T) {
	// Given: a group whose cache already holds the key
	r := newTestRegistry(t)
	g := r.Named("A", imagecache.Megabytes(1))
	key := imagecache.MustKey("/photos/a.png")
	cached := imagecache.NewImage(image.NewGray(image.Rect(0, 0, 4, 4)))
	g.Cache().Insert(key, cached)

	dec := &countingDecoder{}
	l := New(g, dec)
	rec := &recorder{}
	l.Subscribe(rec.record)

	// When: the key is requested
	l.Request(key)

	// Then: the result is available before Request returns, without a decode
	if l.State() != Loaded {
		t.Fatalf("State() = %v, want %v", l.State(), Loaded)
	}
	if l.Result() != cached {
		t.Error("Result() should be the cached image")
	}
	if g.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", g.Pending())
	}
	syncGroup(t, g)
	if n := dec.calls.Load(); n != 0 {
		t.Errorf("decoder called %d times, want 0", n)
	}
	if got := rec.states(); !statesEqual(got, []State{Loaded}) {
		t.Errorf("updates = %v, want [loaded]", got)
	}
}

func TestLoader_DecodeFillsCache(t *testing.T) {
	// Given: an empty group
	r := newTestRegistry(t)
	g := r.Named("A", imagecache.Megabytes(1))
	key := imagecache.MustKey("/photos/b.png")

	dec := &countingDecoder{}
	l := New(g, dec)
	rec := &recorder{}
	l.Subscribe(rec.record)

	// When: the key is requested and the queue drains
	l.Request(key)
	syncGroup(t, g)

	// Then: the loader went through loading to loaded and the cache holds the image
	if got := rec.states(); !statesEqual(got, []State{Loading, Loaded}) {
		t.Errorf("updates = %v, want [loading loaded]", got)
	}
	img, ok := g.Cache().Lookup(key)
	if !ok {
		t.Fatal("image not cached after decode")
	}
	if l.Result() != img {
		t.Error("Result() should be the cached image")
	}
	if l.Key() != key {
		t.Errorf("Key() = %q, want %q", l.Key(), key)
	}

	// And: a second loader for the same key hits the cache
	again := New(g, dec)
	again.Request(key)
	if again.State() != Loaded {
		t.Errorf("second State() = %v, want %v", again.State(), Loaded)
	}
	if n := dec.calls.Load(); n != 1 {
		t.Errorf("decoder called %d times, want 1", n)
	}
}

func TestLoader_DecodeFailure(t *testing.T) {
	r := newTestRegistry(t)
	g := r.Named("A", imagecache.Megabytes(1))
	key := imagecache.MustKey("/photos/broken.png")

	wrapped := jmerrors.Wrap(errBroken, jmerrors.CodeInvalidInput, "decode image")
	l := New(g, &countingDecoder{err: wrapped})
	l.Request(key)
	syncGroup(t, g)

	if l.State() != Failed {
		t.Fatalf("State() = %v, want %v", l.State(), Failed)
	}
	if !errors.Is(l.Err(), errBroken) {
		t.Errorf("Err() = %v, want wrapping %v", l.Err(), errBroken)
	}
	if jmerrors.GetCode(l.Err()) != jmerrors.CodeInvalidInput {
		t.Errorf("code = %v, want %v", jmerrors.GetCode(l.Err()), jmerrors.CodeInvalidInput)
	}
	if g.Cache().Len() != 0 {
		t.Error("failed decode should not touch the cache")
	}
}

func TestLoader_NilImageFails(t *testing.T) {
	r := newTestRegistry(t)
	g := r.Named("A", imagecache.Megabytes(1))

	l := New(g, decodeFunc(func(context.Context, imagecache.Key) (*imagecache.Image, error) {
		return nil, nil
	}))
	l.Request("/x.png")
	syncGroup(t, g)

	if !errors.Is(l.Err(), ErrNoImage) {
		t.Errorf("Err() = %v, want %v", l.Err(), ErrNoImage)
	}
}

func TestLoader_OnlyFirstRequestCounts(t *testing.T) {
	r := newTestRegistry(t)
	g := r.Named("A", imagecache.Megabytes(1))
	dec := &countingDecoder{}

	l := New(g, dec)
	l.Request("/first.png")
	l.Request("/second.png")
	syncGroup(t, g)

	if l.Key() != "/first.png" {
		t.Errorf("Key() = %q, want /first.png", l.Key())
	}
	if n := dec.calls.Load(); n != 1 {
		t.Errorf("decoder called %d times, want 1", n)
	}
}

func TestLoader_ClearQueueSkipsQueuedJobs(t *testing.T) {
	// Given: five requests on a group whose decoder blocks
	r := newTestRegistry(t)
	g := r.Named("A", imagecache.Megabytes(1))
	dec := newGateDecoder()

	loaders := make([]*Loader, 5)
	for i := range loaders {
		loaders[i] = New(g, dec)
		loaders[i].Request(imagecache.Key("/img/" + string(rune('a'+i)) + ".png"))
	}
	<-dec.started // first job is running

	// When: the queue is cleared and the running job then finishes
	g.ClearQueue()
	close(dec.release)
	syncGroup(t, g)

	// Then: only the running job decoded; the rest were skipped
	if n := dec.calls.Load(); n != 1 {
		t.Errorf("decoder called %d times, want 1", n)
	}
	if g.Cache().Len() != 1 {
		t.Errorf("cache Len() = %d, want 1", g.Cache().Len())
	}
	if loaders[0].State() != Loaded {
		t.Errorf("running loader State() = %v, want %v", loaders[0].State(), Loaded)
	}
	for i, l := range loaders[1:] {
		if l.State() != Queued {
			t.Errorf("loader %d State() = %v, want %v", i+1, l.State(), Queued)
		}
	}
	if g.IsClearing() {
		t.Error("IsClearing() = true after the barrier ran")
	}

	// And: requests made after the clear run normally
	after := New(g, dec)
	after.Request("/img/after.png")
	syncGroup(t, g)
	if after.State() != Loaded {
		t.Errorf("post-clear State() = %v, want %v", after.State(), Loaded)
	}
}

func TestLoader_ClosedLoaderStillFillsCache(t *testing.T) {
	// Given: a queued request whose loader is closed before it runs
	r := newTestRegistry(t)
	g := r.Named("A", imagecache.Megabytes(1))
	release := blockWorker(t, g)

	l := New(g, &countingDecoder{})
	rec := &recorder{}
	l.Subscribe(rec.record)
	l.Request("/img/orphan.png")
	l.Close()

	// When: the job runs
	release()
	syncGroup(t, g)

	// Then: the cache is filled but nothing was published
	if _, ok := g.Cache().Lookup("/img/orphan.png"); !ok {
		t.Error("orphaned job should still fill the cache")
	}
	if got := rec.states(); len(got) != 0 {
		t.Errorf("updates after Close = %v, want none", got)
	}
	if l.State() != Queued {
		t.Errorf("State() = %v, want %v", l.State(), Queued)
	}
}

func TestLoader_CollectedLoaderStillFillsCache(t *testing.T) {
	// Given: a queued request whose loader is no longer referenced
	r := newTestRegistry(t)
	g := r.Named("A", imagecache.Megabytes(1))
	release := blockWorker(t, g)
	rec := &recorder{}

	handle := func() weak.Pointer[Loader] {
		l := New(g, &countingDecoder{})
		l.Subscribe(rec.record)
		l.Request("/img/dropped.png")
		return weak.Make(l)
	}()

	// When: the loader is collected before its job runs
	for i := 0; i < 10 && handle.Value() != nil; i++ {
		runtime.GC()
	}
	if handle.Value() != nil {
		t.Fatal("queued job kept the loader alive")
	}
	release()
	syncGroup(t, g)

	// Then: the cache is filled and nobody was told
	if _, ok := g.Cache().Lookup("/img/dropped.png"); !ok {
		t.Error("job of a collected loader should still fill the cache")
	}
	if n := g.Cache().Len(); n != 1 {
		t.Errorf("cache Len() = %d, want 1", n)
	}
	if got := rec.states(); len(got) != 0 {
		t.Errorf("updates for a collected loader = %v, want none", got)
	}
}

func TestLoader_WithoutGroupFails(t *testing.T) {
	// Given: a loader created with no group
	l := New(nil, &countingDecoder{})
	rec := &recorder{}
	l.Subscribe(rec.record)

	// When: it is requested
	l.Request("/img/nowhere.png")

	// Then: it fails at once instead of panicking
	if l.State() != Failed {
		t.Fatalf("State() = %v, want %v", l.State(), Failed)
	}
	if !errors.Is(l.Err(), ErrGroupGone) {
		t.Errorf("Err() = %v, want %v", l.Err(), ErrGroupGone)
	}
	if got := rec.states(); !statesEqual(got, []State{Failed}) {
		t.Errorf("updates = %v, want [failed]", got)
	}
	if l.GroupName() != "" {
		t.Errorf("GroupName() = %q, want empty", l.GroupName())
	}
}

func TestLoader_DequeueTimeCacheHit(t *testing.T) {
	// Two loaders queue the same key; the second finds it cached when its
	// job starts and does not decode again.
	r := newTestRegistry(t)
	g := r.Named("A", imagecache.Megabytes(1))
	release := blockWorker(t, g)
	dec := &countingDecoder{}

	first := New(g, dec)
	second := New(g, dec)
	rec := &recorder{}
	second.Subscribe(rec.record)
	first.Request("/img/same.png")
	second.Request("/img/same.png")

	release()
	syncGroup(t, g)

	if n := dec.calls.Load(); n != 1 {
		t.Errorf("decoder called %d times, want 1", n)
	}
	if second.State() != Loaded {
		t.Errorf("State() = %v, want %v", second.State(), Loaded)
	}
	if got := rec.states(); !statesEqual(got, []State{Loaded}) {
		t.Errorf("updates = %v, want [loaded]", got)
	}
}

func TestLoader_Unsubscribe(t *testing.T) {
	r := newTestRegistry(t)
	g := r.Named("A", imagecache.Megabytes(1))

	l := New(g, &countingDecoder{})
	kept, dropped := &recorder{}, &recorder{}
	l.Subscribe(kept.record)
	cancel := l.Subscribe(dropped.record)
	cancel()

	l.Request("/img/sub.png")
	syncGroup(t, g)

	if len(kept.states()) != 2 {
		t.Errorf("kept subscriber got %v, want 2 updates", kept.states())
	}
	if len(dropped.states()) != 0 {
		t.Errorf("cancelled subscriber got %v, want none", dropped.states())
	}
}

func TestLoader_GroupName(t *testing.T) {
	r := newTestRegistry(t)
	l := New(r.Named("DetailGroup", 1), &countingDecoder{})
	if l.GroupName() != "DetailGroup" {
		t.Errorf("GroupName() = %q, want DetailGroup", l.GroupName())
	}
}
