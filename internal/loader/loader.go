package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"weak"

	jmerrors "github.com/jmgilman/go/errors"

	"github.com/smileynet/fluffy/internal/imagecache"
)

// State is the progress of a load request.
type State int

const (
	Queued  State = iota // Waiting on the group queue.
	Loading              // Decoding on the group worker.
	Loaded               // Result available.
	Failed               // The resource could not be decoded.
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can follow s.
func (s State) Terminal() bool {
	return s == Loaded || s == Failed
}

// Decoder turns a resource into a decoded image.
type Decoder interface {
	Decode(ctx context.Context, key imagecache.Key) (*imagecache.Image, error)
}

// ErrNoImage is reported when a decoder returned neither an image nor an error.
var ErrNoImage = errors.New("loader: decoder returned no image")

// ErrGroupGone is reported when a loader's group no longer exists.
var ErrGroupGone = errors.New("loader: group no longer exists")

// Update is published to subscribers on every state change.
type Update struct {
	Key   imagecache.Key
	State State
	Image *imagecache.Image // Set when State is Loaded.
	Err   error             // Set when State is Failed.
}

// Loader loads one image through a group. It is created per request and
// may be dropped at any time: a decode job that outlives its loader still
// fills the group cache but publishes nothing.
//
// Loader holds its group weakly; the registry owns groups.
type Loader struct {
	group   weak.Pointer[Group]
	decoder Decoder

	mu          sync.Mutex
	requested   bool
	closed      bool
	key         imagecache.Key
	state       State
	result      *imagecache.Image
	err         error
	subscribers map[int]func(Update)
	nextSub     int
}

// New creates a loader bound to group that decodes with dec. A loader
// created without a group fails with ErrGroupGone when requested.
func New(group *Group, dec Decoder) *Loader {
	return &Loader{
		group:       weak.Make(group),
		decoder:     dec,
		subscribers: make(map[int]func(Update)),
	}
}

// Request starts loading key. A cache hit is answered synchronously and no
// job is scheduled; otherwise a decode job is queued and Request returns
// immediately. Only the first call on a loader has an effect.
func (l *Loader) Request(key imagecache.Key) {
	l.mu.Lock()
	if l.requested || l.closed {
		l.mu.Unlock()
		return
	}
	l.requested = true
	l.key = key
	l.mu.Unlock()

	g := l.group.Value()
	if g == nil {
		l.publish(Failed, nil, ErrGroupGone)
		return
	}

	if img, ok := g.cache.Lookup(key); ok {
		l.publish(Loaded, img, nil)
		return
	}

	// The job must not capture l itself, only a weak handle to it.
	target := weak.Make(l)
	dec := l.decoder
	if !g.enqueue(func(ctx context.Context) { decodeJob(ctx, g, target, key, dec) }) {
		l.publish(Failed, nil, context.Canceled)
	}
}

// decodeJob runs on the group worker.
func decodeJob(ctx context.Context, g *Group, target weak.Pointer[Loader], key imagecache.Key, dec Decoder) {
	log := g.log.WithField("key", key.Path())

	if g.IsClearing() {
		log.Debug("skipped, group clearing")
		return
	}

	if img, ok := g.cache.Lookup(key); ok {
		if l := live(target); l != nil {
			l.publish(Loaded, img, nil)
		}
		return
	}

	if l := live(target); l != nil {
		l.publish(Loading, nil, nil)
	}

	img, err := dec.Decode(ctx, key)
	if err == nil && img == nil {
		err = ErrNoImage
	}
	if err != nil {
		log.WithField("code", jmerrors.GetCode(err)).WithError(err).Debug("decode failed")
		if l := live(target); l != nil {
			l.publish(Failed, nil, err)
		}
		return
	}

	g.cache.Insert(key, img)
	if l := live(target); l != nil {
		l.publish(Loaded, img, nil)
	}
}

// live returns the loader behind p if it still exists and has not been closed.
func live(p weak.Pointer[Loader]) *Loader {
	l := p.Value()
	if l == nil {
		return nil
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil
	}
	return l
}

func (l *Loader) publish(state State, img *imagecache.Image, err error) {
	l.mu.Lock()
	if l.closed || l.state.Terminal() {
		l.mu.Unlock()
		return
	}
	l.state = state
	if img != nil {
		l.result = img
	}
	l.err = err
	u := Update{Key: l.key, State: state, Image: img, Err: err}
	subs := make([]func(Update), 0, len(l.subscribers))
	for _, fn := range l.subscribers {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}

// Subscribe registers fn to be called on every subsequent state change.
// fn runs on the goroutine making the change, which is the group worker
// for anything but a request-time cache hit. The returned function
// removes the subscription.
func (l *Loader) Subscribe(fn func(Update)) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextSub
	l.nextSub++
	l.subscribers[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.subscribers, id)
		l.mu.Unlock()
	}
}

// Close detaches the loader: subscribers are dropped and no further
// updates are published. A queued decode job still runs and still fills
// the group cache.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subscribers = make(map[int]func(Update))
}

// Key returns the requested key, or "" before Request.
func (l *Loader) Key() imagecache.Key {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.key
}

// State returns the current state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Result returns the loaded image, or nil until the state is Loaded.
func (l *Loader) Result() *imagecache.Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}

// Err returns the failure reason once the state is Failed.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// GroupName returns the name of the loader's group, or "" if the group is gone.
func (l *Loader) GroupName() string {
	if g := l.group.Value(); g != nil {
		return g.name
	}
	return ""
}
