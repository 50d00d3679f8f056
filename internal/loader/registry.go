package loader

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry maps group names to groups. Groups are created on first lookup
// and live until the registry is closed.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*Group
	log    logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by the registry, its groups and their
// loaders. The default discards everything.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		groups: make(map[string]*Group),
		log:    discard,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Named returns the group called name, creating it with a cache of
// capacity bytes if it does not exist yet. The capacity of later calls is
// ignored: the first caller configures the group.
// Panics if name is empty (programmer error).
func (r *Registry) Named(name string, capacity int64) *Group {
	if name == "" {
		panic("loader: Named called with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.groups[name]; ok {
		if g.cache.ByteCapacity() != capacity {
			r.log.WithFields(logrus.Fields{
				"group":     name,
				"capacity":  g.cache.ByteCapacity(),
				"requested": capacity,
			}).Debug("group exists, requested capacity ignored")
		}
		return g
	}

	g := newGroup(r.ctx, name, capacity, r.log)
	r.groups[name] = g
	r.log.WithFields(logrus.Fields{"group": name, "capacity": capacity}).Debug("group created")
	return g
}

// ClearAll clears the queue of every registered group whose name does not
// match one of except.
func (r *Registry) ClearAll(except ...*Group) {
	keep := make(map[string]bool, len(except))
	for _, g := range except {
		if g != nil {
			keep[g.name] = true
		}
	}

	for _, g := range r.Groups() {
		if !keep[g.name] {
			g.ClearQueue()
		}
	}
}

// Groups returns the registered groups sorted by name.
func (r *Registry) Groups() []*Group {
	r.mu.Lock()
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.Unlock()

	sort.Slice(groups, func(i, j int) bool { return groups[i].name < groups[j].name })
	return groups
}

// Close stops every group worker. Jobs still queued are dropped and
// groups created afterwards never run jobs.
func (r *Registry) Close() {
	r.cancel()
	for _, g := range r.Groups() {
		g.stop()
	}
}
