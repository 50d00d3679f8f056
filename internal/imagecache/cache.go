package imagecache

import (
	"container/list"
	"sync"
)

// Megabytes converts a capacity in megabytes to bytes.
func Megabytes(n int) int64 {
	return int64(n) * 1024 * 1024
}

type entry struct {
	key   Key
	image *Image
}

// EvictFunc observes an entry leaving the cache because of capacity.
type EvictFunc func(key Key, image *Image)

// Option configures a Cache.
type Option func(*Cache)

// WithEvictCallback registers fn to be called for every evicted entry.
// The callback runs after the cache lock has been released.
func WithEvictCallback(fn EvictFunc) Option {
	return func(c *Cache) {
		c.onEvict = fn
	}
}

// Cache stores decoded images up to an estimated byte capacity. When an
// insert pushes the total over capacity, the oldest inserted entries are
// evicted until the cache fits again or a single entry remains; an image
// larger than the whole capacity is therefore still kept on its own.
//
// Cache is safe for concurrent use. Insert updates the entry map, the
// insertion order and the byte total under one lock.
type Cache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	entries  map[Key]*list.Element
	order    *list.List // of *entry, front = oldest
	onEvict  EvictFunc
}

// New creates an empty cache holding up to capacity estimated bytes.
func New(capacity int64, opts ...Option) *Cache {
	c := &Cache{
		capacity: capacity,
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the cached image for key, or nil and false on miss.
// It does not change insertion order.
func (c *Cache) Lookup(key Key) (*Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).image, true
}

// Insert stores image under key as the most recent entry, replacing any
// existing entry for key, then evicts the oldest entries while the cache
// is over capacity and holds more than one entry. A nil image is ignored.
func (c *Cache) Insert(key Key, image *Image) {
	if image == nil {
		return
	}

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.size -= el.Value.(*entry).image.ByteSize()
		c.order.Remove(el)
	}

	c.entries[key] = c.order.PushBack(&entry{key: key, image: image})
	c.size += image.ByteSize()

	var evicted []*entry
	for c.size > c.capacity && c.order.Len() > 1 {
		front := c.order.Front()
		e := front.Value.(*entry)
		c.order.Remove(front)
		delete(c.entries, e.key)
		c.size -= e.image.ByteSize()
		evicted = append(evicted, e)
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if onEvict != nil {
		for _, e := range evicted {
			onEvict(e.key, e.image)
		}
	}
}

// ByteCapacity returns the capacity the cache was created with.
func (c *Cache) ByteCapacity() int64 { return c.capacity }

// ByteSize returns the estimated size of all cached images.
func (c *Cache) ByteSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns the cached keys, oldest first.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]Key, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}
