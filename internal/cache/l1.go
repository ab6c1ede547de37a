package cache

import (
	"container/list"
	"sync"
	"time"
)

// L1 is the in-process layer: LRU with per-entry TTL, bounded by both entry
// count and total payload bytes.
type L1 struct {
	mu       sync.Mutex
	maxItems int
	maxBytes int64
	ttl      time.Duration

	order *list.List // front = most recent
	items map[string]*list.Element
	bytes int64

	hits   uint64
	misses uint64
	now    func() time.Time
}

type l1Entry struct {
	key      string
	value    []byte
	expires  time.Time
	lastUsed time.Time
}

// NewL1 builds the in-process layer. maxMB bounds total payload size.
func NewL1(maxItems, maxMB int, defaultTTL time.Duration) *L1 {
	if maxItems <= 0 {
		maxItems = 1000
	}
	return &L1{
		maxItems: maxItems,
		maxBytes: int64(maxMB) * 1024 * 1024,
		ttl:      defaultTTL,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the payload for key, or ok=false on miss or expiry. Expired
// entries are removed on access.
func (c *L1) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*l1Entry)
	if c.now().After(ent.expires) {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	ent.lastUsed = c.now()
	c.order.MoveToFront(el)
	c.hits++
	return ent.value, true
}

// Set stores a payload with an explicit TTL; ttl<=0 uses the layer default.
func (c *L1) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	ent := &l1Entry{key: key, value: value, expires: c.now().Add(ttl), lastUsed: c.now()}
	el := c.order.PushFront(ent)
	c.items[key] = el
	c.bytes += int64(len(value))

	for c.order.Len() > c.maxItems || (c.maxBytes > 0 && c.bytes > c.maxBytes) {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

// Delete removes one key.
func (c *L1) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// DeletePrefix removes every key with the given prefix and returns the count.
func (c *L1) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var victims []*list.Element
	for key, el := range c.items {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			victims = append(victims, el)
		}
	}
	for _, el := range victims {
		c.removeLocked(el)
	}
	return len(victims)
}

// Flush clears the layer.
func (c *L1) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.bytes = 0
}

// Len reports the current entry count.
func (c *L1) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats reports hit/miss counters and occupancy.
func (c *L1) Stats() LayerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LayerStats{Hits: c.hits, Misses: c.misses, Entries: c.order.Len(), Bytes: c.bytes}
}

// Hottest returns up to n most-recently-used live entries, newest first. Used
// at shutdown to persist hot entries to the disk layer.
func (c *L1) Hottest(n int) []KV {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]KV, 0, n)
	for el := c.order.Front(); el != nil && len(out) < n; el = el.Next() {
		ent := el.Value.(*l1Entry)
		if c.now().After(ent.expires) {
			continue
		}
		out = append(out, KV{Key: ent.key, Value: ent.value, Expires: ent.expires})
	}
	return out
}

func (c *L1) removeLocked(el *list.Element) {
	ent := el.Value.(*l1Entry)
	c.order.Remove(el)
	delete(c.items, ent.key)
	c.bytes -= int64(len(ent.value))
}

// KV is one cache entry with its expiry.
type KV struct {
	Key     string
	Value   []byte
	Expires time.Time
}

// LayerStats summarizes one layer.
type LayerStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}
