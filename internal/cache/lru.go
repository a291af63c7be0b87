package cache

// node is an entry in the recency list.
type node[K comparable, V any] struct {
	key   K
	value V
	prev  *node[K, V]
	next  *node[K, V]
}

// LRU maps keys to values and keeps at most limit entries. When an Add
// exceeds the limit, the least recently used entry is removed and passed to
// the eviction callback.
//
// The head of the recency list is the most recently used entry.
type LRU[K comparable, V any] struct {
	limit   int
	onEvict func(K, V)
	items   map[K]*node[K, V]
	head    *node[K, V]
	tail    *node[K, V]
}

// New creates an LRU holding up to limit entries. A limit <= 0 means
// unbounded. onEvict may be nil.
func New[K comparable, V any](limit int, onEvict func(K, V)) *LRU[K, V] {
	return &LRU[K, V]{
		limit:   limit,
		onEvict: onEvict,
		items:   make(map[K]*node[K, V]),
	}
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	n, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(n)
	return n.value, true
}

// Add stores value under key. A value already stored under key is passed to
// the eviction callback.
func (c *LRU[K, V]) Add(key K, value V) {
	if n, ok := c.items[key]; ok {
		old := n.value
		n.value = value
		c.moveToFront(n)
		c.evicted(key, old)
		return
	}

	n := &node[K, V]{key: key, value: value}
	c.items[key] = n
	c.pushFront(n)

	if c.limit > 0 && len(c.items) > c.limit {
		oldest := c.tail
		c.unlink(oldest)
		delete(c.items, oldest.key)
		c.evicted(oldest.key, oldest.value)
	}
}

// Purge evicts every entry, least recently used first.
func (c *LRU[K, V]) Purge() {
	for c.tail != nil {
		n := c.tail
		c.unlink(n)
		delete(c.items, n.key)
		c.evicted(n.key, n.value)
	}
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	return len(c.items)
}

func (c *LRU[K, V]) evicted(key K, value V) {
	if c.onEvict != nil {
		c.onEvict(key, value)
	}
}

func (c *LRU[K, V]) pushFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *LRU[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}

// unlink removes n from the recency list, leaving the map untouched.
func (c *LRU[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
