// Package cache provides a size-bounded LRU map for resources that must be
// released explicitly when they leave the cache.
//
//	tables := cache.New[*stencil.Table, *buffers](64, func(_ *stencil.Table, b *buffers) {
//	    b.release()
//	})
//	tables.Add(t, upload(t))
//	b, ok := tables.Get(t)
//
// # Thread Safety
//
// LRU is not safe for concurrent use. Owners guard it with their own lock,
// which usually also protects the resources it holds.
package cache
