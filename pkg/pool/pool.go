// Package pool provides type-safe object pooling for buffers that are
// reused across candidate reads. It wraps sync.Pool with a typed API and
// usage statistics.
//
// Example usage:
//
//	buffers := pool.NewIndexBuffers(256)
//	buf := buffers.Get(n)
//	defer buffers.Put(buf)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and automatic reset. The pool
// is safe for concurrent use.
//
// Pointer types are recommended for T so that Put does not allocate.
type Pool[T any] struct {
	pool  sync.Pool
	new   func() T
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The reset function is optional and runs before an object re-enters the pool.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{
		new:   new,
		reset: reset,
	}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object from the pool, allocating one when the pool is
// empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the number of objects created by the pool, the number
// currently checked out and the number of Get calls. Gets minus allocated
// approximates the hit count.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.gets)
}

// IndexBuffers pools scratch slices of candidate indices.
type IndexBuffers struct {
	size int
	p    *Pool[*[]int64]
}

// NewIndexBuffers returns a pool whose fresh buffers hold size indices.
func NewIndexBuffers(size int) *IndexBuffers {
	if size < 1 {
		size = 1
	}
	return &IndexBuffers{
		size: size,
		p: New(
			func() *[]int64 {
				b := make([]int64, size)
				return &b
			},
			nil,
		),
	}
}

// Get returns a buffer of exactly n indices.
func (b *IndexBuffers) Get(n int) *[]int64 {
	buf := b.p.Get()
	if cap(*buf) < n {
		*buf = make([]int64, n)
	}
	*buf = (*buf)[:n]
	return buf
}

// Put returns a buffer obtained from Get.
func (b *IndexBuffers) Put(buf *[]int64) {
	if buf == nil {
		return
	}
	b.p.Put(buf)
}

// Stats exposes the underlying pool statistics.
func (b *IndexBuffers) Stats() (allocated, inUse, gets int64) {
	return b.p.Stats()
}
