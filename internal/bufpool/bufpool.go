// Package bufpool provides small generic object pools so the Network
// Worker's 50 ms pass does not allocate scratch buffers on the steady-state
// path.
package bufpool

import "sync"

// Pool wraps sync.Pool with a typed Get/Put surface.
type Pool[T any] struct {
	pool *sync.Pool
}

// New creates a Pool whose zero value is produced by create.
func New[T any](create func() T) *Pool[T] {
	return &Pool[T]{
		pool: &sync.Pool{New: func() any { return create() }},
	}
}

// Get returns a pooled value, creating one if the pool is empty.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns a value to the pool for reuse.
func (p *Pool[T]) Put(v T) {
	p.pool.Put(v)
}

// Bytes is a byte-slice pool bucketed by a fixed capacity. Slices are
// reset to length 0 before reuse; callers re-slice up to cap().
type Bytes struct {
	pool *sync.Pool
}

// NewBytes creates a byte-slice pool whose slices start at capacity cap.
func NewBytes(capacity int) *Bytes {
	return &Bytes{
		pool: &sync.Pool{
			New: func() any {
				return make([]byte, 0, capacity)
			},
		},
	}
}

// Get returns a zero-length slice with spare capacity.
func (b *Bytes) Get() []byte {
	return b.pool.Get().([]byte)[:0]
}

// Put returns buf to the pool.
func (b *Bytes) Put(buf []byte) {
	b.pool.Put(buf[:0])
}
