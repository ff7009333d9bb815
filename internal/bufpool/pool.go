// Package bufpool reuses fixed-size byte buffers for file transfers.
package bufpool

import "sync"

// Pool hands out buffers of exactly one size. Returned buffers are reused
// to keep large-copy loops allocation-free.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a pool of bufSize-byte buffers.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufpool: size must be positive")
	}
	return &Pool{
		bufSize: bufSize,
		pool: sync.Pool{
			New: func() any {
				return make([]byte, bufSize)
			},
		},
	}
}

// Get returns a buffer of the pool's size.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put returns a buffer for reuse. Wrong-size buffers are discarded.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	p.pool.Put(buf[:p.bufSize])
}

// Size returns the buffer size this pool hands out.
func (p *Pool) Size() int { return p.bufSize }
