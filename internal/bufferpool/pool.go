// Package bufferpool recycles the buffers replies are encoded into.
package bufferpool

import (
	"bytes"
	"sync"
)

// Pool is the process-wide buffer pool.
var Pool = New()

// BufferPool hands out reusable bytes.Buffer values.
type BufferPool struct {
	pool sync.Pool
}

// New returns an empty BufferPool.
func New() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				return new(bytes.Buffer)
			},
		},
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets buf and returns it to the pool. buf must not be used afterwards.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	p.pool.Put(buf)
}
