package scramble

import (
	"sync"

	"github.com/pzverkov/quantum-shield/pkg/crypto"
)

// bufferPool hands out scratch buffers for the intermediate XOR stage.
// It uses size classes matched to common image sizes.
type bufferPool struct {
	small  sync.Pool // <= 64KB (thumbnails, icons)
	medium sync.Pool // <= 1MB (web images)
	large  sync.Pool // <= 16MB (camera images up to ~4M RGBA pixels)
}

// Buffer size class thresholds.
const (
	smallBufferSize  = 64 * 1024
	mediumBufferSize = 1024 * 1024
	largeBufferSize  = 16 * 1024 * 1024
)

var scratch = newBufferPool()

func newBufferPool() *bufferPool {
	sized := func(n int) sync.Pool {
		return sync.Pool{
			New: func() any {
				buf := make([]byte, n)
				return &buf
			},
		}
	}
	return &bufferPool{
		small:  sized(smallBufferSize),
		medium: sized(mediumBufferSize),
		large:  sized(largeBufferSize),
	}
}

// get returns a buffer of exactly size bytes, possibly backed by a larger
// pooled array. The caller must return it with put.
func (p *bufferPool) get(size int) []byte {
	if size <= 0 {
		return nil
	}

	var bufPtr *[]byte
	switch {
	case size <= smallBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		// Too large for pool, allocate directly
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// put wipes buf and returns it to its size class. Scratch buffers hold
// key-dependent bytes, so they are cleared even when not pooled.
func (p *bufferPool) put(buf []byte) {
	if buf == nil {
		return
	}
	crypto.Zeroize(buf)

	c := cap(buf)
	buf = buf[:c]
	bufPtr := &buf

	switch c {
	case smallBufferSize:
		p.small.Put(bufPtr)
	case mediumBufferSize:
		p.medium.Put(bufPtr)
	case largeBufferSize:
		p.large.Put(bufPtr)
	// Non-standard sizes were allocated directly and are dropped
	}
}
