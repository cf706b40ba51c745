package pkgproxy

// framePool manages reusable byte slices for journal frames.
// It uses a channel-based design for thread-safe access without locks.
type framePool struct {
	pool    chan []byte
	bufSize int
}

// newFramePool creates a pool pre-populated with count buffers of bufSize bytes.
func newFramePool(bufSize, count int) *framePool {
	pool := make(chan []byte, count)
	for i := 0; i < count; i++ {
		pool <- make([]byte, bufSize)
	}
	return &framePool{
		pool:    pool,
		bufSize: bufSize,
	}
}

// get returns a buffer from the pool, or allocates a new one if the pool is empty.
func (fp *framePool) get() []byte {
	select {
	case buf := <-fp.pool:
		return buf
	default:
		return make([]byte, fp.bufSize)
	}
}

// put returns a buffer to the pool. Buffers of another capacity, and buffers
// arriving while the pool is full, are left to the garbage collector.
func (fp *framePool) put(buf []byte) {
	if cap(buf) != fp.bufSize {
		return
	}
	select {
	case fp.pool <- buf[:fp.bufSize]:
	default:
	}
}
