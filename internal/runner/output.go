package runner

import (
	"sync"
)

// defaultOutputCap bounds captured execution output. Generous enough
// for full tracebacks while keeping a runaway program (an accidental
// `while True: print(...)`) from exhausting orchestrator memory.
const defaultOutputCap = 64 * 1024

// OutputBuffer is a fixed-capacity capture for execution output that
// keeps the tail. Interpreters print their traceback last, so when a
// program floods stdout before crashing, the tail is the part worth
// feeding back.
type OutputBuffer struct {
	buf     []byte
	size    int
	head    int
	full    bool
	dropped int64
	mu      sync.RWMutex
}

// NewOutputBuffer creates a buffer holding at most size bytes.
// Non-positive sizes fall back to the 64KB default.
func NewOutputBuffer(size int) *OutputBuffer {
	if size <= 0 {
		size = defaultOutputCap
	}
	return &OutputBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer. Older bytes are discarded once the
// buffer is full; the discard count is tracked so callers can flag
// truncation in the diagnostic.
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.size {
		// Chunk alone fills the buffer; keep only its tail.
		if b.full {
			b.dropped += int64(b.size)
		} else {
			b.dropped += int64(b.head)
		}
		b.dropped += int64(n - b.size)
		copy(b.buf, p[n-b.size:])
		b.head = 0
		b.full = true
		return n, nil
	}

	for len(p) > 0 {
		written := copy(b.buf[b.head:], p)
		p = p[written:]
		prevHead := b.head
		b.head = (b.head + written) % b.size
		if b.full {
			b.dropped += int64(written)
		} else if b.head <= prevHead {
			// Wrapped for the first time.
			b.full = true
			b.dropped += int64(b.head)
		}
	}
	return n, nil
}

// String returns the captured output, oldest retained byte first.
func (b *OutputBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		return string(b.buf[:b.head])
	}
	return string(b.buf[b.head:]) + string(b.buf[:b.head])
}

// Len returns the number of retained bytes.
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		return b.head
	}
	return b.size
}

// Truncated reports whether any bytes were discarded.
func (b *OutputBuffer) Truncated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped > 0
}

// Dropped returns how many bytes were discarded.
func (b *OutputBuffer) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Capacity returns the maximum number of retained bytes.
func (b *OutputBuffer) Capacity() int {
	return b.size
}
