package logging

import (
	"os"
	"sync"
)

// CrashRing is a thread-safe circular byte buffer holding the most recent
// log output. It implements io.Writer and silently overwrites the oldest
// data when full, so a crash dump always has the tail of the log.
type CrashRing struct {
	mu      sync.Mutex
	data    []byte
	head    int
	wrapped bool
}

// NewCrashRing creates a ring holding at most size bytes.
func NewCrashRing(size int) *CrashRing {
	if size <= 0 {
		size = 4 * 1024 * 1024
	}
	return &CrashRing{data: make([]byte, size)}
}

// Write implements io.Writer. Writes wrap around when the ring is full.
func (r *CrashRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	size := len(r.data)

	// Oversized write: only the last size bytes can survive anyway.
	if n >= size {
		copy(r.data, p[n-size:])
		r.head = 0
		r.wrapped = true
		return n, nil
	}

	tail := size - r.head
	if n <= tail {
		copy(r.data[r.head:], p)
		r.head += n
		if r.head == size {
			r.head = 0
			r.wrapped = true
		}
		return n, nil
	}

	copy(r.data[r.head:], p[:tail])
	copy(r.data, p[tail:])
	r.head = n - tail
	r.wrapped = true
	return n, nil
}

// Bytes returns the ring contents in chronological order.
func (r *CrashRing) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.wrapped {
		out := make([]byte, r.head)
		copy(out, r.data[:r.head])
		return out
	}

	size := len(r.data)
	out := make([]byte, size)
	copy(out, r.data[r.head:])
	copy(out[size-r.head:], r.data[:r.head])
	return out
}

// DumpToFile writes the ring contents to path in chronological order.
func (r *CrashRing) DumpToFile(path string) error {
	return os.WriteFile(path, r.Bytes(), 0o644)
}
