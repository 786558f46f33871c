package bridge

import "sync"

// StderrRingCapacity is the number of recent stderr lines kept for diagnostics.
const StderrRingCapacity = 50

// RingBuffer keeps the last N lines of analyzer stderr so failure reports can
// show why a service died. Appends evict the oldest line once at capacity.
type RingBuffer struct {
	mu       sync.Mutex
	lines    []string
	capacity int
}

// NewRingBuffer creates a ring buffer holding at most capacity lines.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{capacity: capacity}
}

// Append adds a line, evicting the oldest if the buffer is full.
func (r *RingBuffer) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.capacity {
		r.lines = r.lines[len(r.lines)-r.capacity:]
	}
}

// Snapshot returns a copy of the buffered lines, oldest first.
func (r *RingBuffer) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return nil
	}
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Clear drops all buffered lines.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}

// Len returns the number of buffered lines.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}
