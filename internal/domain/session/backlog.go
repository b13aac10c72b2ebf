package session

// backlog is a fixed-size circular buffer for output produced while no
// bridge is attached. When full, the oldest bytes are overwritten.
// Callers hold the session lock.
type backlog struct {
	data  []byte
	start int
	size  int
}

func newBacklog(capacity int) *backlog {
	return &backlog{data: make([]byte, capacity)}
}

// Write appends p, dropping the oldest bytes once the ring is full
func (b *backlog) Write(p []byte) {
	capacity := len(b.data)
	if capacity == 0 {
		return
	}

	// Only the tail of an oversized write can survive
	if len(p) >= capacity {
		copy(b.data, p[len(p)-capacity:])
		b.start = 0
		b.size = capacity
		return
	}

	end := (b.start + b.size) % capacity
	n := copy(b.data[end:], p)
	copy(b.data, p[n:])

	b.size += len(p)
	if b.size > capacity {
		b.start = (b.start + b.size - capacity) % capacity
		b.size = capacity
	}
}

// Drain returns the buffered bytes in order and empties the ring
func (b *backlog) Drain() []byte {
	if b.size == 0 {
		return nil
	}

	out := make([]byte, b.size)
	n := copy(out, b.data[b.start:min(b.start+b.size, len(b.data))])
	copy(out[n:], b.data[:b.size-n])

	b.start = 0
	b.size = 0
	return out
}

// Len returns the number of buffered bytes
func (b *backlog) Len() int {
	return b.size
}
