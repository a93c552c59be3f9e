package stream

import "sync"

// ring is a fixed-capacity byte ring sitting between the PTY reader and the
// attached client pump. When the ring fills, the oldest bytes are dropped so
// a slow or absent client never stalls the reader.
type ring struct {
	mu    sync.Mutex
	buf   []byte
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]byte, capacity)}
}

// write appends p, overwriting the oldest bytes on overflow. Always reports
// len(p) so it satisfies io.Writer for io.Copy-style plumbing.
func (r *ring) write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.buf)
	if len(p) >= size {
		// Only the tail of p fits; everything older is gone anyway.
		copy(r.buf, p[len(p)-size:])
		r.start = 0
		r.count = size
		return len(p), nil
	}

	for _, c := range p {
		idx := (r.start + r.count) % size
		r.buf[idx] = c
		if r.count == size {
			r.start = (r.start + 1) % size
		} else {
			r.count++
		}
	}
	return len(p), nil
}

// drain returns and removes everything buffered.
func (r *ring) drain() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}
	out := make([]byte, r.count)
	size := len(r.buf)
	first := copy(out, r.buf[r.start:min(r.start+r.count, size)])
	if first < r.count {
		copy(out[first:], r.buf[:r.count-first])
	}
	r.start = 0
	r.count = 0
	return out
}

// length reports how many bytes are buffered.
func (r *ring) length() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
