package terminal

import "sync"

// Buffer is a bounded, thread-safe queue of decoded output chunks. It is a
// sliding window: once maxChunks is reached the oldest chunk is evicted, so
// memory stays bounded no matter how much a command prints. The reader
// goroutine appends; the session drains. The mutex is held only for the
// duration of an append or drain, never across I/O.
type Buffer struct {
	mu     sync.Mutex
	chunks []string
	max    int
}

// NewBuffer creates a buffer holding at most maxChunks chunks.
func NewBuffer(maxChunks int) *Buffer {
	if maxChunks <= 0 {
		maxChunks = 1
	}
	return &Buffer{max: maxChunks}
}

// Append adds a chunk, evicting the oldest when the buffer is full.
func (b *Buffer) Append(chunk string) {
	if chunk == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == b.max {
		copy(b.chunks, b.chunks[1:])
		b.chunks = b.chunks[:len(b.chunks)-1]
	}
	b.chunks = append(b.chunks, chunk)
}

// Drain returns a snapshot of all chunks joined in arrival order,
// optionally clearing the buffer.
func (b *Buffer) Drain(clear bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb []byte
	for _, c := range b.chunks {
		sb = append(sb, c...)
	}
	if clear {
		b.chunks = b.chunks[:0]
	}
	return string(sb)
}

// Len returns the current chunk count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
