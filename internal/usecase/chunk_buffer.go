package usecase

import (
	"sync"
	"time"

	"framerecorder/internal/domain"
)

// chunkBuffer accumulates encoder chunks for one recording.
type chunkBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	bytes  int64
	frames int64
}

func newChunkBuffer() *chunkBuffer {
	return &chunkBuffer{}
}

func (b *chunkBuffer) Add(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, chunk)
	b.bytes += int64(len(chunk))
}

func (b *chunkBuffer) CountFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames++
}

func (b *chunkBuffer) Stats(elapsed time.Duration) domain.RecordingStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.RecordingStats{
		Elapsed: elapsed,
		Bytes:   b.bytes,
		Chunks:  len(b.chunks),
		Frames:  b.frames,
	}
}

// Drain joins the buffered chunks into one blob and empties the buffer.
func (b *chunkBuffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	joined := make([]byte, 0, b.bytes)
	for _, chunk := range b.chunks {
		joined = append(joined, chunk...)
	}
	b.chunks = nil
	b.bytes = 0
	return joined
}
