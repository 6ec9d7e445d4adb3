package mask

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// frameQueue is a fixed-delay ring of predicted frames. The producer writes
// at the write index and advances; the consumer reads the entry at the write
// index, which is the oldest frame and about to be overwritten. After n
// writes (n >= N) a queue of size N therefore serves frame n-N+1, the oldest
// of the last N frames.
type frameQueue struct {
	mu         sync.Mutex
	frames     []gocv.Mat
	writeIndex int
}

// newFrameQueue creates a queue of size zeroed float-BGR frames at the given
// resolution.
func newFrameQueue(size int, resolution image.Point) *frameQueue {
	if size <= 0 {
		panic("mask: frame queue size must be positive")
	}

	q := &frameQueue{frames: make([]gocv.Mat, size)}
	for i := range q.frames {
		q.frames[i] = gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV32FC3)
		q.frames[i].SetTo(gocv.NewScalar(0, 0, 0, 0))
	}
	return q
}

// write copies src into the oldest slot and advances the write index.
func (q *frameQueue) write(src gocv.Mat) {
	q.mu.Lock()
	defer q.mu.Unlock()

	src.CopyTo(&q.frames[q.writeIndex])
	q.writeIndex = (q.writeIndex + 1) % len(q.frames)
}

// read copies the most-delayed frame into dst.
func (q *frameQueue) read(dst *gocv.Mat) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.frames[q.writeIndex].CopyTo(dst)
}

// close releases the queued frames.
func (q *frameQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.frames {
		q.frames[i].Close()
	}
	q.frames = nil
}
