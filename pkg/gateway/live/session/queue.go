package session

import "sync"

// frameQueue is a bounded FIFO of audio chunks. Push never blocks: when the
// queue is full the oldest chunk is discarded.
type frameQueue struct {
	mu     sync.Mutex
	frames [][]byte
	limit  int
	ready  chan struct{}
}

func newFrameQueue(limit int) *frameQueue {
	if limit <= 0 {
		limit = 1
	}
	return &frameQueue{
		frames: make([][]byte, 0, limit),
		limit:  limit,
		ready:  make(chan struct{}, 1),
	}
}

// Push appends a chunk and reports how many chunks were dropped to make room.
func (q *frameQueue) Push(frame []byte) int {
	q.mu.Lock()
	dropped := 0
	for len(q.frames) >= q.limit {
		q.frames[0] = nil
		q.frames = q.frames[1:]
		dropped++
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()
	q.signal()
	return dropped
}

// Pop removes the oldest chunk.
func (q *frameQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return f, true
}

// Unpop puts a chunk back at the head. It reports false, discarding the
// chunk, when newer chunks already filled the queue.
func (q *frameQueue) Unpop(frame []byte) bool {
	q.mu.Lock()
	ok := len(q.frames) < q.limit
	if ok {
		q.frames = append([][]byte{frame}, q.frames...)
	}
	q.mu.Unlock()
	q.signal()
	return ok
}

// Flush discards every queued chunk and returns how many there were.
func (q *frameQueue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.frames = make([][]byte, 0, q.limit)
	return n
}

func (q *frameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Ready is signaled after a Push. Consumers drain with Pop until empty and
// then wait on Ready again.
func (q *frameQueue) Ready() <-chan struct{} { return q.ready }

func (q *frameQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
