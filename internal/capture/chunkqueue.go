package capture

import "sync"

// chunkQueue buffers the chunks a device pump produces during one burst
// and serves them to Peek/Consume in arrival order. Chunk boundaries are
// preserved: each Peek exposes at most one pump chunk, matching how the
// hardware hands out whatever a read cycle delivered.
type chunkQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	chunks  [][]byte
	off     int // consumed prefix of chunks[0]
	ended   bool
	stopped bool
	err     error
}

func newChunkQueue() *chunkQueue {
	q := &chunkQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push copies p onto the queue and wakes a blocked Peek. No-op after the
// burst has ended or been stopped.
func (q *chunkQueue) push(p []byte) {
	if len(p) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended || q.stopped {
		return
	}
	c := make([]byte, len(p))
	copy(c, p)
	q.chunks = append(q.chunks, c)
	q.cond.Signal()
}

// finish marks the burst complete, recording err if the device failed.
func (q *chunkQueue) finish(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return
	}
	q.ended = true
	if q.err == nil {
		q.err = err
	}
	q.cond.Broadcast()
}

// Peek blocks until a chunk is pending or the burst is over. ended is
// reported only alongside the final pending chunk so no buffered data is
// lost when the caller breaks its read loop.
func (q *chunkQueue) Peek() (data []byte, ended bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.chunks) == 0 && !q.ended && !q.stopped {
		q.cond.Wait()
	}
	if len(q.chunks) == 0 {
		return nil, true
	}
	last := len(q.chunks) == 1 && (q.ended || q.stopped)
	return q.chunks[0][q.off:], last
}

// Consume advances past n bytes of the current view.
func (q *chunkQueue) Consume(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.chunks) == 0 {
		return
	}
	q.off += n
	if q.off >= len(q.chunks[0]) {
		q.chunks = q.chunks[1:]
		q.off = 0
	}
}

// Err reports the device error recorded by finish.
func (q *chunkQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Stop unblocks Peek and discards anything still queued.
func (q *chunkQueue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.chunks = nil
	q.off = 0
	q.cond.Broadcast()
	return nil
}

// pending reports how many bytes are queued but unconsumed.
func (q *chunkQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := -q.off
	for _, c := range q.chunks {
		total += len(c)
	}
	if total < 0 {
		return 0
	}
	return total
}
