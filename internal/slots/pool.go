package slots

import "context"

// Window geometry for a 1920px display split into four columns, carried by
// the browser workers to place their windows side by side.
const (
	WindowWidth  = 480
	WindowHeight = 800
)

// Pool is a fixed-capacity set of reusable display slots. It is a counting
// semaphore over slot indices: at most capacity grants are outstanding at
// any instant, and excess acquirers block until a release.
type Pool struct {
	free chan int
	cap  int
}

// NewPool creates a Pool with the given capacity.
func NewPool(capacity int) *Pool {
	free := make(chan int, capacity)
	for i := 0; i < capacity; i++ {
		free <- i
	}
	return &Pool{free: free, cap: capacity}
}

// Acquire blocks until a slot index is free or ctx ends. Every successful
// Acquire must be paired with exactly one Release on every exit path.
func (p *Pool) Acquire(ctx context.Context) (int, error) {
	select {
	case idx := <-p.free:
		return idx, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// TryAcquire grabs a free slot without blocking, reporting success.
func (p *Pool) TryAcquire() (int, bool) {
	select {
	case idx := <-p.free:
		return idx, true
	default:
		return -1, false
	}
}

// Release returns a slot index to the pool. Indexes outside the pool range
// are ignored.
func (p *Pool) Release(idx int) {
	if idx < 0 || idx >= p.cap {
		return
	}
	p.free <- idx
}

// Capacity returns the fixed pool capacity.
func (p *Pool) Capacity() int {
	return p.cap
}

// Free returns the number of currently unoccupied slots.
func (p *Pool) Free() int {
	return len(p.free)
}

// Offset returns the screen x position for a slot index.
func Offset(idx int) int {
	return idx * WindowWidth
}
