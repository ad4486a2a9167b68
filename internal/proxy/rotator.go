package proxy

import (
	"fmt"
	"sync"
)

// Rotator hands out proxy endpoints in pure round-robin order. Entries are
// never removed or deprioritized; a proxy that fails downstream is the
// caller's problem.
type Rotator struct {
	mu     sync.Mutex
	pool   []string
	cursor int
}

// NewRotator creates a Rotator over the given endpoint list.
func NewRotator(endpoints []string) *Rotator {
	pool := make([]string, len(endpoints))
	copy(pool, endpoints)
	return &Rotator{pool: pool}
}

// FromRange builds a rotator over host:port for every port in [lo, hi].
func FromRange(host string, lo, hi int) *Rotator {
	var endpoints []string
	for port := lo; port <= hi; port++ {
		endpoints = append(endpoints, fmt.Sprintf("%s:%d", host, port))
	}
	return NewRotator(endpoints)
}

// Next returns the next endpoint in pool order, wrapping modulo the pool
// size. Returns "" on an empty pool.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pool) == 0 {
		return ""
	}
	p := r.pool[r.cursor%len(r.pool)]
	r.cursor++
	return p
}

// Size returns the number of configured endpoints.
func (r *Rotator) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}
