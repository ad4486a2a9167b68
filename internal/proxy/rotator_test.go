package proxy

import (
	"sync"
	"testing"
)

func TestNext_PureRoundRobin(t *testing.T) {
	endpoints := []string{"127.0.0.1:7891", "127.0.0.1:7892", "127.0.0.1:7893"}
	r := NewRotator(endpoints)

	for i := 0; i < len(endpoints); i++ {
		if got := r.Next(); got != endpoints[i] {
			t.Errorf("call %d: got %q, want %q", i, got, endpoints[i])
		}
	}
	// The (P+1)-th call wraps to the first entry.
	if got := r.Next(); got != endpoints[0] {
		t.Errorf("wrap call: got %q, want %q", got, endpoints[0])
	}
}

func TestNext_EmptyPool(t *testing.T) {
	r := NewRotator(nil)
	if got := r.Next(); got != "" {
		t.Errorf("expected empty sentinel, got %q", got)
	}
}

func TestFromRange(t *testing.T) {
	r := FromRange("127.0.0.1", 7891, 7972)
	if r.Size() != 82 {
		t.Fatalf("expected 82 endpoints, got %d", r.Size())
	}
	if got := r.Next(); got != "127.0.0.1:7891" {
		t.Errorf("expected first endpoint 127.0.0.1:7891, got %q", got)
	}
}

func TestNext_ConcurrentCallsCoverPoolEvenly(t *testing.T) {
	endpoints := []string{"a", "b", "c", "d"}
	r := NewRotator(endpoints)

	const rounds = 25
	var mu sync.Mutex
	counts := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < rounds*len(endpoints); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := r.Next()
			mu.Lock()
			counts[p]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, e := range endpoints {
		if counts[e] != rounds {
			t.Errorf("endpoint %q handed out %d times, want %d", e, counts[e], rounds)
		}
	}
}
