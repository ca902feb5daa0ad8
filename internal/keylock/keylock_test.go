package keylock

import (
	"sync"
	"testing"
)

func TestPool_SerializesSameKey(t *testing.T) {
	p := NewPool(8)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := p.Lock("AAPL:5m")
			defer unlock()
			c := counter
			counter = c + 1
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Errorf("expected 100, got %d", counter)
	}
}

func TestPool_Bounded(t *testing.T) {
	tests := []struct {
		shards   int
		expected int
	}{
		{0, DefaultShards},
		{-3, DefaultShards},
		{1, 1},
		{64, 64},
	}
	for _, tt := range tests {
		p := NewPool(tt.shards)
		if p.Size() != tt.expected {
			t.Errorf("NewPool(%d).Size() = %d, expected %d", tt.shards, p.Size(), tt.expected)
		}
		for i := 0; i < 1000; i++ {
			if idx := p.index(string(rune('a' + i%26))); idx >= uint64(p.Size()) {
				t.Fatalf("index %d out of range", idx)
			}
		}
	}
}

func TestPool_DifferentKeysDoNotDeadlock(t *testing.T) {
	p := NewPool(1)
	unlock := p.Lock("a")
	done := make(chan struct{})
	go func() {
		u := p.Lock("b")
		u()
		close(done)
	}()
	unlock()
	<-done
}
