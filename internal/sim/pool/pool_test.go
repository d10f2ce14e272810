package pool

import (
	"sync"
	"sync/atomic"
	"testing"
)

type scratch struct {
	name string
	n    int
}

func TestPool_ReusesReleasedValues(t *testing.T) {
	var created atomic.Int32
	p := New(func() *scratch {
		created.Add(1)
		return &scratch{}
	}, func(s *scratch) { *s = scratch{} }, 4)

	a := p.Acquire()
	a.name = "a"
	a.n = 7
	p.Release(a)
	if p.Size() != 1 {
		t.Fatalf("size=%d want=1", p.Size())
	}

	b := p.Acquire()
	if b != a {
		t.Fatalf("expected pooled value to be reused")
	}
	if b.name != "" || b.n != 0 {
		t.Fatalf("released value was not reset: %+v", *b)
	}
	if created.Load() != 1 {
		t.Fatalf("created=%d want=1", created.Load())
	}
}

func TestPool_BoundedSize(t *testing.T) {
	p := New(func() *scratch { return &scratch{} }, nil, 2)
	for i := 0; i < 5; i++ {
		p.Release(&scratch{n: i})
	}
	if p.Size() != 2 {
		t.Fatalf("size=%d want=2", p.Size())
	}
	p.Clear()
	if p.Size() != 0 {
		t.Fatalf("size after clear=%d want=0", p.Size())
	}
}

func TestPool_ConcurrentAcquireRelease(t *testing.T) {
	p := New(func() *scratch { return &scratch{} }, func(s *scratch) { s.n = 0 }, 8)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s := p.Acquire()
				if s.n != 0 {
					t.Errorf("acquired dirty value n=%d", s.n)
					return
				}
				s.n = i + 1
				p.Release(s)
			}
		}()
	}
	wg.Wait()
	if p.Size() > p.Cap() {
		t.Fatalf("size=%d exceeds cap=%d", p.Size(), p.Cap())
	}
}
