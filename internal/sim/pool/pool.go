package pool

// Pool is a bounded free list of reusable values. Acquire never blocks: an
// empty pool falls back to the factory, and Release drops values once the
// pool already holds maxSize of them.
type Pool[T any] struct {
	free    chan T
	factory func() T
	reset   func(T)
}

func New[T any](factory func() T, reset func(T), maxSize int) *Pool[T] {
	if factory == nil {
		panic("pool: nil factory")
	}
	if maxSize < 0 {
		maxSize = 0
	}
	return &Pool[T]{
		free:    make(chan T, maxSize),
		factory: factory,
		reset:   reset,
	}
}

func (p *Pool[T]) Acquire() T {
	select {
	case v := <-p.free:
		return v
	default:
		return p.factory()
	}
}

// Release resets v and keeps it for reuse. The caller must not touch v
// afterwards.
func (p *Pool[T]) Release(v T) {
	if p.reset != nil {
		p.reset(v)
	}
	select {
	case p.free <- v:
	default:
	}
}

func (p *Pool[T]) Size() int { return len(p.free) }

func (p *Pool[T]) Cap() int { return cap(p.free) }

func (p *Pool[T]) Clear() {
	for {
		select {
		case <-p.free:
		default:
			return
		}
	}
}
