package scripted

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
)

// vmSlot is one reusable JavaScript runtime together with the callables it
// has already evaluated, keyed by compiled program. goja runtimes are not
// safe for concurrent use, so a slot is owned exclusively between acquire
// and release.
type vmSlot struct {
	rt  *goja.Runtime
	fns map[*goja.Program]goja.Callable
}

func (s *vmSlot) callable(prog *goja.Program) (goja.Callable, error) {
	if fn, ok := s.fns[prog]; ok {
		return fn, nil
	}
	value, err := s.rt.RunProgram(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("script did not evaluate to a function")
	}
	s.fns[prog] = fn
	return fn, nil
}

// VMPool manages a bounded set of reusable JavaScript runtimes so scripted
// policies can execute from parallel runs without contending on one VM.
type VMPool struct {
	slots       chan *vmSlot
	maxSize     int
	currentSize int32
	mu          sync.Mutex
	closed      bool
}

// NewVMPool creates a pool holding at most maxSize runtimes. Runtimes are
// created lazily on demand.
func NewVMPool(maxSize int) *VMPool {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &VMPool{
		slots:   make(chan *vmSlot, maxSize),
		maxSize: maxSize,
	}
}

// acquire returns an idle runtime, creating one if the pool is below its
// ceiling, otherwise blocking until a runtime is released.
func (p *VMPool) acquire() (*vmSlot, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	p.mu.Unlock()

	select {
	case slot, ok := <-p.slots:
		if !ok {
			return nil, fmt.Errorf("pool is closed")
		}
		return slot, nil
	default:
	}

	if int(atomic.LoadInt32(&p.currentSize)) < p.maxSize {
		atomic.AddInt32(&p.currentSize, 1)
		return &vmSlot{
			rt:  goja.New(),
			fns: make(map[*goja.Program]goja.Callable),
		}, nil
	}

	slot, ok := <-p.slots
	if !ok {
		return nil, fmt.Errorf("pool is closed")
	}
	return slot, nil
}

// release returns a runtime to the pool.
func (p *VMPool) release(slot *vmSlot) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	select {
	case p.slots <- slot:
	default:
		// Pool channel full; drop the runtime.
		atomic.AddInt32(&p.currentSize, -1)
	}
}

// Close closes the pool. Outstanding runtimes are dropped on release.
func (p *VMPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.slots)
	for range p.slots {
	}
	return nil
}
