package lattice

import (
	"sync"
	"sync/atomic"
)

// Pool.go recycles Array node buffers instead of leaving every mutation's
// throwaway clone to the garbage collector. Grounded directly on the
// teacher's NodePool.go (sync.Pool plus an atomic size counter capped at
// MaxSize, Get/Put pair, a reset helper run on every return), collapsed
// from two pools (internal/leaf) to one since this design has a single
// universal node type (C3's Array).
type nodePool struct {
	pool    *sync.Pool
	size    int64
	maxSize int64
}

func newNodePool(maxSize int64) *nodePool {
	np := &nodePool{maxSize: maxSize}
	np.pool = &sync.Pool{
		New: func() interface{} { return &Array{} },
	}
	for i := int64(0); i < maxSize/2; i++ {
		np.pool.Put(&Array{})
	}
	return np
}

// Get returns a recycled Array, resetting its fields, decrementing the
// tracked pool size.
func (np *nodePool) Get() *Array {
	a := np.pool.Get().(*Array)
	if atomic.LoadInt64(&np.size) > 0 {
		atomic.AddInt64(&np.size, -1)
	}
	return resetArray(a)
}

// Put returns a no-longer-referenced Array to the pool, dropping it instead
// when the pool is already at capacity.
func (np *nodePool) Put(a *Array) {
	if atomic.LoadInt64(&np.size) < np.maxSize {
		np.pool.Put(resetArray(a))
		atomic.AddInt64(&np.size, 1)
	}
}

func resetArray(a *Array) *Array {
	a.Interior, a.HasRefs, a.Context, a.Signed = false, false, false, false
	a.Elems = a.Elems[:0]
	return a
}
