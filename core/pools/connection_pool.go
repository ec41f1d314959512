package pools

import (
	"sync"
	"sync/atomic"
)

// Resetter is implemented by pooled objects
type Resetter interface {
	Reset()
}

// ConnectionPool recycles connection objects
type ConnectionPool[T Resetter] struct {
	pool sync.Pool
	gets atomic.Uint64
	puts atomic.Uint64
	news atomic.Uint64
}

// NewConnectionPool creates a pool that builds objects with newFunc
func NewConnectionPool[T Resetter](newFunc func() T) *ConnectionPool[T] {
	cp := &ConnectionPool[T]{}
	cp.pool.New = func() any {
		cp.news.Add(1)
		return newFunc()
	}
	return cp
}

// Get retrieves an object from the pool
func (cp *ConnectionPool[T]) Get() T {
	cp.gets.Add(1)
	return cp.pool.Get().(T)
}

// Put resets obj and returns it to the pool
func (cp *ConnectionPool[T]) Put(obj T) {
	obj.Reset()
	cp.puts.Add(1)
	cp.pool.Put(obj)
}

// ConnectionPoolStats contains pool statistics
type ConnectionPoolStats struct {
	Gets    uint64  `json:"gets"`
	Puts    uint64  `json:"puts"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns pool statistics. HitRate is the share of Gets served
// without allocating.
func (cp *ConnectionPool[T]) Stats() ConnectionPoolStats {
	s := ConnectionPoolStats{
		Gets: cp.gets.Load(),
		Puts: cp.puts.Load(),
	}
	if s.Gets > 0 {
		s.HitRate = 1 - float64(cp.news.Load())/float64(s.Gets)
	}
	return s
}
