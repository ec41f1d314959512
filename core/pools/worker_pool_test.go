package pools

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_Basic(t *testing.T) {
	pool := NewWorkerPool(4)

	var counter atomic.Int64
	for i := 0; i < 100; i++ {
		if !pool.Submit(func() { counter.Add(1) }) {
			t.Fatalf("submit %d rejected", i)
		}
	}

	// Close drains queued tasks
	pool.Close()

	if counter.Load() != 100 {
		t.Errorf("Expected 100 tasks completed, got %d", counter.Load())
	}
	if stats := pool.Stats(); stats.TasksCompleted != 100 || stats.TasksPending != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestWorkerPool_WorkStealing(t *testing.T) {
	pool := NewWorkerPool(4)

	var counter atomic.Int64
	for i := 0; i < 100; i++ {
		i := i
		pool.Submit(func() {
			if i%10 == 0 {
				time.Sleep(10 * time.Millisecond) // Some tasks are slower
			}
			counter.Add(1)
		})
	}
	pool.Close()

	stats := pool.Stats()
	if stats.TasksCompleted < 100 {
		t.Errorf("Expected 100 tasks completed, got %d", stats.TasksCompleted)
	}
	if stats.StealsSuccess == 0 {
		t.Log("Warning: No successful steals detected")
	}
}

func TestWorkerPool_RejectsWhenFull(t *testing.T) {
	pool := NewWorkerPoolWithQueue(1, 1)
	defer pool.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-release
	})
	<-started

	if !pool.Submit(func() {}) {
		t.Fatal("expected the queue to take one task")
	}
	if pool.Submit(func() {}) {
		t.Error("expected rejection with a full queue, never inline execution")
	}
	close(release)
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()

	if pool.Submit(func() {}) {
		t.Error("closed pool must reject tasks")
	}
	if pool.Stats().TasksRejected != 1 {
		t.Errorf("expected 1 rejection, got %d", pool.Stats().TasksRejected)
	}
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(8)
	var wg sync.WaitGroup

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			wg.Add(1)
			if !pool.Submit(func() { wg.Done() }) {
				wg.Done()
			}
		}
	})
	wg.Wait()
	pool.Close()
}
