//go:build linux || darwin

package poller

import (
	"testing"

	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	unix.SetNonblock(p[0], true)
	unix.SetNonblock(p[1], true)
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestPollerReadable(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	r, w := newPipe(t)
	if err := p.Add(r, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	events, err := p.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events on empty pipe, got %+v", events)
	}

	unix.Write(w, []byte("x"))
	events, err = p.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 || events[0].Fd != r || !events[0].Readable {
		t.Fatalf("expected readable event for fd %d, got %+v", r, events)
	}
}

func TestPollerModifyRearms(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	r, w := newPipe(t)
	unix.Write(w, []byte("x"))
	if err := p.Add(r, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if events, _ := p.Wait(1000); len(events) != 1 {
		t.Fatalf("expected one event, got %+v", events)
	}

	// Edge-triggered: nothing new arrived, so nothing is reported.
	if events, _ := p.Wait(0); len(events) != 0 {
		t.Fatalf("expected no repeated event, got %+v", events)
	}

	// Re-arming reports the pending byte again.
	if err := p.Modify(r, Readable); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if events, _ := p.Wait(1000); len(events) != 1 || !events[0].Readable {
		t.Fatalf("expected readable after re-arm, got %+v", events)
	}
}

func TestPollerWritableAndRemove(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	_, w := newPipe(t)
	if err := p.Add(w, Writable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	events, _ := p.Wait(1000)
	if len(events) != 1 || !events[0].Writable {
		t.Fatalf("expected writable event, got %+v", events)
	}

	if err := p.Remove(w); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := p.Modify(w, Writable); err == nil {
		t.Fatal("expected Modify of removed fd to fail")
	}
}

func TestPollerRejectsEmptyInterest(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	r, _ := newPipe(t)
	if err := p.Add(r, 0); err != ErrNoInterest {
		t.Fatalf("expected ErrNoInterest, got %v", err)
	}
}
