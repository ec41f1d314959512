//go:build darwin || freebsd

package poller

import (
	"golang.org/x/sys/unix"
)

// KqueuePoller is a kqueue-based I/O multiplexer
type KqueuePoller struct {
	kqfd     int
	events   []unix.Kevent_t
	ready    []Event
	index    map[int]int
	interest map[int]Interest
}

// NewPoller creates a new Poller (BSD/macOS)
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kqfd)

	return &KqueuePoller{
		kqfd:     kqfd,
		events:   make([]unix.Kevent_t, 1024),
		ready:    make([]Event, 0, 1024),
		index:    make(map[int]int),
		interest: make(map[int]Interest),
	}, nil
}

// apply enables the filters in interest and deletes the ones in old that are
// no longer wanted. EV_CLEAR gives edge-triggered semantics.
func (p *KqueuePoller) apply(fd int, old, interest Interest) error {
	changes := make([]unix.Kevent_t, 0, 2)
	filters := [...]struct {
		bit    Interest
		filter int16
	}{{Readable, unix.EVFILT_READ}, {Writable, unix.EVFILT_WRITE}}

	for _, f := range filters {
		var ev unix.Kevent_t
		switch {
		case interest.Has(f.bit):
			unix.SetKevent(&ev, fd, int(f.filter), unix.EV_ADD|unix.EV_ENABLE|unix.EV_CLEAR)
		case old.Has(f.bit):
			unix.SetKevent(&ev, fd, int(f.filter), unix.EV_DELETE)
		default:
			continue
		}
		changes = append(changes, ev)
	}

	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

// Add adds a file descriptor to the watch list
func (p *KqueuePoller) Add(fd int, interest Interest) error {
	if interest == 0 {
		return ErrNoInterest
	}
	if err := p.apply(fd, 0, interest); err != nil {
		return err
	}
	p.interest[fd] = interest
	return nil
}

// Modify replaces the interest set of a watched descriptor
func (p *KqueuePoller) Modify(fd int, interest Interest) error {
	if interest == 0 {
		return ErrNoInterest
	}
	old, ok := p.interest[fd]
	if !ok {
		return unix.ENOENT
	}
	if err := p.apply(fd, old, interest); err != nil {
		return err
	}
	p.interest[fd] = interest
	return nil
}

// Remove removes a file descriptor from the watch list
func (p *KqueuePoller) Remove(fd int) error {
	old, ok := p.interest[fd]
	if !ok {
		return unix.ENOENT
	}
	delete(p.interest, fd)
	return p.apply(fd, old, 0)
}

// Wait waits for I/O events. Read and write filters firing for the same
// descriptor are merged into one Event.
func (p *KqueuePoller) Wait(timeout int) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout) * 1_000_000)
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	p.ready = p.ready[:0]
	clear(p.index)
	for i := 0; i < n; i++ {
		kev := &p.events[i]
		fd := int(kev.Ident)
		idx, seen := p.index[fd]
		if !seen {
			idx = len(p.ready)
			p.index[fd] = idx
			p.ready = append(p.ready, Event{Fd: fd})
		}
		ev := &p.ready[idx]
		switch kev.Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
		if kev.Flags&unix.EV_EOF != 0 {
			ev.Hangup = true
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			ev.Error = true
		}
	}

	return p.ready, nil
}

// Close closes the Poller
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
