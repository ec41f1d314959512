//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based I/O multiplexer
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
	ready  []Event
}

// NewPoller creates a new Poller (Linux)
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 1024),
		ready:  make([]Event, 0, 1024),
	}, nil
}

func epollMask(interest Interest) uint32 {
	// EPOLLRDHUP: detect peer shutdown
	mask := uint32(unix.EPOLLET | unix.EPOLLRDHUP)
	if interest.Has(Readable) {
		mask |= unix.EPOLLIN
	}
	if interest.Has(Writable) {
		mask |= unix.EPOLLOUT
	}
	return mask
}

// Add adds a file descriptor to the watch list
func (p *EpollPoller) Add(fd int, interest Interest) error {
	if interest == 0 {
		return ErrNoInterest
	}
	ev := unix.EpollEvent{Events: epollMask(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify replaces the interest set of a watched descriptor
func (p *EpollPoller) Modify(fd int, interest Interest) error {
	if interest == 0 {
		return ErrNoInterest
	}
	ev := unix.EpollEvent{Events: epollMask(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove removes a file descriptor from the watch list
func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait waits for I/O events. The returned slice is reused by the next call.
func (p *EpollPoller) Wait(timeout int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		e := p.events[i].Events
		p.ready = append(p.ready, Event{
			Fd:       int(p.events[i].Fd),
			Readable: e&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: e&unix.EPOLLOUT != 0,
			Hangup:   e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
			Error:    e&unix.EPOLLERR != 0,
		})
	}

	return p.ready, nil
}

// Close closes the Poller
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}
