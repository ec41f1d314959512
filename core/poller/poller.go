package poller

import "errors"

// Interest is the set of readiness conditions a descriptor is watched for
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable

	ReadWrite = Readable | Writable
)

// Has reports whether all bits of o are set in i
func (i Interest) Has(o Interest) bool {
	return i&o == o
}

func (i Interest) String() string {
	switch i {
	case Readable:
		return "r"
	case Writable:
		return "w"
	case ReadWrite:
		return "rw"
	default:
		return "-"
	}
}

// Event is one readiness notification returned by Wait
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	// Hangup is set when the peer shut down its write side or the
	// socket was fully closed.
	Hangup bool
	Error  bool
}

// ErrNoInterest is returned when a descriptor is added with an empty interest set
var ErrNoInterest = errors.New("poller: empty interest set")

// Poller is the I/O multiplexing interface.
//
// Implementations are edge-triggered: a descriptor is reported once per
// readiness transition, so callers drain until EAGAIN or re-arm with
// Modify, which reports the current readiness again.
type Poller interface {
	Add(fd int, interest Interest) error
	Modify(fd int, interest Interest) error
	Remove(fd int) error
	Wait(timeout int) ([]Event, error)
	Close() error
}
