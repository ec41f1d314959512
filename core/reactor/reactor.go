// Package reactor implements the single-threaded event loop. Run is the only
// blocking call in the serving core; every callback executes on the goroutine
// that called Run, one at a time.
package reactor

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/searchktools/wind/core/poller"
)

var (
	// ErrInvalidDescriptor is returned when registering a closed or negative
	// descriptor, or an empty interest set
	ErrInvalidDescriptor = errors.New("reactor: invalid descriptor")
	// ErrAlreadyRunning is returned by a second concurrent Run
	ErrAlreadyRunning = errors.New("reactor: already running")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("reactor: closed")
)

// DefaultPollTimeout bounds each readiness wait so tick hooks run regularly
const DefaultPollTimeout = 100 * time.Millisecond

// Callback handles readiness of one descriptor
type Callback func(ev poller.Event)

type registration struct {
	interest poller.Interest
	cb       Callback
}

// Reactor multiplexes readiness across registered descriptors
type Reactor struct {
	poller  poller.Poller
	regs    map[int]*registration
	ticks   []func(now time.Time)
	timeout time.Duration
	log     zerolog.Logger

	running  atomic.Bool
	stopping atomic.Bool
	stopped  atomic.Bool
	closed   bool

	// posted work, guarded by mu; wake pipe interrupts Wait
	mu     sync.Mutex
	posted []func()
	spare  []func()
	wakeR  int
	wakeW  int
	woken  atomic.Bool
}

// Option configures a Reactor
type Option func(*Reactor)

// WithPollTimeout sets the upper bound of a single readiness wait
func WithPollTimeout(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used for recovered callback panics
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reactor) {
		r.log = l
	}
}

// New creates a reactor backed by the platform poller
func New(opts ...Option) (*Reactor, error) {
	p, err := poller.NewPoller()
	if err != nil {
		return nil, fmt.Errorf("reactor: create poller: %w", err)
	}

	r := &Reactor{
		poller:  p,
		regs:    make(map[int]*registration, 1024),
		timeout: DefaultPollTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		p.Close()
		return nil, fmt.Errorf("reactor: wake pipe: %w", err)
	}
	r.wakeR, r.wakeW = fds[0], fds[1]
	for _, fd := range fds {
		unix.SetNonblock(fd, true)
		unix.CloseOnExec(fd)
	}
	if err := p.Add(r.wakeR, poller.Readable); err != nil {
		r.Close()
		return nil, fmt.Errorf("reactor: watch wake pipe: %w", err)
	}

	return r, nil
}

// Register watches fd for interest and routes its events to cb, replacing
// any existing registration for fd.
func (r *Reactor) Register(fd int, interest poller.Interest, cb Callback) error {
	if r.closed {
		return ErrClosed
	}
	if fd < 0 || interest == 0 || cb == nil {
		return ErrInvalidDescriptor
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return fmt.Errorf("%w: fd %d: %v", ErrInvalidDescriptor, fd, err)
	}

	if reg, ok := r.regs[fd]; ok {
		if err := r.poller.Modify(fd, interest); err != nil {
			return fmt.Errorf("reactor: modify fd %d: %w", fd, err)
		}
		reg.interest = interest
		reg.cb = cb
		return nil
	}

	if err := r.poller.Add(fd, interest); err != nil {
		if !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("reactor: add fd %d: %w", fd, err)
		}
		if err := r.poller.Modify(fd, interest); err != nil {
			return fmt.Errorf("reactor: modify fd %d: %w", fd, err)
		}
	}
	r.regs[fd] = &registration{interest: interest, cb: cb}
	return nil
}

// Interest returns the current interest set of fd, 0 when not registered
func (r *Reactor) Interest(fd int) poller.Interest {
	if reg, ok := r.regs[fd]; ok {
		return reg.interest
	}
	return 0
}

// Unregister stops watching fd. Unknown descriptors are ignored.
func (r *Reactor) Unregister(fd int) {
	if _, ok := r.regs[fd]; !ok {
		return
	}
	delete(r.regs, fd)
	// The descriptor may already be closed, which removes it from the
	// kernel set on its own.
	r.poller.Remove(fd)
}

// Len returns the number of registered descriptors
func (r *Reactor) Len() int {
	return len(r.regs)
}

// OnTick adds a hook that runs once per loop round, after dispatch.
// Must be called before Run or from the reactor goroutine.
func (r *Reactor) OnTick(fn func(now time.Time)) {
	r.ticks = append(r.ticks, fn)
}

// Post schedules fn on the reactor goroutine. Safe for concurrent use.
// It returns false once the reactor has stopped.
func (r *Reactor) Post(fn func()) bool {
	if r.stopped.Load() {
		return false
	}
	r.mu.Lock()
	r.posted = append(r.posted, fn)
	r.mu.Unlock()
	r.wake()
	return true
}

// Stop asks Run to return after the current round. Safe for concurrent use.
func (r *Reactor) Stop() {
	r.stopping.Store(true)
	r.wake()
}

// Running reports whether Run is executing
func (r *Reactor) Running() bool {
	return r.running.Load()
}

// Run dispatches readiness events until Stop is called
func (r *Reactor) Run() error {
	if r.closed {
		return ErrClosed
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	r.stopped.Store(false)
	defer r.stopped.Store(true)

	for !r.stopping.Load() {
		timeout := int(r.timeout / time.Millisecond)
		if r.pending() {
			timeout = 0
		}

		events, err := r.poller.Wait(timeout)
		if err != nil {
			return fmt.Errorf("reactor: wait: %w", err)
		}

		for _, ev := range events {
			if ev.Fd == r.wakeR {
				r.drainWake()
				continue
			}
			// Looked up per event: an earlier callback in this round
			// may have unregistered the descriptor.
			reg, ok := r.regs[ev.Fd]
			if !ok {
				continue
			}
			r.invoke(func() { reg.cb(ev) })
		}

		r.runPosted()

		now := time.Now()
		for _, fn := range r.ticks {
			r.invoke(func() { fn(now) })
		}
	}

	r.stopping.Store(false)
	return nil
}

// Close releases the poller and the wake pipe. The reactor must not be running.
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.stopped.Store(true)
	unix.Close(r.wakeR)
	unix.Close(r.wakeW)
	return r.poller.Close()
}

func (r *Reactor) invoke(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("reactor callback panicked")
		}
	}()
	fn()
}

func (r *Reactor) pending() bool {
	r.mu.Lock()
	n := len(r.posted)
	r.mu.Unlock()
	return n > 0
}

func (r *Reactor) runPosted() {
	r.mu.Lock()
	batch := r.posted
	r.posted = r.spare[:0]
	r.mu.Unlock()

	for i, fn := range batch {
		r.invoke(fn)
		batch[i] = nil
	}
	r.spare = batch[:0]
}

func (r *Reactor) wake() {
	if r.woken.CompareAndSwap(false, true) {
		unix.Write(r.wakeW, []byte{1})
	}
}

func (r *Reactor) drainWake() {
	r.woken.Store(false)
	var buf [64]byte
	for {
		n, err := unix.Read(r.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
