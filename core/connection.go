package core

import (
	"errors"
	"io"
	"time"

	"github.com/searchktools/wind/core/http"
	"github.com/searchktools/wind/core/poller"
	"github.com/searchktools/wind/core/reactor"
	"github.com/searchktools/wind/core/socket"
)

// State is the lifecycle position of a connection
type State uint8

// Connection states. The zero value is a pooled, unattached connection.
const (
	StateClosed State = iota
	StateAwaitingRequestLine
	StateReadingHeaders
	StateReadingBody
	StateDispatched
	StateWritingResponse
	StateIdleKeepAlive
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequestLine:
		return "awaiting-request-line"
	case StateReadingHeaders:
		return "reading-headers"
	case StateReadingBody:
		return "reading-body"
	case StateDispatched:
		return "dispatched"
	case StateWritingResponse:
		return "writing-response"
	case StateIdleKeepAlive:
		return "idle-keep-alive"
	default:
		return "closed"
	}
}

type closeReason uint8

const (
	closeDone closeReason = iota
	closePeer
	closeTransport
	closeIdle
	closeHandlerTimeout
	closeHandlerFailure
	closeShutdown
)

func (r closeReason) String() string {
	switch r {
	case closePeer:
		return "peer closed"
	case closeTransport:
		return "transport error"
	case closeIdle:
		return "idle timeout"
	case closeHandlerTimeout:
		return "handler timeout"
	case closeHandlerFailure:
		return "handler failure"
	case closeShutdown:
		return "shutdown"
	default:
		return "done"
	}
}

// Connection is one accepted client. All of its state is owned by the
// reactor goroutine. Requests are served one at a time: pipelined requests
// stay buffered until the outstanding exchange finishes, which keeps
// responses in request order.
type Connection struct {
	srv  *Server
	sock *socket.Socket
	fd   int
	cb   reactor.Callback

	// gen changes on every close so continuations can detect reuse
	gen   uint64
	state State

	in       []byte
	out      [][]byte
	outLen   int
	parser   *http.Parser
	interest poller.Interest

	exchange   *exchange
	closeAfter bool // close once the output queue drains
	peerClosed bool
	throttled  bool // output queue above the high-water mark
	processing bool

	lastActive   time.Time
	dispatchedAt time.Time
	requests     int
}

func newConnection() *Connection {
	c := &Connection{fd: -1}
	c.cb = c.onEvent
	return c
}

// Reset implements pools.Resetter. The generation survives so that tokens
// issued before the connection was pooled stay stale.
func (c *Connection) Reset() {
	c.srv = nil
	c.sock = nil
	c.fd = -1
	c.state = StateClosed
	c.in = nil
	c.out = nil
	c.outLen = 0
	c.interest = 0
	c.exchange = nil
	c.closeAfter = false
	c.peerClosed = false
	c.throttled = false
	c.processing = false
	c.lastActive = time.Time{}
	c.dispatchedAt = time.Time{}
	c.requests = 0
	if c.parser != nil {
		c.parser.Reset()
	}
}

// State returns the current lifecycle state
func (c *Connection) State() State {
	return c.state
}

func (c *Connection) attach(srv *Server, sock *socket.Socket) {
	c.srv = srv
	c.sock = sock
	c.fd = sock.Fd()
	c.state = StateAwaitingRequestLine
	if c.parser == nil {
		c.parser = http.NewParser(srv.limits)
	}
	c.in = srv.bytePool.Get(srv.cfg.ReadChunk)[:0]
	c.lastActive = srv.now()
}

func (c *Connection) onEvent(ev poller.Event) {
	if c.state == StateClosed {
		return
	}
	if ev.Error {
		c.close(closeTransport, nil)
		return
	}
	if ev.Writable && c.outLen > 0 {
		c.flush()
		if c.state == StateClosed {
			return
		}
	}
	if ev.Readable || ev.Hangup {
		c.onReadable()
	}
}

func (c *Connection) readAllowed() bool {
	return !c.closeAfter && !c.peerClosed && !c.throttled
}

// onReadable drains the socket into the input buffer, parsing as it goes.
// Reading stops early when the input buffer is full; resume calls back in
// once the outstanding exchange frees room.
func (c *Connection) onReadable() {
	for c.state != StateClosed && c.readAllowed() {
		room := c.srv.cfg.MaxInputBuffer - len(c.in)
		if room <= 0 {
			break
		}
		buf := c.srv.readBuf
		if room < len(buf) {
			buf = buf[:room]
		}

		n, err := c.sock.Read(buf)
		if n > 0 {
			c.in = append(c.in, buf[:n]...)
			c.lastActive = c.srv.now()
			c.process()
		}
		if err != nil {
			if errors.Is(err, socket.ErrWouldBlock) {
				break
			}
			if errors.Is(err, io.EOF) {
				c.peerClosed = true
				break
			}
			if c.state != StateClosed {
				c.close(closeTransport, err)
			}
			return
		}
	}
	if c.state == StateClosed || c.settle() {
		return
	}
	c.refreshState()
	c.updateInterest()
}

// process parses buffered input and dispatches requests until one stays
// outstanding, the input runs out or the connection stops taking requests.
func (c *Connection) process() {
	if c.processing {
		return
	}
	c.processing = true
	defer func() { c.processing = false }()

	off := 0
	for c.state != StateClosed && c.exchange == nil && !c.closeAfter && !c.throttled && off < len(c.in) {
		req, n, err := c.parser.Parse(c.in[off:])
		off += n
		if err != nil {
			off = len(c.in)
			c.protocolError(err)
			break
		}
		if req == nil {
			break
		}
		c.dispatch(req)
	}
	if c.state == StateClosed {
		return
	}
	c.in = c.in[:copy(c.in, c.in[off:])]
	c.refreshState()
}

func (c *Connection) dispatch(req *http.Request) {
	c.requests++
	c.dispatchedAt = c.srv.now()
	ex := newExchange(c, req)
	c.exchange = ex
	c.state = StateDispatched
	c.srv.serve(ex)
}

// protocolError answers a request the parser rejected and closes the
// connection once the answer is written
func (c *Connection) protocolError(err error) {
	status := http.StatusBadRequest
	var perr *http.ProtocolError
	if errors.As(err, &perr) {
		status = perr.Status
	}
	c.srv.protocolErrors.Add(1)
	c.srv.log.Debug().
		Int("fd", c.fd).
		Int("status", status).
		Err(err).
		Msg("rejecting request")

	body := http.StatusText(status)
	out := http.AppendHead(nil, http.Head{
		Status:        status,
		ContentLength: len(body),
		Close:         true,
		Now:           c.srv.now(),
	})
	out = append(out, body...)

	c.parser.Reset()
	c.closeAfter = true
	c.enqueue(out)
	c.flush()
}

// complete is called by the exchange once its response is fully queued
func (c *Connection) complete(ex *exchange) {
	if c.exchange != ex {
		return
	}
	c.exchange = nil
	if !ex.keepAlive {
		c.closeAfter = true
	}
	c.flush()
	c.resume()
}

// resume continues parsing and reading after the connection stopped taking
// requests. It is a no-op inside process, whose loop picks up on its own.
func (c *Connection) resume() {
	if c.processing || c.state == StateClosed {
		return
	}
	c.process()
	if c.state == StateClosed || c.settle() {
		return
	}
	c.onReadable()
}

func (c *Connection) enqueue(p []byte) {
	if len(p) == 0 {
		return
	}
	c.out = append(c.out, p)
	c.outLen += len(p)
	if c.outLen > c.srv.cfg.OutputHighWater {
		c.throttled = true
	}
}

// flush writes queued output until the queue is empty or the socket is full
func (c *Connection) flush() {
	for c.outLen > 0 {
		n, err := c.sock.Write(c.gather())
		if n > 0 {
			c.consume(n)
			c.lastActive = c.srv.now()
		}
		if err != nil {
			if errors.Is(err, socket.ErrWouldBlock) {
				break
			}
			c.close(closeTransport, err)
			return
		}
	}

	released := c.throttled && c.outLen < c.srv.cfg.OutputLowWater
	if released {
		c.throttled = false
	}
	if c.settle() {
		return
	}
	c.refreshState()
	c.updateInterest()
	if released {
		c.resume()
	}
}

// gather returns the next bytes to write, coalescing small queued pieces
func (c *Connection) gather() []byte {
	first := c.out[0]
	if len(c.out) == 1 || len(first) >= coalesceLimit {
		return first
	}
	buf := c.srv.writeBuf[:0]
	for _, p := range c.out {
		if len(buf)+len(p) > coalesceLimit {
			break
		}
		buf = append(buf, p...)
	}
	if len(buf) == 0 {
		return first
	}
	return buf
}

func (c *Connection) consume(n int) {
	for n > 0 && len(c.out) > 0 {
		p := c.out[0]
		if n < len(p) {
			c.out[0] = p[n:]
			c.outLen -= n
			return
		}
		n -= len(p)
		c.outLen -= len(p)
		c.out[0] = nil
		c.out = c.out[1:]
	}
	if len(c.out) == 0 {
		c.out = nil
	}
}

// settle closes the connection when nothing is left to do on it and reports
// whether it is closed
func (c *Connection) settle() bool {
	if c.state == StateClosed {
		return true
	}
	if c.processing || c.exchange != nil || c.outLen > 0 {
		return false
	}
	switch {
	case c.closeAfter:
		c.close(closeDone, nil)
	case c.peerClosed:
		c.close(closePeer, nil)
	default:
		return false
	}
	return true
}

func (c *Connection) refreshState() {
	switch {
	case c.state == StateClosed:
	case c.exchange != nil:
		if c.exchange.started {
			c.state = StateWritingResponse
		} else {
			c.state = StateDispatched
		}
	case c.outLen > 0:
		c.state = StateWritingResponse
	default:
		switch c.parser.Phase() {
		case http.PhaseHeaders:
			c.state = StateReadingHeaders
		case http.PhaseBody:
			c.state = StateReadingBody
		default:
			if c.requests > 0 && len(c.in) == 0 && c.parser.Idle() {
				c.state = StateIdleKeepAlive
			} else {
				c.state = StateAwaitingRequestLine
			}
		}
	}
}

// updateInterest keeps readable interest unless output is throttled and
// adds writable interest while output is queued. Changing the interest
// re-arms the descriptor, which reports readiness that was left undrained.
func (c *Connection) updateInterest() {
	want := poller.Readable
	if c.throttled {
		want = 0
	}
	if c.outLen > 0 {
		want |= poller.Writable
	}
	if want == 0 {
		want = poller.Readable
	}
	if want == c.interest {
		return
	}
	if err := c.srv.reactor.Register(c.fd, want, c.cb); err != nil {
		c.close(closeTransport, err)
		return
	}
	c.interest = want
}

// checkTimeouts is run by the server sweep
func (c *Connection) checkTimeouts(now time.Time) {
	if c.state == StateClosed {
		return
	}
	if c.exchange != nil {
		if t := c.srv.cfg.HandlerTimeout; t > 0 && now.Sub(c.dispatchedAt) > t {
			c.close(closeHandlerTimeout, nil)
			return
		}
		// A half-closed peer still gets its response, but only while the
		// exchange keeps making progress.
		if t := c.srv.cfg.IdleTimeout; c.peerClosed && now.Sub(c.lastActive) > t {
			c.close(closeIdle, nil)
		}
		return
	}
	if t := c.srv.cfg.IdleTimeout; t > 0 && now.Sub(c.lastActive) > t {
		c.close(closeIdle, nil)
	}
}

func (c *Connection) close(reason closeReason, err error) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.gen++

	ev := c.srv.log.Debug()
	if err != nil {
		ev = c.srv.log.Warn().Err(err)
	}
	ev.Int("fd", c.fd).
		Int("requests", c.requests).
		Str("reason", reason.String()).
		Msg("connection closed")

	c.srv.reactor.Unregister(c.fd)
	c.sock.Close()
	ex := c.exchange
	c.exchange = nil
	if c.in != nil {
		c.srv.bytePool.Put(c.in[:cap(c.in)])
		c.in = nil
	}
	c.out = nil
	c.outLen = 0
	c.srv.forget(c)
	if ex != nil {
		ex.abandon()
	}
}
