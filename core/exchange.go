package core

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"

	"github.com/searchktools/wind/core/codec"
	"github.com/searchktools/wind/core/http"
)

// exchange is one request/response pair and the http.Context handed to
// handlers. The response body is buffered until Flush or Finish.
type exchange struct {
	srv  *Server
	conn *Connection
	req  *http.Request

	route     string
	keepAlive bool
	start     time.Time

	status  int
	header  http.ResponseHeader
	body    []byte
	written int

	started   bool
	chunked   bool
	finished  bool
	suspended bool
	aborted   bool
	// dead is set when the connection closed under the exchange
	dead bool

	onFinish []func(http.Context)
	cont     *continuation
	logger   *zerolog.Logger
}

var _ http.Context = (*exchange)(nil)

func newExchange(c *Connection, req *http.Request) *exchange {
	return &exchange{
		srv:       c.srv,
		conn:      c,
		req:       req,
		keepAlive: req.KeepAlive(),
		start:     c.dispatchedAt,
	}
}

func (e *exchange) Request() *http.Request { return e.req }
func (e *exchange) Method() http.Method    { return e.req.Method }
func (e *exchange) Path() string           { return e.req.Path }
func (e *exchange) Param(key string) string {
	return e.req.Params[key]
}
func (e *exchange) Query(key string) string  { return e.req.Query[key] }
func (e *exchange) Header(key string) string { return e.req.Header.Get(key) }
func (e *exchange) Body() []byte             { return e.req.Body }

func (e *exchange) Form(key string) string {
	f, err := e.req.ParseForm()
	if err != nil {
		return ""
	}
	return f.Get(key)
}

func (e *exchange) SetParam(key, value string) {
	if e.req.Params == nil {
		e.req.Params = make(map[string]string)
	}
	e.req.Params[key] = value
}

func (e *exchange) Bind(v any) error {
	return e.req.Bind(v)
}

// SetStatus is ignored once the head was sent
func (e *exchange) SetStatus(code int) {
	if e.started {
		return
	}
	e.status = code
}

func (e *exchange) Status() int {
	if e.status == 0 {
		return http.StatusOK
	}
	return e.status
}

func (e *exchange) SetHeader(key, value string) {
	e.header.Set(key, value)
}

func (e *exchange) ResponseHeader() *http.ResponseHeader {
	return &e.header
}

func (e *exchange) Write(p []byte) (int, error) {
	if e.finished {
		return 0, ErrResponseFinished
	}
	if e.dead {
		return 0, ErrConnectionClosed
	}
	e.body = append(e.body, p...)
	e.written += len(p)
	return len(p), nil
}

func (e *exchange) WriteString(s string) (int, error) {
	if e.finished {
		return 0, ErrResponseFinished
	}
	if e.dead {
		return 0, ErrConnectionClosed
	}
	e.body = append(e.body, s...)
	e.written += len(s)
	return len(s), nil
}

func (e *exchange) JSON(v any) error {
	return e.encode(codec.JSON, v)
}

func (e *exchange) Protobuf(m proto.Message) error {
	return e.encode(codec.Protobuf, m)
}

func (e *exchange) encode(typ codec.Type, v any) error {
	c, err := codec.Get(typ)
	if err != nil {
		return err
	}
	data, err := c.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s response: %w", c.Name(), err)
	}
	if !e.header.Has(HeaderContentType) {
		e.header.Set(HeaderContentType, c.ContentType())
	}
	_, err = e.Write(data)
	return err
}

func (e *exchange) String(code int, s string) {
	e.SetStatus(code)
	e.WriteString(s)
	e.Finish()
}

// Error replaces whatever body was buffered. Once the head is out the status
// can no longer change, so the streamed response is just terminated.
func (e *exchange) Error(code int, message string) {
	if e.finished {
		return
	}
	if e.started {
		e.logRequest().Int("status", code).Str("error", message).Msg("error after response started")
		e.Finish()
		return
	}
	e.body = e.body[:0]
	e.written = 0
	e.header.Del(HeaderContentType)
	e.status = code
	e.WriteString(message)
	e.Finish()
}

// Flush sends the head with chunked framing and the buffered body as one
// chunk. Each later Flush sends what was written since as another chunk.
// HTTP/1.0 clients cannot decode chunks: their body is sent unframed and
// ends when the connection closes.
func (e *exchange) Flush() error {
	if e.finished {
		return ErrResponseFinished
	}
	if e.dead {
		return ErrConnectionClosed
	}

	var out []byte
	if !e.started {
		e.started = true
		head := http.Head{
			Status: e.Status(),
			Header: &e.header,
			Now:    e.srv.now(),
		}
		if e.req.ProtoMinor == 0 {
			e.keepAlive = false
			head.UntilClose = true
		} else {
			e.chunked = true
			head.Chunked = true
			head.Close = !e.keepAlive
		}
		out = http.AppendHead(out, head)
	}
	if http.BodyAllowed(e.req.Method, e.Status()) {
		out = e.appendBody(out)
	}
	e.body = e.body[:0]

	e.conn.enqueue(out)
	e.conn.flush()
	if e.dead {
		return ErrConnectionClosed
	}
	return nil
}

func (e *exchange) appendBody(dst []byte) []byte {
	if e.chunked {
		return http.AppendChunk(dst, e.body)
	}
	return append(dst, e.body...)
}

// Finish queues the rest of the response and hands the connection back.
// HEAD responses carry the length of the body that was written.
func (e *exchange) Finish() {
	if e.finished {
		return
	}
	e.finished = true
	e.suspended = false

	if !e.dead {
		allowed := http.BodyAllowed(e.req.Method, e.Status())
		var out []byte
		if !e.started {
			e.started = true
			out = http.AppendHead(make([]byte, 0, 256+len(e.body)), http.Head{
				Status:        e.Status(),
				Header:        &e.header,
				ContentLength: len(e.body),
				Close:         !e.keepAlive,
				KeepAlive:     e.keepAlive && e.req.ProtoMinor == 0,
				Now:           e.srv.now(),
			})
			if allowed {
				out = append(out, e.body...)
			}
		} else if allowed {
			out = e.appendBody(out)
			if e.chunked {
				out = append(out, http.LastChunk...)
			}
		}
		e.body = nil
		e.conn.enqueue(out)
	}

	for _, fn := range e.onFinish {
		fn(e)
	}
	e.onFinish = nil
	e.srv.record(e)

	if !e.dead {
		e.conn.complete(e)
	}
}

// abandon ends an exchange whose connection closed first. OnFinish
// callbacks still run; nothing is recorded since no response went out.
func (e *exchange) abandon() {
	e.dead = true
	if e.finished {
		return
	}
	e.finished = true
	e.suspended = false
	for _, fn := range e.onFinish {
		fn(e)
	}
	e.onFinish = nil
}

func (e *exchange) Finished() bool    { return e.finished }
func (e *exchange) Started() bool     { return e.started }
func (e *exchange) BytesWritten() int { return e.written }

func (e *exchange) OnFinish(fn func(http.Context)) {
	if e.finished {
		fn(e)
		return
	}
	e.onFinish = append(e.onFinish, fn)
}

// Suspend returns the pending continuation, or a new one when the last was
// already used
func (e *exchange) Suspend() http.Continuation {
	e.suspended = true
	if e.cont == nil || e.cont.used.Load() {
		e.cont = &continuation{ex: e, gen: e.conn.gen}
	}
	return e.cont
}

func (e *exchange) Suspended() bool { return e.suspended }

// Offload runs work on the worker pool and continues with then on the
// reactor goroutine. A full pool answers 503.
func (e *exchange) Offload(work func() (any, error), then func(ctx http.Context, v any, err error)) {
	cont := e.Suspend().(*continuation)
	ok := e.srv.workers.Submit(func() {
		v, err := runOffloaded(work)
		cont.Resume(func(ctx http.Context) { then(ctx, v, err) })
	})
	if !ok {
		cont.used.Store(true)
		e.suspended = false
		e.logRequest().Err(ErrOffloadRejected).Msg("offload rejected")
		e.Error(http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
	}
}

func runOffloaded(work func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("offloaded work panicked: %v", r)
		}
	}()
	return work()
}

func (e *exchange) Abort()          { e.aborted = true }
func (e *exchange) IsAborted() bool { return e.aborted }

func (e *exchange) Logger() *zerolog.Logger {
	if e.logger == nil {
		l := e.srv.log.With().
			Int("fd", e.conn.fd).
			Str("method", e.req.Method.String()).
			Str("path", e.req.Path).
			Logger()
		e.logger = &l
	}
	return e.logger
}

func (e *exchange) logRequest() *zerolog.Event {
	return e.Logger().Warn()
}

// continuation resumes a suspended exchange from any goroutine. It is bound
// to the connection generation current at Suspend.
type continuation struct {
	ex   *exchange
	gen  uint64
	used atomic.Bool
}

func (k *continuation) Resume(fn func(http.Context)) bool {
	if fn == nil || !k.used.CompareAndSwap(false, true) {
		return false
	}
	r := k.ex.srv.loop()
	if r == nil {
		return false
	}
	return r.Post(func() { k.ex.srv.resume(k, fn) })
}
