package http

import (
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
)

// Context is what a handler sees of one request/response exchange.
//
// Every method must be called on the reactor goroutine. Work that blocks
// goes through Offload, or through Suspend and a later Continuation.Resume
// from any goroutine.
type Context interface {
	// Request information
	Request() *Request
	Method() Method
	Path() string
	Param(key string) string
	Query(key string) string
	Header(key string) string
	Body() []byte
	Form(key string) string
	SetParam(key, value string)

	// Binding
	Bind(v any) error

	// Response building. Write buffers body bytes; nothing reaches the wire
	// before Flush or Finish.
	SetStatus(code int)
	Status() int
	SetHeader(key, value string)
	ResponseHeader() *ResponseHeader
	Write(p []byte) (int, error)
	WriteString(s string) (int, error)
	JSON(v any) error
	Protobuf(m proto.Message) error

	// Response shortcuts that set the status, write the body and finish
	String(code int, s string)
	Error(code int, message string)

	// Flush sends the head and the buffered body using chunked framing.
	// Later writes are sent as further chunks.
	Flush() error

	// Finish completes the response. Calls after the first are no-ops.
	Finish()
	Finished() bool
	// Started reports whether any response byte was queued for the wire
	Started() bool
	// BytesWritten returns the body length written so far
	BytesWritten() int

	// OnFinish registers fn to run once the response is finished, or once
	// the connection closed before it was
	OnFinish(fn func(Context))

	// Suspend marks the exchange as completing later
	Suspend() Continuation
	Suspended() bool
	// Offload runs work on the worker pool and resumes with then
	Offload(work func() (any, error), then func(ctx Context, v any, err error))

	Abort()
	IsAborted() bool

	Logger() *zerolog.Logger
}

// Continuation resumes a suspended exchange. It is safe for concurrent use.
type Continuation interface {
	// Resume schedules fn on the reactor goroutine. It returns false when
	// the continuation was already used or the reactor is gone. fn is
	// silently dropped when the connection was closed in the meantime.
	Resume(fn func(Context)) bool
}
