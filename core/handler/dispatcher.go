package handler

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/searchktools/wind/core/http"
	"github.com/searchktools/wind/core/middleware"
	"github.com/searchktools/wind/core/router"
)

// ErrInvalidHandler is wrapped by failures of zero-value handlers
var ErrInvalidHandler = errors.New("invalid handler")

// HandlerFailure is a panic or an error escaping a handler
type HandlerFailure struct {
	Handler string
	Err     error
	Panic   any
	Stack   []byte
	// Started reports whether response bytes were already queued, in which
	// case the connection cannot carry an error response.
	Started bool
}

func (f *HandlerFailure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("handler %s panicked: %v", f.Handler, f.Panic)
	}
	return fmt.Sprintf("handler %s failed: %v", f.Handler, f.Err)
}

func (f *HandlerFailure) Unwrap() error {
	return f.Err
}

// Dispatcher invokes handlers inside the middleware pipeline
type Dispatcher struct {
	pipeline *middleware.Pipeline
}

// NewDispatcher creates a dispatcher; a nil pipeline runs no middleware
func NewDispatcher(pipeline *middleware.Pipeline) *Dispatcher {
	if pipeline == nil {
		pipeline = middleware.NewPipeline()
	}
	return &Dispatcher{pipeline: pipeline}
}

// Use appends middlewares
func (d *Dispatcher) Use(mw ...middleware.HandlerFunc) {
	for _, m := range mw {
		d.pipeline.Use(m)
	}
}

// Pipeline returns the middleware pipeline
func (d *Dispatcher) Pipeline() *middleware.Pipeline {
	return d.pipeline
}

// Dispatch invokes h exactly once for ctx. A resource without a method
// handler for the request yields *router.MethodNotAllowedError before any
// application code runs. Panics and returned errors become *HandlerFailure;
// a *StatusError is answered with its status when nothing was sent yet.
// When the handler returns without finishing or suspending, the response is
// finished for it.
func (d *Dispatcher) Dispatch(h Handler, ctx http.Context) error {
	if !h.Valid() {
		return &HandlerFailure{Handler: h.Name(), Err: ErrInvalidHandler}
	}
	method := ctx.Method()
	if !h.Implements(method) {
		return &router.MethodNotAllowedError{Method: method, Path: ctx.Path(), Allowed: h.Methods()}
	}

	return d.guard(h.Name(), ctx, func(ctx http.Context) error {
		var err error
		d.pipeline.Execute(ctx, func(ctx http.Context) {
			err = h.invoke(ctx)
		})
		return err
	})
}

// Resume runs a continuation callback with the same panic capture and
// implicit finish as Dispatch
func (d *Dispatcher) Resume(ctx http.Context, fn func(http.Context)) error {
	return d.guard("continuation", ctx, func(ctx http.Context) error {
		fn(ctx)
		return nil
	})
}

func (d *Dispatcher) guard(name string, ctx http.Context, run func(http.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerFailure{Handler: name, Panic: r, Stack: debug.Stack(), Started: ctx.Started()}
		}
	}()

	if err := run(ctx); err != nil {
		var se *StatusError
		if errors.As(err, &se) && !ctx.Started() && !ctx.Finished() {
			ctx.Error(se.Code, se.Message)
			return nil
		}
		return &HandlerFailure{Handler: name, Err: err, Started: ctx.Started()}
	}

	if !ctx.Finished() && !ctx.Suspended() {
		ctx.Finish()
	}
	return nil
}

func (h Handler) invoke(ctx http.Context) error {
	switch h.kind {
	case KindFunc:
		h.fn(ctx)
		return nil

	case KindSimple:
		v, err := h.simple(ctx.Request())
		if err != nil {
			return err
		}
		if err := writeValue(ctx, v); err != nil {
			return err
		}
		ctx.Finish()
		return nil

	case KindResource:
		fn, ok := h.resource.lookup(ctx.Method())
		if !ok {
			return &router.MethodNotAllowedError{Method: ctx.Method(), Path: ctx.Path(), Allowed: h.resource.allowed}
		}
		v := h.resource.newFn()
		if h.resource.init {
			v.(Initializer).Initialize(ctx)
			if ctx.Finished() {
				return nil
			}
		}
		return fn(v, ctx)
	}
	return ErrInvalidHandler
}
