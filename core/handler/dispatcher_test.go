package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/searchktools/wind/core/http"
	"github.com/searchktools/wind/core/middleware"
	"github.com/searchktools/wind/core/router"
)

// recorder is an in-memory http.Context
type recorder struct {
	http.Context

	req       *http.Request
	status    int
	header    http.ResponseHeader
	body      bytes.Buffer
	started   bool
	finishes  int
	suspended bool
	aborted   bool
}

func newRecorder(method http.Method, path string) *recorder {
	return &recorder{req: &http.Request{Method: method, Path: path, Target: path, Header: http.Header{}}}
}

func (r *recorder) Request() *http.Request { return r.req }
func (r *recorder) Method() http.Method { return r.req.Method }
func (r *recorder) Path() string { return r.req.Path }
func (r *recorder) SetStatus(code int) { r.status = code }
func (r *recorder) Status() int { return r.status }
func (r *recorder) SetHeader(k, v string) { r.header.Set(k, v) }
func (r *recorder) Started() bool { return r.started }
func (r *recorder) Finished() bool { return r.finishes > 0 }
func (r *recorder) Finish() { r.finishes++ }
func (r *recorder) Suspended() bool { return r.suspended }
func (r *recorder) Abort() { r.aborted = true }
func (r *recorder) IsAborted() bool { return r.aborted }

func (r *recorder) Write(p []byte) (int, error) { return r.body.Write(p) }
func (r *recorder) WriteString(s string) (int, error) { return r.body.WriteString(s) }

func (r *recorder) JSON(v any) error {
	r.header.Set("Content-Type", "application/json; charset=UTF-8")
	return json.NewEncoder(&r.body).Encode(v)
}

func (r *recorder) Protobuf(m proto.Message) error {
	data, err := proto.Marshal(m)
	if err != nil {
		return err
	}
	r.header.Set("Content-Type", "application/x-protobuf")
	r.body.Write(data)
	return nil
}

func (r *recorder) Error(code int, message string) {
	r.status = code
	r.body.WriteString(message)
	r.Finish()
}

func (r *recorder) Suspend() http.Continuation {
	r.suspended = true
	return nil
}

// Resource fixtures

type getOnly struct{ calls int }

func (g *getOnly) HandleGet(ctx http.Context) error {
	g.calls++
	_, err := ctx.WriteString("got")
	return err
}

type initialized struct{ ready bool }

func (i *initialized) Initialize(ctx http.Context) { i.ready = true }

func (i *initialized) HandlePost(ctx http.Context) error {
	if !i.ready {
		return errors.New("Initialize did not run first")
	}
	ctx.SetStatus(http.StatusCreated)
	ctx.Finish()
	return nil
}

type gate struct{}

func (g *gate) Initialize(ctx http.Context) { ctx.Error(http.StatusUnauthorized, "denied") }

func (g *gate) HandleGet(ctx http.Context) error {
	panic("must not run after Initialize finished the response")
}

type broken struct{}

func (b *broken) HandleGet(ctx http.Context) error { panic("boom") }

func (b *broken) HandlePut(ctx http.Context) error { return Errorf(http.StatusConflict, "version %d is stale", 3) }

func (b *broken) HandleDelete(ctx http.Context) error {
	ctx.WriteString("partial")
	return errors.New("disk gone")
}

func TestResourceMethodTable(t *testing.T) {
	convey.Convey("Given resource handlers", t, func() {
		convey.Convey("Their method tables follow the pointer method set", func() {
			h := Resource[getOnly]()
			convey.So(h.Kind(), convey.ShouldEqual, KindResource)
			convey.So(h.Methods(), convey.ShouldResemble, []http.Method{http.MethodGet, http.MethodHead})
			convey.So(h.Implements(http.MethodPost), convey.ShouldBeFalse)
			convey.So(h.Name(), convey.ShouldEqual, "handler.getOnly")

			b := Resource[broken]()
			convey.So(b.Methods(), convey.ShouldResemble, []http.Method{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete})
		})

		convey.Convey("Function variants serve every method", func() {
			h := Func(func(http.Context) {})
			convey.So(h.Implements(http.MethodPatch), convey.ShouldBeTrue)
			convey.So(h.Methods(), convey.ShouldBeNil)
			convey.So(Handler{}.Valid(), convey.ShouldBeFalse)
		})
	})
}

func TestDispatch(t *testing.T) {
	convey.Convey("Given a dispatcher", t, func() {
		d := NewDispatcher(nil)

		convey.Convey("A GET-only resource serves GET and finishes implicitly", func() {
			ctx := newRecorder(http.MethodGet, "/resource")
			err := d.Dispatch(Resource[getOnly](), ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ctx.body.String(), convey.ShouldEqual, "got")
			convey.So(ctx.finishes, convey.ShouldEqual, 1)
		})

		convey.Convey("HEAD falls back to HandleGet", func() {
			ctx := newRecorder(http.MethodHead, "/resource")
			convey.So(d.Dispatch(Resource[getOnly](), ctx), convey.ShouldBeNil)
			convey.So(ctx.body.String(), convey.ShouldEqual, "got")
		})

		convey.Convey("An unimplemented method is 405 without running middleware", func() {
			ran := false
			d.Use(func(http.Context) { ran = true })

			ctx := newRecorder(http.MethodPost, "/resource")
			err := d.Dispatch(Resource[getOnly](), ctx)
			convey.So(errors.Is(err, router.ErrMethodNotAllowed), convey.ShouldBeTrue)

			var mna *router.MethodNotAllowedError
			convey.So(errors.As(err, &mna), convey.ShouldBeTrue)
			convey.So(mna.Allow(), convey.ShouldEqual, "GET, HEAD")
			convey.So(ran, convey.ShouldBeFalse)
			convey.So(ctx.finishes, convey.ShouldEqual, 0)
		})

		convey.Convey("Initialize runs before the method handler", func() {
			ctx := newRecorder(http.MethodPost, "/init")
			convey.So(d.Dispatch(Resource[initialized](), ctx), convey.ShouldBeNil)
			convey.So(ctx.status, convey.ShouldEqual, http.StatusCreated)
			convey.So(ctx.finishes, convey.ShouldEqual, 1)
		})

		convey.Convey("Initialize can answer on its own", func() {
			ctx := newRecorder(http.MethodGet, "/gate")
			convey.So(d.Dispatch(Resource[gate](), ctx), convey.ShouldBeNil)
			convey.So(ctx.status, convey.ShouldEqual, http.StatusUnauthorized)
		})

		convey.Convey("A panic becomes a HandlerFailure", func() {
			ctx := newRecorder(http.MethodGet, "/broken")
			err := d.Dispatch(Resource[broken](), ctx)

			var failure *HandlerFailure
			convey.So(errors.As(err, &failure), convey.ShouldBeTrue)
			convey.So(failure.Panic, convey.ShouldEqual, "boom")
			convey.So(len(failure.Stack), convey.ShouldBeGreaterThan, 0)
			convey.So(ctx.finishes, convey.ShouldEqual, 0)
		})

		convey.Convey("A returned error becomes a HandlerFailure wrapping it", func() {
			ctx := newRecorder(http.MethodDelete, "/broken")
			err := d.Dispatch(Resource[broken](), ctx)

			var failure *HandlerFailure
			convey.So(errors.As(err, &failure), convey.ShouldBeTrue)
			convey.So(failure.Err.Error(), convey.ShouldEqual, "disk gone")
			convey.So(failure.Started, convey.ShouldBeFalse)
		})

		convey.Convey("A StatusError is answered with its status", func() {
			ctx := newRecorder(http.MethodPut, "/broken")
			convey.So(d.Dispatch(Resource[broken](), ctx), convey.ShouldBeNil)
			convey.So(ctx.status, convey.ShouldEqual, http.StatusConflict)
			convey.So(ctx.body.String(), convey.ShouldEqual, "version 3 is stale")
		})

		convey.Convey("A suspended exchange is not finished", func() {
			ctx := newRecorder(http.MethodGet, "/later")
			err := d.Dispatch(Func(func(ctx http.Context) { ctx.Suspend() }), ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ctx.finishes, convey.ShouldEqual, 0)
		})

		convey.Convey("Middleware runs before the handler and may abort it", func() {
			d.Use(func(ctx http.Context) {
				ctx.SetStatus(http.StatusForbidden)
				ctx.Abort()
			})
			called := false
			ctx := newRecorder(http.MethodGet, "/")
			convey.So(d.Dispatch(Func(func(http.Context) { called = true }), ctx), convey.ShouldBeNil)
			convey.So(called, convey.ShouldBeFalse)
			convey.So(ctx.status, convey.ShouldEqual, http.StatusForbidden)
			convey.So(ctx.finishes, convey.ShouldEqual, 1)
		})

		convey.Convey("Resume captures panics of continuation callbacks", func() {
			ctx := newRecorder(http.MethodGet, "/")
			err := d.Resume(ctx, func(http.Context) { panic("late") })
			var failure *HandlerFailure
			convey.So(errors.As(err, &failure), convey.ShouldBeTrue)

			ok := newRecorder(http.MethodGet, "/")
			convey.So(d.Resume(ok, func(ctx http.Context) { ctx.WriteString("done") }), convey.ShouldBeNil)
			convey.So(ok.finishes, convey.ShouldEqual, 1)
		})
	})
}

func TestSimpleHandlers(t *testing.T) {
	convey.Convey("Given simple handlers", t, func() {
		d := NewDispatcher(middleware.NewPipeline())
		run := func(v any, err error) (*recorder, error) {
			ctx := newRecorder(http.MethodGet, "/")
			h := Simple(func(*http.Request) (any, error) { return v, err })
			return ctx, d.Dispatch(h, ctx)
		}

		convey.Convey("Strings and bytes are written as is", func() {
			ctx, err := run("hello wind!", nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ctx.body.String(), convey.ShouldEqual, "hello wind!")
			convey.So(ctx.finishes, convey.ShouldEqual, 1)

			ctx, _ = run([]byte{1, 2}, nil)
			convey.So(ctx.body.Bytes(), convey.ShouldResemble, []byte{1, 2})
		})

		convey.Convey("Structs are encoded as JSON", func() {
			ctx, err := run(map[string]int{"n": 1}, nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ctx.header.Get("Content-Type"), convey.ShouldStartWith, "application/json")
			convey.So(ctx.body.String(), convey.ShouldEqual, "{\"n\":1}\n")
		})

		convey.Convey("Proto messages are encoded as protobuf", func() {
			ctx, err := run(wrapperspb.String("wind"), nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ctx.header.Get("Content-Type"), convey.ShouldEqual, "application/x-protobuf")

			var got wrapperspb.StringValue
			convey.So(proto.Unmarshal(ctx.body.Bytes(), &got), convey.ShouldBeNil)
			convey.So(got.GetValue(), convey.ShouldEqual, "wind")
		})

		convey.Convey("Errors become failures", func() {
			_, err := run(nil, errors.New("nope"))
			var failure *HandlerFailure
			convey.So(errors.As(err, &failure), convey.ShouldBeTrue)
		})
	})
}

func TestPathNamed(t *testing.T) {
	convey.Convey("Method names are normalized", t, func() {
		r, err := PathNamed(Func(func(http.Context) {}), "/x", "get", "Post")
		convey.So(err, convey.ShouldBeNil)
		convey.So(r.Methods, convey.ShouldResemble, []http.Method{http.MethodGet, http.MethodPost})

		_, err = PathNamed(Func(func(http.Context) {}), "/x", "brew")
		convey.So(err, convey.ShouldNotBeNil)
	})
}
