package middleware

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/wind/core/http"
)

// fakeContext implements the parts of http.Context the middlewares touch
type fakeContext struct {
	http.Context

	req      *http.Request
	status   int
	header   http.ResponseHeader
	body     bytes.Buffer
	aborted  bool
	finished bool
	onFinish []func(http.Context)
}

func newFakeContext(method http.Method, target string) *fakeContext {
	return &fakeContext{req: &http.Request{Method: method, Target: target, Path: target, Header: http.Header{}}}
}

func (c *fakeContext) Request() *http.Request { return c.req }
func (c *fakeContext) Method() http.Method { return c.req.Method }
func (c *fakeContext) SetStatus(code int) { c.status = code }
func (c *fakeContext) Status() int { return c.status }
func (c *fakeContext) SetHeader(key, value string) { c.header.Set(key, value) }
func (c *fakeContext) BytesWritten() int { return c.body.Len() }
func (c *fakeContext) Abort() { c.aborted = true }
func (c *fakeContext) IsAborted() bool { return c.aborted }
func (c *fakeContext) Finished() bool { return c.finished }
func (c *fakeContext) OnFinish(fn func(http.Context)) { c.onFinish = append(c.onFinish, fn) }

func (c *fakeContext) Error(code int, message string) {
	c.status = code
	c.body.WriteString(message)
	c.Finish()
}

func (c *fakeContext) Finish() {
	if c.finished {
		return
	}
	c.finished = true
	for _, fn := range c.onFinish {
		fn(c)
	}
}

func TestPipelineOrder(t *testing.T) {
	pipeline := NewPipeline()

	var order []int
	pipeline.Use(func(ctx http.Context) { order = append(order, 1) })
	pipeline.Use(func(ctx http.Context) { order = append(order, 2) })
	pipeline.Use(func(ctx http.Context) { order = append(order, 3) })

	pipeline.Execute(newFakeContext(http.MethodGet, "/"), func(ctx http.Context) {
		order = append(order, 4)
	})

	expected := []int{1, 2, 3, 4}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d executions, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("Expected order[%d] = %d, got %d", i, v, order[i])
		}
	}
}

func TestPipelineAbort(t *testing.T) {
	pipeline := NewPipeline()

	middleware2Executed := false
	finalExecuted := false

	pipeline.Use(func(ctx http.Context) { ctx.Abort() })
	pipeline.Use(func(ctx http.Context) { middleware2Executed = true })

	pipeline.Execute(newFakeContext(http.MethodGet, "/"), func(ctx http.Context) {
		finalExecuted = true
	})

	if middleware2Executed {
		t.Error("Middleware 2 should not be executed after abort")
	}
	if finalExecuted {
		t.Error("Final handler should not be executed after abort")
	}
}

func TestPipelineStopsWhenFinished(t *testing.T) {
	pipeline := NewPipeline()
	pipeline.Use(func(ctx http.Context) { ctx.Error(http.StatusForbidden, "no") })

	finalExecuted := false
	pipeline.Execute(newFakeContext(http.MethodGet, "/"), func(ctx http.Context) {
		finalExecuted = true
	})
	if finalExecuted {
		t.Error("Final handler should not run once a middleware finished the response")
	}
}

func TestAccessLog(t *testing.T) {
	var out bytes.Buffer
	logger := zerolog.New(&out)

	ctx := newFakeContext(http.MethodPost, "/items?x=1")
	AccessLog(logger)(ctx)
	if out.Len() != 0 {
		t.Fatal("nothing should be logged before the response finishes")
	}

	ctx.SetStatus(201)
	ctx.body.WriteString("created")
	ctx.Finish()

	var entry map[string]any
	if err := json.Unmarshal(out.Bytes(), &entry); err != nil {
		t.Fatalf("access log is not JSON: %v (%q)", err, out.String())
	}
	if entry["method"] != "POST" || entry["target"] != "/items?x=1" || entry["status"] != float64(201) || entry["bytes"] != float64(7) {
		t.Errorf("unexpected access log entry %v", entry)
	}
	if _, ok := entry["duration"]; !ok {
		t.Error("expected a duration field")
	}
}

func TestCORSPreflight(t *testing.T) {
	ctx := newFakeContext(http.MethodOptions, "/")
	CORS()(ctx)

	if !ctx.IsAborted() || ctx.Status() != http.StatusNoContent {
		t.Errorf("expected aborted 204, got aborted=%v status=%d", ctx.IsAborted(), ctx.Status())
	}
	if ctx.header.Get("access-control-allow-origin") != "*" {
		t.Error("expected CORS headers")
	}

	get := newFakeContext(http.MethodGet, "/")
	CORS()(get)
	if get.IsAborted() {
		t.Error("GET must pass through")
	}
}

func TestRequestID(t *testing.T) {
	mw := RequestID()

	first := newFakeContext(http.MethodGet, "/")
	second := newFakeContext(http.MethodGet, "/")
	mw(first)
	mw(second)

	if first.header.Get("X-Request-ID") != "1" || second.header.Get("X-Request-ID") != "2" {
		t.Errorf("unexpected ids %q %q", first.header.Get("X-Request-ID"), second.header.Get("X-Request-ID"))
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := RateLimiter(2)

	ctx1 := newFakeContext(http.MethodGet, "/")
	ctx2 := newFakeContext(http.MethodGet, "/")
	ctx3 := newFakeContext(http.MethodGet, "/")

	limiter(ctx1)
	limiter(ctx2)
	if ctx1.IsAborted() || ctx2.IsAborted() {
		t.Error("First two requests should not be rate limited")
	}

	limiter(ctx3)
	if !ctx3.IsAborted() || ctx3.Status() != http.StatusTooManyRequests {
		t.Error("Third request should be rate limited")
	}

	time.Sleep(1100 * time.Millisecond)

	ctx4 := newFakeContext(http.MethodGet, "/")
	limiter(ctx4)
	if ctx4.IsAborted() {
		t.Error("Request after refill should not be rate limited")
	}
}
