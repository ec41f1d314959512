package middleware

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/wind/core/http"
)

// HandlerFunc is the signature for middleware handlers
type HandlerFunc func(http.Context)

// Pipeline is an ordered middleware chain run before the final handler.
// A middleware stops the chain by calling ctx.Abort.
type Pipeline struct {
	handlers []HandlerFunc
}

// NewPipeline creates a new middleware pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		handlers: make([]HandlerFunc, 0, 8),
	}
}

// Use adds a middleware to the pipeline
func (p *Pipeline) Use(handler HandlerFunc) *Pipeline {
	p.handlers = append(p.handlers, handler)
	return p
}

// Len returns the number of middlewares
func (p *Pipeline) Len() int {
	return len(p.handlers)
}

// Execute runs the middlewares in order, then final unless one aborted
func (p *Pipeline) Execute(ctx http.Context, final HandlerFunc) {
	for _, h := range p.handlers {
		h(ctx)
		if ctx.IsAborted() || ctx.Finished() {
			return
		}
	}
	final(ctx)
}

// Common middleware implementations

// AccessLog logs one line per finished request: method, target, status,
// body bytes and duration.
func AccessLog(logger zerolog.Logger) HandlerFunc {
	return func(ctx http.Context) {
		start := time.Now()
		ctx.OnFinish(func(ctx http.Context) {
			req := ctx.Request()
			logger.Info().
				Str("method", string(req.Method)).
				Str("target", req.Target).
				Int("status", ctx.Status()).
				Int("bytes", ctx.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("access")
		})
	}
}

// CORS adds CORS headers and answers preflight requests
func CORS() HandlerFunc {
	return func(ctx http.Context) {
		ctx.SetHeader("Access-Control-Allow-Origin", "*")
		ctx.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		ctx.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			ctx.Abort()
		}
	}
}

// RateLimiter allows requestsPerSecond requests per one-second window.
// Middlewares run on the reactor goroutine, so the bucket needs no lock.
func RateLimiter(requestsPerSecond int) HandlerFunc {
	tokens := requestsPerSecond
	lastRefill := time.Now()

	return func(ctx http.Context) {
		now := time.Now()
		if now.Sub(lastRefill) > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}

		if tokens > 0 {
			tokens--
			return
		}

		ctx.Abort()
		ctx.Error(http.StatusTooManyRequests, "Too Many Requests")
	}
}

// RequestID adds a sequential X-Request-ID response header
func RequestID() HandlerFunc {
	var counter atomic.Uint64

	return func(ctx http.Context) {
		ctx.SetHeader("X-Request-ID", strconv.FormatUint(counter.Add(1), 10))
	}
}
