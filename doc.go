/*
Package wind is an HTTP/1.1 server built on a single-threaded, edge-triggered
event loop.

One reactor goroutine owns every connection: it accepts clients, reads and
parses requests incrementally, dispatches them to handlers and drains the
responses. Handlers must not block that goroutine. Blocking work is handed to
the worker pool with Context.Offload, or the handler calls Context.Suspend
and resumes later from any goroutine through the returned Continuation.

Features

  - epoll (Linux) and kqueue (BSD/macOS) readiness, edge-triggered
  - Incremental request parser with header, line and body limits
  - Keep-alive and pipelining with responses kept in request order
  - Output back-pressure between high and low water marks
  - Router with {name} segments, specificity ordering and conflict detection
  - Function, value-returning and resource handlers with per-method tables
  - JSON and protobuf response bodies
  - Middleware pipeline with access logging through zerolog
  - Per-route request metrics

Quick Start

	package main

	import (
	    "github.com/searchktools/wind/app"
	    "github.com/searchktools/wind/config"
	    "github.com/searchktools/wind/core/http"
	)

	func main() {
	    a := app.New(config.New())
	    a.Server().GET("/", func(ctx http.Context) {
	        ctx.WriteString("hello wind!")
	    })
	    a.Run()
	}

Configuration comes from defaults, an optional JSON file (-config), WIND_*
environment variables and command-line flags, in increasing precedence.

See examples/basic for resources, offloading and form handling.
*/
package wind
