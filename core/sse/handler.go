package sse

import (
	"strconv"
	"sync/atomic"

	"github.com/searchktools/wind/core/http"
)

// Headers sent with every event stream
var Headers = map[string]string{
	"Content-Type":      "text/event-stream",
	"Cache-Control":     "no-cache",
	"X-Accel-Buffering": "no",
}

var clientSeq atomic.Uint64

// Handler returns a handler that subscribes each request to b. The client
// ID comes from the "client" query parameter or is generated. The exchange
// stays open, so the connection takes no further requests until the stream
// ends; a configured handler timeout also bounds stream lifetime.
func Handler(b *Broker) func(http.Context) {
	return func(ctx http.Context) {
		id := ctx.Query("client")
		if id == "" {
			id = "sse-" + strconv.FormatUint(clientSeq.Add(1), 10)
		}

		client, err := b.Register(id)
		if err != nil {
			ctx.Error(http.StatusServiceUnavailable, err.Error())
			return
		}
		client.LastID = ctx.Header("Last-Event-ID")
		ctx.OnFinish(func(http.Context) { b.Unregister(client) })

		for k, v := range Headers {
			ctx.SetHeader(k, v)
		}
		ctx.Write(AppendEvent(nil, &Event{Event: "connected", Data: "client_id:" + id}))
		if err := ctx.Flush(); err != nil {
			return
		}
		client.park(ctx)
	}
}
