// Package sse streams Server-Sent Events over suspended exchanges. Events are
// published from any goroutine; each subscriber's exchange is resumed on the
// reactor to write them as chunks of its open response.
package sse

import (
	"strconv"
	"strings"
	"time"
)

// Event represents a Server-Sent Event
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds
	// Comment is sent as a ':' line; a comment-only event keeps idle
	// proxies from dropping the stream
	Comment string
}

// AppendEvent serializes ev in the text/event-stream format. Multi-line data
// becomes one data line per line.
func AppendEvent(dst []byte, ev *Event) []byte {
	if ev.Comment != "" {
		dst = appendLines(dst, ":", ev.Comment)
	}
	if ev.ID != "" {
		dst = appendField(dst, "id", ev.ID)
	}
	if ev.Event != "" {
		dst = appendField(dst, "event", ev.Event)
	}
	if ev.Retry > 0 {
		dst = appendField(dst, "retry", strconv.Itoa(ev.Retry))
	}
	if ev.Data != "" {
		dst = appendLines(dst, "data:", ev.Data)
	}
	return append(dst, '\n')
}

func appendField(dst []byte, name, value string) []byte {
	dst = append(dst, name...)
	dst = append(dst, ": "...)
	dst = append(dst, value...)
	return append(dst, '\n')
}

func appendLines(dst []byte, prefix, text string) []byte {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		dst = append(dst, prefix...)
		dst = append(dst, ' ')
		dst = append(dst, line...)
		dst = append(dst, '\n')
	}
	return dst
}

// NewMessageEvent creates a "message" event
func NewMessageEvent(message string) *Event {
	return &Event{Event: "message", Data: message}
}

// NewHeartbeatEvent creates a comment-only keepalive
func NewHeartbeatEvent(now time.Time) *Event {
	return &Event{Comment: "keepalive " + strconv.FormatInt(now.Unix(), 10)}
}
