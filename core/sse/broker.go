package sse

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/wind/core/http"
)

var (
	// ErrTooManyClients is returned by Register once the broker is full
	ErrTooManyClients = errors.New("sse: max clients reached")
	// ErrBrokerClosed is returned by Register after Close
	ErrBrokerClosed = errors.New("sse: broker closed")
	// ErrDuplicateClient is returned when the client ID is already subscribed
	ErrDuplicateClient = errors.New("sse: duplicate client id")
)

const defaultBuffer = 100

// Client is one subscriber. Events queue in a bounded buffer; a full buffer
// drops new events for that client only.
type Client struct {
	ID     string
	LastID string

	broker *Broker
	events chan *Event

	mu     sync.Mutex
	cont   http.Continuation // nil while a delivery is scheduled
	closed bool
}

// Send queues ev and schedules a delivery. It reports false when the client
// is closed or its buffer is full.
func (c *Client) Send(ev *Event) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}

	select {
	case c.events <- ev:
	default:
		c.broker.dropped.Add(1)
		return false
	}
	c.kick()
	return true
}

// Pending returns the number of queued events
func (c *Client) Pending() int {
	return len(c.events)
}

// kick resumes the parked exchange if no delivery is scheduled yet
func (c *Client) kick() {
	c.mu.Lock()
	cont := c.cont
	c.cont = nil
	c.mu.Unlock()
	if cont == nil {
		return
	}
	if !cont.Resume(c.deliver) {
		c.broker.Unregister(c)
	}
}

// park suspends ctx until the next event. Runs on the reactor goroutine.
func (c *Client) park(ctx http.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ctx.Finish()
		return
	}
	c.cont = ctx.Suspend()
	pending := len(c.events) > 0
	c.mu.Unlock()

	if pending {
		c.kick()
	}
}

// deliver writes every queued event as one chunk and parks again
func (c *Client) deliver(ctx http.Context) {
	var buf []byte
	for n := len(c.events); n > 0; n-- {
		buf = AppendEvent(buf, <-c.events)
		c.broker.sent.Add(1)
	}
	if len(buf) > 0 {
		ctx.Write(buf)
		if err := ctx.Flush(); err != nil {
			c.broker.Unregister(c)
			return
		}
	}
	c.park(ctx)
}

// close marks the client closed and returns the parked continuation, if any
func (c *Client) close() http.Continuation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	cont := c.cont
	c.cont = nil
	return cont
}

// Broker fans events out to subscribed clients. Safe for concurrent use.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	maxClients int
	done       chan struct{}

	total   atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewBroker creates a broker. A positive keepalive interval sends a comment
// event to every client at that rate until Close.
func NewBroker(maxClients int, keepalive time.Duration) *Broker {
	if maxClients <= 0 {
		maxClients = 10000
	}
	b := &Broker{
		clients:    make(map[string]*Client),
		maxClients: maxClients,
		done:       make(chan struct{}),
	}
	if keepalive > 0 {
		go b.keepalive(keepalive)
	}
	return b
}

func (b *Broker) keepalive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			b.Publish(NewHeartbeatEvent(now))
		case <-b.done:
			return
		}
	}
}

// Register subscribes a new client
func (b *Broker) Register(id string) (*Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	if _, ok := b.clients[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClient, id)
	}
	if len(b.clients) >= b.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, b.maxClients)
	}

	c := &Client{ID: id, broker: b, events: make(chan *Event, defaultBuffer)}
	b.clients[id] = c
	b.total.Add(1)
	return c, nil
}

// Unregister removes the client; its stream, if parked, is finished
func (b *Broker) Unregister(c *Client) {
	b.mu.Lock()
	if b.clients[c.ID] == c {
		delete(b.clients, c.ID)
	}
	b.mu.Unlock()

	if cont := c.close(); cont != nil {
		cont.Resume(func(ctx http.Context) { ctx.Finish() })
	}
}

// Publish sends ev to every client
func (b *Broker) Publish(ev *Event) {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		c.Send(ev)
	}
}

// PublishTo sends ev to one client
func (b *Broker) PublishTo(id string, ev *Event) bool {
	c, ok := b.Client(id)
	if !ok {
		return false
	}
	return c.Send(ev)
}

// Client looks up a subscriber
func (b *Broker) Client(id string) (*Client, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[id]
	return c, ok
}

// ClientCount returns the number of subscribers
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close finishes every stream and stops the keepalive
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	clients := b.clients
	b.clients = make(map[string]*Client)
	close(b.done)
	b.mu.Unlock()

	for _, c := range clients {
		b.Unregister(c)
	}
}

// BrokerStats contains broker statistics
type BrokerStats struct {
	Clients int    `json:"clients"`
	Total   uint64 `json:"total_clients"`
	Sent    uint64 `json:"messages_sent"`
	Dropped uint64 `json:"messages_dropped"`
}

// Stats returns broker statistics
func (b *Broker) Stats() BrokerStats {
	return BrokerStats{
		Clients: b.ClientCount(),
		Total:   b.total.Load(),
		Sent:    b.sent.Load(),
		Dropped: b.dropped.Load(),
	}
}
