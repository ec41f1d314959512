package sse

import (
	"fmt"
	"sync/atomic"
)

// Stream stamps events with namespaced sequential IDs
type Stream struct {
	broker    *Broker
	eventID   atomic.Uint64
	namespace string
}

// NewStream publishes through broker
func NewStream(namespace string, broker *Broker) *Stream {
	return &Stream{broker: broker, namespace: namespace}
}

// Broker returns the underlying broker
func (s *Stream) Broker() *Broker {
	return s.broker
}

func (s *Stream) next(eventType, data string) *Event {
	return &Event{
		ID:    fmt.Sprintf("%s-%d", s.namespace, s.eventID.Add(1)),
		Event: eventType,
		Data:  data,
	}
}

// Send publishes to every client
func (s *Stream) Send(eventType, data string) {
	s.broker.Publish(s.next(eventType, data))
}

// SendTo publishes to one client
func (s *Stream) SendTo(clientID, eventType, data string) error {
	if !s.broker.PublishTo(clientID, s.next(eventType, data)) {
		return fmt.Errorf("sse: client %s not found or its buffer is full", clientID)
	}
	return nil
}

// Broadcast sends a "message" event to every client
func (s *Stream) Broadcast(message string) {
	s.Send("message", message)
}

// LastID returns the ID of the most recent event
func (s *Stream) LastID() string {
	return fmt.Sprintf("%s-%d", s.namespace, s.eventID.Load())
}
