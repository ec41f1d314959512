package sse

import (
	"errors"
	"testing"
	"time"
)

func TestAppendEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"full", Event{ID: "123", Event: "message", Data: "Hello, World!", Retry: 5000},
			"id: 123\nevent: message\nretry: 5000\ndata: Hello, World!\n\n"},
		{"multi-line data", Event{Data: "a\nb\r\nc"}, "data: a\ndata: b\ndata: c\n\n"},
		{"comment", Event{Comment: "ping"}, ": ping\n\n"},
		{"empty", Event{}, "\n"},
	}

	for _, tt := range tests {
		if got := string(AppendEvent(nil, &tt.ev)); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.want, got)
		}
	}
}

func TestBrokerRegister(t *testing.T) {
	b := NewBroker(2, 0)
	defer b.Close()

	if _, err := b.Register("a"); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if _, err := b.Register("a"); !errors.Is(err, ErrDuplicateClient) {
		t.Errorf("expected ErrDuplicateClient, got %v", err)
	}
	if _, err := b.Register("b"); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if _, err := b.Register("c"); !errors.Is(err, ErrTooManyClients) {
		t.Errorf("expected ErrTooManyClients, got %v", err)
	}
	if b.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", b.ClientCount())
	}
}

func TestClientBuffersWhileUnparked(t *testing.T) {
	b := NewBroker(10, 0)
	c, err := b.Register("a")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < defaultBuffer; i++ {
		if !c.Send(NewMessageEvent("x")) {
			t.Fatalf("send %d rejected", i)
		}
	}
	if c.Send(NewMessageEvent("overflow")) {
		t.Error("expected a full buffer to drop the event")
	}
	if c.Pending() != defaultBuffer || b.Stats().Dropped != 1 {
		t.Errorf("unexpected pending %d stats %+v", c.Pending(), b.Stats())
	}

	b.Close()
	if c.Send(NewMessageEvent("late")) {
		t.Error("expected send on a closed client to fail")
	}
	if _, err := b.Register("b"); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("expected ErrBrokerClosed, got %v", err)
	}
}

func TestStreamIDs(t *testing.T) {
	b := NewBroker(10, 0)
	defer b.Close()
	c, _ := b.Register("a")

	s := NewStream("news", b)
	s.Send("update", "one")
	if err := s.SendTo("a", "update", "two"); err != nil {
		t.Fatalf("send to: %v", err)
	}
	if err := s.SendTo("missing", "update", "three"); err == nil {
		t.Error("expected an error for an unknown client")
	}

	first, second := <-c.events, <-c.events
	if first.ID != "news-1" || second.ID != "news-2" {
		t.Errorf("unexpected ids %q %q", first.ID, second.ID)
	}
	if s.LastID() != "news-3" {
		t.Errorf("unexpected last id %q", s.LastID())
	}
}

func TestKeepaliveStopsOnClose(t *testing.T) {
	b := NewBroker(10, 5*time.Millisecond)
	c, _ := b.Register("a")

	deadline := time.Now().Add(time.Second)
	for c.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no keepalive was published")
		}
		time.Sleep(time.Millisecond)
	}
	ev := <-c.events
	if ev.Comment == "" || ev.Data != "" {
		t.Errorf("expected a comment-only keepalive, got %+v", ev)
	}
	b.Close()
}
