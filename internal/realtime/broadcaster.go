// Package realtime keeps match replicas convergent: a fire-and-forget
// broadcast channel for fast fan-out plus the optimistic-concurrency
// store commit as the authoritative path.
package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"salesgame/internal/game"
)

// Message is the broadcast envelope. Sender carries the node identity so
// a node can ignore its own messages.
type Message struct {
	Room     string          `json:"room"`
	Sender   string          `json:"sender"`
	Snapshot game.MatchState `json:"snapshot"`
}

// Broadcaster is the fire-and-forget fan-out channel. Delivery is best
// effort; the versioned store remains the source of truth.
type Broadcaster interface {
	Publish(msg Message) error
	Subscribe(room string, fn func(Message)) (cancel func(), err error)
	Close()
}

// Loopback delivers messages to in-process subscribers only. It backs
// single-node deployments and tests.
type Loopback struct {
	mu     sync.Mutex
	subs   map[string]map[int]func(Message)
	nextID int
}

func NewLoopback() *Loopback {
	return &Loopback{subs: make(map[string]map[int]func(Message))}
}

func (l *Loopback) Publish(msg Message) error {
	l.mu.Lock()
	fns := make([]func(Message), 0, len(l.subs[msg.Room]))
	for _, fn := range l.subs[msg.Room] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
	return nil
}

func (l *Loopback) Subscribe(room string, fn func(Message)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs[room] == nil {
		l.subs[room] = make(map[int]func(Message))
	}
	id := l.nextID
	l.nextID++
	l.subs[room][id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs[room], id)
	}, nil
}

func (l *Loopback) Close() {}

// NATS broadcasts snapshots across nodes, one subject per room.
type NATS struct {
	nc *nats.Conn
}

func roomSubject(room string) string {
	return "salesgame.room." + room
}

// ConnectNATS dials the broker with reconnect-friendly options.
func ConnectNATS(url, name string) (*NATS, error) {
	if name == "" {
		name = "salesgame"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATS{nc: nc}, nil
}

func (n *NATS) Publish(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	if err := n.nc.Publish(roomSubject(msg.Room), data); err != nil {
		return fmt.Errorf("publish %s: %w", roomSubject(msg.Room), err)
	}
	return nil
}

func (n *NATS) Subscribe(room string, fn func(Message)) (func(), error) {
	sub, err := n.nc.Subscribe(roomSubject(room), func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			// Corrupted payloads are dropped, never propagated.
			return
		}
		fn(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", roomSubject(room), err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (n *NATS) Close() {
	n.nc.Drain()
}
