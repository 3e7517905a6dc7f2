package events

import (
	"sync"
	"time"
)

// Subscriber receives events in emission order from a dedicated goroutine.
type Subscriber interface {
	HandleEvent(Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Event)

func (f SubscriberFunc) HandleEvent(ev Event) { f(ev) }

// Fanout delivers each event to every subscriber in order.
type Fanout []Subscriber

func (f Fanout) HandleEvent(ev Event) {
	for _, s := range f {
		if s != nil {
			s.HandleEvent(ev)
		}
	}
}

// Emitter stamps events with the session id and a UTC timestamp, then queues
// them for each subscriber. Emit never blocks on a slow subscriber.
type Emitter struct {
	sessionID string
	now       func() time.Time

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

func NewEmitter(sessionID string, subs ...Subscriber) *Emitter {
	e := &Emitter{sessionID: sessionID, now: time.Now}
	for _, s := range subs {
		e.Subscribe(s)
	}
	return e
}

// Subscribe attaches s. Events emitted before the call are not replayed.
func (e *Emitter) Subscribe(s Subscriber) {
	if e == nil || s == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	sub := newSubscription(s)
	e.subs = append(e.subs, sub)
	go sub.run()
}

func (e *Emitter) SessionID() string {
	if e == nil {
		return ""
	}
	return e.sessionID
}

// Emit queues ev for every subscriber. Emitting after Close is a no-op.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || len(e.subs) == 0 {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if ev.SessionID == "" {
		ev.SessionID = e.sessionID
	}
	for _, sub := range e.subs {
		sub.push(ev)
	}
}

// Close delivers everything already queued, then stops the subscriber
// goroutines. It is safe to call more than once.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	for _, sub := range subs {
		<-sub.done
	}
}

type subscription struct {
	s    Subscriber
	done chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func newSubscription(s Subscriber) *subscription {
	sub := &subscription{s: s, done: make(chan struct{})}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

func (sub *subscription) push(ev Event) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, ev)
	sub.mu.Unlock()
	sub.cond.Signal()
}

func (sub *subscription) close() {
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	sub.cond.Signal()
}

func (sub *subscription) run() {
	defer close(sub.done)
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if len(sub.queue) == 0 && sub.closed {
			sub.mu.Unlock()
			return
		}
		batch := sub.queue
		sub.queue = nil
		sub.mu.Unlock()

		for _, ev := range batch {
			sub.s.HandleEvent(ev)
		}
	}
}

// Collector records every event it receives.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) HandleEvent(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Types returns the recorded event types in order.
func (c *Collector) Types() []Type {
	evs := c.Events()
	out := make([]Type, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}
