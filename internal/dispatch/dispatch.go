// Package dispatch drives a backtest: it merges events from registered
// sources in chronological order and delivers them, one at a time, to the
// handlers subscribed to each source.
//
// The model is single-threaded and cooperative. A handler runs to
// completion before the next event is picked, so everything downstream of
// the dispatcher can rely on exclusive access to its state. Now() is the
// logical clock: the timestamp of the last dispatched event.
package dispatch

import (
	"context"
	"time"
)

// Event is anything with a timestamp.
type Event interface {
	When() time.Time
}

// Source produces events in chronological order. Peek returns the next
// event without consuming it, nil when drained; Pop consumes it.
type Source interface {
	Peek() Event
	Pop() Event
}

// Handler consumes a dispatched event.
type Handler func(event Event)

type subscription struct {
	source   Source
	handlers []Handler
}

// Dispatcher delivers events from all subscribed sources in timestamp
// order. Ties break in favor of the earlier-registered source, which
// keeps runs deterministic.
type Dispatcher struct {
	subs []*subscription
	now  time.Time
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe attaches a handler to a source, registering the source on
// first sight. Multiple handlers on one source run in subscription order.
func (d *Dispatcher) Subscribe(source Source, handler Handler) {
	for _, sub := range d.subs {
		if sub.source == source {
			sub.handlers = append(sub.handlers, handler)
			return
		}
	}
	d.subs = append(d.subs, &subscription{source: source, handlers: []Handler{handler}})
}

// Now returns the logical clock: the time of the last dispatched event,
// zero before the first one.
func (d *Dispatcher) Now() time.Time {
	return d.now
}

// Run dispatches events until every source is drained or the context is
// canceled. Handlers may push new events into queue sources mid-run;
// those are picked up on the next iteration.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sub := d.next()
		if sub == nil {
			return nil
		}
		event := sub.source.Pop()
		if event.When().After(d.now) {
			d.now = event.When()
		}
		for _, handler := range sub.handlers {
			handler(event)
		}
	}
}

// next picks the subscription whose source holds the earliest event.
func (d *Dispatcher) next() *subscription {
	var best *subscription
	var bestWhen time.Time
	for _, sub := range d.subs {
		event := sub.source.Peek()
		if event == nil {
			continue
		}
		if best == nil || event.When().Before(bestWhen) {
			best = sub
			bestWhen = event.When()
		}
	}
	return best
}

// FifoQueueSource is an in-memory source fed by Push. The exchange uses
// one per pair to forward bar events to strategy subscribers.
type FifoQueueSource struct {
	events []Event
}

// NewFifoQueueSource creates an empty queue source.
func NewFifoQueueSource() *FifoQueueSource {
	return &FifoQueueSource{}
}

// Push appends an event to the queue.
func (s *FifoQueueSource) Push(event Event) {
	s.events = append(s.events, event)
}

func (s *FifoQueueSource) Peek() Event {
	if len(s.events) == 0 {
		return nil
	}
	return s.events[0]
}

func (s *FifoQueueSource) Pop() Event {
	if len(s.events) == 0 {
		return nil
	}
	event := s.events[0]
	s.events = s.events[1:]
	return event
}
