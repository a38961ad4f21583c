package events

import (
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

type Handler func(Event)

// Subscription identifies one Subscribe call; pass it to Unsubscribe.
type Subscription struct {
	id      uint64
	typ     EventType
	handler Handler
}

func (s Subscription) Type() EventType { return s.typ }

// Bus is a synchronous publish/subscribe registry. It is not safe for
// concurrent use; the reactor goroutine owns it.
type Bus struct {
	subs   []Subscription
	nextID uint64
	serial uint64
	logger logging.Logger
}

func NewBus(logger logging.Logger) *Bus {
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(typ EventType, handler Handler) Subscription {
	b.nextID++
	sub := Subscription{id: b.nextID, typ: typ, handler: handler}
	b.subs = append(b.subs, sub)
	return sub
}

func (b *Bus) Unsubscribe(sub Subscription) {
	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Clear() {
	b.subs = nil
}

// Notify assigns ev a serial if it has none and invokes every matching
// handler in subscription order. A panicking handler is logged and skipped.
func (b *Bus) Notify(ev Event) {
	h := ev.header()
	if h.serial == 0 {
		b.serial++
		h.serial = b.serial
	}

	// handlers may subscribe or unsubscribe while we iterate
	subs := b.subs
	for _, sub := range subs {
		if ev.Type().IsA(sub.typ) {
			b.invoke(sub, ev)
		}
	}
}

func (b *Bus) invoke(sub Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("Event handler for %s panicked on %s (serial %d): %v", sub.typ, ev.Type(), ev.Serial(), r)
		}
	}()
	sub.handler(ev)
}
