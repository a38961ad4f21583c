package control

import (
	"context"
	"sync"

	"github.com/core-tools/hsu-supervisor/pkg/domain"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logging"

	"github.com/kelindar/event"
)

const (
	typeBusEvent uint32 = iota + 1
)

const subscriberBufferSize = 256

// busEvent carries a bus event across the kelindar dispatcher.
type busEvent struct {
	msg domain.EventMessage
}

func (busEvent) Type() uint32 { return typeBusEvent }

// EventBroker fans bus events out to any number of remote subscribers. The
// reactor only ever publishes to the dispatcher, which queues per
// subscriber, so a slow stream never stalls supervision.
type EventBroker struct {
	dispatcher  *event.Dispatcher
	unsubscribe []func()
	logger      logging.Logger
}

// NewEventBroker subscribes to every bus event of source, including
// EVENT_REJECTED, which sits outside the EVENT tree.
func NewEventBroker(ctx context.Context, source domain.EventSource, logger logging.Logger) (*EventBroker, error) {
	b := &EventBroker{
		dispatcher: event.NewDispatcher(),
		logger:     logger,
	}
	for _, typ := range []events.EventType{events.TypeEvent, events.TypeEventRejected} {
		unsubscribe, err := source.Subscribe(ctx, typ, b.publish)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.unsubscribe = append(b.unsubscribe, unsubscribe)
	}
	return b, nil
}

func (b *EventBroker) publish(ev events.Event) {
	event.Publish(b.dispatcher, busEvent{msg: domain.EventMessage{
		Type:    ev.Type(),
		Serial:  ev.Serial(),
		Payload: ev.Payload(),
	}})
}

// Close detaches the broker from the bus.
func (b *EventBroker) Close() {
	for _, unsubscribe := range b.unsubscribe {
		unsubscribe()
	}
	b.unsubscribe = nil
}

// SubscribeEvents implements domain.EventStreamer. Events are dropped, with a
// warning, when the subscriber falls more than a buffer behind.
func (b *EventBroker) SubscribeEvents(ctx context.Context, types []events.EventType) (<-chan domain.EventMessage, error) {
	ch := make(chan domain.EventMessage, subscriberBufferSize)
	var (
		mutex  sync.Mutex
		closed bool
	)

	unsubscribe := event.Subscribe(b.dispatcher, func(e busEvent) {
		if !matches(e.msg.Type, types) {
			return
		}
		mutex.Lock()
		defer mutex.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e.msg:
		default:
			b.logger.Warnf("Event subscriber too slow, dropping event, type: %s, serial: %d", e.msg.Type, e.msg.Serial)
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mutex.Lock()
		closed = true
		close(ch)
		mutex.Unlock()
	}()

	return ch, nil
}

func matches(typ events.EventType, types []events.EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if typ.IsA(t) {
			return true
		}
	}
	return false
}
