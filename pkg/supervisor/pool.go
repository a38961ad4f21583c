package supervisor

import (
	"github.com/core-tools/hsu-supervisor/pkg/config"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

// Pool is a group of event listeners sharing one bounded FIFO of events.
// When the buffer is full the oldest event is dropped.
type Pool struct {
	*Group
	pool    *config.PoolConfig
	logger  logging.Logger
	buffer  []events.Event
	serial  uint64
	serials map[events.Event]uint64
	subs    []events.Subscription

	onDropped func(pool string, ev events.Event)
}

func newPool(cfg *config.GroupConfig, e *env, onDropped func(string, events.Event)) *Pool {
	p := &Pool{
		Group:     newGroup(cfg, e, true),
		pool:      cfg.Pool,
		logger:    logging.WithPrefix(e.logger, "pool: "+cfg.Name+" , "),
		serials:   make(map[events.Event]uint64),
		onDropped: onDropped,
	}
	for _, typ := range cfg.Pool.Events {
		p.subs = append(p.subs, e.bus.Subscribe(typ, func(ev events.Event) {
			p.accept(ev, false)
		}))
	}
	p.subs = append(p.subs, e.bus.Subscribe(events.TypeEventRejected, p.handleRejected))
	return p
}

// Buffered returns the events waiting for a listener, oldest first.
func (p *Pool) Buffered() []events.Event {
	return append([]events.Event(nil), p.buffer...)
}

// PoolSerial returns the pool-local serial assigned to ev, or 0.
func (p *Pool) PoolSerial(ev events.Event) uint64 {
	return p.serials[ev]
}

func (p *Pool) accept(ev events.Event, head bool) {
	if _, ok := p.serials[ev]; !ok {
		p.serial++
		p.serials[ev] = p.serial
	} else {
		p.logger.Debugf("rebuffering event %d for pool %s (buf size=%d, max=%d)", ev.Serial(), p.config.Name, len(p.buffer), p.pool.BufferSize)
	}

	if len(p.buffer) >= p.pool.BufferSize && len(p.buffer) > 0 {
		dropped := p.buffer[0]
		p.buffer = p.buffer[1:]
		delete(p.serials, dropped)
		p.logger.Errorf("pool %s event buffer overflowed, discarding event %d", p.config.Name, dropped.Serial())
		if p.onDropped != nil {
			p.onDropped(p.config.Name, dropped)
		}
	}

	if head {
		p.buffer = append([]events.Event{ev}, p.buffer...)
	} else {
		p.buffer = append(p.buffer, ev)
	}
}

// handleRejected rebuffers events that one of this pool's listeners failed
// to process.
func (p *Pool) handleRejected(ev events.Event) {
	rejected, ok := ev.(*events.EventRejectedEvent)
	if !ok || rejected.GroupName != p.config.Name {
		return
	}
	if _, ok := p.byName[rejected.ProcessName]; !ok {
		return
	}
	p.accept(rejected.Event, true)
}

func (p *Pool) transition() {
	capable := false
	for _, proc := range p.processes {
		proc.transition()
		if proc.state == processstate.Running && proc.listenerState == processstate.ListenerReady {
			capable = true
		}
	}
	if capable {
		p.dispatch()
	}
	p.forgetDelivered()
}

func (p *Pool) dispatch() {
	for len(p.buffer) > 0 {
		ev := p.buffer[0]
		p.buffer = p.buffer[1:]
		if !p.dispatchEvent(ev) {
			p.accept(ev, true)
			return
		}
	}
}

func (p *Pool) dispatchEvent(ev events.Event) bool {
	for _, proc := range p.processes {
		if proc.state != processstate.Running || proc.listenerState != processstate.ListenerReady {
			continue
		}
		envelope := events.Envelope(p.env.identifier, ev, p.config.Name, p.serials[ev])
		if err := proc.Write(envelope); err != nil {
			p.logger.Debugf("failed sending event %d to listener %s, listener state unchanged: %v", ev.Serial(), proc.config.Name, err)
			continue
		}
		proc.SetListenerState(processstate.ListenerBusy)
		proc.event = ev
		p.logger.Debugf("event %d sent to listener %s", ev.Serial(), proc.config.Name)
		return true
	}
	return false
}

// forgetDelivered drops pool serials of events that are neither buffered
// nor in flight to a listener.
func (p *Pool) forgetDelivered() {
	if len(p.serials) <= len(p.buffer) {
		return
	}
	live := make(map[events.Event]bool, len(p.buffer)+len(p.processes))
	for _, ev := range p.buffer {
		live[ev] = true
	}
	for _, proc := range p.processes {
		if proc.event != nil {
			live[proc.event] = true
		}
	}
	for ev := range p.serials {
		if !live[ev] {
			delete(p.serials, ev)
		}
	}
}

func (p *Pool) close() {
	for _, sub := range p.subs {
		p.env.bus.Unsubscribe(sub)
	}
	p.subs = nil
	p.Group.close()
}
