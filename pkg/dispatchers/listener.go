package dispatchers

import (
	"bytes"
	"strconv"

	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

var (
	readyToken       = []byte("READY\n")
	resultTokenStart = []byte("RESULT ")
)

// Listener results.
const (
	ResultOK   = "OK"
	ResultFail = "FAIL"
)

// EventListenerDispatcher reads the stdout of an event listener and drives
// its listener state from the READY / RESULT protocol.
type EventListenerDispatcher struct {
	base
	log       LogSink
	state     []byte
	resultLen int // -1 until a RESULT line has been parsed
	result    []byte
	buf       []byte
}

func NewEventListenerDispatcher(owner Owner, fd int, log LogSink, sys process.System, bus *events.Bus, logger logging.Logger) *EventListenerDispatcher {
	return &EventListenerDispatcher{
		base:      base{owner: owner, channel: "stdout", fd: fd, sys: sys, bus: bus, logger: logger},
		log:       log,
		resultLen: -1,
		buf:       make([]byte, readChunkSize),
	}
}

func (d *EventListenerDispatcher) Readable() bool { return !d.closed }
func (d *EventListenerDispatcher) Writable() bool { return false }

func (d *EventListenerDispatcher) HandleWrite() error { return nil }

func (d *EventListenerDispatcher) HandleRead() error {
	data, eof, err := d.read(d.buf)
	if err != nil {
		return err
	}
	if eof {
		d.Close()
		return nil
	}
	if data != nil {
		d.Feed(data)
	}
	return nil
}

// Feed processes protocol bytes read from the listener.
func (d *EventListenerDispatcher) Feed(data []byte) {
	d.logger.Debugf("'%s' %s output:\n%s", d.owner.Name(), d.channel, data)
	if d.log != nil {
		d.log.Write(data)
	}
	d.state = append(d.state, data...)
	d.advance()
}

func (d *EventListenerDispatcher) advance() {
	for len(d.state) > 0 {
		switch d.owner.ListenerState() {
		case processstate.ListenerUnknown:
			d.state = nil
			return

		case processstate.ListenerAcknowledged:
			if len(d.state) < len(readyToken) {
				if !bytes.HasPrefix(readyToken, d.state) {
					d.fail("expected READY")
				}
				return
			}
			if !bytes.HasPrefix(d.state, readyToken) {
				d.fail("expected READY")
				return
			}
			d.state = d.state[len(readyToken):]
			d.owner.SetCurrentEvent(nil)
			d.owner.SetListenerState(processstate.ListenerReady)

		case processstate.ListenerReady:
			d.fail("unexpected output while ready")
			return

		case processstate.ListenerBusy:
			if !d.advanceBusy() {
				return
			}
		}
	}
}

// advanceBusy consumes a result line and body; it returns false when more
// input is needed or the listener failed.
func (d *EventListenerDispatcher) advanceBusy() bool {
	if d.resultLen < 0 {
		pos := bytes.IndexByte(d.state, '\n')
		if pos < 0 {
			return false
		}
		line := d.state[:pos]
		d.state = d.state[pos+1:]

		n, ok := parseResultLine(line)
		if !ok {
			d.reject("bad result line " + strconv.Quote(string(line)))
			return false
		}
		d.resultLen = n
		d.result = d.result[:0]
	}

	if needed := d.resultLen - len(d.result); needed > 0 {
		if needed > len(d.state) {
			needed = len(d.state)
		}
		d.result = append(d.result, d.state[:needed]...)
		d.state = d.state[needed:]
	}
	if len(d.result) < d.resultLen {
		return false
	}

	result := string(d.result)
	d.result = nil
	d.resultLen = -1
	return d.handleResult(result)
}

func (d *EventListenerDispatcher) handleResult(result string) bool {
	ev := d.owner.CurrentEvent()
	switch result {
	case ResultOK:
		d.logger.Debugf("%s: event was processed", d.owner.Name())
		d.acknowledge()
	case ResultFail:
		d.logger.Warnf("%s: event was rejected", d.owner.Name())
		d.acknowledge()
		d.publishRejected(ev)
	default:
		d.reject("bad result " + strconv.Quote(result))
		return false
	}
	return true
}

func (d *EventListenerDispatcher) acknowledge() {
	d.owner.SetCurrentEvent(nil)
	d.owner.SetListenerState(processstate.ListenerAcknowledged)
}

// reject fails the listener and hands the in-flight event back for redelivery
func (d *EventListenerDispatcher) reject(reason string) {
	ev := d.owner.CurrentEvent()
	d.fail(reason)
	d.publishRejected(ev)
}

func (d *EventListenerDispatcher) fail(reason string) {
	d.logger.Warnf("%s: %s -> UNKNOWN (%s)", d.owner.Name(), d.owner.ListenerState(), reason)
	d.state = nil
	d.result = nil
	d.resultLen = -1
	d.owner.SetCurrentEvent(nil)
	d.owner.SetListenerState(processstate.ListenerUnknown)
}

func (d *EventListenerDispatcher) publishRejected(ev events.Event) {
	if ev == nil {
		return
	}
	d.bus.Notify(events.NewEventRejectedEvent(d.owner.Name(), d.owner.GroupName(), ev))
}

// parseResultLine accepts "RESULT <n>" with a non-negative decimal length
func parseResultLine(line []byte) (int, bool) {
	if !bytes.HasPrefix(line, resultTokenStart) {
		return 0, false
	}
	n, err := strconv.Atoi(string(line[len(resultTokenStart):]))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
