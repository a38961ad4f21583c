package dispatchers

import (
	"bytes"

	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
)

// Communication tokens bracket a payload in child output that is published
// as a PROCESS_COMMUNICATION event instead of being logged.
var (
	BeginToken = []byte("<!--XSUPERVISOR:BEGIN-->")
	EndToken   = []byte("<!--XSUPERVISOR:END-->")
)

type OutputOptions struct {
	Log             LogSink // nil discards regular output
	CaptureMaxBytes int64   // 0 disables communication capture
	EventsEnabled   bool    // publish PROCESS_LOG events
}

// OutputDispatcher reads a child's stdout or stderr, logs it and extracts
// communication payloads.
type OutputDispatcher struct {
	base
	options   OutputOptions
	capture   *logcollection.CaptureBuffer
	capturing bool
	pending   []byte
	buf       []byte
}

func NewOutputDispatcher(owner Owner, channel string, fd int, options OutputOptions, sys process.System, bus *events.Bus, logger logging.Logger) *OutputDispatcher {
	d := &OutputDispatcher{
		base:    base{owner: owner, channel: channel, fd: fd, sys: sys, bus: bus, logger: logger},
		options: options,
		buf:     make([]byte, readChunkSize),
	}
	if options.CaptureMaxBytes > 0 {
		d.capture = logcollection.NewCaptureBuffer(options.CaptureMaxBytes)
	}
	return d
}

func (d *OutputDispatcher) Readable() bool { return !d.closed }
func (d *OutputDispatcher) Writable() bool { return false }

func (d *OutputDispatcher) HandleWrite() error { return nil }

// Capturing reports whether a begin token is open.
func (d *OutputDispatcher) Capturing() bool {
	return d.capturing
}

func (d *OutputDispatcher) HandleRead() error {
	data, eof, err := d.read(d.buf)
	if err != nil {
		return err
	}
	if eof {
		d.flushPending()
		d.Close()
		return nil
	}
	if data != nil {
		d.Record(data)
	}
	return nil
}

// Record feeds raw child output through the token scanner.
func (d *OutputDispatcher) Record(data []byte) {
	if d.capture == nil {
		d.emit(data)
		return
	}

	d.pending = append(d.pending, data...)
	for len(d.pending) > 0 {
		token := BeginToken
		if d.capturing {
			token = EndToken
		}

		if i := bytes.Index(d.pending, token); i >= 0 {
			d.emit(d.pending[:i])
			d.pending = d.pending[i+len(token):]
			d.toggleCapture()
			continue
		}

		// a token may straddle reads; hold back its possible start
		keep := prefixAtEnd(d.pending, token)
		d.emit(d.pending[:len(d.pending)-keep])
		d.pending = append([]byte(nil), d.pending[len(d.pending)-keep:]...)
		return
	}
}

// flushPending writes bytes held back for token matching
func (d *OutputDispatcher) flushPending() {
	if len(d.pending) > 0 {
		d.emit(d.pending)
		d.pending = nil
	}
}

func (d *OutputDispatcher) emit(data []byte) {
	if len(data) == 0 {
		return
	}
	if d.capturing {
		d.capture.Write(data)
		return
	}

	if d.options.Log != nil {
		d.options.Log.Write(data)
	}
	d.logger.Debugf("'%s' %s output:\n%s", d.owner.Name(), d.channel, data)
	if d.options.EventsEnabled {
		d.bus.Notify(events.NewProcessLogEvent(d.owner.Name(), d.owner.GroupName(), d.owner.Pid(), d.channel, data))
	}
}

func (d *OutputDispatcher) toggleCapture() {
	if !d.capturing {
		d.capturing = true
		return
	}

	d.capturing = false
	payload := d.capture.Take()
	d.logger.Debugf("'%s' %s communication:\n%s", d.owner.Name(), d.channel, payload)
	d.bus.Notify(events.NewProcessCommunicationEvent(d.owner.Name(), d.owner.GroupName(), d.owner.Pid(), d.channel, payload))
}

// prefixAtEnd returns the length of the longest proper prefix of token that
// data ends with.
func prefixAtEnd(data, token []byte) int {
	max := len(token) - 1
	if len(data) < max {
		max = len(data)
	}
	for n := max; n > 0; n-- {
		if bytes.HasSuffix(data, token[:n]) {
			return n
		}
	}
	return 0
}
