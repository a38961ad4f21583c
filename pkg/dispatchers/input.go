package dispatchers

import (
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
)

// InputDispatcher feeds buffered bytes to a child's stdin.
type InputDispatcher struct {
	base
	buffer []byte
}

func NewInputDispatcher(owner Owner, fd int, sys process.System, bus *events.Bus, logger logging.Logger) *InputDispatcher {
	return &InputDispatcher{
		base: base{owner: owner, channel: "stdin", fd: fd, sys: sys, bus: bus, logger: logger},
	}
}

func (d *InputDispatcher) Readable() bool { return false }
func (d *InputDispatcher) Writable() bool { return len(d.buffer) > 0 && !d.closed }

func (d *InputDispatcher) HandleRead() error { return nil }

// Buffered returns the number of bytes not yet written.
func (d *InputDispatcher) Buffered() int {
	return len(d.buffer)
}

// Send queues data and tries to write it at once. Sending to a closed
// channel is a NO_FILE error.
func (d *InputDispatcher) Send(data []byte) error {
	if d.closed {
		return errors.NewNoFileError("stdin channel is closed").WithContext("process", d.owner.Name())
	}
	d.buffer = append(d.buffer, data...)
	return d.Flush()
}

// Flush writes as much of the buffer as the pipe accepts.
func (d *InputDispatcher) Flush() error {
	for len(d.buffer) > 0 {
		n, err := d.sys.Write(d.fd, d.buffer)
		if err == process.ErrWouldBlock {
			return nil
		}
		if err != nil {
			return err
		}
		d.buffer = d.buffer[n:]
	}
	d.buffer = nil
	return nil
}

// HandleWrite flushes the buffer; a broken pipe drops it and closes quietly.
func (d *InputDispatcher) HandleWrite() error {
	if len(d.buffer) == 0 {
		return nil
	}
	err := d.Flush()
	if err == process.ErrBrokenPipe {
		d.buffer = nil
		d.Close()
		return nil
	}
	return err
}
