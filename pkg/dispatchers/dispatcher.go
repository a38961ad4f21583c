package dispatchers

import (
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

const readChunkSize = 32 * 1024

// Owner is the process a dispatcher belongs to.
type Owner interface {
	Name() string
	GroupName() string
	Pid() int

	ListenerState() processstate.ListenerState
	SetListenerState(state processstate.ListenerState)
	// CurrentEvent is the event being delivered to a listener, or nil.
	CurrentEvent() events.Event
	SetCurrentEvent(ev events.Event)
}

// LogSink receives child output destined for the regular log.
type LogSink interface {
	Write(data []byte)
}

// Dispatcher adapts one non-blocking child pipe to the reactor. The reactor
// asks Readable/Writable before each poll and calls the matching handler
// when the descriptor is ready. A handler error is passed to HandleError.
type Dispatcher interface {
	FD() int
	Channel() string
	Readable() bool
	Writable() bool
	HandleRead() error
	HandleWrite() error
	HandleError(err error)
	Close()
	Closed() bool
}

// base holds what every dispatcher shares
type base struct {
	owner   Owner
	channel string
	fd      int
	closed  bool
	sys     process.System
	bus     *events.Bus
	logger  logging.Logger
}

func (d *base) FD() int         { return d.fd }
func (d *base) Channel() string { return d.channel }
func (d *base) Closed() bool    { return d.closed }

func (d *base) Close() {
	if d.closed {
		return
	}
	d.closed = true
	if err := d.sys.Close(d.fd); err != nil {
		d.logger.Debugf("Closing %s pipe of '%s' failed: %v", d.channel, d.owner.Name(), err)
	}
	d.logger.Debugf("fd %d closed, stopped monitoring %s of '%s'", d.fd, d.channel, d.owner.Name())
}

func (d *base) HandleError(err error) {
	d.logger.Errorf("Error on %s of '%s', closing channel: %v", d.channel, d.owner.Name(), err)
	d.Close()
}

// read returns the next chunk, nil when nothing is ready, and eof at end of stream
func (d *base) read(buf []byte) (data []byte, eof bool, err error) {
	n, err := d.sys.Read(d.fd, buf)
	if err == process.ErrWouldBlock {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, true, nil
	}
	return buf[:n], false, nil
}
