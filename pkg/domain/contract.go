package domain

import (
	"context"

	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor/pkg/supervisor"
)

// Contract is the control API of a supervisor. The supervisor implements it
// in process; the gRPC client gateway implements it remotely.
type Contract interface {
	GetState(ctx context.Context) (supervisor.StateInfo, error)
	GetProcessInfo(ctx context.Context, name string) (supervisor.ProcessInfo, error)
	GetAllProcessInfo(ctx context.Context) ([]supervisor.ProcessInfo, error)

	StartProcess(ctx context.Context, name string, wait bool) (supervisor.Completion, error)
	StopProcess(ctx context.Context, name string, wait bool) (supervisor.Completion, error)
	RestartProcess(ctx context.Context, name string, wait bool) (supervisor.Completion, error)
	StartGroup(ctx context.Context, name string, wait bool) (supervisor.Completion, error)
	StopGroup(ctx context.Context, name string, wait bool) (supervisor.Completion, error)
	RestartGroup(ctx context.Context, name string, wait bool) (supervisor.Completion, error)
	StartAll(ctx context.Context, wait bool) (supervisor.Completion, error)
	StopAll(ctx context.Context, wait bool) (supervisor.Completion, error)
	PollToken(ctx context.Context, token string) (supervisor.Completion, error)

	SignalProcess(ctx context.Context, name, sig string) ([]supervisor.ProcessResult, error)
	SignalGroup(ctx context.Context, name, sig string) ([]supervisor.ProcessResult, error)
	SignalAll(ctx context.Context, sig string) ([]supervisor.ProcessResult, error)

	ReadProcessLog(ctx context.Context, name, channel string, offset, length int64) ([]byte, error)
	TailProcessLog(ctx context.Context, name, channel string, offset, length int64) (logcollection.TailResult, error)
	ClearProcessLogs(ctx context.Context, name string) error
	ClearAllProcessLogs(ctx context.Context) ([]supervisor.ProcessResult, error)

	SendProcessStdin(ctx context.Context, name, chars string) error
	SendRemoteCommEvent(ctx context.Context, kind, data string) error

	Shutdown(ctx context.Context) error
	Restart(ctx context.Context) error
	ReopenLogs(ctx context.Context) error
}

// EventMessage is a bus event as seen by remote subscribers.
type EventMessage struct {
	Type    events.EventType
	Serial  uint64
	Payload string
}

// EventStreamer delivers bus events to a remote subscriber. An empty types
// list subscribes to everything. The channel is closed once ctx is done or
// the stream ends.
type EventStreamer interface {
	SubscribeEvents(ctx context.Context, types []events.EventType) (<-chan EventMessage, error)
}

// EventSource is the reactor-side subscription hook a streamer is built on.
type EventSource interface {
	Subscribe(ctx context.Context, typ events.EventType, handler events.Handler) (func(), error)
}
