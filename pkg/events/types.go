package events

import (
	"strings"

	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

// EventType names an event kind. Types form a tree rooted at EVENT; a
// subscription to a supertype receives all of its subtypes.
type EventType string

const (
	TypeEvent EventType = "EVENT"

	TypeProcessState         EventType = "PROCESS_STATE"
	TypeProcessStateStopped  EventType = "PROCESS_STATE_STOPPED"
	TypeProcessStateStarting EventType = "PROCESS_STATE_STARTING"
	TypeProcessStateRunning  EventType = "PROCESS_STATE_RUNNING"
	TypeProcessStateBackoff  EventType = "PROCESS_STATE_BACKOFF"
	TypeProcessStateStopping EventType = "PROCESS_STATE_STOPPING"
	TypeProcessStateExited   EventType = "PROCESS_STATE_EXITED"
	TypeProcessStateFatal    EventType = "PROCESS_STATE_FATAL"
	TypeProcessStateUnknown  EventType = "PROCESS_STATE_UNKNOWN"

	TypeProcessCommunication       EventType = "PROCESS_COMMUNICATION"
	TypeProcessCommunicationStdout EventType = "PROCESS_COMMUNICATION_STDOUT"
	TypeProcessCommunicationStderr EventType = "PROCESS_COMMUNICATION_STDERR"

	TypeProcessLog       EventType = "PROCESS_LOG"
	TypeProcessLogStdout EventType = "PROCESS_LOG_STDOUT"
	TypeProcessLogStderr EventType = "PROCESS_LOG_STDERR"

	TypeRemoteCommunication EventType = "REMOTE_COMMUNICATION"

	TypeSupervisorStateChange         EventType = "SUPERVISOR_STATE_CHANGE"
	TypeSupervisorStateChangeRunning  EventType = "SUPERVISOR_STATE_CHANGE_RUNNING"
	TypeSupervisorStateChangeStopping EventType = "SUPERVISOR_STATE_CHANGE_STOPPING"

	TypeTick     EventType = "TICK"
	TypeTick5    EventType = "TICK_5"
	TypeTick60   EventType = "TICK_60"
	TypeTick3600 EventType = "TICK_3600"

	TypeProcessGroup        EventType = "PROCESS_GROUP"
	TypeProcessGroupAdded   EventType = "PROCESS_GROUP_ADDED"
	TypeProcessGroupRemoved EventType = "PROCESS_GROUP_REMOVED"

	// TypeEventRejected sits outside the EVENT tree so it is never delivered
	// to listener processes.
	TypeEventRejected EventType = "EVENT_REJECTED"
)

var parents = map[EventType]EventType{
	TypeProcessState:         TypeEvent,
	TypeProcessStateStopped:  TypeProcessState,
	TypeProcessStateStarting: TypeProcessState,
	TypeProcessStateRunning:  TypeProcessState,
	TypeProcessStateBackoff:  TypeProcessState,
	TypeProcessStateStopping: TypeProcessState,
	TypeProcessStateExited:   TypeProcessState,
	TypeProcessStateFatal:    TypeProcessState,
	TypeProcessStateUnknown:  TypeProcessState,

	TypeProcessCommunication:       TypeEvent,
	TypeProcessCommunicationStdout: TypeProcessCommunication,
	TypeProcessCommunicationStderr: TypeProcessCommunication,

	TypeProcessLog:       TypeEvent,
	TypeProcessLogStdout: TypeProcessLog,
	TypeProcessLogStderr: TypeProcessLog,

	TypeRemoteCommunication: TypeEvent,

	TypeSupervisorStateChange:         TypeEvent,
	TypeSupervisorStateChangeRunning:  TypeSupervisorStateChange,
	TypeSupervisorStateChangeStopping: TypeSupervisorStateChange,

	TypeTick:     TypeEvent,
	TypeTick5:    TypeTick,
	TypeTick60:   TypeTick,
	TypeTick3600: TypeTick,

	TypeProcessGroup:        TypeEvent,
	TypeProcessGroupAdded:   TypeProcessGroup,
	TypeProcessGroupRemoved: TypeProcessGroup,
}

// IsA reports whether t equals super or descends from it.
func (t EventType) IsA(super EventType) bool {
	for cur := t; ; {
		if cur == super {
			return true
		}
		parent, ok := parents[cur]
		if !ok {
			return false
		}
		cur = parent
	}
}

// ParseEventType resolves a configured event name (case-insensitive).
func ParseEventType(name string) (EventType, bool) {
	t := EventType(strings.ToUpper(strings.TrimSpace(name)))
	if t == TypeEvent || t == TypeEventRejected {
		return t, true
	}
	_, ok := parents[t]
	return t, ok
}

// TickPeriods lists the tick event periods in seconds.
var TickPeriods = map[EventType]int64{
	TypeTick5:    5,
	TypeTick60:   60,
	TypeTick3600: 3600,
}

func processStateType(state processstate.ProcessState) EventType {
	switch state {
	case processstate.Stopped:
		return TypeProcessStateStopped
	case processstate.Starting:
		return TypeProcessStateStarting
	case processstate.Running:
		return TypeProcessStateRunning
	case processstate.Backoff:
		return TypeProcessStateBackoff
	case processstate.Stopping:
		return TypeProcessStateStopping
	case processstate.Exited:
		return TypeProcessStateExited
	case processstate.Fatal:
		return TypeProcessStateFatal
	}
	return TypeProcessStateUnknown
}
