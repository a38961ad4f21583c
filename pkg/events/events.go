package events

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

// Event is the closed set of things published on the Bus. Implementations
// live in this package only; consumers switch on the concrete type.
type Event interface {
	Type() EventType
	// Serial is assigned by the Bus on first publication.
	Serial() uint64
	// Payload is the body delivered to listener processes.
	Payload() string
	header() *eventHeader
}

type eventHeader struct {
	serial uint64
}

func (h *eventHeader) Serial() uint64       { return h.serial }
func (h *eventHeader) header() *eventHeader { return h }

// ===== Process state =====

type ProcessStateEvent struct {
	eventHeader
	ProcessName string
	GroupName   string
	From        processstate.ProcessState
	To          processstate.ProcessState
	// Tries is the backoff counter, reported for STARTING and BACKOFF.
	Tries int
	// Expected is meaningful for EXITED only.
	Expected bool
	Pid      int
}

func NewProcessStateEvent(processName, groupName string, from, to processstate.ProcessState, tries int, expected bool, pid int) *ProcessStateEvent {
	return &ProcessStateEvent{
		ProcessName: processName,
		GroupName:   groupName,
		From:        from,
		To:          to,
		Tries:       tries,
		Expected:    expected,
		Pid:         pid,
	}
}

func (e *ProcessStateEvent) Type() EventType { return processStateType(e.To) }

func (e *ProcessStateEvent) Payload() string {
	var b strings.Builder
	fmt.Fprintf(&b, "processname:%s groupname:%s from_state:%s", e.ProcessName, e.GroupName, e.From)
	switch e.To {
	case processstate.Starting, processstate.Backoff:
		fmt.Fprintf(&b, " tries:%d", e.Tries)
	case processstate.Exited:
		fmt.Fprintf(&b, " expected:%d pid:%d", boolInt(e.Expected), e.Pid)
	case processstate.Running, processstate.Stopping, processstate.Stopped:
		fmt.Fprintf(&b, " pid:%d", e.Pid)
	}
	return b.String()
}

// ===== Process output =====

type ProcessLogEvent struct {
	eventHeader
	ProcessName string
	GroupName   string
	Pid         int
	Channel     string
	Data        []byte
}

func NewProcessLogEvent(processName, groupName string, pid int, channel string, data []byte) *ProcessLogEvent {
	return &ProcessLogEvent{
		ProcessName: processName,
		GroupName:   groupName,
		Pid:         pid,
		Channel:     channel,
		Data:        append([]byte(nil), data...),
	}
}

func (e *ProcessLogEvent) Type() EventType {
	if e.Channel == "stderr" {
		return TypeProcessLogStderr
	}
	return TypeProcessLogStdout
}

func (e *ProcessLogEvent) Payload() string {
	return fmt.Sprintf("processname:%s groupname:%s pid:%d channel:%s\n%s",
		e.ProcessName, e.GroupName, e.Pid, e.Channel, e.Data)
}

type ProcessCommunicationEvent struct {
	eventHeader
	ProcessName string
	GroupName   string
	Pid         int
	Channel     string
	Data        []byte
}

func NewProcessCommunicationEvent(processName, groupName string, pid int, channel string, data []byte) *ProcessCommunicationEvent {
	return &ProcessCommunicationEvent{
		ProcessName: processName,
		GroupName:   groupName,
		Pid:         pid,
		Channel:     channel,
		Data:        append([]byte(nil), data...),
	}
}

func (e *ProcessCommunicationEvent) Type() EventType {
	if e.Channel == "stderr" {
		return TypeProcessCommunicationStderr
	}
	return TypeProcessCommunicationStdout
}

func (e *ProcessCommunicationEvent) Payload() string {
	return fmt.Sprintf("processname:%s groupname:%s pid:%d\n%s", e.ProcessName, e.GroupName, e.Pid, e.Data)
}

// ===== Supervisor-originated =====

type RemoteCommunicationEvent struct {
	eventHeader
	Kind string
	Data string
}

func NewRemoteCommunicationEvent(kind, data string) *RemoteCommunicationEvent {
	return &RemoteCommunicationEvent{Kind: kind, Data: data}
}

func (e *RemoteCommunicationEvent) Type() EventType { return TypeRemoteCommunication }

func (e *RemoteCommunicationEvent) Payload() string {
	return fmt.Sprintf("type:%s\n%s", e.Kind, e.Data)
}

type SupervisorStateChangeEvent struct {
	eventHeader
	Stopping bool
}

func NewSupervisorStateChangeEvent(stopping bool) *SupervisorStateChangeEvent {
	return &SupervisorStateChangeEvent{Stopping: stopping}
}

func (e *SupervisorStateChangeEvent) Type() EventType {
	if e.Stopping {
		return TypeSupervisorStateChangeStopping
	}
	return TypeSupervisorStateChangeRunning
}

func (e *SupervisorStateChangeEvent) Payload() string { return "" }

type TickEvent struct {
	eventHeader
	Kind EventType
	When int64
}

func NewTickEvent(kind EventType, when int64) *TickEvent {
	return &TickEvent{Kind: kind, When: when}
}

func (e *TickEvent) Type() EventType { return e.Kind }

func (e *TickEvent) Payload() string { return fmt.Sprintf("when:%d", e.When) }

type ProcessGroupEvent struct {
	eventHeader
	GroupName string
	Removed   bool
}

func NewProcessGroupEvent(groupName string, removed bool) *ProcessGroupEvent {
	return &ProcessGroupEvent{GroupName: groupName, Removed: removed}
}

func (e *ProcessGroupEvent) Type() EventType {
	if e.Removed {
		return TypeProcessGroupRemoved
	}
	return TypeProcessGroupAdded
}

func (e *ProcessGroupEvent) Payload() string { return fmt.Sprintf("groupname:%s\n", e.GroupName) }

// EventRejectedEvent re-offers an event that a listener failed to process.
type EventRejectedEvent struct {
	eventHeader
	ProcessName string
	GroupName   string
	Event       Event
}

func NewEventRejectedEvent(processName, groupName string, rejected Event) *EventRejectedEvent {
	return &EventRejectedEvent{ProcessName: processName, GroupName: groupName, Event: rejected}
}

func (e *EventRejectedEvent) Type() EventType { return TypeEventRejected }

func (e *EventRejectedEvent) Payload() string { return e.Event.Payload() }

// Envelope serializes ev for delivery to a listener process.
func Envelope(serverID string, ev Event, poolName string, poolSerial uint64) []byte {
	payload := ev.Payload()
	header := fmt.Sprintf("ver:3.0 server:%s serial:%d pool:%s poolserial:%d eventname:%s len:%d\n",
		serverID, ev.Serial(), poolName, poolSerial, ev.Type(), len(payload))
	return []byte(header + payload)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
