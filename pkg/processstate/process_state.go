package processstate

// ProcessState is the lifecycle state of one supervised process. The numeric
// codes are the ones reported to control-plane clients.
type ProcessState int

const (
	Stopped  ProcessState = 0    // Not running, no autostart pending
	Starting ProcessState = 10   // Forked, not yet confirmed stable
	Running  ProcessState = 20   // Past the start grace period
	Backoff  ProcessState = 30   // Exited too quickly, waiting to retry
	Stopping ProcessState = 40   // Stop signal sent, awaiting exit or kill timeout
	Exited   ProcessState = 100  // Ran normally then exited
	Fatal    ProcessState = 200  // Retries exhausted
	Unknown  ProcessState = 1000 // Supervision invariant violated
)

var processStateNames = map[ProcessState]string{
	Stopped:  "STOPPED",
	Starting: "STARTING",
	Running:  "RUNNING",
	Backoff:  "BACKOFF",
	Stopping: "STOPPING",
	Exited:   "EXITED",
	Fatal:    "FATAL",
	Unknown:  "UNKNOWN",
}

func (s ProcessState) String() string {
	if name, ok := processStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// AllProcessStates lists the states in code order.
func AllProcessStates() []ProcessState {
	return []ProcessState{Stopped, Starting, Running, Backoff, Stopping, Exited, Fatal, Unknown}
}

// IsStopped reports whether no OS process exists for the state.
func (s ProcessState) IsStopped() bool {
	switch s {
	case Stopped, Exited, Fatal, Unknown:
		return true
	}
	return false
}

// IsRunning reports whether the state counts as started for control requests.
func (s ProcessState) IsRunning() bool {
	switch s {
	case Running, Starting, Backoff:
		return true
	}
	return false
}

// IsSignallable reports whether the state owns a live pid.
func (s ProcessState) IsSignallable() bool {
	switch s {
	case Running, Starting, Stopping:
		return true
	}
	return false
}

// ListenerState is the event-listener protocol sub-state of a listener process.
type ListenerState int

const (
	ListenerAcknowledged ListenerState = 10   // Waiting for READY
	ListenerReady        ListenerState = 20   // Can receive one event
	ListenerBusy         ListenerState = 30   // Event written, waiting for RESULT
	ListenerUnknown      ListenerState = 1000 // Protocol violated
)

func (s ListenerState) String() string {
	switch s {
	case ListenerAcknowledged:
		return "ACKNOWLEDGED"
	case ListenerReady:
		return "READY"
	case ListenerBusy:
		return "BUSY"
	}
	return "UNKNOWN"
}

// SupervisorState is the supervisor's mood.
type SupervisorState int

const (
	SupervisorFatal      SupervisorState = 2
	SupervisorRunning    SupervisorState = 1
	SupervisorRestarting SupervisorState = 0
	SupervisorShutdown   SupervisorState = -1
)

func (s SupervisorState) String() string {
	switch s {
	case SupervisorFatal:
		return "FATAL"
	case SupervisorRunning:
		return "RUNNING"
	case SupervisorRestarting:
		return "RESTARTING"
	case SupervisorShutdown:
		return "SHUTDOWN"
	}
	return "UNKNOWN"
}
