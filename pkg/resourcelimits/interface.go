package resourcelimits

// ResourceEnforcer raises the supervisor's own resource limits
type ResourceEnforcer interface {
	// ApplyLimits raises every soft limit below its minimum. It fails when
	// the environment does not allow a minimum to be reached.
	ApplyLimits(limits *ResourceLimits) error

	// SupportsLimitType checks if a limit type can be changed on this platform
	SupportsLimitType(limitType ResourceLimitType) bool
}

// ResourceLimitType represents the limits the supervisor cares about
type ResourceLimitType string

const (
	ResourceLimitTypeFileDescriptors ResourceLimitType = "file_descriptors"
	ResourceLimitTypeProcesses       ResourceLimitType = "processes"
)

// Infinity marks an unlimited soft or hard limit.
const Infinity = ^uint64(0)

// ResourceLimits are the minimums required to run the configured processes.
// Zero disables a check.
type ResourceLimits struct {
	MinFileDescriptors uint64
	MinProcesses       uint64
}

// Rlimit is a soft/hard limit pair.
type Rlimit struct {
	Soft uint64
	Hard uint64
}

// LimitAccessor reads and writes limits of the current process.
type LimitAccessor interface {
	Get(limitType ResourceLimitType) (Rlimit, error)
	Set(limitType ResourceLimitType, limit Rlimit) error
}
