//go:build linux || darwin

package resourcelimits

import (
	"golang.org/x/sys/unix"
)

// systemLimits reads and writes rlimits of the supervisor itself
type systemLimits struct{}

func supportsLimitTypeImpl(limitType ResourceLimitType) bool {
	_, ok := resourceFor(limitType)
	return ok
}

func resourceFor(limitType ResourceLimitType) (int, bool) {
	switch limitType {
	case ResourceLimitTypeFileDescriptors:
		return unix.RLIMIT_NOFILE, true
	case ResourceLimitTypeProcesses:
		return unix.RLIMIT_NPROC, true
	}
	return 0, false
}

func (systemLimits) Get(limitType ResourceLimitType) (Rlimit, error) {
	resource, ok := resourceFor(limitType)
	if !ok {
		return Rlimit{}, unix.EINVAL
	}
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(resource, &rlimit); err != nil {
		return Rlimit{}, err
	}
	return Rlimit{Soft: fromSystem(rlimit.Cur), Hard: fromSystem(rlimit.Max)}, nil
}

func (systemLimits) Set(limitType ResourceLimitType, limit Rlimit) error {
	resource, ok := resourceFor(limitType)
	if !ok {
		return unix.EINVAL
	}
	return unix.Setrlimit(resource, &unix.Rlimit{Cur: toSystem(limit.Soft), Max: toSystem(limit.Hard)})
}

func fromSystem(v uint64) uint64 {
	if v == systemInfinity {
		return Infinity
	}
	return v
}

func toSystem(v uint64) uint64 {
	if v == Infinity {
		return systemInfinity
	}
	return v
}
