package resourcelimits

import (
	"fmt"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

const (
	fileDescriptorsMessage = "The minimum number of file descriptors required to run this process is %d as per the \"minfds\" " +
		"command-line argument or config file setting. The current environment will only allow you to open %s file descriptors. " +
		"Either raise the number of usable file descriptors in your environment or lower the minfds setting in the config file " +
		"to allow the process to start."
	processesMessage = "The minimum number of available processes required to run this program is %d as per the \"minprocs\" " +
		"command-line argument or config file setting. The current environment will only allow you to open %s processes. " +
		"Either raise the number of usable processes in your environment or lower the minprocs setting in the config file " +
		"to allow the program to start."
)

// resourceEnforcer implements ResourceEnforcer interface
type resourceEnforcer struct {
	accessor LimitAccessor
	logger   logging.Logger
}

// NewResourceEnforcer creates an enforcer acting on the current process
func NewResourceEnforcer(logger logging.Logger) ResourceEnforcer {
	return NewResourceEnforcerWithAccessor(systemLimits{}, logger)
}

func NewResourceEnforcerWithAccessor(accessor LimitAccessor, logger logging.Logger) ResourceEnforcer {
	return &resourceEnforcer{
		accessor: accessor,
		logger:   logger,
	}
}

func (re *resourceEnforcer) ApplyLimits(limits *ResourceLimits) error {
	if limits == nil {
		return nil
	}
	if err := re.raise(ResourceLimitTypeFileDescriptors, limits.MinFileDescriptors, fileDescriptorsMessage); err != nil {
		return err
	}
	return re.raise(ResourceLimitTypeProcesses, limits.MinProcesses, processesMessage)
}

func (re *resourceEnforcer) SupportsLimitType(limitType ResourceLimitType) bool {
	return supportsLimitTypeImpl(limitType)
}

// raise lifts the soft limit to min. The hard limit is raised too when it is
// lower, which only succeeds for privileged users.
func (re *resourceEnforcer) raise(limitType ResourceLimitType, min uint64, message string) error {
	if min == 0 {
		return nil
	}
	if !supportsLimitTypeImpl(limitType) {
		re.logger.Debugf("Resource limit not supported on this platform, type: %s", limitType)
		return nil
	}

	current, err := re.accessor.Get(limitType)
	if err != nil {
		return errors.NewIOError("failed to read resource limit", err).WithContext("limit_type", string(limitType))
	}
	if current.Soft == Infinity || current.Soft >= min {
		re.logger.Debugf("Resource limit sufficient, type: %s, soft: %s, min: %d", limitType, formatLimit(current.Soft), min)
		return nil
	}

	wanted := Rlimit{Soft: min, Hard: current.Hard}
	if current.Hard != Infinity && current.Hard < min {
		wanted.Hard = min
	}
	if err := re.accessor.Set(limitType, wanted); err != nil {
		re.logger.Errorf("Failed to raise resource limit, type: %s, min: %d, hard: %s, error: %v", limitType, min, formatLimit(current.Hard), err)
		return errors.NewPermissionError(fmt.Sprintf(message, min, formatLimit(current.Hard)), err).WithContext("limit_type", string(limitType))
	}
	re.logger.Infof("Increased %s limit to %d", limitType, min)
	return nil
}

func formatLimit(v uint64) string {
	if v == Infinity {
		return "unlimited"
	}
	return fmt.Sprintf("%d", v)
}
