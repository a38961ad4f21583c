//go:build !linux && !darwin

package resourcelimits

import "github.com/core-tools/hsu-supervisor/pkg/errors"

type systemLimits struct{}

func supportsLimitTypeImpl(limitType ResourceLimitType) bool {
	return false
}

func (systemLimits) Get(limitType ResourceLimitType) (Rlimit, error) {
	return Rlimit{}, errors.NewInternalError("resource limits are not supported on this platform", nil)
}

func (systemLimits) Set(limitType ResourceLimitType, limit Rlimit) error {
	return errors.NewInternalError("resource limits are not supported on this platform", nil)
}
