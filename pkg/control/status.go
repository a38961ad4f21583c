package control

import (
	stderrors "errors"
	"strings"

	"github.com/core-tools/hsu-supervisor/pkg/errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// faultType maps a wire fault code back to an error type.
func faultType(fault string) (errors.ErrorType, bool) {
	switch errorType := errors.ErrorType(fault); errorType {
	case "SPAWN_ERROR":
		return errors.ErrorTypeSpawn, true
	case errors.ErrorTypeBadName, errors.ErrorTypeBadArguments, errors.ErrorTypeBadSignal, errors.ErrorTypeNotRunning,
		errors.ErrorTypeAlreadyStarted, errors.ErrorTypeAbnormalTermination, errors.ErrorTypeNoFile,
		errors.ErrorTypeFailed, errors.ErrorTypeShutdownState:
		return errorType, true
	}
	return "", false
}

func grpcCode(errorType errors.ErrorType) codes.Code {
	switch errorType {
	case errors.ErrorTypeBadName, errors.ErrorTypeNoFile, errors.ErrorTypeNotFound:
		return codes.NotFound
	case errors.ErrorTypeBadArguments, errors.ErrorTypeBadSignal, errors.ErrorTypeValidation:
		return codes.InvalidArgument
	case errors.ErrorTypeNotRunning, errors.ErrorTypeAlreadyStarted, errors.ErrorTypeState:
		return codes.FailedPrecondition
	case errors.ErrorTypeSpawn, errors.ErrorTypeAbnormalTermination:
		return codes.Aborted
	case errors.ErrorTypeShutdownState:
		return codes.Unavailable
	case errors.ErrorTypeCancelled:
		return codes.Canceled
	case errors.ErrorTypePermission:
		return codes.PermissionDenied
	}
	return codes.Unknown
}

// toStatus renders err as "<FAULT>: message" so the client can rebuild it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *errors.DomainError
	if !stderrors.As(err, &domainErr) {
		return status.Errorf(codes.Unknown, "%s: %v", errors.ErrorTypeFailed, err)
	}
	message := domainErr.Message
	if domainErr.Cause != nil {
		message += ": " + domainErr.Cause.Error()
	}
	return status.Errorf(grpcCode(domainErr.Type), "%s: %s", errors.FaultCode(domainErr), message)
}

// fromStatus rebuilds a DomainError from a status produced by toStatus.
// Transport failures become I/O errors.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.NewIOError("control request failed", err)
	}
	switch st.Code() {
	case codes.Canceled, codes.DeadlineExceeded:
		return errors.NewCancelledError("control request cancelled", err)
	}
	fault, message, found := strings.Cut(st.Message(), ": ")
	if found {
		if errorType, known := faultType(fault); known {
			return errors.NewDomainError(errorType, message, nil)
		}
	}
	return errors.NewIOError("control request failed", err)
}
