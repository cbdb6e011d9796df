package lifecycle

import (
	"errors"
	"fmt"
)

// Error codes for programmatic handling of lifecycle errors.
const (
	ErrCodeInvalidPhase        = "INVALID_PHASE"
	ErrCodePhaseAlreadyRunning = "PHASE_ALREADY_RUNNING"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeRegistryBusy        = "REGISTRY_BUSY"
	ErrCodeHandlerFailure      = "HANDLER_FAILURE"
)

// ErrNilHandler is returned by Register when the handler is nil.
var ErrNilHandler = errors.New("lifecycle: handler is nil")

// ErrZeroOwner is returned by Register when the owner is the zero Identity.
// Owners must be minted with NewIdentity.
var ErrZeroOwner = errors.New("lifecycle: owner identity is zero")

// InvalidPhaseError is returned when a phase token is not one of startup,
// closing or closed. The registry is left unchanged.
type InvalidPhaseError struct {
	Token string
}

func (e *InvalidPhaseError) Error() string {
	return fmt.Sprintf("lifecycle: invalid phase %q (want startup, closing or closed)", e.Token)
}

// Code returns ErrCodeInvalidPhase.
func (e *InvalidPhaseError) Code() string { return ErrCodeInvalidPhase }

// PhaseAlreadyRunningError is returned when a phase is entered while another
// phase run is in flight. No handlers are invoked.
type PhaseAlreadyRunningError struct {
	Requested Phase
	Running   Phase
}

func (e *PhaseAlreadyRunningError) Error() string {
	return fmt.Sprintf("lifecycle: cannot enter %s while %s is running", e.Requested, e.Running)
}

// Code returns ErrCodePhaseAlreadyRunning.
func (e *PhaseAlreadyRunningError) Code() string { return ErrCodePhaseAlreadyRunning }

// InvalidTransitionError is returned when a phase is entered from a state
// that does not allow it, for example EnterClosing before startup.
type InvalidTransitionError struct {
	Requested Phase
	From      State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("lifecycle: cannot enter %s from state %s", e.Requested, e.From)
}

// Code returns ErrCodeInvalidTransition.
func (e *InvalidTransitionError) Code() string { return ErrCodeInvalidTransition }

// RegistryBusyError is returned when a contribution is added to or removed
// from the phase that is currently being run.
type RegistryBusyError struct {
	Phase Phase
	Owner Identity
}

func (e *RegistryBusyError) Error() string {
	return fmt.Sprintf("lifecycle: cannot change %s contribution of %s while the phase is running", e.Phase, e.Owner)
}

// Code returns ErrCodeRegistryBusy.
func (e *RegistryBusyError) Code() string { return ErrCodeRegistryBusy }

// HandlerFailure wraps the diagnostic returned (or panicked) by a handler.
// It only ever appears inside an Outcome; the orchestrator does not return it
// to the caller directly.
type HandlerFailure struct {
	Owner Identity
	Phase Phase
	// Panicked is true when the handler panicked instead of returning.
	Panicked bool
	Err      error
}

func (e *HandlerFailure) Error() string {
	if e.Panicked {
		return fmt.Sprintf("%s handler of %s panicked: %v", e.Phase, e.Owner, e.Err)
	}
	return fmt.Sprintf("%s handler of %s failed: %v", e.Phase, e.Owner, e.Err)
}

func (e *HandlerFailure) Unwrap() error { return e.Err }

// Code returns ErrCodeHandlerFailure.
func (e *HandlerFailure) Code() string { return ErrCodeHandlerFailure }

// ErrVetoNotPermitted is the payload of a HandlerFailure produced when a
// Startup or Closed handler returns Veto.
var ErrVetoNotPermitted = errors.New("veto is only permitted during closing")

// ErrorCode extracts the code from any lifecycle error, or "" if err carries none.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}

// IsInvalidPhase reports whether err is (or wraps) an InvalidPhaseError.
func IsInvalidPhase(err error) bool {
	var target *InvalidPhaseError
	return errors.As(err, &target)
}

// IsPhaseAlreadyRunning reports whether err is (or wraps) a PhaseAlreadyRunningError.
func IsPhaseAlreadyRunning(err error) bool {
	var target *PhaseAlreadyRunningError
	return errors.As(err, &target)
}

// IsInvalidTransition reports whether err is (or wraps) an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

// IsRegistryBusy reports whether err is (or wraps) a RegistryBusyError.
func IsRegistryBusy(err error) bool {
	var target *RegistryBusyError
	return errors.As(err, &target)
}
