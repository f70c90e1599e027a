package intent

import "fmt"

// CapabilityUnavailableError means the language capability could not be reached in time.
type CapabilityUnavailableError struct {
	Err error
}

func (e *CapabilityUnavailableError) Error() string {
	return fmt.Sprintf("capability unavailable: %v", e.Err)
}

func (e *CapabilityUnavailableError) Unwrap() error { return e.Err }

// InvalidPlanError means a plan (or the capability's reply) cannot be used as given.
type InvalidPlanError struct {
	Reason string
	Err    error
}

func (e *InvalidPlanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid plan: %s: %v", e.Reason, e.Err)
	}
	return "invalid plan: " + e.Reason
}

func (e *InvalidPlanError) Unwrap() error { return e.Err }
