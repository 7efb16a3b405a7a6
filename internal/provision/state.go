package provision

import "fmt"

// Phase represents a step of one provisioning invocation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhasePreCheck
	PhaseExecuting
	PhaseFinalizing
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhasePreCheck:
		return "pre-check"
	case PhaseExecuting:
		return "executing"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Status is the terminal outcome of an invocation.
type Status int

const (
	StatusSuccess Status = iota
	// StatusPreconditionNotMet is a normal negative outcome, not a failure
	StatusPreconditionNotMet
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPreconditionNotMet:
		return "precondition-not-met"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus is the inverse of Status.String
func ParseStatus(name string) (Status, error) {
	for _, s := range []Status{StatusSuccess, StatusPreconditionNotMet, StatusFailure} {
		if s.String() == name {
			return s, nil
		}
	}
	return StatusFailure, fmt.Errorf("unknown status %q", name)
}
