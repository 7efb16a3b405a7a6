package provision

import (
	"fmt"
	"strings"
)

// UnknownOperationError is returned for an operation name missing from the catalog
type UnknownOperationError struct {
	Name  string
	Known []string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %q (available: %s)", e.Name, strings.Join(e.Known, ", "))
}

// RemoteCommandError is returned when the remote script ended unsuccessfully
type RemoteCommandError struct {
	OperationID string
	Operation   string
	ExitStatus  int
	Stderr      string
	LastLine    string
}

func (e *RemoteCommandError) Error() string {
	msg := fmt.Sprintf("%s failed on remote host (exit %d)", e.Operation, e.ExitStatus)
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	} else if e.LastLine != "" {
		msg += ": " + e.LastLine
	}
	return msg
}

// OperationError adds invocation context to an error raised while a session was open
type OperationError struct {
	OperationID string
	Operation   string
	Phase       Phase
	LastLine    string
	Err         error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s [%s] during %s: %v", e.Operation, e.OperationID, e.Phase, e.Err)
	if e.LastLine != "" {
		msg += fmt.Sprintf(" (last output: %q)", e.LastLine)
	}
	return msg
}

func (e *OperationError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
