package provision

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yoanbernabeu/piprov/internal/security"
	"github.com/yoanbernabeu/piprov/internal/ssh"
)

// ProgressEvent is one line of operation output
type ProgressEvent struct {
	Operation string
	Target    string
	Seq       int
	Text      string
	Source    ssh.Source
	Time      time.Time
}

// ProgressSink receives progress of running operations.
// Calls for one operation come from one goroutine, in order; calls for
// different operations may be concurrent.
type ProgressSink interface {
	OnLine(operationID string, ev ProgressEvent)
	// OnComplete is called exactly once per invocation, after its last OnLine
	OnComplete(operationID string, res Result)
}

// SinkFuncs adapts plain functions to ProgressSink. Nil fields are skipped.
type SinkFuncs struct {
	Line     func(operationID string, ev ProgressEvent)
	Complete func(operationID string, res Result)
}

func (f SinkFuncs) OnLine(operationID string, ev ProgressEvent) {
	if f.Line != nil {
		f.Line(operationID, ev)
	}
}

func (f SinkFuncs) OnComplete(operationID string, res Result) {
	if f.Complete != nil {
		f.Complete(operationID, res)
	}
}

// MultiSink forwards every call to each sink in order
type MultiSink []ProgressSink

func (m MultiSink) OnLine(operationID string, ev ProgressEvent) {
	for _, s := range m {
		s.OnLine(operationID, ev)
	}
}

func (m MultiSink) OnComplete(operationID string, res Result) {
	for _, s := range m {
		s.OnComplete(operationID, res)
	}
}

// WriterSink prints output lines to w. With Prefix set each line is
// tagged with its target so concurrent runs stay readable.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	Prefix bool
}

// NewWriterSink creates a WriterSink
func NewWriterSink(w io.Writer, prefix bool) *WriterSink {
	return &WriterSink{w: w, Prefix: prefix}
}

func (s *WriterSink) OnLine(_ string, ev ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Prefix {
		fmt.Fprintf(s.w, "[%s] %s\n", ev.Target, ev.Text)
		return
	}
	fmt.Fprintln(s.w, ev.Text)
}

func (s *WriterSink) OnComplete(string, Result) {}

// LogSink logs lines at debug level and completions at info or warn
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) OnLine(operationID string, ev ProgressEvent) {
	s.Logger.Debug().
		Str("op_id", operationID).
		Str("operation", ev.Operation).
		Int("seq", ev.Seq).
		Str("source", string(ev.Source)).
		Msg(ev.Text)
}

func (s LogSink) OnComplete(operationID string, res Result) {
	var e *zerolog.Event
	switch res.Status {
	case StatusSuccess:
		e = s.Logger.Info()
	case StatusPreconditionNotMet:
		e = s.Logger.Warn().Str("reason", res.Reason)
	default:
		e = s.Logger.Error()
		if res.Err != nil {
			e = e.Str("error", security.SanitizeCommandForLog(res.Err.Error()))
		}
	}
	e.Str("op_id", operationID).
		Str("operation", res.Operation).
		Str("target", res.Target).
		Str("status", res.Status.String()).
		Int("lines", res.Lines).
		Dur("duration", res.Duration()).
		Msg("operation complete")
}

type nopSink struct{}

func (nopSink) OnLine(string, ProgressEvent) {}
func (nopSink) OnComplete(string, Result)    {}
