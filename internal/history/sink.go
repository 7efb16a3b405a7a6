package history

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/yoanbernabeu/piprov/internal/provision"
	"github.com/yoanbernabeu/piprov/internal/security"
)

// Sink records every completed operation in a Store
type Sink struct {
	store  *Store
	logger zerolog.Logger
}

// NewSink creates a Sink writing to store
func NewSink(store *Store, logger zerolog.Logger) *Sink {
	return &Sink{store: store, logger: logger}
}

func (s *Sink) OnLine(string, provision.ProgressEvent) {}

// OnComplete stores res. A write failure is logged; it never changes the result.
func (s *Sink) OnComplete(operationID string, res provision.Result) {
	if err := s.store.Insert(FromResult(res)); err != nil {
		s.logger.Warn().Err(err).Str("op_id", operationID).Msg("run not recorded")
	}
}

// FromResult converts a provisioning result to a history row
func FromResult(res provision.Result) Run {
	r := Run{
		ID:         res.OperationID,
		Operation:  res.Operation,
		Target:     res.Target,
		Status:     res.Status.String(),
		Reason:     res.Reason,
		Lines:      res.Lines,
		LastLine:   res.LastLine,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Duration:   res.Duration(),
	}
	if res.Err != nil {
		r.Error = security.SanitizeCommandForLog(res.Err.Error())
	}
	if res.Status == provision.StatusSuccess || res.FailedIn == provision.PhaseExecuting {
		r.ExitStatus = sql.NullInt64{Int64: int64(res.Command.ExitStatus), Valid: true}
	}
	return r
}
