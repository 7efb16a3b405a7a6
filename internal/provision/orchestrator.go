// Package provision runs catalog operations against remote hosts.
package provision

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yoanbernabeu/piprov/internal/constants"
	"github.com/yoanbernabeu/piprov/internal/script"
	"github.com/yoanbernabeu/piprov/internal/ssh"
)

// Request asks for one operation on one target
type Request struct {
	// ID defaults to a new UUID
	ID        string
	Operation string
	Target    ssh.Target
	Params    map[string]string
	// TrustFingerprint pins the host key when it is unknown and matches
	TrustFingerprint string
}

// Result is the terminal outcome of one invocation
type Result struct {
	OperationID string
	Operation   string
	// Target is the redacted user@host:port form
	Target string
	Status Status
	// Reason explains StatusPreconditionNotMet
	Reason string
	Err    error
	// Phase is PhaseDone or PhaseFailed; FailedIn is where a failure happened
	Phase      Phase
	FailedIn   Phase
	LastLine   string
	Lines      int
	Command    ssh.CommandResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether the operation succeeded
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Duration is the wall time of the invocation
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// NewOperationID returns a fresh operation identifier
func NewOperationID() string {
	return uuid.NewString()
}

// Orchestrator sequences operations: validate and render locally, connect,
// pre-check, execute while streaming, close. It never retries.
type Orchestrator struct {
	sessions ssh.SessionManager
	catalog  *Catalog
	builder  *script.Builder
	sink     ProgressSink
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithCatalog replaces the built-in operations
func WithCatalog(c *Catalog) Option {
	return func(o *Orchestrator) {
		o.catalog = c
	}
}

// WithSink sets where progress goes
func WithSink(s ProgressSink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithLogger sets the logger for phase transitions
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an Orchestrator opening sessions through sessions
func NewOrchestrator(sessions ssh.SessionManager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		catalog:  DefaultCatalog(),
		builder:  script.NewBuilder(),
		sink:     nopSink{},
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Catalog returns the operations this orchestrator can run
func (o *Orchestrator) Catalog() *Catalog {
	return o.catalog
}

// Execute runs one operation to completion. The sink receives every output
// line of the main script, then exactly one OnComplete with the returned Result.
func (o *Orchestrator) Execute(ctx context.Context, req Request) Result {
	if req.ID == "" {
		req.ID = NewOperationID()
	}

	r := &invocation{
		o:   o,
		req: req,
		log: o.logger.With().Str("op_id", req.ID).Str("operation", req.Operation).Logger(),
		res: Result{
			OperationID: req.ID,
			Operation:   req.Operation,
			Target:      req.Target.Redacted(),
			StartedAt:   o.now(),
			Phase:       PhaseIdle,
		},
	}

	res := r.run(ctx)
	o.sink.OnComplete(req.ID, res)
	return res
}

// ExecuteAll runs reqs concurrently, at most parallel at a time, one session each.
// Results are returned in request order; one failure does not stop the others.
func (o *Orchestrator) ExecuteAll(ctx context.Context, reqs []Request, parallel int) []Result {
	if parallel <= 0 {
		parallel = constants.DefaultMaxParallel
	}

	results := make([]Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, req := range reqs {
		if req.ID == "" {
			req.ID = NewOperationID()
		}
		g.Go(func() error {
			results[i] = o.Execute(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type invocation struct {
	o   *Orchestrator
	req Request
	log zerolog.Logger
	res Result
}

func (r *invocation) enter(p Phase) {
	r.log.Debug().Str("from", r.res.Phase.String()).Str("to", p.String()).Msg("phase")
	r.res.Phase = p
}

func (r *invocation) run(ctx context.Context) Result {
	op, err := r.o.catalog.Lookup(r.req.Operation)
	if err != nil {
		return r.fail(err)
	}
	if err := r.req.Target.Validate(); err != nil {
		return r.fail(err)
	}

	params := resolveParams(op, r.req)
	main, err := r.o.builder.Render(op.Template, params)
	if err != nil {
		return r.fail(err)
	}
	var check script.Command
	if op.PreCheck != nil {
		if check, err = r.o.builder.Render(op.PreCheck.Template, params); err != nil {
			return r.fail(err)
		}
	}

	r.enter(PhaseConnecting)
	session, err := r.o.open(ctx, r.req.Target, r.req.TrustFingerprint)
	if err != nil {
		return r.fail(err)
	}
	defer session.Close()

	if op.PreCheck != nil {
		r.enter(PhasePreCheck)
		found, err := r.precheck(ctx, session, check, op.PreCheck.Marker(params))
		if err != nil {
			return r.fail(err)
		}
		if !found {
			return r.notMet(op.PreCheck.Reason)
		}
	}

	r.enter(PhaseExecuting)
	return r.execute(ctx, session, op, main)
}

// precheck runs cmd without forwarding its output and looks for marker
func (r *invocation) precheck(ctx context.Context, session ssh.Session, cmd script.Command, marker string) (bool, error) {
	stream, err := session.Run(ctx, cmd)
	if err != nil {
		return false, r.wrap(err, "")
	}

	found := false
	for line := range stream.Lines() {
		if strings.Contains(line.Text, marker) {
			found = true
		}
	}

	res := stream.Wait()
	switch {
	case res.Err != nil:
		return false, r.wrap(res.Err, res.LastLine)
	case found:
		return true, nil
	case !res.Succeeded:
		return false, &RemoteCommandError{
			OperationID: r.req.ID,
			Operation:   cmd.Name,
			ExitStatus:  res.ExitStatus,
			Stderr:      res.StderrSummary,
			LastLine:    res.LastLine,
		}
	}
	r.log.Debug().Str("marker", marker).Msg("pre-check marker not found")
	return false, nil
}

func (r *invocation) execute(ctx context.Context, session ssh.Session, op Operation, cmd script.Command) Result {
	r.log.Debug().Str("command", cmd.Redacted()).Msg("executing")

	stream, err := session.Run(ctx, cmd)
	if err != nil {
		return r.fail(r.wrap(err, ""))
	}

	markerSeen := false
	for line := range stream.Lines() {
		r.res.Lines++
		r.res.LastLine = line.Text
		if op.CompletionMarker != "" && strings.Contains(line.Text, op.CompletionMarker) {
			markerSeen = true
		}
		r.o.sink.OnLine(r.req.ID, ProgressEvent{
			Operation: op.Name,
			Target:    r.res.Target,
			Seq:       r.res.Lines,
			Text:      line.Text,
			Source:    line.Source,
			Time:      line.Time,
		})
	}

	res := stream.Wait()
	r.res.Command = res

	// A reboot drops the link or ends the channel without an exit status;
	// a known non-zero exit means the reboot itself failed.
	if op.RebootsOnSuccess && markerSeen && (res.Err != nil || res.ExitStatus == ssh.ExitUnknown) {
		r.log.Info().Msg("connection ended after completion marker, host is rebooting")
		return r.done()
	}
	if res.Err != nil {
		return r.fail(r.wrap(res.Err, r.res.LastLine))
	}
	if !res.Succeeded {
		return r.fail(&RemoteCommandError{
			OperationID: r.req.ID,
			Operation:   op.Name,
			ExitStatus:  res.ExitStatus,
			Stderr:      res.StderrSummary,
			LastLine:    r.res.LastLine,
		})
	}
	return r.done()
}

// wrap adds invocation context to session errors
func (r *invocation) wrap(err error, lastLine string) error {
	return &OperationError{
		OperationID: r.req.ID,
		Operation:   r.req.Operation,
		Phase:       r.res.Phase,
		LastLine:    lastLine,
		Err:         err,
	}
}

func (r *invocation) fail(err error) Result {
	r.res.FailedIn = r.res.Phase
	r.finalize(PhaseFailed)
	r.res.Status = StatusFailure
	r.res.Err = err
	return r.res
}

func (r *invocation) notMet(reason string) Result {
	r.finalize(PhaseDone)
	r.res.Status = StatusPreconditionNotMet
	r.res.Reason = reason
	return r.res
}

func (r *invocation) done() Result {
	r.finalize(PhaseDone)
	r.res.Status = StatusSuccess
	return r.res
}

func (r *invocation) finalize(terminal Phase) {
	if r.res.Phase != PhaseIdle {
		r.enter(PhaseFinalizing)
	}
	r.enter(terminal)
	r.res.FinishedAt = r.o.now()
}

// resolveParams merges operator params, implicit target params, defaults and derived values
func resolveParams(op Operation, req Request) map[string]string {
	values := make(map[string]string, len(req.Params)+2)
	for k, v := range req.Params {
		values[k] = v
	}
	values[ParamTargetHost] = req.Target.Host
	values[ParamTargetUser] = req.Target.User

	for _, p := range op.Template.Params {
		if values[p.Name] == "" && p.Default != "" {
			values[p.Name] = p.Default
		}
	}
	if op.Derive != nil {
		op.Derive(values)
	}
	return values
}
