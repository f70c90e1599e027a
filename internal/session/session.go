// Package session wires the resolver, executor and state manager into the
// load → resolve → execute → apply loop driven by the CLI and HTTP server.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/executor"
	"github.com/KaramelBytes/sheetloom-cli/internal/ingest"
	"github.com/KaramelBytes/sheetloom-cli/internal/insight"
	"github.com/KaramelBytes/sheetloom-cli/internal/intent"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/KaramelBytes/sheetloom-cli/internal/state"
	"github.com/rs/zerolog"
)

// Resolver turns a command into a plan.
type Resolver interface {
	Resolve(ctx context.Context, command string, s schema.DatasetSchema) intent.OperationPlan
}

// Executor applies a plan to a dataset.
type Executor interface {
	Execute(plan intent.OperationPlan, ds *dataset.Dataset) executor.Result
}

// Outcome is what one command did.
type Outcome struct {
	Command     string                    `json:"command"`
	Plan        intent.OperationPlan      `json:"plan"`
	Description string                    `json:"description"`
	Success     bool                      `json:"success"`
	Error       string                    `json:"error,omitempty"`
	Actions     []executor.CleaningAction `json:"actions,omitempty"`
	Details     map[string]any            `json:"details,omitempty"`
	Artifact    *executor.Artifact        `json:"artifact,omitempty"`
	Applied     bool                      `json:"applied"`
	Elapsed     time.Duration             `json:"elapsed_ns"`

	// Err is the typed failure behind Error.
	Err error `json:"-"`
}

// Session is one user's working dataset and history. Methods are safe for
// concurrent use; calls are serialized.
type Session struct {
	mu       sync.Mutex
	id       string
	created  time.Time
	resolver Resolver
	exec     Executor
	state    *state.Manager
	log      zerolog.Logger
	schemaOp schema.Options
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.log = l } }

// WithSchemaOptions overrides the inference sample sizes.
func WithSchemaOptions(o schema.Options) Option { return func(s *Session) { s.schemaOp = o } }

// New builds a session around its collaborators.
func New(r Resolver, e Executor, m *state.Manager, opts ...Option) *Session {
	s := &Session{
		resolver: r,
		exec:     e,
		state:    m,
		created:  time.Now(),
		log:      zerolog.Nop(),
		schemaOp: schema.DefaultOptions(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID is assigned by the Store; empty for standalone sessions.
func (s *Session) ID() string { return s.id }

// Created reports when the session was built.
func (s *Session) Created() time.Time { return s.created }

// ErrNoDataset is returned by operations that need a loaded dataset.
var ErrNoDataset = errors.New("no dataset loaded")

// Load makes ds the session's dataset and recomputes schema and KPIs.
func (s *Session) Load(ds *dataset.Dataset, name string) error {
	if ds == nil {
		return ErrNoDataset
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Load(ds, name)
	sch := s.refreshDerived()
	s.state.LogAgentMessage("session", "schema", fmt.Sprintf("Inferred schema for %s", name), map[string]any{
		"rows":    sch.RowCount,
		"columns": sch.ColumnCount,
	})
	return nil
}

// refreshDerived re-infers the schema and KPIs for the current dataset.
func (s *Session) refreshDerived() schema.DatasetSchema {
	ds := s.state.Dataset()
	sch := schema.InferWithOptions(ds, s.schemaOp)
	s.state.SetSchema(sch)
	s.state.SetKPIs(insight.ComputeKPIs(ds, sch))
	return sch
}

func (s *Session) currentSchema() schema.DatasetSchema {
	if sch := s.state.Schema(); sch != nil {
		return *sch
	}
	return s.refreshDerived()
}

// logTypeFor maps an operation kind to its log category.
func logTypeFor(k intent.OperationKind) state.LogType {
	switch {
	case k == intent.KindCleaning:
		return state.LogClean
	case k.Analytic():
		return state.LogAnalytics
	}
	return state.LogTransform
}

// Run resolves and executes one command. Operation failures are reported in
// the Outcome; the returned error is only ever ctx's.
func (s *Session) Run(ctx context.Context, command string) (out Outcome, err error) {
	if err := ctx.Err(); err != nil {
		return Outcome{Command: command}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	out.Command = command
	defer func() {
		if r := recover(); r != nil {
			perr := &executor.ExecutionFailureError{Op: string(out.Plan.Kind), Err: fmt.Errorf("panic: %v", r)}
			s.log.Error().Interface("panic", r).Str("command", command).Msg("pipeline panicked")
			s.state.LogOperation(logTypeFor(out.Plan.Kind), "session", command, false, perr)
			out.Success, out.Applied, out.Err, out.Error = false, false, perr, perr.Error()
			err = nil
		}
		out.Elapsed = time.Since(start)
	}()

	if s.state.Dataset() == nil {
		out.Err = ErrNoDataset
		out.Error = ErrNoDataset.Error()
		return out, nil
	}
	plan := s.resolver.Resolve(ctx, command, s.currentSchema())
	if err := ctx.Err(); err != nil {
		return out, err
	}
	out.Plan = plan
	s.state.LogAgentMessage("resolver", "executor", fmt.Sprintf("%s: %s", plan.Kind, command), map[string]any{
		"kind":       string(plan.Kind),
		"confidence": plan.Confidence,
		"source":     string(plan.Source),
		"targets":    plan.TargetColumns,
	})

	res := s.exec.Execute(plan, s.state.Dataset())
	out.Description, out.Actions, out.Details, out.Artifact = res.Description, res.Actions, res.Details, res.Artifact
	typ := logTypeFor(plan.Kind)
	if res.Err != nil {
		out.Err, out.Error = res.Err, res.Err.Error()
		s.state.LogOperation(typ, "executor", command, false, res.Err)
		return out, nil
	}
	out.Success = true
	if res.Dataset != nil {
		if err := s.state.ApplyTyped(res.Dataset, res.Description, "executor", typ); err != nil {
			out.Success, out.Err, out.Error = false, err, err.Error()
			return out, nil
		}
		s.refreshDerived()
		out.Applied = true
	}
	if a := res.Artifact; a != nil {
		if a.Chart != nil {
			s.state.AddChart(*a.Chart)
		}
		if len(a.Formatting) > 0 {
			s.state.SetFormattingRules(a.Formatting)
		}
		s.state.LogOperation(state.LogVisualization, "executor", res.Description, true, nil)
	}
	return out, nil
}

// Undo steps back one applied change.
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Undo() {
		return false
	}
	s.currentSchema()
	return true
}

// Redo re-applies the last undone change.
func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Redo() {
		return false
	}
	s.currentSchema()
	return true
}

// Export writes the current dataset to path (.csv or .xlsx) and logs it.
func (s *Session) Export(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.state.Dataset()
	if ds == nil {
		return ErrNoDataset
	}
	err := ingest.Export(ds, path, s.state.FormattingRules())
	s.state.LogOperation(state.LogExport, "session", "Exported to "+path, err == nil, err)
	return err
}

// View is a consistent read of the session's state.
type View struct {
	ID         string                   `json:"id"`
	Summary    state.Summary            `json:"summary"`
	Schema     *schema.DatasetSchema    `json:"schema,omitempty"`
	KPIs       []insight.KPI            `json:"kpis,omitempty"`
	Charts     []insight.ChartSpec      `json:"charts,omitempty"`
	Formatting []insight.FormattingRule `json:"formatting,omitempty"`
}

// Snapshot returns the current view.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:         s.id,
		Summary:    s.state.Summary(),
		KPIs:       s.state.KPIs(),
		Charts:     s.state.Charts(),
		Formatting: s.state.FormattingRules(),
	}
	if sch := s.state.Schema(); sch != nil {
		c := sch.Clone()
		v.Schema = &c
	}
	return v
}

// Dataset returns the current dataset. Callers must not modify it.
func (s *Session) Dataset() *dataset.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Dataset()
}

// Schema returns the current schema, inferring it if needed.
func (s *Session) Schema() schema.DatasetSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Dataset() == nil {
		return schema.DatasetSchema{}
	}
	return s.currentSchema().Clone()
}

// Log returns the newest operation log entries.
func (s *Session) Log(limit int) []state.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RecentOperations(limit)
}

// AgentMessages returns the provenance log.
func (s *Session) AgentMessages() []state.AgentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AgentMessages()
}
