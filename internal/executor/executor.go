// Package executor applies an OperationPlan to a dataset.
//
// Operations never mutate their input; every successful transform returns a
// new dataset, and every anticipated failure is reported through Result.Err
// as one of the typed errors in this package or intent.InvalidPlanError.
package executor

import (
	"fmt"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/insight"
	"github.com/KaramelBytes/sheetloom-cli/internal/intent"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/rs/zerolog"
)

// Artifact is a non-tabular output: a chart suggestion or formatting rules.
type Artifact struct {
	Chart      *insight.ChartSpec       `json:"chart,omitempty"`
	Formatting []insight.FormattingRule `json:"formatting,omitempty"`
}

// CleaningAction records one step taken by the cleaning operation.
type CleaningAction struct {
	Column   string `json:"column"`
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
	Affected int    `json:"affected"`
}

// Result is the outcome of Execute. Dataset is nil for artifact-only operations and failures.
type Result struct {
	Dataset     *dataset.Dataset
	Artifact    *Artifact
	Description string
	Success     bool
	Err         error
	Actions     []CleaningAction
	Details     map[string]any
}

// Executor dispatches plans to operation implementations.
type Executor struct {
	tables map[string]*dataset.Dataset
	log    zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTables registers named lookup tables for merging.
func WithTables(tables map[string]*dataset.Dataset) Option {
	return func(e *Executor) {
		for k, v := range tables {
			e.tables[k] = v
		}
	}
}

// WithLogger sets the executor's logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Executor) { e.log = l } }

// New builds an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{tables: map[string]*dataset.Dataset{}, log: zerolog.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// AddTable registers or replaces a lookup table.
func (e *Executor) AddTable(name string, ds *dataset.Dataset) { e.tables[name] = ds }

// Tables lists registered lookup table names.
func (e *Executor) Tables() []string {
	out := make([]string, 0, len(e.tables))
	for k := range e.tables {
		out = append(out, k)
	}
	return out
}

type opContext struct {
	plan   intent.OperationPlan
	ds     *dataset.Dataset
	schema schema.DatasetSchema
	params map[string]any
	tables map[string]*dataset.Dataset
	log    zerolog.Logger
}

type operation func(*opContext) (Result, error)

var operations = map[intent.OperationKind]operation{
	intent.KindRanking:               rank,
	intent.KindFiltering:             filterRows,
	intent.KindGrouping:              group,
	intent.KindPivoting:              pivot,
	intent.KindMerging:               merge,
	intent.KindCleaning:              clean,
	intent.KindOutlierRemoval:        removeOutliers,
	intent.KindTimeIntelligence:      timeIntelligence,
	intent.KindForecasting:           forecast,
	intent.KindClustering:            cluster,
	intent.KindAnomalyDetection:      detectAnomalies,
	intent.KindCorrelation:           correlate,
	intent.KindRegression:            regress,
	intent.KindCohort:                cohort,
	intent.KindRFM:                   rfm,
	intent.KindConditionalFormatting: conditionalFormatting,
	intent.KindUnknown:               unknown,
}

// Execute runs plan against ds. Panics inside an operation become ExecutionFailureError.
func (e *Executor) Execute(plan intent.OperationPlan, ds *dataset.Dataset) (res Result) {
	op := string(plan.Kind)
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("op", op).Interface("panic", r).Msg("operation panicked")
			res = Result{Err: &ExecutionFailureError{Op: op, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()
	if ds == nil {
		return Result{Err: &intent.InvalidPlanError{Reason: "no dataset loaded"}}
	}
	fn, ok := operations[plan.Kind]
	if !ok {
		return Result{Err: &intent.InvalidPlanError{Reason: fmt.Sprintf("unsupported operation %q", plan.Kind)}}
	}
	params := plan.Parameters
	if params == nil {
		params = map[string]any{}
	}
	ctx := &opContext{
		plan:   plan,
		ds:     ds,
		schema: schema.Infer(ds),
		params: params,
		tables: e.tables,
		log:    e.log,
	}
	res, err := fn(ctx)
	if err != nil {
		e.log.Debug().Err(err).Str("op", op).Msg("operation failed")
		return Result{Err: err}
	}
	res.Success = true
	e.log.Debug().Str("op", op).Str("description", res.Description).Msg("operation done")
	return res
}

func unknown(c *opContext) (Result, error) {
	if !c.plan.Visualization() {
		return Result{}, &intent.InvalidPlanError{Reason: "could not map command to a supported operation"}
	}
	spec, ok := insight.SuggestChart(c.schema, c.plan.TargetColumns)
	if !ok {
		return Result{}, &intent.InvalidPlanError{Reason: "no chartable columns for a visualization"}
	}
	if t, ok := paramString(c.params, "chart_type"); ok {
		ct, valid := insight.ParseChartType(t)
		if !valid {
			return Result{}, &intent.InvalidPlanError{Reason: fmt.Sprintf("unsupported chart_type %q", t)}
		}
		spec.Type = ct
	}
	return Result{
		Artifact:    &Artifact{Chart: &spec},
		Description: fmt.Sprintf("Suggested %s chart: %s", spec.Type, spec.Title),
	}, nil
}

func conditionalFormatting(c *opContext) (Result, error) {
	targets := c.explicitNumeric()
	if len(targets) == 0 {
		targets = c.numericTargets()
		if len(targets) > 3 {
			targets = targets[:3]
		}
	}
	if len(targets) == 0 {
		return Result{}, &MissingColumnError{Role: "numeric column to format"}
	}
	rules := insight.FormattingRulesFor(c.plan.UserIntent, targets)
	return Result{
		Artifact:    &Artifact{Formatting: rules},
		Description: fmt.Sprintf("Created %d formatting rule(s) for %d column(s)", len(rules), len(targets)),
	}, nil
}
