package intent

import (
	"context"
	"math"
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/rs/zerolog"
)

const (
	// DefaultConfidence applies when the capability omits a confidence.
	DefaultConfidence = 0.65
	// DefaultTimeout bounds a single capability call.
	DefaultTimeout = 20 * time.Second
)

// Resolver maps commands to plans via a Capability, falling back to keywords.
type Resolver struct {
	capability        Capability
	timeout           time.Duration
	log               zerolog.Logger
	maxSummaryColumns int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout sets the per-call capability timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the resolver's logger.
func WithLogger(l zerolog.Logger) Option { return func(r *Resolver) { r.log = l } }

// WithMaxSummaryColumns caps the schema summary length.
func WithMaxSummaryColumns(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxSummaryColumns = n
		}
	}
}

// NewResolver builds a Resolver. A nil capability means every command uses Fallback.
func NewResolver(c Capability, opts ...Option) *Resolver {
	r := &Resolver{
		capability:        c,
		timeout:           DefaultTimeout,
		log:               zerolog.Nop(),
		maxSummaryColumns: DefaultMaxSummaryColumns,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve never fails: capability errors and timeouts degrade to Fallback.
func (r *Resolver) Resolve(ctx context.Context, command string, s schema.DatasetSchema) OperationPlan {
	if r.capability == nil {
		return Fallback(command, s)
	}
	summary := BuildSchemaSummary(s, r.maxSummaryColumns)
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.capability.Classify(cctx, command, summary)
	if err == nil && resp == nil {
		err = &InvalidPlanError{Reason: "capability returned no response"}
	}
	if err != nil {
		r.log.Warn().Err(err).Str("command", command).Msg("intent capability failed, using keyword fallback")
		return Fallback(command, s)
	}
	plan := coerce(command, resp, s)
	r.log.Debug().
		Str("kind", string(plan.Kind)).
		Strs("targets", plan.TargetColumns).
		Float64("confidence", plan.Confidence).
		Msg("intent resolved")
	return plan
}

// coerce validates a capability response against the schema.
func coerce(command string, resp *CapabilityResponse, s schema.DatasetSchema) OperationPlan {
	plan := OperationPlan{
		UserIntent: command,
		Kind:       KindUnknown,
		Parameters: map[string]any{},
		Confidence: DefaultConfidence,
		Rationale:  resp.Rationale,
		Source:     SourceCapability,
	}
	for k, v := range resp.Parameters {
		plan.Parameters[k] = v
	}
	// Composite requests keep only their first operation.
	if labels := resp.Labels(); len(labels) > 0 {
		if IsVisualLabel(labels[0]) {
			plan.Parameters["visualization"] = true
			plan.Parameters["hint"] = "visualization"
		} else {
			plan.Kind = ParseKind(labels[0])
		}
	}
	seen := map[string]bool{}
	for _, name := range resp.TargetColumns {
		c, ok := s.Column(name)
		if !ok || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		plan.TargetColumns = append(plan.TargetColumns, c.Name)
	}
	if resp.Confidence != nil && !math.IsNaN(*resp.Confidence) {
		plan.Confidence = math.Max(0, math.Min(1, *resp.Confidence))
	}
	return plan
}
