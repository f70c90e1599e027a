package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/ai"
	"github.com/KaramelBytes/sheetloom-cli/internal/utils"
)

// Capability classifies a command against a schema summary. Implementations
// return *CapabilityUnavailableError for transport problems and
// *InvalidPlanError for replies that are not usable JSON.
type Capability interface {
	Classify(ctx context.Context, command, schemaSummary string) (*CapabilityResponse, error)
}

// CapabilityResponse is the structured reply of a Capability.
type CapabilityResponse struct {
	Kind          string         `json:"operation_kind"`
	Operations    []string       `json:"required_operations,omitempty"`
	TargetColumns []string       `json:"target_columns"`
	Parameters    map[string]any `json:"parameters"`
	Confidence    *float64       `json:"confidence,omitempty"`
	Rationale     string         `json:"rationale"`
}

type capabilityWire struct {
	IntentType         string         `json:"intent_type"`
	OperationKind      string         `json:"operation_kind"`
	RequiredOperations []any          `json:"required_operations"`
	TargetColumns      []any          `json:"target_columns"`
	Parameters         map[string]any `json:"parameters"`
	Confidence         *float64       `json:"confidence"`
	Rationale          string         `json:"rationale"`
	Explanation        string         `json:"explanation"`
}

// UnmarshalJSON accepts both the operation_kind/rationale field names and
// the intent_type/explanation spelling some models prefer.
func (r *CapabilityResponse) UnmarshalJSON(b []byte) error {
	var w capabilityWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = CapabilityResponse{
		Kind:          w.OperationKind,
		Operations:    stringItems(w.RequiredOperations),
		TargetColumns: stringItems(w.TargetColumns),
		Parameters:    w.Parameters,
		Confidence:    w.Confidence,
		Rationale:     w.Rationale,
	}
	if r.Kind == "" {
		r.Kind = w.IntentType
	}
	if r.Rationale == "" {
		r.Rationale = w.Explanation
	}
	return nil
}

func stringItems(in []any) []string {
	var out []string
	for _, v := range in {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// Labels returns the candidate operation labels in priority order.
func (r *CapabilityResponse) Labels() []string {
	var out []string
	if r.Kind != "" {
		out = append(out, r.Kind)
	}
	return append(out, r.Operations...)
}

// ParseCapabilityResponse decodes exactly one JSON object, allowing trailing whitespace only.
func ParseCapabilityResponse(content string) (*CapabilityResponse, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, &InvalidPlanError{Reason: "capability reply is not a JSON object"}
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	var out CapabilityResponse
	if err := dec.Decode(&out); err != nil {
		return nil, &InvalidPlanError{Reason: "capability reply is not valid JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &InvalidPlanError{Reason: "capability reply has trailing data"}
	}
	return &out, nil
}

const systemPrompt = `You translate spreadsheet requests into exactly one data operation.
Respond ONLY with a JSON object, no additional text.

Allowed operation_kind values:
ranking, filtering, grouping, pivoting, merging, cleaning, outlier_removal, forecasting,
clustering, anomaly_detection, correlation, regression, cohort, rfm, time_intelligence,
conditional_formatting, unknown.
Use "unknown" with parameters.visualization=true for chart or plot requests.

Useful parameters by operation:
- ranking: column, n, direction (top|bottom)
- filtering: conditions {column: value | {"op": "==|!=|>|<|>=|<=|contains", "value": ...}}
- grouping: group_by [columns], aggregations {column: sum|mean|count|min|max|std}
- pivoting: index, columns, values, aggfunc
- merging: right, on, how (inner|left)
- outlier_removal: method (iqr|zscore), threshold
- forecasting: periods
- clustering: n_clusters
- anomaly_detection: contamination
- time_intelligence: metrics [YTD, QTD, MTD, YoY, MoM, Rolling_3M, Rolling_6M, Rolling_12M, Running_Total]`

const userPromptTemplate = `User request: %s

Available data schema:
%s
Reply with JSON in this exact shape:
{
  "operation_kind": "<one allowed value>",
  "confidence": 0.0-1.0,
  "target_columns": ["column names from the schema"],
  "parameters": {},
  "rationale": "brief explanation"
}`

// LLMCapability classifies commands through a chat runtime in JSON mode.
type LLMCapability struct {
	rt           ai.Runtime
	model        string
	temperature  float64
	maxTokens    int
	promptBudget int
}

// LLMOption configures an LLMCapability.
type LLMOption func(*LLMCapability)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption { return func(c *LLMCapability) { c.temperature = t } }

// WithMaxTokens bounds the reply length.
func WithMaxTokens(n int) LLMOption { return func(c *LLMCapability) { c.maxTokens = n } }

// WithPromptBudget truncates the schema summary to roughly n tokens. Zero disables it.
func WithPromptBudget(n int) LLMOption { return func(c *LLMCapability) { c.promptBudget = n } }

// NewLLMCapability wraps rt. The model name is passed through unchanged.
func NewLLMCapability(rt ai.Runtime, model string, opts ...LLMOption) *LLMCapability {
	c := &LLMCapability{rt: rt, model: model, temperature: 0.1, maxTokens: 512}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify implements Capability.
func (c *LLMCapability) Classify(ctx context.Context, command, schemaSummary string) (*CapabilityResponse, error) {
	if c.rt == nil {
		return nil, &CapabilityUnavailableError{Err: errors.New("no runtime configured")}
	}
	if c.promptBudget > 0 && utils.CountTokens(schemaSummary) > c.promptBudget {
		schemaSummary = utils.TruncateToTokenLimit(schemaSummary, c.promptBudget)
	}
	resp, err := c.rt.Generate(ctx, ai.GenerateRequest{
		Model: c.model,
		Messages: []ai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(userPromptTemplate, command, schemaSummary)},
		},
		MaxTokens:      c.maxTokens,
		Temperature:    c.temperature,
		ResponseFormat: ai.JSONObject,
	})
	if err != nil {
		return nil, &CapabilityUnavailableError{Err: err}
	}
	return ParseCapabilityResponse(resp.Content())
}
