package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/ai"
	cfgpkg "github.com/KaramelBytes/sheetloom-cli/internal/config"
	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/executor"
	"github.com/KaramelBytes/sheetloom-cli/internal/ingest"
	"github.com/KaramelBytes/sheetloom-cli/internal/intent"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/KaramelBytes/sheetloom-cli/internal/session"
	"github.com/KaramelBytes/sheetloom-cli/internal/state"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type runtimeOptions struct {
	ProviderFlag string
	OllamaHost   string
}

func buildRuntime(cfg *cfgpkg.Global, opts runtimeOptions) (ai.Runtime, string, error) {
	httpTimeout := 60 * time.Second
	retryMax := 3
	baseDelay := 500 * time.Millisecond
	maxDelay := 4 * time.Second
	if cfg != nil {
		if cfg.HTTPTimeoutSec > 0 {
			httpTimeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
		}
		if cfg.RetryMaxAttempts > 0 {
			retryMax = cfg.RetryMaxAttempts
		}
		if cfg.RetryBaseDelayMs > 0 {
			baseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
		}
		if cfg.RetryMaxDelayMs > 0 {
			maxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
		}
	}

	providerName := strings.ToLower(strings.TrimSpace(opts.ProviderFlag))
	if providerName == "" && cfg != nil {
		providerName = strings.ToLower(cfg.DefaultProvider)
	}
	providerName = ai.NormalizeProvider(providerName)

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" && cfg != nil {
		apiKey = cfg.APIKey
	}

	rc := ai.RuntimeConfig{
		HTTPTimeout: httpTimeout,
		RetryMax:    retryMax,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		APIKey:      apiKey,
	}

	if providerName == ai.ProviderOllama {
		host := strings.TrimSpace(opts.OllamaHost)
		if host == "" {
			host = os.Getenv("SHEETLOOM_OLLAMA_HOST")
		}
		if host == "" && cfg != nil {
			host = cfg.OllamaHost
		}
		if host == "" {
			host = "http://127.0.0.1:11434"
		}
		rc.Host = host
		if v := os.Getenv("SHEETLOOM_OLLAMA_TIMEOUT_SEC"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				rc.HTTPTimeout = time.Duration(n) * time.Second
			}
		} else if cfg != nil && cfg.OllamaTimeoutSec > 0 {
			rc.HTTPTimeout = time.Duration(cfg.OllamaTimeoutSec) * time.Second
		}
	}

	client, ok := ai.GetRuntime(providerName, rc)
	if !ok {
		return nil, providerName, fmt.Errorf("provider not supported: %s", providerName)
	}
	if providerName == ai.ProviderOpenRouter && apiKey == "" {
		return nil, providerName, errNoAPIKey
	}
	return client, providerName, nil
}

var errNoAPIKey = errors.New("no API key: set OPENROUTER_API_KEY or `sheetloom config set api_key ...`")

func selectModel(cfg *cfgpkg.Global, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cfg != nil && cfg.DefaultModel != "" {
		return cfg.DefaultModel
	}
	return "openai/gpt-4o-mini"
}

// pipelineOptions are the per-invocation choices shared by ask, run and serve.
type pipelineOptions struct {
	Provider string
	Model    string
	Offline  bool
	// Tables are lookup tables for merge commands, as name=path pairs.
	Tables []string
}

func (o *pipelineOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Provider, "provider", "", "LLM provider: openrouter | ollama (default from config)")
	cmd.Flags().StringVar(&o.Model, "model", "", "model used to interpret commands (default from config)")
	cmd.Flags().BoolVar(&o.Offline, "offline", false, "skip the LLM and use the keyword interpreter only")
	cmd.Flags().StringArrayVar(&o.Tables, "table", nil, "register a lookup table for merges as name=path (repeatable)")
}

// pipeline builds sessions that share one resolver and audit sink.
type pipeline struct {
	cfg      *cfgpkg.Global
	log      zerolog.Logger
	resolver *intent.Resolver
	tables   map[string]*dataset.Dataset
	audit    *os.File
}

func newPipeline(c *cfgpkg.Global, opts pipelineOptions, ingestOpt ingest.Options, log zerolog.Logger) (*pipeline, error) {
	p := &pipeline{cfg: c, log: log, tables: map[string]*dataset.Dataset{}}

	var capability intent.Capability
	if !opts.Offline {
		rt, provider, err := buildRuntime(c, runtimeOptions{ProviderFlag: opts.Provider})
		switch {
		case errors.Is(err, errNoAPIKey):
			log.Warn().Msg("no API key configured; using keyword interpreter")
		case err != nil:
			return nil, err
		default:
			model := selectModel(c, opts.Model)
			capability = intent.NewLLMCapability(rt, model,
				intent.WithTemperature(c.Temperature),
				intent.WithMaxTokens(c.MaxTokens),
				intent.WithPromptBudget(c.PromptBudget),
			)
			log.Debug().Str("provider", provider).Str("model", model).Msg("llm capability ready")
		}
	}
	ropts := []intent.Option{intent.WithLogger(log)}
	if c.IntentTimeoutSec > 0 {
		ropts = append(ropts, intent.WithTimeout(time.Duration(c.IntentTimeoutSec)*time.Second))
	}
	p.resolver = intent.NewResolver(capability, ropts...)

	for _, spec := range opts.Tables {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("invalid --table %q (want name=path)", spec)
		}
		loaded, err := ingest.Load(strings.TrimSpace(path), ingestOpt)
		if err != nil {
			return nil, fmt.Errorf("load table %s: %w", name, err)
		}
		p.tables[strings.TrimSpace(name)] = loaded.Dataset
	}

	if c.AuditLog != "" {
		f, err := os.OpenFile(c.AuditLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		p.audit = f
	}
	return p, nil
}

// newSession builds an empty session wired to the pipeline's collaborators.
func (p *pipeline) newSession() *session.Session {
	sopts := []state.Option{state.WithLogger(p.log)}
	if p.cfg.MaxHistory > 0 {
		sopts = append(sopts, state.WithMaxHistory(p.cfg.MaxHistory))
	}
	if p.audit != nil {
		sopts = append(sopts, state.WithAuditSink(p.audit))
	}
	schemaOpt := schema.DefaultOptions()
	if p.cfg.SampleRows > 0 {
		schemaOpt.SampleRows = p.cfg.SampleRows
	}
	exec := executor.New(executor.WithTables(p.tables), executor.WithLogger(p.log))
	return session.New(p.resolver, exec, state.NewManager(sopts...),
		session.WithLogger(p.log),
		session.WithSchemaOptions(schemaOpt),
	)
}

// open loads path into a new session.
func (p *pipeline) open(path string, opt ingest.Options) (*session.Session, error) {
	loaded, err := ingest.Load(path, opt)
	if err != nil {
		return nil, err
	}
	sess := p.newSession()
	if err := sess.Load(loaded.Dataset, loaded.SourceName); err != nil {
		return nil, err
	}
	p.log.Debug().Str("file", loaded.SourceName).Int("header_row", loaded.HeaderRow).Int("rows", loaded.Dataset.NumRows()).Msg("dataset loaded")
	return sess, nil
}

func (p *pipeline) Close() error {
	if p.audit == nil {
		return nil
	}
	return p.audit.Close()
}

// ingestFlags are the file-reading flags shared by commands that load data.
type ingestFlags struct {
	sheet     string
	delimiter string
	decimal   string
	thousands string
	headerRow int
	noDates   bool
}

func (f *ingestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' (sniffed if omitted)")
	cmd.Flags().StringVar(&f.decimal, "decimal", "", "decimal separator for numbers: '.'|'comma' (auto-detect if omitted)")
	cmd.Flags().StringVar(&f.thousands, "thousands", "", "thousands separator for numbers: ','|'.'|'space' (auto-detect if omitted)")
	cmd.Flags().IntVar(&f.headerRow, "header-row", 0, "1-based header row (detected if omitted)")
	cmd.Flags().BoolVar(&f.noDates, "no-dates", false, "keep date-like text columns as text")
}

func (f *ingestFlags) options() (ingest.Options, error) {
	opt := ingest.DefaultOptions()
	opt.Sheet = f.sheet
	opt.HeaderRow = f.headerRow
	opt.CoerceDates = !f.noDates
	switch f.delimiter {
	case "":
	case ",":
		opt.Delimiter = ','
	case "\t", "tab":
		opt.Delimiter = '\t'
	case ";":
		opt.Delimiter = ';'
	default:
		return opt, fmt.Errorf("unsupported --delimiter: %s", f.delimiter)
	}
	switch strings.ToLower(strings.TrimSpace(f.decimal)) {
	case ",", "comma":
		opt.DecimalSeparator = ','
	case ".", "dot":
		opt.DecimalSeparator = '.'
	case "":
	default:
		return opt, fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", f.decimal)
	}
	switch strings.ToLower(strings.TrimSpace(f.thousands)) {
	case ",":
		opt.ThousandsSeparator = ','
	case ".":
		opt.ThousandsSeparator = '.'
	case "space", " ":
		opt.ThousandsSeparator = ' '
	case "":
	default:
		return opt, fmt.Errorf("unsupported --thousands: %s (use ','|'.'|'space')", f.thousands)
	}
	if opt.HeaderRow < 0 {
		return opt, fmt.Errorf("invalid --header-row: %d", f.headerRow)
	}
	return opt, nil
}
