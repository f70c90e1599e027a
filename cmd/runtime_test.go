package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/KaramelBytes/sheetloom-cli/internal/ai"
	cfgpkg "github.com/KaramelBytes/sheetloom-cli/internal/config"
	"github.com/KaramelBytes/sheetloom-cli/internal/ingest"
	"github.com/KaramelBytes/sheetloom-cli/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRuntimeDefaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	rt, provider, err := buildRuntime(&cfgpkg.Global{}, runtimeOptions{})
	require.NoError(t, err)
	assert.Equal(t, ai.ProviderOpenRouter, provider)
	assert.IsType(t, &ai.Client{}, rt)
}

func TestBuildRuntimeProviders(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	_, _, err := buildRuntime(&cfgpkg.Global{}, runtimeOptions{})
	assert.ErrorIs(t, err, errNoAPIKey)

	_, _, err = buildRuntime(&cfgpkg.Global{APIKey: "from-config"}, runtimeOptions{ProviderFlag: "anthropic"})
	assert.NoError(t, err)

	_, _, err = buildRuntime(nil, runtimeOptions{ProviderFlag: "azure"})
	assert.EqualError(t, err, "provider not supported: azure")

	t.Setenv("SHEETLOOM_OLLAMA_HOST", "http://127.0.0.1:1")
	rt, provider, err := buildRuntime(&cfgpkg.Global{DefaultProvider: "Local"}, runtimeOptions{})
	require.NoError(t, err)
	assert.Equal(t, ai.ProviderOllama, provider)
	assert.IsType(t, &ai.OllamaClient{}, rt)
}

func TestSelectModelPrecedence(t *testing.T) {
	c := &cfgpkg.Global{DefaultModel: "cfg-model"}
	assert.Equal(t, "cli-model", selectModel(c, "cli-model"))
	assert.Equal(t, "cfg-model", selectModel(c, ""))
	assert.Equal(t, "openai/gpt-4o-mini", selectModel(nil, ""))
}

func TestIngestFlagsOptions(t *testing.T) {
	f := ingestFlags{delimiter: "tab", decimal: "comma", thousands: "space", headerRow: 2, noDates: true, sheet: "Q1"}
	opt, err := f.options()
	require.NoError(t, err)
	assert.Equal(t, '\t', opt.Delimiter)
	assert.Equal(t, ',', opt.DecimalSeparator)
	assert.Equal(t, ' ', opt.ThousandsSeparator)
	assert.Equal(t, 2, opt.HeaderRow)
	assert.Equal(t, "Q1", opt.Sheet)
	assert.False(t, opt.CoerceDates)

	opt, err = (&ingestFlags{}).options()
	require.NoError(t, err)
	assert.Equal(t, ingest.DefaultOptions(), opt)

	for _, bad := range []ingestFlags{{delimiter: "|"}, {decimal: "x"}, {thousands: "_"}, {headerRow: -1}} {
		_, err := bad.options()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestPipelineSessions(t *testing.T) {
	c := &cfgpkg.Global{MaxHistory: 1, IntentTimeoutSec: 1, SampleRows: 10}
	p, err := newPipeline(c, pipelineOptions{Offline: true}, ingest.DefaultOptions(), logging.Nop())
	require.NoError(t, err)
	defer p.Close()

	a, b := p.newSession(), p.newSession()
	assert.NotSame(t, a, b)

	_, err = newPipeline(c, pipelineOptions{Offline: true, Tables: []string{"=x.csv"}}, ingest.DefaultOptions(), logging.Nop())
	assert.Error(t, err)
	_, err = newPipeline(c, pipelineOptions{Offline: true, Tables: []string{"regions=" + t.TempDir() + "/missing.csv"}}, ingest.DefaultOptions(), logging.Nop())
	assert.Error(t, err)
}

func TestPipelineBoundsHistory(t *testing.T) {
	p, err := newPipeline(&cfgpkg.Global{MaxHistory: 1}, pipelineOptions{Offline: true}, ingest.DefaultOptions(), logging.Nop())
	require.NoError(t, err)
	loaded, err := ingest.ReadCSV(strings.NewReader(salesCSV), "sales.csv", ingest.DefaultOptions())
	require.NoError(t, err)

	sess := p.newSession()
	require.NoError(t, sess.Load(loaded.Dataset, loaded.SourceName))
	for _, cmd := range []string{"top 3 revenue", "top 2 revenue"} {
		out, err := sess.Run(context.Background(), cmd)
		require.NoError(t, err)
		require.True(t, out.Success, out.Error)
	}
	assert.True(t, sess.Undo())
	assert.False(t, sess.Undo())
	assert.Equal(t, 3, sess.Dataset().NumRows())
}
