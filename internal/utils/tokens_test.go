package utils_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/KaramelBytes/sheetloom-cli/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	cases := []struct {
		name string
		in   string
		min  int
	}{
		{"empty", "", 0},
		{"simple", "hello world", 2},
		{"long", strings.Repeat("a", 4000), 900},
	}
	for _, c := range cases {
		assert.GreaterOrEqual(t, utils.CountTokens(c.in), c.min, c.name)
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	text := strings.Repeat("- Revenue (numeric)\n", 300)
	trunc := utils.TruncateToTokenLimit(text, 100)
	assert.LessOrEqual(t, utils.CountTokens(trunc), 100)
	assert.NotEmpty(t, trunc)
	assert.True(t, strings.HasSuffix(trunc, "\n"))
	assert.Equal(t, "", utils.TruncateToTokenLimit(text, 0))
	assert.Equal(t, "short", utils.TruncateToTokenLimit("short", 10))
}

func TestSafeWriteFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")
	b, err := utils.PrettyJSON(map[string]int{"rows": 3})
	require.NoError(t, err)
	require.NoError(t, utils.SafeWriteFile(path, b))
	assert.FileExists(t, path)
	assert.NoFileExists(t, path+".tmp")
}
