package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	DefaultModel    string  `mapstructure:"default_model" yaml:"default_model"`
	DefaultProvider string  `mapstructure:"default_provider" yaml:"default_provider"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Local runtimes (Ollama)
	OllamaHost       string `mapstructure:"ollama_host" yaml:"ollama_host"`
	OllamaTimeoutSec int    `mapstructure:"ollama_timeout_sec" yaml:"ollama_timeout_sec"`

	// Pipeline
	IntentTimeoutSec int `mapstructure:"intent_timeout_sec" yaml:"intent_timeout_sec"`
	PromptBudget     int `mapstructure:"prompt_budget" yaml:"prompt_budget"`
	MaxHistory       int `mapstructure:"max_history" yaml:"max_history"`
	PreviewRows      int `mapstructure:"preview_rows" yaml:"preview_rows"`
	SampleRows       int `mapstructure:"sample_rows" yaml:"sample_rows"`

	// HTTP server
	ServeAddr   string   `mapstructure:"serve_addr" yaml:"serve_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	AuditLog    string   `mapstructure:"audit_log" yaml:"audit_log"`
}

const dirName = ".sheetloom"

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.sheetloom/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := configDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. Flags are applied by the caller.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("SHEETLOOM")
	v.AutomaticEnv()

	v.SetDefault("api_key", "")
	v.SetDefault("default_model", "openai/gpt-4o-mini")
	v.SetDefault("default_provider", "openrouter")
	v.SetDefault("max_tokens", 512)
	v.SetDefault("temperature", 0.1)
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	// Ollama defaults
	v.SetDefault("ollama_host", "http://127.0.0.1:11434")
	v.SetDefault("ollama_timeout_sec", 60)
	// Pipeline defaults
	v.SetDefault("intent_timeout_sec", 20)
	v.SetDefault("prompt_budget", 1500)
	v.SetDefault("max_history", 50)
	v.SetDefault("preview_rows", 20)
	v.SetDefault("sample_rows", 1000)
	v.SetDefault("serve_addr", ":8080")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("audit_log", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// a missing file is fine; a malformed one is not
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Keys lists the settable configuration keys in display order.
var Keys = []string{
	"api_key", "default_provider", "default_model", "max_tokens", "temperature",
	"http_timeout_sec", "retry_max_attempts", "retry_base_delay_ms", "retry_max_delay_ms",
	"ollama_host", "ollama_timeout_sec",
	"intent_timeout_sec", "prompt_budget", "max_history", "preview_rows", "sample_rows",
	"serve_addr", "cors_origins", "audit_log",
}

// Get renders the value of key for display. The API key is masked.
func (c *Global) Get(key string) (string, error) {
	switch key {
	case "api_key":
		return Mask(c.APIKey), nil
	case "default_provider":
		return c.DefaultProvider, nil
	case "default_model":
		return c.DefaultModel, nil
	case "max_tokens":
		return strconv.Itoa(c.MaxTokens), nil
	case "temperature":
		return strconv.FormatFloat(c.Temperature, 'f', 3, 64), nil
	case "http_timeout_sec":
		return strconv.Itoa(c.HTTPTimeoutSec), nil
	case "retry_max_attempts":
		return strconv.Itoa(c.RetryMaxAttempts), nil
	case "retry_base_delay_ms":
		return strconv.Itoa(c.RetryBaseDelayMs), nil
	case "retry_max_delay_ms":
		return strconv.Itoa(c.RetryMaxDelayMs), nil
	case "ollama_host":
		return c.OllamaHost, nil
	case "ollama_timeout_sec":
		return strconv.Itoa(c.OllamaTimeoutSec), nil
	case "intent_timeout_sec":
		return strconv.Itoa(c.IntentTimeoutSec), nil
	case "prompt_budget":
		return strconv.Itoa(c.PromptBudget), nil
	case "max_history":
		return strconv.Itoa(c.MaxHistory), nil
	case "preview_rows":
		return strconv.Itoa(c.PreviewRows), nil
	case "sample_rows":
		return strconv.Itoa(c.SampleRows), nil
	case "serve_addr":
		return c.ServeAddr, nil
	case "cors_origins":
		return strings.Join(c.CORSOrigins, ","), nil
	case "audit_log":
		return c.AuditLog, nil
	}
	return "", fmt.Errorf("unknown key: %s", key)
}

// Set parses val into key.
func (c *Global) Set(key, val string) error {
	setInt := func(dst *int, floor int) error {
		i, err := strconv.Atoi(val)
		if err != nil || i < floor {
			return fmt.Errorf("invalid int for %s: %v", key, val)
		}
		*dst = i
		return nil
	}
	switch key {
	case "api_key":
		c.APIKey = val
	case "default_model":
		c.DefaultModel = val
	case "default_provider":
		switch strings.ToLower(val) {
		case "openrouter":
			c.DefaultProvider = "openrouter"
		case "ollama", "local":
			c.DefaultProvider = "ollama"
		default:
			return fmt.Errorf("invalid default_provider: %s (use openrouter or ollama)", val)
		}
	case "max_tokens":
		return setInt(&c.MaxTokens, 1)
	case "temperature":
		f, perr := strconv.ParseFloat(val, 64)
		if perr != nil || f < 0 {
			return fmt.Errorf("invalid float for temperature: %v", val)
		}
		c.Temperature = f
	case "http_timeout_sec":
		return setInt(&c.HTTPTimeoutSec, 1)
	case "retry_max_attempts":
		return setInt(&c.RetryMaxAttempts, 0)
	case "retry_base_delay_ms":
		return setInt(&c.RetryBaseDelayMs, 0)
	case "retry_max_delay_ms":
		return setInt(&c.RetryMaxDelayMs, 0)
	case "ollama_host":
		c.OllamaHost = val
	case "ollama_timeout_sec":
		return setInt(&c.OllamaTimeoutSec, 1)
	case "intent_timeout_sec":
		return setInt(&c.IntentTimeoutSec, 1)
	case "prompt_budget":
		return setInt(&c.PromptBudget, 0)
	case "max_history":
		return setInt(&c.MaxHistory, 1)
	case "preview_rows":
		return setInt(&c.PreviewRows, 0)
	case "sample_rows":
		return setInt(&c.SampleRows, 1)
	case "serve_addr":
		c.ServeAddr = val
	case "cors_origins":
		var origins []string
		for _, o := range strings.Split(val, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORSOrigins = origins
	case "audit_log":
		c.AuditLog = val
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

// Mask hides all but the ends of a secret.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}
