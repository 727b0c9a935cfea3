// Package config loads learndebug settings from flags, environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/abhisek/learndebug/internal/llm"
)

const (
	EnvPrefix = "LEARNDEBUG"

	EnvDevelopment = "development"
	EnvProduction  = "production"

	DefaultAddr           = ":5000"
	DefaultMaxUploadBytes = 10 << 20
)

// Tracing exporters.
const (
	TracingOff    = "off"
	TracingStdout = "stdout"
	TracingOTLP   = "otlp"
)

// Config is the resolved application configuration.
type Config struct {
	Env            string
	Addr           string
	DB             string
	MaxUploadBytes int64
	CORSOrigins    []string
	Tracing        string
	LogMode        string
	LogRedaction   bool
	LogSalt        string

	// PDFAsText sends extracted PDF text instead of the file itself.
	PDFAsText bool

	LLM llm.Config
}

// Production reports whether error details must be hidden from clients.
func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// New returns a viper instance with defaults and environment bindings.
// Callers may bind flags on it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	defaults := llm.DefaultConfig()
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("db", "")
	v.SetDefault("max_upload_bytes", DefaultMaxUploadBytes)
	v.SetDefault("cors_origins", "")
	v.SetDefault("tracing", TracingOff)
	v.SetDefault("log_mode", "")
	v.SetDefault("log_redaction", true)
	v.SetDefault("log_salt", "")
	v.SetDefault("pdf_as_text", false)
	v.SetDefault("llm_provider", defaults.Provider)
	v.SetDefault("llm_timeout", defaults.Timeout)
	v.SetDefault("llm_max_attempts", defaults.Retry.MaxAttempts)
	v.SetDefault("gemini_model", defaults.Gemini.Model)
	v.SetDefault("gemini_base_url", "")
	v.SetDefault("gemini_api_version", "")
	v.SetDefault("openai_model", defaults.OpenAI.Model)
	v.SetDefault("openai_base_url", "")
	v.SetDefault("anthropic_model", defaults.Anthropic.Model)
	v.SetDefault("openrouter_model", defaults.OpenRouter.Model)
	v.SetDefault("openrouter_base_url", "")

	// Provider keys also honor the names their SDKs document.
	_ = v.BindEnv("gemini_api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY", "AI_INTEGRATIONS_GEMINI_API_KEY")
	_ = v.BindEnv("openai_api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("anthropic_api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openrouter_api_key", EnvPrefix+"_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	return v
}

// LoadDotEnv loads the first existing file in paths into the process
// environment. Variables already set win. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
		return nil
	}
	return nil
}

// Load resolves a Config from v and checks it. A missing model API key
// is not an error here; see Config.LLM.Validate.
func Load(v *viper.Viper) (*Config, error) {
	retry := llm.DefaultRetryConfig()
	retry.MaxAttempts = v.GetInt("llm_max_attempts")

	cfg := &Config{
		Env:            strings.ToLower(strings.TrimSpace(v.GetString("env"))),
		Addr:           v.GetString("addr"),
		DB:             strings.TrimSpace(v.GetString("db")),
		MaxUploadBytes: v.GetInt64("max_upload_bytes"),
		CORSOrigins:    splitList(v.GetString("cors_origins")),
		Tracing:        strings.ToLower(strings.TrimSpace(v.GetString("tracing"))),
		LogMode:        v.GetString("log_mode"),
		LogRedaction:   v.GetBool("log_redaction"),
		LogSalt:        v.GetString("log_salt"),
		PDFAsText:      v.GetBool("pdf_as_text"),
		LLM: llm.Config{
			Provider: strings.ToLower(strings.TrimSpace(v.GetString("llm_provider"))),
			Gemini: llm.GeminiConfig{
				APIKey:     v.GetString("gemini_api_key"),
				Model:      v.GetString("gemini_model"),
				BaseURL:    v.GetString("gemini_base_url"),
				APIVersion: v.GetString("gemini_api_version"),
			},
			OpenAI: llm.OpenAIConfig{
				APIKey:  v.GetString("openai_api_key"),
				Model:   v.GetString("openai_model"),
				BaseURL: v.GetString("openai_base_url"),
			},
			Anthropic: llm.AnthropicConfig{
				APIKey: v.GetString("anthropic_api_key"),
				Model:  v.GetString("anthropic_model"),
			},
			OpenRouter: llm.OpenRouterConfig{
				APIKey:  v.GetString("openrouter_api_key"),
				Model:   v.GetString("openrouter_model"),
				BaseURL: v.GetString("openrouter_base_url"),
			},
			Retry:   retry,
			Timeout: v.GetDuration("llm_timeout"),
		},
	}
	if cfg.LogMode == "" {
		cfg.LogMode = cfg.Env
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("invalid env %q (must be development or production)", c.Env)
	}
	switch c.Tracing {
	case TracingOff, TracingStdout, TracingOTLP:
	default:
		return fmt.Errorf("invalid tracing exporter %q (must be off, stdout or otlp)", c.Tracing)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("llm_max_attempts must be at least 1, got %d", c.LLM.Retry.MaxAttempts)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
