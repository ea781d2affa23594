package common

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides; "__" separates nesting levels,
// e.g. RENAMER_LLM__API_KEY -> llm.api_key.
const EnvPrefix = "RENAMER_"

// Config holds all application configuration
type Config struct {
	Source  SourceConfig  `koanf:"source"`
	LLM     LLMConfig     `koanf:"llm"`
	Batch   BatchConfig   `koanf:"batch"`
	Extract ExtractConfig `koanf:"extract"`
	Ledger  LedgerConfig  `koanf:"ledger"`
	Report  ReportConfig  `koanf:"report"`
	Log     LogConfig     `koanf:"log"`
}

// SourceConfig points at the directory holding the e-books to rename.
type SourceConfig struct {
	Dir string `koanf:"dir"`
}

// LLMConfig holds completion-service configuration
type LLMConfig struct {
	BaseURL           string        `koanf:"base_url" default:"https://api.siliconflow.cn/v1" validate:"required,url"`
	APIKey            string        `koanf:"api_key"`
	PrimaryModel      string        `koanf:"primary_model" default:"deepseek-ai/DeepSeek-V2.5" validate:"required"`
	FallbackModel     string        `koanf:"fallback_model" default:"deepseek-ai/DeepSeek-R1-Distill-Qwen-32B" validate:"required"`
	PrimaryMaxTokens  int           `koanf:"primary_max_tokens" default:"128" validate:"min=1"`
	FallbackMaxTokens int           `koanf:"fallback_max_tokens" default:"1024" validate:"min=1"`
	Temperature       float32       `koanf:"temperature" validate:"min=0,max=2"`
	Timeout           time.Duration `koanf:"timeout" default:"45s" validate:"gt=0"`
	// RequestsPerSecond paces calls across the whole batch; 0 disables pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"min=0"`
}

// BatchConfig holds orchestration knobs
type BatchConfig struct {
	Concurrency int  `koanf:"concurrency" default:"4" validate:"min=1,max=64"`
	Workers     int  `koanf:"workers" default:"8" validate:"min=1,max=256"`
	Preflight   bool `koanf:"preflight" default:"true"`
	DryRun      bool `koanf:"dry_run"`
}

// ExtractConfig holds text-sampling bounds and external tool locations
type ExtractConfig struct {
	ConverterBin        string        `koanf:"converter_bin" default:"ebook-convert" validate:"required"`
	PdftotextBin        string        `koanf:"pdftotext_bin" default:"pdftotext" validate:"required"`
	PDFMaxPages         int           `koanf:"pdf_max_pages" default:"10" validate:"min=1"`
	LanguageSampleChars int           `koanf:"language_sample_chars" default:"500" validate:"min=1"`
	FallbackSampleChars int           `koanf:"fallback_sample_chars" default:"1000" validate:"min=1"`
	MaxSampleChars      int           `koanf:"max_sample_chars" default:"8000" validate:"min=1"`
	Timeout             time.Duration `koanf:"timeout" default:"2m" validate:"gt=0"`
}

// LedgerConfig configures the rename history store. An empty DSN disables it.
// "postgres://" DSNs use pgx; anything else is treated as a sqlite path.
type LedgerConfig struct {
	DSN string `koanf:"dsn" default:"bookrenamer.db"`
}

// ReportConfig configures the optional XLSX batch report.
type ReportConfig struct {
	Path string `koanf:"path"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" default:"json" validate:"oneof=json text"`
}

// legacyEnv maps the variable names used by earlier versions of the tool onto config keys.
var legacyEnv = map[string]string{
	"PDF_DIR":         "source.dir",
	"API_KEY_ACCESS":  "llm.api_key",
	"OPENAI_BASE_URL": "llm.base_url",
}

// LoadConfig resolves configuration once at startup: struct defaults, then the optional
// YAML file, then legacy environment names, then RENAMER_* environment variables.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, NewAppError("CONFIG_ERROR", "apply defaults", err)
	}

	k := koanf.New(".")
	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "CONFIG")
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "load config file "+configPath, err)
		}
	}
	if err := k.Load(env.Provider("", ".", legacyEnvKey), nil); err != nil {
		return nil, NewAppError("CONFIG_ERROR", "load legacy environment", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, NewAppError("CONFIG_ERROR", "load environment", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, NewAppError("CONFIG_ERROR", "decode config", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// legacyEnvKey keeps only the known legacy names; an empty key tells koanf to drop the variable.
func legacyEnvKey(s string) string {
	return legacyEnv[s]
}

// Validate checks ranges and enums on the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return NewAppError("CONFIG_ERROR", "invalid configuration", errors.Join(ErrValidation, err))
	}
	return nil
}

// RequireSource checks that a source directory is configured and is a directory.
func (c *Config) RequireSource() error {
	if strings.TrimSpace(c.Source.Dir) == "" {
		return NewAppError("CONFIG_ERROR", "source directory is required (PDF_DIR, RENAMER_SOURCE__DIR or --dir)", ErrInvalidInput)
	}
	st, err := os.Stat(c.Source.Dir)
	if err != nil {
		return NewAppError("CONFIG_ERROR", "source directory not accessible", err)
	}
	if !st.IsDir() {
		return NewAppError("CONFIG_ERROR", "source path is not a directory: "+c.Source.Dir, ErrInvalidInput)
	}
	return nil
}

// RequireLLM checks that the completion service credential is present.
func (c *Config) RequireLLM() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return NewAppError("CONFIG_ERROR", "API key is required (API_KEY_ACCESS, RENAMER_LLM__API_KEY or OPENAI_API_KEY)", ErrInvalidInput)
	}
	return nil
}
