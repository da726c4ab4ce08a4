package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const configFile = ".env"

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	MetricsEnabled bool          `mapstructure:"METRICS_ENABLED"`

	LLM  LLMConfig `mapstructure:",squash"`
	Jobs JobConfig `mapstructure:",squash"`

	SOAPStrictHeaders bool `mapstructure:"SOAP_STRICT_HEADERS"`
}

// LLMConfig carries the text-generation provider settings.
type LLMConfig struct {
	Provider string        `mapstructure:"LLM_PROVIDER"`
	Timeout  time.Duration `mapstructure:"LLM_TIMEOUT"`

	OllamaURL         string        `mapstructure:"OLLAMA_URL"`
	OllamaModel       string        `mapstructure:"OLLAMA_MODEL"`
	OllamaTemperature float64       `mapstructure:"OLLAMA_TEMPERATURE"`
	OllamaTopP        float64       `mapstructure:"OLLAMA_TOP_P"`
	OllamaTopK        int           `mapstructure:"OLLAMA_TOP_K"`
	OllamaNumCtx      int           `mapstructure:"OLLAMA_NUM_CTX"`
	OllamaNumPredict  int           `mapstructure:"OLLAMA_NUM_PREDICT"`
	OllamaTimeout     time.Duration `mapstructure:"OLLAMA_TIMEOUT"`

	OpenAIAPIKey  string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel   string `mapstructure:"OPENAI_MODEL"`
	OpenAIBaseURL string `mapstructure:"OPENAI_BASE_URL"`

	AnthropicAPIKey  string `mapstructure:"ANTHROPIC_API_KEY"`
	AnthropicModel   string `mapstructure:"ANTHROPIC_MODEL"`
	AnthropicBaseURL string `mapstructure:"ANTHROPIC_BASE_URL"`
	AnthropicVersion string `mapstructure:"ANTHROPIC_VERSION"`
}

// JobConfig controls the in-process summary job queue.
type JobConfig struct {
	Store     string        `mapstructure:"JOB_STORE"`
	Workers   int           `mapstructure:"JOB_WORKERS"`
	QueueSize int           `mapstructure:"JOB_QUEUE_SIZE"`
	Timeout   time.Duration `mapstructure:"JOB_TIMEOUT"`
	ResultTTL time.Duration `mapstructure:"JOB_RESULT_TTL"`
}

var defaults = map[string]interface{}{
	"PORT":             "8000",
	"ENV":              "development",
	"LOG_LEVEL":        "info",
	"DB_MAX_CONNS":     20,
	"DB_MIN_CONNS":     5,
	"MIGRATIONS_DIR":   "./migrations",
	"CORS_ORIGINS":     "*",
	"RATE_LIMIT_RPS":   10,
	"RATE_LIMIT_BURST": 20,
	"REQUEST_TIMEOUT":  "90s",
	"BODY_LIMIT":       "1M",
	"METRICS_ENABLED":  true,

	"LLM_PROVIDER":       "ollama",
	"LLM_TIMEOUT":        "60s",
	"OLLAMA_URL":         "http://ollama:11434",
	"OLLAMA_MODEL":       "llama3.2",
	"OLLAMA_TEMPERATURE": 0.3,
	"OLLAMA_TOP_P":       0.9,
	"OLLAMA_TOP_K":       40,
	"OLLAMA_NUM_CTX":     4096,
	"OLLAMA_NUM_PREDICT": 0,
	"OLLAMA_TIMEOUT":     "60s",
	"OPENAI_MODEL":       "gpt-3.5-turbo",
	"OPENAI_BASE_URL":    "https://api.openai.com/v1",
	"ANTHROPIC_MODEL":    "claude-3-haiku-20240307",
	"ANTHROPIC_BASE_URL": "https://api.anthropic.com",
	"ANTHROPIC_VERSION":  "2023-06-01",

	"SOAP_STRICT_HEADERS": false,

	"JOB_STORE":      "memory",
	"JOB_WORKERS":    4,
	"JOB_QUEUE_SIZE": 100,
	"JOB_TIMEOUT":    "300s",
	"JOB_RESULT_TTL": "1h",
}

// Keys without a default still need an explicit binding so Unmarshal sees them.
var unsetKeys = []string{"DATABASE_URL", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
		v.BindEnv(key)
	}
	for _, key := range unsetKeys {
		v.BindEnv(key)
	}
	return v
}

func Load() (*Config, error) {
	v := newViper()

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Jobs.Store = strings.ToLower(strings.TrimSpace(cfg.Jobs.Store))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch re-reads the .env file whenever it changes on disk and hands the
// freshly decoded config to onChange. A decode failure is passed through
// with a nil config so the caller can keep the previous snapshot.
func Watch(onChange func(*Config, error)) error {
	v := newViper()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", configFile, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Level returns the parsed zerolog level, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks values that would otherwise surface as runtime failures.
// LLM_PROVIDER is not checked here; an unknown provider degrades to the
// rule-based summary at call time.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
			return fmt.Errorf("LOG_LEVEL %q is not a valid level: %w", c.LogLevel, err)
		}
	}
	if c.Jobs.Store != "memory" && c.Jobs.Store != "postgres" {
		return fmt.Errorf("JOB_STORE must be \"memory\" or \"postgres\", got %q", c.Jobs.Store)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize <= 0 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be positive, got %d", c.Jobs.QueueSize)
	}
	if c.Jobs.Timeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT must be positive")
	}
	if c.LLM.Timeout <= 0 || c.LLM.OllamaTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT and OLLAMA_TIMEOUT must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
