package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config holds all application configuration. It is built once by Load and
// passed into constructors; nothing mutates it afterwards.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	CORS     CORSConfig        `mapstructure:"cors"`
	Store    StoreConfig       `mapstructure:"store"`
	DB       DBConfig          `mapstructure:"db"`
	SQLite   SQLiteConfig      `mapstructure:"sqlite"`
	S3       S3Config          `mapstructure:"s3"`
	Log      LogConfig         `mapstructure:"log"`
	Backend  BackendConfig     `mapstructure:"backend"`
	Models   map[string]string `mapstructure:"models"`
	Pipeline PipelineConfig    `mapstructure:"pipeline"`
	Batch    BatchConfig       `mapstructure:"batch"`
}

// ProviderConfig holds settings for a single generative backend provider.
type ProviderConfig struct {
	Provider    string `mapstructure:"provider"`
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`
}

// SamplingConfig holds generation parameters shared by every provider.
type SamplingConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	NumCtx      int     `mapstructure:"num_ctx"`
	Seed        int     `mapstructure:"seed"`
}

// BackendConfig holds the provider chain. Secondary and tertiary providers are
// tried in order when the one before them fails.
type BackendConfig struct {
	Primary   ProviderConfig `mapstructure:"primary"`
	Secondary ProviderConfig `mapstructure:"secondary"`
	Tertiary  ProviderConfig `mapstructure:"tertiary"`
	Sampling  SamplingConfig `mapstructure:"sampling"`
}

// Providers returns the configured providers in fallback order.
func (b *BackendConfig) Providers() []ProviderConfig {
	out := []ProviderConfig{b.Primary}
	for _, p := range []ProviderConfig{b.Secondary, b.Tertiary} {
		if p.Provider != "" {
			out = append(out, p)
		}
	}
	return out
}

// PipelineConfig holds extraction pipeline settings.
type PipelineConfig struct {
	RegistryFile    string `mapstructure:"registry_file"`
	SignaturesFile  string `mapstructure:"signatures_file"`
	AllowUnresolved bool   `mapstructure:"allow_unresolved"`
	Strict          bool   `mapstructure:"strict"`
}

// BatchConfig holds folder-run settings.
type BatchConfig struct {
	InputDir      string        `mapstructure:"input_dir"`
	OutputDir     string        `mapstructure:"output_dir"`
	Concurrency   int           `mapstructure:"concurrency"`
	ReportTimeout time.Duration `mapstructure:"report_timeout"`
	TimingFile    string        `mapstructure:"timing_file"`
	SummaryFile   string        `mapstructure:"summary_file"`
	RandomCount   int           `mapstructure:"random_count"`
}

// StoreConfig selects where extraction records are persisted.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// Store drivers.
const (
	StoreNone     = "none"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// SQLiteConfig holds the embedded store settings.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// S3Config holds AWS S3 settings for output document uploads.
type S3Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ResolveModel maps a model alias to the concrete model name.
func (c *Config) ResolveModel(alias string) (string, error) {
	if m, ok := c.Models[strings.ToLower(alias)]; ok && m != "" {
		return m, nil
	}
	known := make([]string, 0, len(c.Models))
	for k := range c.Models {
		known = append(known, k)
	}
	sort.Strings(known)
	return "", fmt.Errorf("unknown model alias %q (known: %s)", alias, strings.Join(known, ", "))
}

var defaultModels = map[string]string{
	"gemma4b":  "gemma3:4b",
	"gemma1b":  "gemma3:1b",
	"med8b":    "thewindmom/llama3-med42-8b",
	"gemma12b": "gemma3:12b",
	"gemma27b": "gemma3:27b",
	"med70b":   "thewindmom/llama3-med42-70b",
	"gpt":      "gpt-oss:20b",
	"phi4":     "phi4",
	"qwen30b":  "qwen3:30b",
	"gpt4o":    "gpt-4o",
	"sonnet":   "claude-sonnet-4-20250514",
	"gemini":   "gemini-2.0-flash",
}

// Load reads configuration from environment variables with the REGISTRAR_
// prefix, merged over an optional config file named by REGISTRAR_CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REGISTRAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30m")
	v.SetDefault("server.environment", "development")
	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// Store defaults
	v.SetDefault("store.driver", StoreNone)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "registrar")
	v.SetDefault("db.password", "registrar_secret")
	v.SetDefault("db.name", "registrar_db")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open", 25)
	v.SetDefault("db.max_idle", 10)
	v.SetDefault("sqlite.path", "registrar.db")

	// S3 defaults
	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "registrar-results")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.prefix", "results")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Backend defaults
	v.SetDefault("backend.primary.provider", "ollama")
	v.SetDefault("backend.primary.api_key", "")
	v.SetDefault("backend.primary.base_url", "http://localhost:11434")
	v.SetDefault("backend.primary.model", "gpt")
	v.SetDefault("backend.primary.timeout_secs", 600)
	v.SetDefault("backend.secondary.provider", "")
	v.SetDefault("backend.secondary.timeout_secs", 120)
	v.SetDefault("backend.tertiary.provider", "")
	v.SetDefault("backend.tertiary.timeout_secs", 120)
	v.SetDefault("backend.sampling.temperature", 0.7)
	v.SetDefault("backend.sampling.top_p", 0.7)
	v.SetDefault("backend.sampling.max_tokens", 16384)
	v.SetDefault("backend.sampling.num_ctx", 16384)
	v.SetDefault("backend.sampling.seed", 10)
	for alias, model := range defaultModels {
		v.SetDefault("models."+alias, model)
	}

	// Pipeline defaults
	v.SetDefault("pipeline.registry_file", "")
	v.SetDefault("pipeline.signatures_file", "")
	v.SetDefault("pipeline.allow_unresolved", false)
	v.SetDefault("pipeline.strict", true)

	// Batch defaults
	v.SetDefault("batch.input_dir", "reports")
	v.SetDefault("batch.output_dir", "experiments")
	v.SetDefault("batch.concurrency", 1)
	v.SetDefault("batch.report_timeout", "10m")
	v.SetDefault("batch.timing_file", "timing.csv")
	v.SetDefault("batch.summary_file", "summary.xlsx")
	v.SetDefault("batch.random_count", 5)

	// Bind environment variables explicitly for nested keys
	envBindings := map[string]string{
		"server.port":                    "REGISTRAR_SERVER_PORT",
		"server.read_timeout":            "REGISTRAR_SERVER_READ_TIMEOUT",
		"server.write_timeout":           "REGISTRAR_SERVER_WRITE_TIMEOUT",
		"server.environment":             "REGISTRAR_SERVER_ENVIRONMENT",
		"cors.allowed_origins":           "REGISTRAR_CORS_ALLOWED_ORIGINS",
		"store.driver":                   "REGISTRAR_STORE_DRIVER",
		"db.host":                        "REGISTRAR_DB_HOST",
		"db.port":                        "REGISTRAR_DB_PORT",
		"db.user":                        "REGISTRAR_DB_USER",
		"db.password":                    "REGISTRAR_DB_PASSWORD",
		"db.name":                        "REGISTRAR_DB_NAME",
		"db.sslmode":                     "REGISTRAR_DB_SSLMODE",
		"db.max_open":                    "REGISTRAR_DB_MAX_OPEN",
		"db.max_idle":                    "REGISTRAR_DB_MAX_IDLE",
		"sqlite.path":                    "REGISTRAR_SQLITE_PATH",
		"s3.enabled":                     "REGISTRAR_S3_ENABLED",
		"s3.region":                      "REGISTRAR_S3_REGION",
		"s3.bucket":                      "REGISTRAR_S3_BUCKET",
		"s3.endpoint":                    "REGISTRAR_S3_ENDPOINT",
		"s3.access_key":                  "REGISTRAR_S3_ACCESS_KEY",
		"s3.secret_key":                  "REGISTRAR_S3_SECRET_KEY",
		"s3.prefix":                      "REGISTRAR_S3_PREFIX",
		"log.level":                      "REGISTRAR_LOG_LEVEL",
		"log.format":                     "REGISTRAR_LOG_FORMAT",
		"backend.primary.provider":       "REGISTRAR_BACKEND_PRIMARY_PROVIDER",
		"backend.primary.api_key":        "REGISTRAR_BACKEND_PRIMARY_API_KEY",
		"backend.primary.base_url":       "REGISTRAR_BACKEND_PRIMARY_BASE_URL",
		"backend.primary.model":          "REGISTRAR_BACKEND_PRIMARY_MODEL",
		"backend.primary.timeout_secs":   "REGISTRAR_BACKEND_PRIMARY_TIMEOUT_SECS",
		"backend.secondary.provider":     "REGISTRAR_BACKEND_SECONDARY_PROVIDER",
		"backend.secondary.api_key":      "REGISTRAR_BACKEND_SECONDARY_API_KEY",
		"backend.secondary.base_url":     "REGISTRAR_BACKEND_SECONDARY_BASE_URL",
		"backend.secondary.model":        "REGISTRAR_BACKEND_SECONDARY_MODEL",
		"backend.secondary.timeout_secs": "REGISTRAR_BACKEND_SECONDARY_TIMEOUT_SECS",
		"backend.tertiary.provider":      "REGISTRAR_BACKEND_TERTIARY_PROVIDER",
		"backend.tertiary.api_key":       "REGISTRAR_BACKEND_TERTIARY_API_KEY",
		"backend.tertiary.base_url":      "REGISTRAR_BACKEND_TERTIARY_BASE_URL",
		"backend.tertiary.model":         "REGISTRAR_BACKEND_TERTIARY_MODEL",
		"backend.tertiary.timeout_secs":  "REGISTRAR_BACKEND_TERTIARY_TIMEOUT_SECS",
		"backend.sampling.temperature":   "REGISTRAR_BACKEND_SAMPLING_TEMPERATURE",
		"backend.sampling.top_p":         "REGISTRAR_BACKEND_SAMPLING_TOP_P",
		"backend.sampling.max_tokens":    "REGISTRAR_BACKEND_SAMPLING_MAX_TOKENS",
		"backend.sampling.num_ctx":       "REGISTRAR_BACKEND_SAMPLING_NUM_CTX",
		"backend.sampling.seed":          "REGISTRAR_BACKEND_SAMPLING_SEED",
		"pipeline.registry_file":         "REGISTRAR_PIPELINE_REGISTRY_FILE",
		"pipeline.signatures_file":       "REGISTRAR_PIPELINE_SIGNATURES_FILE",
		"pipeline.allow_unresolved":      "REGISTRAR_PIPELINE_ALLOW_UNRESOLVED",
		"pipeline.strict":                "REGISTRAR_PIPELINE_STRICT",
		"batch.input_dir":                "REGISTRAR_BATCH_INPUT_DIR",
		"batch.output_dir":               "REGISTRAR_BATCH_OUTPUT_DIR",
		"batch.concurrency":              "REGISTRAR_BATCH_CONCURRENCY",
		"batch.report_timeout":           "REGISTRAR_BATCH_REPORT_TIMEOUT",
		"batch.timing_file":              "REGISTRAR_BATCH_TIMING_FILE",
		"batch.summary_file":             "REGISTRAR_BATCH_SUMMARY_FILE",
		"batch.random_count":             "REGISTRAR_BATCH_RANDOM_COUNT",
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	if path := os.Getenv("REGISTRAR_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		trimSliceHook,
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	// Railway/Heroku/Render set a PORT env var. Use it if REGISTRAR_SERVER_PORT is not explicitly set.
	if port := os.Getenv("PORT"); port != "" && os.Getenv("REGISTRAR_SERVER_PORT") == "" {
		cfg.Server.Port = ":" + port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// trimSliceHook drops blank entries and surrounding spaces from comma lists.
func trimSliceHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf([]string{}) {
		return data, nil
	}
	items, ok := data.([]string)
	if !ok {
		return data, nil
	}
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// Validate checks cross-field constraints after decoding.
func (c *Config) Validate() error {
	if c.Backend.Primary.Provider == "" {
		return fmt.Errorf("backend.primary.provider is required")
	}
	for _, p := range c.Backend.Providers() {
		if _, err := c.ResolveModel(p.Model); err != nil {
			return fmt.Errorf("backend %s: %w", p.Provider, err)
		}
	}
	switch c.Store.Driver {
	case StoreNone, StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be at least 1")
	}
	return nil
}
