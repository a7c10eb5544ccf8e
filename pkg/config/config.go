package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Root policies for threads whose root post is missing or fails the quality filter
const (
	RootPolicyKeepRootless = "keep_rootless"
	RootPolicyDrop         = "drop"
)

// Thread modes control how replies are attached to a root
const (
	ThreadModeTransitive = "transitive"
	ThreadModeDirect     = "direct"
)

// Index drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const envPrefix = "PERSONA"

// Config holds all configuration for the application
type Config struct {
	Input      InputConfig
	Output     OutputConfig
	Preprocess PreprocessConfig
	Index      IndexConfig
	Redis      RedisConfig
	Server     ServerConfig
	Logging    LoggingConfig
	Telemetry  TelemetryConfig
}

// InputConfig holds the source export location
type InputConfig struct {
	Path string
}

// OutputConfig holds artifact layout configuration
type OutputConfig struct {
	BaseDir           string
	Dir               string // explicit output dir, overrides the timestamped layout
	Test              bool
	KeepIndex         bool
	KeepIntermediates bool
	Pretty            bool
}

// PreprocessConfig holds the pipeline knobs
type PreprocessConfig struct {
	ChunkSize      int
	MinThreadSize  int
	MinTextLength  int
	MaxMentions    int
	TargetLanguage string
	RootPolicy     string
	ThreadMode     string
	MaxRootDepth   int
	FetchBatch     int
	ProgressEvery  int
}

// IndexConfig holds the thread index store configuration
type IndexConfig struct {
	Driver string
	DSN    string // empty for sqlite means <output dir>/conversations.db
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL        string
	Enabled    bool
	VerdictTTL time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port       int
	Host       string
	DatasetDir string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	ServiceName       string
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.personaprep")
	viper.AddConfigPath("/etc/personaprep")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; this is OK if we have env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Commands validate the sections they use (Validate, ValidateServer)
	return FromViper(), nil
}

// FromViper builds a Config from the current viper state without validating it.
// Commands call it after binding their flags.
func FromViper() *Config {
	return &Config{
		Input: InputConfig{
			Path: getString("input", ""),
		},
		Output: OutputConfig{
			BaseDir:           getString("output_base_dir", ""),
			Dir:               getString("output_dir", ""),
			Test:              getBool("test", false),
			KeepIndex:         getBool("keep_index", false),
			KeepIntermediates: getBool("keep_intermediates", false),
			Pretty:            getBool("pretty", false),
		},
		Preprocess: PreprocessConfig{
			ChunkSize:      getInt("chunk_size", 100000),
			MinThreadSize:  getInt("min_thread_size", 2),
			MinTextLength:  getInt("min_text_length", 25),
			MaxMentions:    getInt("max_mentions", 1),
			TargetLanguage: getString("target_language", "en"),
			RootPolicy:     getString("root_policy", RootPolicyKeepRootless),
			ThreadMode:     getString("thread_mode", ThreadModeTransitive),
			MaxRootDepth:   getInt("max_root_depth", 32),
			FetchBatch:     getInt("fetch_batch", 500),
			ProgressEvery:  getInt("progress_every", 1000),
		},
		Index: IndexConfig{
			Driver: getString("index_driver", DriverSQLite),
			DSN:    getString("index_dsn", ""),
		},
		Redis: RedisConfig{
			URL:        getString("redis_url", ""),
			Enabled:    getString("redis_url", "") != "",
			VerdictTTL: GetDuration("redis_verdict_ttl", 7*24*time.Hour),
		},
		Server: ServerConfig{
			Port:       getInt("http_server_port", 8080),
			Host:       getString("http_server_host", "0.0.0.0"),
			DatasetDir: getString("dataset_dir", ""),
		},
		Logging: LoggingConfig{
			Level:  getString("log_level", "INFO"),
			Format: getString("log_format", "json"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           getBool("telemetry_enabled", false),
			JaegerURL:         getString("jaeger_url", ""),
			PrometheusEnabled: getBool("prometheus_enabled", true),
			ServiceName:       getString("service_name", "personaprep"),
		},
	}
}

func setDefaults() {
	viper.SetDefault("chunk_size", 100000)
	viper.SetDefault("min_thread_size", 2)
	viper.SetDefault("min_text_length", 25)
	viper.SetDefault("max_mentions", 1)
	viper.SetDefault("target_language", "en")
	viper.SetDefault("root_policy", RootPolicyKeepRootless)
	viper.SetDefault("thread_mode", ThreadModeTransitive)
	viper.SetDefault("max_root_depth", 32)
	viper.SetDefault("fetch_batch", 500)
	viper.SetDefault("progress_every", 1000)
	viper.SetDefault("index_driver", DriverSQLite)
	viper.SetDefault("http_server_port", 8080)
	viper.SetDefault("http_server_host", "0.0.0.0")
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("log_format", "json")
	viper.SetDefault("telemetry_enabled", false)
	viper.SetDefault("prometheus_enabled", true)
	viper.SetDefault("service_name", "personaprep")
}

func getString(key, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	// Also check environment variable directly
	if val := os.Getenv(envPrefix + "_" + toEnvKey(key)); val != "" {
		return val
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	if val := os.Getenv(envPrefix + "_" + toEnvKey(key)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	if val := os.Getenv(envPrefix + "_" + toEnvKey(key)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

func toEnvKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

// Validate validates the pipeline configuration. Everything here must fail
// before the first pass touches the filesystem.
func (c *Config) Validate() error {
	if c.Input.Path == "" {
		return fmt.Errorf("input is required")
	}
	info, err := os.Stat(c.Input.Path)
	if err != nil {
		return fmt.Errorf("input %s: %w", c.Input.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("input %s is a directory", c.Input.Path)
	}
	p := c.Preprocess
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0")
	}
	if p.MinThreadSize <= 0 {
		return fmt.Errorf("min_thread_size must be > 0")
	}
	if p.MinTextLength < 0 {
		return fmt.Errorf("min_text_length must be >= 0")
	}
	if p.MaxMentions < 0 {
		return fmt.Errorf("max_mentions must be >= 0")
	}
	if p.TargetLanguage == "" {
		return fmt.Errorf("target_language is required")
	}
	switch p.RootPolicy {
	case RootPolicyKeepRootless, RootPolicyDrop:
	default:
		return fmt.Errorf("root_policy must be %q or %q, got %q", RootPolicyKeepRootless, RootPolicyDrop, p.RootPolicy)
	}
	switch p.ThreadMode {
	case ThreadModeTransitive, ThreadModeDirect:
	default:
		return fmt.Errorf("thread_mode must be %q or %q, got %q", ThreadModeTransitive, ThreadModeDirect, p.ThreadMode)
	}
	if p.MaxRootDepth <= 0 || p.MaxRootDepth > 64 {
		return fmt.Errorf("max_root_depth must be between 1 and 64")
	}
	if p.FetchBatch <= 0 || p.FetchBatch > 5000 {
		return fmt.Errorf("fetch_batch must be between 1 and 5000")
	}
	switch c.Index.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Index.DSN == "" {
			return fmt.Errorf("index_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown index_driver %q", c.Index.Driver)
	}
	return nil
}

// ValidateServer validates the settings used by the dataset server
func (c *Config) ValidateServer() error {
	if c.Server.DatasetDir == "" {
		return fmt.Errorf("dataset_dir is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("http_server_port must be between 1 and 65535")
	}
	return nil
}

// GetDuration returns a duration from config key, with default
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	return defaultValue
}
