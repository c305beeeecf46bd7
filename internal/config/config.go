package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Vertex    VertexConfig    `mapstructure:"vertex"`
	Compactor CompactorConfig `mapstructure:"compactor"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

type VertexConfig struct {
	Project         string        `mapstructure:"project"`
	Location        string        `mapstructure:"location"`
	Model           string        `mapstructure:"model"`
	Endpoint        string        `mapstructure:"endpoint"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	AccessToken     string        `mapstructure:"access_token"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
}

type CompactorConfig struct {
	MaxTransactions    int     `mapstructure:"max_transactions"`
	NormalizeTolerance float64 `mapstructure:"normalize_tolerance"`
}

type RateLimitConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MaxWait           time.Duration `mapstructure:"max_wait"`
}

type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	RedisURL   string        `mapstructure:"redis_url"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type PromptsConfig struct {
	Path string `mapstructure:"path"`
}

type UpstreamConfig struct {
	TransactionHistoryURL string        `mapstructure:"transaction_history_url"`
	Timeout               time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

// Load reads configuration from an optional config.yaml plus environment
// variables; the environment wins. Missing model-endpoint identity is a
// startup error, everything else has a default.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/insight-agent")
	}

	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Vertex.Project == "" && c.Vertex.Endpoint == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required (or set VERTEX_ENDPOINT)")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 90*time.Second)
	v.SetDefault("server.graceful_shutdown", 10*time.Second)

	v.SetDefault("vertex.location", "us-central1")
	v.SetDefault("vertex.model", "gemini-2.5-pro")
	v.SetDefault("vertex.max_output_tokens", 8192)
	v.SetDefault("vertex.attempt_timeout", 30*time.Second)

	v.SetDefault("compactor.max_transactions", 50)
	v.SetDefault("compactor.normalize_tolerance", 2.0)

	v.SetDefault("rate_limit.max_concurrent", 4)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.max_wait", 10*time.Second)

	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_entries", 1024)

	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 8*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("prompts.path", "prompts.yaml")

	v.SetDefault("upstream.transaction_history_url", "http://transactionhistory:8080")
	v.SetDefault("upstream.timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type"})
	v.SetDefault("cors.max_age", 300)
}

func bindEnvVars(v *viper.Viper) {
	bindings := map[string]string{
		"server.port":                      "SERVER_PORT",
		"server.request_timeout":           "REQUEST_TIMEOUT",
		"vertex.project":                   "GOOGLE_CLOUD_PROJECT",
		"vertex.location":                  "VERTEX_LOCATION",
		"vertex.model":                     "VERTEX_MODEL",
		"vertex.endpoint":                  "VERTEX_ENDPOINT",
		"vertex.credentials_file":          "VERTEX_CREDENTIALS_FILE",
		"vertex.access_token":              "VERTEX_ACCESS_TOKEN",
		"vertex.max_output_tokens":         "MAX_OUTPUT_TOKENS",
		"vertex.attempt_timeout":           "ATTEMPT_TIMEOUT",
		"compactor.max_transactions":       "MAX_TRANSACTIONS_PER_PROMPT",
		"compactor.normalize_tolerance":    "NORMALIZE_TOLERANCE",
		"rate_limit.max_concurrent":        "MAX_CONCURRENT_CALLS",
		"rate_limit.requests_per_minute":   "REQUESTS_PER_MINUTE",
		"rate_limit.max_wait":              "ADMISSION_MAX_WAIT",
		"cache.ttl":                        "CACHE_TTL",
		"cache.max_entries":                "CACHE_MAX_ENTRIES",
		"cache.redis_url":                  "REDIS_URL",
		"retry.max_attempts":               "RETRY_MAX_ATTEMPTS",
		"retry.initial_delay":              "RETRY_INITIAL_DELAY",
		"retry.max_delay":                  "RETRY_MAX_DELAY",
		"retry.multiplier":                 "RETRY_MULTIPLIER",
		"prompts.path":                     "PROMPTS_PATH",
		"upstream.transaction_history_url": "TRANSACTION_HISTORY_URL",
		"upstream.timeout":                 "UPSTREAM_TIMEOUT",
		"logging.level":                    "LOG_LEVEL",
		"logging.format":                   "LOG_FORMAT",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}
