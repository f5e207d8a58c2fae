// Package config loads quizproc settings from defaults, an optional YAML file
// and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LLM provider names.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Default execution backend; tasks may override provider and model
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Execution
	ItemTimeout      time.Duration
	ItemConcurrency  int
	RateLimitPerMin  int
	DefaultBatchSize int
	TerminalPolicy   string
	SingleActiveTask bool

	// Server
	ServerAddr        string
	PollInterval      time.Duration
	ReconcileInterval time.Duration
	LockFile          string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"surrealdb.url":        "SURREALDB_URL",
	"surrealdb.namespace":  "SURREALDB_NAMESPACE",
	"surrealdb.database":   "SURREALDB_DATABASE",
	"surrealdb.user":       "SURREALDB_USER",
	"surrealdb.pass":       "SURREALDB_PASS",
	"surrealdb.auth_level": "SURREALDB_AUTH_LEVEL",

	"llm.provider":      "QUIZPROC_LLM_PROVIDER",
	"llm.model":         "QUIZPROC_LLM_MODEL",
	"llm.ollama_host":   "OLLAMA_HOST",
	"llm.openai_key":    "OPENAI_API_KEY",
	"llm.anthropic_key": "ANTHROPIC_API_KEY",
	"llm.aws_region":    "AWS_REGION",

	"exec.item_timeout":       "QUIZPROC_ITEM_TIMEOUT",
	"exec.item_concurrency":   "QUIZPROC_ITEM_CONCURRENCY",
	"exec.rate_limit_per_min": "QUIZPROC_RATE_LIMIT_PER_MIN",
	"exec.batch_size":         "QUIZPROC_BATCH_SIZE",
	"exec.terminal_policy":    "QUIZPROC_TERMINAL_POLICY",
	"exec.single_active_task": "QUIZPROC_SINGLE_ACTIVE_TASK",

	"server.addr":               "QUIZPROC_SERVER_ADDR",
	"server.poll_interval":      "QUIZPROC_POLL_INTERVAL",
	"server.reconcile_interval": "QUIZPROC_RECONCILE_INTERVAL",
	"server.lock_file":          "QUIZPROC_LOCK_FILE",

	"log.file":  "QUIZPROC_LOG_FILE",
	"log.level": "QUIZPROC_LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("surrealdb.url", "ws://localhost:8000/rpc")
	v.SetDefault("surrealdb.namespace", "quizproc")
	v.SetDefault("surrealdb.database", "questions")
	v.SetDefault("surrealdb.user", "root")
	v.SetDefault("surrealdb.pass", "root")
	v.SetDefault("surrealdb.auth_level", "root")

	v.SetDefault("llm.provider", ProviderOllama)
	v.SetDefault("llm.model", "llama3.1")
	v.SetDefault("llm.ollama_host", "http://localhost:11434")
	v.SetDefault("llm.aws_region", "us-east-1")

	v.SetDefault("exec.item_timeout", "120s")
	v.SetDefault("exec.item_concurrency", 4)
	v.SetDefault("exec.rate_limit_per_min", 60)
	v.SetDefault("exec.batch_size", 10)
	v.SetDefault("exec.terminal_policy", "any_failure")
	v.SetDefault("exec.single_active_task", false)

	v.SetDefault("server.addr", ":8484")
	v.SetDefault("server.poll_interval", "5s")
	v.SetDefault("server.reconcile_interval", "1m")
	v.SetDefault("server.lock_file", "/tmp/quizproc.lock")

	v.SetDefault("log.file", "/tmp/quizproc.log")
	v.SetDefault("log.level", "INFO")
}

// Load reads configuration from defaults, the YAML file named by
// QUIZPROC_CONFIG (if set) and environment variables, in increasing priority.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.BindEnv("config_file", "QUIZPROC_CONFIG"); err != nil {
		return Config{}, fmt.Errorf("bind QUIZPROC_CONFIG: %w", err)
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		SurrealDBURL:       v.GetString("surrealdb.url"),
		SurrealDBNamespace: v.GetString("surrealdb.namespace"),
		SurrealDBDatabase:  v.GetString("surrealdb.database"),
		SurrealDBUser:      v.GetString("surrealdb.user"),
		SurrealDBPass:      v.GetString("surrealdb.pass"),
		SurrealDBAuthLevel: v.GetString("surrealdb.auth_level"),

		LLMProvider:     strings.ToLower(v.GetString("llm.provider")),
		LLMModel:        v.GetString("llm.model"),
		OllamaHost:      v.GetString("llm.ollama_host"),
		OpenAIAPIKey:    v.GetString("llm.openai_key"),
		AnthropicAPIKey: v.GetString("llm.anthropic_key"),
		AWSRegion:       v.GetString("llm.aws_region"),

		ItemTimeout:      v.GetDuration("exec.item_timeout"),
		ItemConcurrency:  max(1, v.GetInt("exec.item_concurrency")),
		RateLimitPerMin:  v.GetInt("exec.rate_limit_per_min"),
		DefaultBatchSize: v.GetInt("exec.batch_size"),
		TerminalPolicy:   v.GetString("exec.terminal_policy"),
		SingleActiveTask: v.GetBool("exec.single_active_task"),

		ServerAddr:        v.GetString("server.addr"),
		PollInterval:      v.GetDuration("server.poll_interval"),
		ReconcileInterval: v.GetDuration("server.reconcile_interval"),
		LockFile:          v.GetString("server.lock_file"),

		LogFile:  v.GetString("log.file"),
		LogLevel: parseLogLevel(v.GetString("log.level")),
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
