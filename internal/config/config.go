// Package config loads and watches PulseShrine's runtime configuration.
// Precedence: defaults, then an optional YAML file, then .env, then
// PULSE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PULSE_"

// TableNames holds the five logical table names the store registers.
type TableNames struct {
	StartedPulses  string `yaml:"started_pulses"`
	StoppedPulses  string `yaml:"stopped_pulses"`
	IngestedPulses string `yaml:"ingested_pulses"`
	AIUsage        string `yaml:"ai_usage_tracking"`
	Users          string `yaml:"users"`
}

// AIConfig holds the LLM enrichment settings. The dynamic values (Enabled,
// ModelID, MaxCostPerPulseCents) are also resolvable through Params so they
// can change without a restart.
type AIConfig struct {
	Enabled              bool    `yaml:"enabled"`
	ModelID              string  `yaml:"model_id"`
	MaxCostPerPulseCents float64 `yaml:"max_cost_per_pulse_cents"`
	ParameterPrefix      string  `yaml:"parameter_prefix"`

	// Provider credentials. AnthropicAPIKey drives the anthropic-style
	// client; OpenAIAPIKey plus OpenAIBaseURL drive the openai-compatible
	// one (the nova-class endpoints).
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicURL    string `yaml:"anthropic_url"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
}

// OrchestratorConfig bounds the stream consumer.
type OrchestratorConfig struct {
	Workers       int           `yaml:"workers"`
	Deadline      time.Duration `yaml:"deadline"`
	RetryAttempts int           `yaml:"retry_attempts"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Config is the process-wide configuration.
type Config struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`

	DataDir string `yaml:"data_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`

	// Proxy-principal auth: requests must carry the shared secret and a
	// user header set by the fronting auth proxy.
	ProxyAuthSecret     string `yaml:"proxy_auth_secret"`
	ProxyAuthUserHeader string `yaml:"proxy_auth_user_header"`
	AllowedOrigins      string `yaml:"allowed_origins"`

	// RNGSeed fixes the generators' randomness; 0 derives from time.
	RNGSeed int64 `yaml:"rng_seed"`

	AI           AIConfig           `yaml:"ai"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Tables       TableNames         `yaml:"tables"`
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Host:                "0.0.0.0",
		Port:                7655,
		MetricsPort:         9091,
		DataDir:             "/var/lib/pulseshrine",
		LogLevel:            "info",
		LogFormat:           "auto",
		ProxyAuthUserHeader: "X-Pulse-User",
		AI: AIConfig{
			Enabled:              true,
			ModelID:              "us.amazon.nova-lite-v1:0",
			MaxCostPerPulseCents: 2,
			ParameterPrefix:      "/pulseshrine/ai/",
		},
		Orchestrator: OrchestratorConfig{
			Workers:       4,
			Deadline:      30 * time.Second,
			RetryAttempts: 4,
			SweepInterval: 5 * time.Minute,
		},
		Tables: TableNames{
			StartedPulses:  "started_pulses",
			StoppedPulses:  "stopped_pulses",
			IngestedPulses: "ingested_pulses",
			AIUsage:        "ai_usage_tracking",
			Users:          "users",
		},
	}
}

// Load builds the configuration from all sources.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := findConfigFile(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("Loaded configuration file")
	}

	loadDotEnv(cfg.DataDir)
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{
		os.Getenv(envPrefix + "CONFIG_FILE"),
		"./pulseshrine.yml",
		"./pulseshrine.yaml",
		"/etc/pulseshrine/pulseshrine.yml",
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadDotEnv loads .env from the data dir, falling back to the working
// directory. Existing process env always wins (godotenv does not override).
func loadDotEnv(dataDir string) {
	if dir := os.Getenv(envPrefix + "DATA_DIR"); dir != "" {
		dataDir = dir
	}
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("path", envFile).Msg("Failed to load .env file")
		}
		return
	}
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env from working directory")
	}
}

func (c *Config) applyEnv() {
	setString(&c.Host, "HOST")
	setInt(&c.Port, "PORT")
	setInt(&c.MetricsPort, "METRICS_PORT")
	setString(&c.DataDir, "DATA_DIR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.LogFile, "LOG_FILE")
	setString(&c.ProxyAuthSecret, "PROXY_AUTH_SECRET")
	setString(&c.ProxyAuthUserHeader, "PROXY_AUTH_USER_HEADER")
	setString(&c.AllowedOrigins, "ALLOWED_ORIGINS")
	setInt64(&c.RNGSeed, "RNG_SEED")

	setBool(&c.AI.Enabled, "AI_ENABLED")
	setString(&c.AI.ModelID, "AI_MODEL_ID")
	setFloat(&c.AI.MaxCostPerPulseCents, "AI_MAX_COST_PER_PULSE_CENTS")
	setString(&c.AI.ParameterPrefix, "AI_PARAMETER_PREFIX")
	setString(&c.AI.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&c.AI.AnthropicURL, "ANTHROPIC_URL")
	setString(&c.AI.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.AI.OpenAIBaseURL, "OPENAI_BASE_URL")

	setInt(&c.Orchestrator.Workers, "ORCHESTRATOR_WORKERS")
	setDuration(&c.Orchestrator.Deadline, "ORCHESTRATOR_DEADLINE")
	setInt(&c.Orchestrator.RetryAttempts, "ORCHESTRATOR_RETRY_ATTEMPTS")
	setDuration(&c.Orchestrator.SweepInterval, "ORCHESTRATOR_SWEEP_INTERVAL")

	setString(&c.Tables.StartedPulses, "TABLE_STARTED_PULSES")
	setString(&c.Tables.StoppedPulses, "TABLE_STOPPED_PULSES")
	setString(&c.Tables.IngestedPulses, "TABLE_INGESTED_PULSES")
	setString(&c.Tables.AIUsage, "TABLE_AI_USAGE_TRACKING")
	setString(&c.Tables.Users, "TABLE_USERS")
}

// Validate checks the loaded configuration for values that would make the
// server unusable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics port must differ (both %d)", c.Port)
	}
	if c.Orchestrator.Workers < 1 {
		return fmt.Errorf("orchestrator workers must be >= 1, got %d", c.Orchestrator.Workers)
	}
	if c.Orchestrator.Deadline <= 0 {
		return fmt.Errorf("orchestrator deadline must be positive, got %s", c.Orchestrator.Deadline)
	}
	if c.AI.MaxCostPerPulseCents < 0 {
		return fmt.Errorf("ai max cost per pulse cannot be negative")
	}
	for name, v := range map[string]string{
		"started_pulses":    c.Tables.StartedPulses,
		"stopped_pulses":    c.Tables.StoppedPulses,
		"ingested_pulses":   c.Tables.IngestedPulses,
		"ai_usage_tracking": c.Tables.AIUsage,
		"users":             c.Tables.Users,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("table name %s must not be empty", name)
		}
	}
	return nil
}

// EnvFilePath reports where the watcher should look for .env changes.
func (c *Config) EnvFilePath() string {
	return filepath.Join(c.DataDir, ".env")
}

func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring non-integer env value")
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
