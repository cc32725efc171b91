package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Load resolves the worker configuration from, in increasing priority:
// built-in defaults, the settings file under dataDir, then environment
// variables prefixed CLAUDE_MEM_, in that order: load, then validate,
// then log a summary of the resolved values.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving data dir: %w", err)
		}
		dataDir = filepath.Join(home, ".claude-mem")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	cfg := Default(dataDir)

	v := viper.New()
	v.SetConfigName("settings")
	v.SetConfigType("json")
	v.AddConfigPath(dataDir)
	seedDefaults(v, cfg)

	v.SetEnvPrefix("claude_mem")
	v.AutomaticEnv()
	bindEnvAliases(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading settings file: %w", err)
		}
		slog.Info("no settings file found, using defaults", "data_dir", dataDir)
	}

	if err := migrateLegacyShape(v); err != nil {
		return nil, fmt.Errorf("migrating settings file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	slog.Info("configuration loaded",
		"provider", cfg.Provider,
		"data_dir", cfg.DataDir,
		"http_addr", cfg.HTTPAddr)

	return cfg, nil
}

// seedDefaults registers every built-in default with viper so that
// AutomaticEnv and ReadInConfig only ever override, never leave a field unset.
func seedDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("http_addr", cfg.HTTPAddr)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("provider", string(cfg.Provider))
	for kind, pc := range cfg.Providers {
		prefix := "providers." + string(kind) + "."
		v.SetDefault(prefix+"api_key", pc.APIKey)
		v.SetDefault(prefix+"model", pc.Model)
		v.SetDefault(prefix+"base_url", pc.BaseURL)
		v.SetDefault(prefix+"max_input_tokens", pc.MaxInputTokens)
		v.SetDefault(prefix+"request_timeout", pc.RequestTimeout)
		v.SetDefault(prefix+"rpm", pc.RPM)
	}
	v.SetDefault("queue.poll_interval", cfg.Queue.PollInterval)
	v.SetDefault("queue.poll_interval_jitter", cfg.Queue.PollIntervalJitter)
	v.SetDefault("queue.idle_timeout", cfg.Queue.IdleTimeout)
	v.SetDefault("queue.graceful_shutdown_timeout", cfg.Queue.GracefulShutdownTimeout)
	v.SetDefault("queue.stuck_threshold", cfg.Queue.StuckThreshold)
	v.SetDefault("queue.recovery_interval", cfg.Queue.RecoveryInterval)
	v.SetDefault("queue.recovery_batch_size", cfg.Queue.RecoveryBatchSize)
	v.SetDefault("queue.orphan_reap_interval", cfg.Queue.OrphanReapInterval)
	v.SetDefault("queue.restart_stagger_delay", cfg.Queue.RestartStaggerDelay)
	v.SetDefault("queue.batch_size", cfg.Queue.BatchSize)
	v.SetDefault("queue.max_attempts", cfg.Queue.MaxAttempts)
	v.SetDefault("vector_index.data_dir", filepath.Join(cfg.DataDir, "vectors"))
	v.SetDefault("vector_index.addr", cfg.VectorIndex.Addr)
	v.SetDefault("vector_index.startup_timeout", cfg.VectorIndex.StartupTimeout)
	v.SetDefault("vector_index.health_interval", cfg.VectorIndex.HealthInterval)
	v.SetDefault("vector_index.restart_backoff_min", cfg.VectorIndex.RestartBackoffMin)
	v.SetDefault("vector_index.restart_backoff_max", cfg.VectorIndex.RestartBackoffMax)
	v.SetDefault("vector_index.circuit_breaker_trip", cfg.VectorIndex.CircuitBreakerTrip)
	v.SetDefault("vector_index.shutdown_grace", cfg.VectorIndex.ShutdownGrace)
	v.SetDefault("vector_index.shutdown_force_after", cfg.VectorIndex.ShutdownForceAfter)
	v.SetDefault("vector_index.max_items_per_project", cfg.VectorIndex.MaxItemsPerProject)
	v.SetDefault("vector_index.maintenance_interval", cfg.VectorIndex.MaintenanceInterval)
	v.SetDefault("vector_index.chunk_size", cfg.VectorIndex.ChunkSize)
}

// bindEnvAliases covers the specific environment variables the worker
// reads directly (CLAUDE_MEM_PROVIDER and friends), since viper's automatic
// env binding alone would require CLAUDE_MEM_PROVIDERS_ANTHROPIC_API_KEY-style
// names that nobody would type by hand.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"provider":                             "CLAUDE_MEM_PROVIDER",
		"providers.anthropic.api_key":          "ANTHROPIC_API_KEY",
		"providers.anthropic.model":            "CLAUDE_MEM_ANTHROPIC_MODEL",
		"providers.gemini.api_key":             "GEMINI_API_KEY",
		"providers.gemini.model":               "CLAUDE_MEM_GEMINI_MODEL",
		"providers.openai_compatible.api_key":  "OPENAI_API_KEY",
		"providers.openai_compatible.model":    "CLAUDE_MEM_OPENAI_MODEL",
		"providers.openai_compatible.base_url": "CLAUDE_MEM_OPENAI_BASE_URL",
		"http_addr":                            "CLAUDE_MEM_HTTP_ADDR",
	}
	for key, env := range aliases {
		_ = v.BindEnv(key, env)
	}
}
