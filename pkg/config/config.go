// Package config loads and hot-reloads the worker's settings through a
// layered precedence of environment variables, a settings file, and
// built-in defaults.
package config

import "time"

// ProviderKind identifies which provider client backs a session.
type ProviderKind string

const (
	ProviderAnthropic    ProviderKind = "anthropic"
	ProviderGemini       ProviderKind = "gemini"
	ProviderOpenAICompat ProviderKind = "openai_compatible"
)

// ProviderConfig holds the credentials and tunables for one provider.
type ProviderConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	BaseURL        string        `mapstructure:"base_url"`
	MaxInputTokens int           `mapstructure:"max_input_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RPM            int           `mapstructure:"rpm"`
}

// HasCredentials reports whether this provider can be used as a fallback target.
func (p ProviderConfig) HasCredentials() bool {
	return p.APIKey != ""
}

// QueueConfig controls how session processors poll, claim, and time out
// work, tuned for a single local writer rather than a fleet of pods.
type QueueConfig struct {
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	PollIntervalJitter      time.Duration `mapstructure:"poll_interval_jitter"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	StuckThreshold          time.Duration `mapstructure:"stuck_threshold"`
	RecoveryInterval        time.Duration `mapstructure:"recovery_interval"`
	RecoveryBatchSize       int           `mapstructure:"recovery_batch_size"`
	OrphanReapInterval      time.Duration `mapstructure:"orphan_reap_interval"`
	RestartStaggerDelay     time.Duration `mapstructure:"restart_stagger_delay"`
	BatchSize               int           `mapstructure:"batch_size"`
	MaxAttempts             int           `mapstructure:"max_attempts"`
}

// VectorIndexConfig controls the child embedding server's lifecycle.
type VectorIndexConfig struct {
	DataDir             string        `mapstructure:"data_dir"`
	BinaryPath          string        `mapstructure:"binary_path"`
	Addr                string        `mapstructure:"addr"`
	StartupTimeout      time.Duration `mapstructure:"startup_timeout"`
	HealthInterval       time.Duration `mapstructure:"health_interval"`
	RestartBackoffMin    time.Duration `mapstructure:"restart_backoff_min"`
	RestartBackoffMax    time.Duration `mapstructure:"restart_backoff_max"`
	CircuitBreakerTrip   int           `mapstructure:"circuit_breaker_trip"`
	ShutdownGrace        time.Duration `mapstructure:"shutdown_grace"`
	ShutdownForceAfter   time.Duration `mapstructure:"shutdown_force_after"`
	MaxItemsPerProject   int           `mapstructure:"max_items_per_project"`
	MaintenanceInterval  time.Duration `mapstructure:"maintenance_interval"`
	ChunkSize            int           `mapstructure:"chunk_size"`
}

// Config is the fully resolved worker configuration.
type Config struct {
	DataDir      string         `mapstructure:"data_dir"`
	HTTPAddr     string         `mapstructure:"http_addr"`
	DatabasePath string         `mapstructure:"database_path"`
	Provider     ProviderKind   `mapstructure:"provider"`
	Providers    map[ProviderKind]ProviderConfig
	Queue        QueueConfig       `mapstructure:"queue"`
	VectorIndex  VectorIndexConfig `mapstructure:"vector_index"`
}

// restartTriggerKeys names the settings whose change requires draining and
// restarting every active session processor. Anything else is a
// soft reload that takes effect on the next claim without interrupting
// in-flight work.
var restartTriggerKeys = []string{
	"provider",
	"providers.anthropic.api_key",
	"providers.anthropic.model",
	"providers.gemini.api_key",
	"providers.gemini.model",
	"providers.openai_compatible.api_key",
	"providers.openai_compatible.model",
	"providers.openai_compatible.base_url",
}
