package config

import "fmt"

// Validate checks structural invariants of a loaded configuration,
// returning a descriptive error that names the first bad field found
// rather than a generic message.
func Validate(cfg *Config) error {
	if cfg.HTTPAddr == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if cfg.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	switch cfg.Provider {
	case ProviderAnthropic, ProviderGemini, ProviderOpenAICompat:
	default:
		return fmt.Errorf("provider %q is not one of anthropic, gemini, openai_compatible", cfg.Provider)
	}
	if _, ok := cfg.Providers[cfg.Provider]; !ok {
		return fmt.Errorf("no provider config block for active provider %q", cfg.Provider)
	}
	if cfg.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive")
	}
	if cfg.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive")
	}
	if cfg.VectorIndex.CircuitBreakerTrip <= 0 {
		return fmt.Errorf("vector_index.circuit_breaker_trip must be positive")
	}
	return nil
}
