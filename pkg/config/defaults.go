package config

import "time"

// DefaultQueueConfig returns the built-in queue defaults, grounded on the
// teacher's DefaultQueueConfig but narrowed to the single-writer local model.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      250 * time.Millisecond,
		IdleTimeout:             3 * time.Minute,
		GracefulShutdownTimeout: 2 * time.Minute,
		StuckThreshold:          5 * time.Minute,
		RecoveryInterval:        5 * time.Minute,
		RecoveryBatchSize:       10,
		OrphanReapInterval:      5 * time.Minute,
		RestartStaggerDelay:     2 * time.Second,
		BatchSize:               1,
		MaxAttempts:             5,
	}
}

// DefaultVectorIndexConfig returns the built-in child-embedding-server defaults.
func DefaultVectorIndexConfig() VectorIndexConfig {
	return VectorIndexConfig{
		Addr:                "127.0.0.1:8799",
		StartupTimeout:      30 * time.Second,
		HealthInterval:      10 * time.Second,
		RestartBackoffMin:   1 * time.Second,
		RestartBackoffMax:   30 * time.Second,
		CircuitBreakerTrip:  3,
		ShutdownGrace:       5 * time.Second,
		ShutdownForceAfter:  2 * time.Second,
		MaxItemsPerProject:  5000,
		MaintenanceInterval: 30 * time.Minute,
		ChunkSize:           100,
	}
}

// DefaultProviders returns the built-in provider table. API keys are left
// empty; they are filled in from the environment or the settings file.
func DefaultProviders() map[ProviderKind]ProviderConfig {
	return map[ProviderKind]ProviderConfig{
		ProviderAnthropic: {
			Model:          "claude-sonnet-4-5",
			MaxInputTokens: 150_000,
			RequestTimeout: 2 * time.Minute,
			RPM:            50,
		},
		ProviderGemini: {
			Model:          "gemini-2.5-flash",
			MaxInputTokens: 150_000,
			RequestTimeout: 2 * time.Minute,
			RPM:            60,
		},
		ProviderOpenAICompat: {
			Model:          "gpt-4.1-mini",
			MaxInputTokens: 128_000,
			RequestTimeout: 2 * time.Minute,
			RPM:            60,
		},
	}
}

// Default returns the complete built-in configuration before any env/file
// overrides are layered on top.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:      dataDir,
		HTTPAddr:     "127.0.0.1:8765",
		DatabasePath: dataDir + "/memory.db",
		Provider:     ProviderAnthropic,
		Providers:    DefaultProviders(),
		Queue:        DefaultQueueConfig(),
		VectorIndex:  DefaultVectorIndexConfig(),
	}
}
