package config

import (
	"log/slog"
	"path/filepath"
	"reflect"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeHandler is invoked after a settings file change has been reloaded
// and validated. restartNeeded is true iff a restart-trigger key
// differs from the previous snapshot.
type ChangeHandler func(cfg *Config, restartNeeded bool, reason string)

// Watcher polls the settings file via fsnotify (through viper's WatchConfig)
// and diffs a cached snapshot itself rather than trusting viper's raw change
// event, since viper fires on every file touch including ones that don't
// change any value.
type Watcher struct {
	mu       sync.Mutex
	v        *viper.Viper
	dataDir  string
	snapshot *Config
	handler  ChangeHandler
}

// NewWatcher builds a watcher around an already-loaded configuration.
func NewWatcher(dataDir string, initial *Config, handler ChangeHandler) *Watcher {
	v := viper.New()
	v.SetConfigName("settings")
	v.SetConfigType("json")
	v.AddConfigPath(dataDir)
	seedDefaults(v, Default(dataDir))
	v.SetEnvPrefix("claude_mem")
	v.AutomaticEnv()
	bindEnvAliases(v)
	_ = v.ReadInConfig()

	return &Watcher{
		v:        v,
		dataDir:  dataDir,
		snapshot: initial,
		handler:  handler,
	}
}

// Start begins watching settings.json for writes. Stop by cancelling the
// fsnotify watch is not exposed directly; callers tear down by discarding
// the Watcher at process shutdown — it lives as long as the orchestrator.
func (w *Watcher) Start() {
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.onChange()
	})
	w.v.WatchConfig()
}

func (w *Watcher) onChange() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := migrateLegacyShape(w.v); err != nil {
		slog.Error("settings migration failed", "error", err)
		return
	}

	next := Default(w.dataDir)
	if err := w.v.Unmarshal(next); err != nil {
		slog.Error("settings reload failed to decode, keeping previous config", "error", err)
		return
	}
	if err := Validate(next); err != nil {
		slog.Error("settings reload produced invalid config, keeping previous config", "error", err)
		return
	}

	restartNeeded, reason := diffRestartTriggers(w.snapshot, next)
	w.snapshot = next
	slog.Info("settings file reloaded", "restart_needed", restartNeeded, "path", filepath.Join(w.dataDir, "settings.json"))
	if w.handler != nil {
		w.handler(next, restartNeeded, reason)
	}
}

// diffRestartTriggers compares two configs field-by-field over
// restartTriggerKeys and reports the first one that changed.
func diffRestartTriggers(old, next *Config) (bool, string) {
	if old.Provider != next.Provider {
		return true, "provider"
	}
	for kind, nextPC := range next.Providers {
		oldPC, ok := old.Providers[kind]
		if !ok || !reflect.DeepEqual(oldPC, nextPC) {
			if !ok || oldPC.APIKey != nextPC.APIKey {
				return true, "providers." + string(kind) + ".api_key"
			}
			if oldPC.Model != nextPC.Model {
				return true, "providers." + string(kind) + ".model"
			}
			if oldPC.BaseURL != nextPC.BaseURL {
				if key := "providers." + string(kind) + ".base_url"; slices.Contains(restartTriggerKeys, key) {
					return true, key
				}
			}
		}
	}
	return false, ""
}
