package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LoadSettingsFile reads the raw flat key/value settings.json map,
// returning an empty map if the file does not
// exist yet rather than an error.
func LoadSettingsFile(dataDir string) (map[string]any, error) {
	path := filepath.Join(dataDir, "settings.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding settings file: %w", err)
	}
	return m, nil
}

// SaveSettingsFile shallow-merges updates into the existing settings.json
// and writes it back, creating dataDir if necessary. The fsnotify-backed
// Watcher picks up the write and reloads on its own.
func SaveSettingsFile(dataDir string, updates map[string]any) error {
	current, err := LoadSettingsFile(dataDir)
	if err != nil {
		return err
	}
	for k, v := range updates {
		current[k] = v
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings file: %w", err)
	}
	path := filepath.Join(dataDir, "settings.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}
