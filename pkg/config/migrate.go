package config

import "github.com/spf13/viper"

// migrateLegacyShape up-migrates values read from a settings file written in
// the legacy nested schema ({"provider": {"name": "...", "anthropic":
// {...}}}) into the flat key/value schema this package expects. It sets the
// flat keys on v only; the settings file on disk is not rewritten and keeps
// its legacy shape. This is a one-way migration rather than a merge, since
// there is nothing to merge against once the flat shape is in place.
func migrateLegacyShape(v *viper.Viper) error {
	legacy := v.GetStringMap("provider")
	if legacy == nil {
		return nil
	}
	if name, ok := legacy["name"].(string); ok && name != "" {
		v.Set("provider", name)
	}
	for _, kind := range []string{"anthropic", "gemini", "openai_compatible"} {
		block, ok := legacy[kind].(map[string]any)
		if !ok {
			continue
		}
		for field, value := range block {
			v.Set("providers."+kind+"."+field, value)
		}
	}
	return nil
}
