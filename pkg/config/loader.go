package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads diagd.yaml from configDir (if present), expands environment
// variables, merges it over Defaults(), validates the result, and
// returns a ready-to-use Config. A missing file is not an error — the
// defaults alone are a valid configuration for local development.
func Load(configDir string) (*Config, error) {
	cfg := Defaults()

	path := filepath.Join(configDir, "diagd.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, NewLoadError(path, err)
		}
	} else {
		data = ExpandEnv(data)

		var fileCfg YAMLConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}

		// mergo.WithOverride: non-zero fields from the file win over the
		// defaults already populated in cfg.
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, NewLoadError(path, err)
		}
	}

	result := &Config{configDir: configDir, YAML: cfg}

	if err := NewValidator(result).ValidateAll(); err != nil {
		return nil, err
	}

	return result, nil
}
