package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. EVENTFAN_POOL_CORE_POOL_SIZE.
const EnvPrefix = "EVENTFAN"

// Load builds Settings from defaults, the optional file at path, and the
// environment, then validates the result.
func Load(path string) (*Settings, error) {
	s := Defaults()

	if path != "" {
		if err := overlayFile(s, path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, s); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromYAML overlays YAML (or JSON) data onto the defaults without consulting
// the environment.
func FromYAML(data []byte) (*Settings, error) {
	s := Defaults()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Supported extensions: .yaml, .yml, .json. JSON is decoded by the YAML parser.
func overlayFile(s *Settings, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("unsupported config file extension: %s", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if s.Listeners == nil {
		s.Listeners = map[string]any{}
	}
	return nil
}
