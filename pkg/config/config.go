// Package config provides YAML-based configuration loading with
// environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load reads filename, expands ${VAR} references against the
// environment, unmarshals into target, and validates it when target
// implements Validator.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	return parse(filename, data, target)
}

// LoadOptional behaves like Load but treats a missing file as empty:
// target keeps its defaults and is still validated. Secrets can then
// come purely from the environment.
func LoadOptional[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return validate(target)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	return parse(filename, data, target)
}

func parse[T any](filename string, data []byte, target *T) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return validate(target)
}

func validate[T any](target *T) error {
	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}
