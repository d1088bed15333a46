package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile loads policies from a YAML file. Environment variables in
// the file are expanded before parsing, supporting ${VAR} and
// ${VAR:-default} syntax. Fields absent from the file keep their
// default values.
func LoadFile(path string) (*Policies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	data = ExpandEnvVarsBytes(data)

	pol := Defaults()
	if err := yaml.Unmarshal(data, pol); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	return pol, nil
}

// LoadOrDefault loads policies from path, falling back to Defaults
// when the file does not exist. Any other read or parse failure is an
// error so a broken policy file never silently degrades to defaults.
func LoadOrDefault(path string) (*Policies, error) {
	pol, err := LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return nil, err
	}
	return pol, nil
}

// LoadAndValidate loads a policy file and rejects it if validation fails.
func LoadAndValidate(path string) (*Policies, error) {
	pol, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	if errs := Validate(pol); errs.HasErrors() {
		return nil, fmt.Errorf("policy validation failed for %s:\n%w", path, errs)
	}

	return pol, nil
}
