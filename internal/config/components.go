package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Component is one entry of the component policy file.
type Component struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"`
	Install    bool   `yaml:"install"`
	Update     bool   `yaml:"update"`
	MaxVersion string `yaml:"max_version"`
}

type componentsFile struct {
	Components []Component `yaml:"components"`
}

// LoadComponents reads the policy file at path. An empty path yields no
// components. Missing kinds default to plugin.
func LoadComponents(path string) ([]Component, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read components file: %w", err)
	}
	return ParseComponents(data)
}

// ParseComponents decodes and validates a policy document.
func ParseComponents(data []byte) ([]Component, error) {
	var f componentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse components file: %w", err)
	}

	var errs []error
	seen := make(map[string]bool)
	for i := range f.Components {
		c := &f.Components[i]
		if c.Kind == "" {
			c.Kind = "plugin"
		}
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("component %d: id is required", i))
			continue
		}
		if c.Kind != "plugin" && c.Kind != "theme" {
			errs = append(errs, fmt.Errorf("component %s: kind must be plugin or theme, got %q", c.ID, c.Kind))
		}
		key := c.Kind + "/" + c.ID
		if seen[key] {
			errs = append(errs, fmt.Errorf("component %s: listed twice", key))
		}
		seen[key] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.Components, nil
}
