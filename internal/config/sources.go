package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SourceSpec is one entry in the sources file: a named connector of a
// given kind with its raw options. Options stay untyped here; each
// connector validates its own.
type SourceSpec struct {
	Name    string         `yaml:"name"`
	Kind    string         `yaml:"kind"`
	Options map[string]any `yaml:"options"`
}

// LoadSources reads and structurally validates the sources file. Names
// must be unique since they key cursor storage.
func LoadSources(path string) ([]SourceSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sources file: %w", err)
	}

	var doc struct {
		Sources []SourceSpec `yaml:"sources"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing sources file: %w", err)
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s defines no sources", path)
	}

	names := make(map[string]bool, len(doc.Sources))
	for i, spec := range doc.Sources {
		if spec.Name == "" {
			return nil, fmt.Errorf("source %d has no name", i)
		}
		if spec.Kind == "" {
			return nil, fmt.Errorf("source %q has no kind", spec.Name)
		}
		if names[spec.Name] {
			return nil, fmt.Errorf("duplicate source name %q", spec.Name)
		}
		names[spec.Name] = true
	}
	return doc.Sources, nil
}
