// Package transform integrates the external build tool that materializes the
// transformation models. strata only learns the models' keys, groups and
// edges from a manifest; building them is delegated to a command line.
package transform

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/freshness"
)

// Manifest describes the models the transform tool owns.
type Manifest struct {
	// Project is the tool's project name, informational only
	Project string `yaml:"project"`

	// Group applies to every model that does not set its own
	Group string `yaml:"group"`

	// Kinds apply to every model in addition to its own
	Kinds []string `yaml:"kinds,omitempty"`

	Models []Model `yaml:"models"`
}

// Model is one transformation model.
type Model struct {
	Name        string   `yaml:"name"`
	Group       string   `yaml:"group,omitempty"`
	Description string   `yaml:"description,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Kinds       []string `yaml:"kinds,omitempty"`

	// Freshness is optional; unset models receive the default policy
	Freshness *ModelFreshness `yaml:"freshness,omitempty"`
}

// ModelFreshness is a policy written as Go duration strings ("2h", "90m").
type ModelFreshness struct {
	Warn string `yaml:"warn"`
	Fail string `yaml:"fail"`
}

// LoadManifest reads and validates a YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read transform manifest %s", path)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, errors.Wrapf(err, "transform manifest %s", path)
	}
	return m, nil
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest YAML")
	}
	seen := make(map[string]bool, len(m.Models))
	for i, model := range m.Models {
		if model.Name == "" {
			return nil, errors.Newf("model %d has no name", i)
		}
		if seen[model.Name] {
			return nil, errors.Wrapf(errors.ErrDuplicateKey, "model %q listed twice", model.Name)
		}
		seen[model.Name] = true
		if model.Group == "" && m.Group == "" {
			return nil, errors.Newf("model %q has no group", model.Name)
		}
	}
	return &m, nil
}

// Specs converts the models into delegated asset specs, in manifest order.
func (m *Manifest) Specs() ([]asset.Spec, error) {
	out := make([]asset.Spec, 0, len(m.Models))
	for _, model := range m.Models {
		spec := asset.Spec{
			Key:         model.Name,
			Group:       model.Group,
			Upstream:    model.DependsOn,
			Description: model.Description,
			Kinds:       append(append([]string(nil), m.Kinds...), model.Kinds...),
			Delegated:   true,
		}
		if spec.Group == "" {
			spec.Group = m.Group
		}
		if model.Freshness != nil {
			p, err := freshness.ParsePolicy(model.Freshness.Warn, model.Freshness.Fail)
			if err != nil {
				return nil, errors.Wrapf(err, "model %q", model.Name)
			}
			spec.Freshness = &p
		}
		out = append(out, spec)
	}
	return out, nil
}

// Names returns model names in manifest order.
func (m *Manifest) Names() []string {
	out := make([]string, len(m.Models))
	for i, model := range m.Models {
		out[i] = model.Name
	}
	return out
}
