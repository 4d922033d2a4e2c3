package scenario

import (
	"fmt"
	"io"
	"os"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"gopkg.in/yaml.v3"
)

// Set is an ordered list of scenarios with the baseline first
type Set struct {
	Scenarios []Params `yaml:"scenarios" json:"scenarios"`
}

// NewSet validates scenarios and makes sure the baseline leads the list
func NewSet(scenarios []Params) (*Set, error) {
	seen := make(map[string]struct{}, len(scenarios))
	var baseline *Params
	rest := make([]Params, 0, len(scenarios))
	for _, p := range scenarios {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", p.Name, err)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, &domain.ConfigurationError{Field: "name", Value: p.Name, Reason: "duplicate scenario name"}
		}
		seen[p.Name] = struct{}{}
		if p.Name == BaselineName {
			b := p
			baseline = &b
			continue
		}
		rest = append(rest, p)
	}

	if baseline == nil {
		b := Baseline()
		baseline = &b
	}
	return &Set{Scenarios: append([]Params{*baseline}, rest...)}, nil
}

// Names lists the scenario names in run order
func (s *Set) Names() []string {
	names := make([]string, len(s.Scenarios))
	for i, p := range s.Scenarios {
		names[i] = p.Name
	}
	return names
}

// LoadSet decodes a YAML document of the form
//
//	scenarios:
//	  - name: surge
//	    demand_multiplier: 1.5
func LoadSet(r io.Reader) (*Set, error) {
	var doc Set
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, &domain.ConfigurationError{Field: "scenarios", Value: "yaml", Reason: err.Error()}
	}
	return NewSet(doc.Scenarios)
}

// LoadSetFile reads a scenario set from path
func LoadSetFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario file: %w", err)
	}
	defer f.Close()
	return LoadSet(f)
}
