// Package scenario perturbs a reconciled dataset (demand surge, production delay and overtime,
// inventory buffer) so each what-if can be run through the KPI engine and the optimizer.
package scenario

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"gopkg.in/yaml.v3"
)

// BaselineName is the scenario every set contains
const BaselineName = "baseline"

// InventoryBuffer holds back part of on-hand stock from allocation
type InventoryBuffer struct {
	Units   domain.Quantity `yaml:"units" json:"units"`
	Percent float64         `yaml:"percent" json:"percent"`
}

// Params is one named set of perturbations
type Params struct {
	Name                 string          `yaml:"name" json:"name"`
	DemandMultiplier     float64         `yaml:"demand_multiplier" json:"demand_multiplier"`
	ProductionDelayWeeks int             `yaml:"production_delay_weeks" json:"production_delay_weeks"`
	OvertimeMultiplier   float64         `yaml:"overtime_multiplier" json:"overtime_multiplier"`
	InventoryBuffer      InventoryBuffer `yaml:"inventory_buffer" json:"inventory_buffer"`
	// CostWeight overrides the optimizer's λ for this scenario when set
	CostWeight *float64 `yaml:"cost_weight,omitempty" json:"cost_weight,omitempty"`
}

// Baseline returns the identity scenario
func Baseline() Params {
	return Params{
		Name:               BaselineName,
		DemandMultiplier:   1,
		OvertimeMultiplier: 1,
	}
}

// IsIdentity reports whether applying p leaves a dataset unchanged
func (p Params) IsIdentity() bool {
	return p.DemandMultiplier == 1 && p.ProductionDelayWeeks == 0 && p.OvertimeMultiplier == 1 &&
		p.InventoryBuffer.Units == 0 && p.InventoryBuffer.Percent == 0
}

func (p Params) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &domain.ConfigurationError{Field: "name", Value: p.Name, Reason: "must not be blank"}
	}
	if !(p.DemandMultiplier > 0) || math.IsInf(p.DemandMultiplier, 0) {
		return &domain.ConfigurationError{Field: "demand_multiplier", Value: p.DemandMultiplier, Reason: "must be a finite number > 0"}
	}
	if p.ProductionDelayWeeks < 0 {
		return &domain.ConfigurationError{Field: "production_delay_weeks", Value: p.ProductionDelayWeeks, Reason: "must be >= 0"}
	}
	if !(p.OvertimeMultiplier >= 1) || math.IsInf(p.OvertimeMultiplier, 0) {
		return &domain.ConfigurationError{Field: "overtime_multiplier", Value: p.OvertimeMultiplier, Reason: "must be a finite number >= 1"}
	}
	if p.InventoryBuffer.Units < 0 {
		return &domain.ConfigurationError{Field: "inventory_buffer.units", Value: p.InventoryBuffer.Units, Reason: "must be >= 0"}
	}
	if !(p.InventoryBuffer.Percent >= 0 && p.InventoryBuffer.Percent <= 100) {
		return &domain.ConfigurationError{Field: "inventory_buffer.percent", Value: p.InventoryBuffer.Percent, Reason: "must be within [0, 100]"}
	}
	if p.CostWeight != nil && (!(*p.CostWeight >= 0) || math.IsInf(*p.CostWeight, 0)) {
		return &domain.ConfigurationError{Field: "cost_weight", Value: *p.CostWeight, Reason: "must be a finite number >= 0"}
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("%s(demand x%g, delay %dw, overtime x%g, buffer %d units + %g%%)",
		p.Name, p.DemandMultiplier, p.ProductionDelayWeeks, p.OvertimeMultiplier,
		p.InventoryBuffer.Units, p.InventoryBuffer.Percent)
}

// paramsFields shares the field set without the custom decoders
type paramsFields Params

var paramKeys = map[string]struct{}{
	"name":                   {},
	"demand_multiplier":      {},
	"production_delay_weeks": {},
	"overtime_multiplier":    {},
	"inventory_buffer":       {},
	"cost_weight":            {},
}

// UnmarshalYAML fills omitted fields from the baseline and rejects unknown keys
func (p *Params) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := value.Content[i]
			if _, ok := paramKeys[key.Value]; !ok {
				return fmt.Errorf("line %d: unknown scenario field %q", key.Line, key.Value)
			}
		}
	}
	fields := paramsFields(Baseline())
	fields.Name = ""
	if err := value.Decode(&fields); err != nil {
		return err
	}
	*p = Params(fields)
	return nil
}

// UnmarshalJSON fills omitted fields from the baseline
func (p *Params) UnmarshalJSON(data []byte) error {
	fields := paramsFields(Baseline())
	fields.Name = ""
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*p = Params(fields)
	return nil
}
