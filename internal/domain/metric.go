package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// MetricState tells whether a KPI value is a number or one of the sentinels
type MetricState int

const (
	MetricDefined MetricState = iota
	MetricNotApplicable
	MetricInfinite
)

const (
	notApplicableLabel = "N/A"
	infiniteLabel      = "infinite"
)

// Metric is a KPI value that can also be N/A or infinite
type Metric struct {
	Value float64
	State MetricState
}

// Defined wraps a finite KPI value
func Defined(v float64) Metric {
	if math.IsInf(v, 1) {
		return Infinite()
	}
	if math.IsNaN(v) || math.IsInf(v, -1) {
		return NotApplicable()
	}
	return Metric{Value: v, State: MetricDefined}
}

// NotApplicable is the N/A sentinel
func NotApplicable() Metric {
	return Metric{State: MetricNotApplicable}
}

// Infinite is the "infinite" sentinel used for days-of-cover without demand
func Infinite() Metric {
	return Metric{Value: math.Inf(1), State: MetricInfinite}
}

func (m Metric) IsDefined() bool  { return m.State == MetricDefined }
func (m Metric) IsInfinite() bool { return m.State == MetricInfinite }

// Round returns the metric rounded to the given decimal places
func (m Metric) Round(decimals int) Metric {
	if m.State != MetricDefined {
		return m
	}
	factor := math.Pow(10, float64(decimals))
	return Metric{Value: math.Round(m.Value*factor) / factor, State: MetricDefined}
}

func (m Metric) String() string {
	switch m.State {
	case MetricNotApplicable:
		return notApplicableLabel
	case MetricInfinite:
		return infiniteLabel
	default:
		return strconv.FormatFloat(m.Value, 'f', -1, 64)
	}
}

func (m Metric) MarshalJSON() ([]byte, error) {
	switch m.State {
	case MetricNotApplicable:
		return json.Marshal(notApplicableLabel)
	case MetricInfinite:
		return json.Marshal(infiniteLabel)
	default:
		return json.Marshal(m.Value)
	}
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case notApplicableLabel:
			*m = NotApplicable()
		case infiniteLabel:
			*m = Infinite()
		default:
			return fmt.Errorf("unknown metric label %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("metric must be a number, %q or %q: %w", notApplicableLabel, infiniteLabel, err)
	}
	*m = Defined(v)
	return nil
}

// KPIRecord holds the fulfilment KPIs for a SKU at a location
type KPIRecord struct {
	SKU         SKU      `json:"sku"`
	Location    Location `json:"location"`
	Demand      Quantity `json:"total_demand"`
	Supply      Quantity `json:"total_supply"`
	Fulfilled   Quantity `json:"fulfilled"`
	FillRate    Metric   `json:"fill_rate"`
	OTIF        Metric   `json:"otif"`
	DaysOfCover Metric   `json:"days_of_cover"`
}
