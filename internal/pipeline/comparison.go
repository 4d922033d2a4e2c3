package pipeline

import (
	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/shopspring/decimal"
)

// ComparisonRow is one scenario's line in the side-by-side comparison table
type ComparisonRow struct {
	Scenario       string          `json:"scenario"`
	Status         PipelineStatus  `json:"status"`
	ErrorKind      string          `json:"error_kind,omitempty"`
	Error          string          `json:"error,omitempty"`
	TotalDemand    domain.Quantity `json:"total_demand"`
	TotalSupply    domain.Quantity `json:"total_supply"`
	Fulfilled      domain.Quantity `json:"fulfilled"`
	FillRate       domain.Metric   `json:"fill_rate"`
	OTIF           domain.Metric   `json:"otif"`
	DaysOfCover    domain.Metric   `json:"days_of_cover"`
	AllocatedUnits domain.Quantity `json:"allocated_units"`
	TransportCost  decimal.Decimal `json:"transport_cost"`
	Objective      domain.Metric   `json:"objective"`
}

// Compare flattens run reports into comparison rows, in report order.
// Failed runs keep their KPI figures when those were computed; allocation columns are
// N/A unless the optimizer produced a plan.
func Compare(reports []RunReport) []ComparisonRow {
	rows := make([]ComparisonRow, 0, len(reports))
	for _, r := range reports {
		row := ComparisonRow{
			Scenario:    r.Scenario,
			Status:      r.Status,
			ErrorKind:   r.ErrorKind,
			Error:       r.Error,
			FillRate:    domain.NotApplicable(),
			OTIF:        domain.NotApplicable(),
			DaysOfCover: domain.NotApplicable(),
			Objective:   domain.NotApplicable(),
		}
		if r.KPI != nil {
			t := r.KPI.Totals
			row.TotalDemand = t.TotalDemand
			row.TotalSupply = t.TotalSupply
			row.Fulfilled = t.Fulfilled
			row.FillRate = t.FillRate
			row.OTIF = t.OTIF
			row.DaysOfCover = t.DaysOfCover
		}
		if a := r.Allocation; a != nil && a.Plan != nil {
			row.AllocatedUnits = a.Plan.Total()
			row.TransportCost = a.TransportCost
			row.Objective = domain.Defined(a.Objective).Round(4)
		}
		rows = append(rows, row)
	}
	return rows
}
