package report

import (
	"encoding/json"
	"strconv"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/internal/kpi"
	"github.com/andresuchdata/supplyplan/internal/optimizer"
	"github.com/andresuchdata/supplyplan/internal/pipeline"
)

// Table is a header plus string rows, ready for CSV encoding
type Table struct {
	Header []string
	Rows   [][]string
}

func qty(q domain.Quantity) string { return strconv.FormatInt(int64(q), 10) }

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// KPITable lays out KPI records one per SKU/location
func KPITable(s *kpi.Summary) Table {
	t := Table{Header: []string{"sku", "location", "total_demand", "total_supply", "fulfilled", "fill_rate", "otif", "days_of_cover"}}
	if s == nil {
		return t
	}
	for _, r := range s.Records {
		t.Rows = append(t.Rows, []string{
			string(r.SKU), string(r.Location), qty(r.Demand), qty(r.Supply), qty(r.Fulfilled),
			r.FillRate.String(), r.OTIF.String(), r.DaysOfCover.String(),
		})
	}
	return t
}

// PlanTable lists the non-zero allocation lines
func PlanTable(p *domain.AllocationPlan) Table {
	t := Table{Header: []string{"sku", "origin", "destination", "quantity", "unit_cost"}}
	if p == nil {
		return t
	}
	for _, l := range p.Lines {
		t.Rows = append(t.Rows, []string{string(l.SKU), string(l.Origin), string(l.Destination), qty(l.Quantity), num(l.UnitCost)})
	}
	return t
}

// LaneTable reports allocated load against capacity per lane
func LaneTable(lanes []optimizer.LaneUtilization) Table {
	t := Table{Header: []string{"origin", "destination", "allocated", "capacity", "utilization", "unit_cost", "transport_cost"}}
	for _, l := range lanes {
		t.Rows = append(t.Rows, []string{
			string(l.Origin), string(l.Destination), qty(l.Allocated), qty(l.Capacity),
			l.Utilization.String(), num(l.UnitCost), l.TransportCost.String(),
		})
	}
	return t
}

// RejectionTable lists quarantined input rows with their raw cells as JSON
func RejectionTable(rejected []domain.Rejection) Table {
	t := Table{Header: []string{"table", "line", "reason", "row"}}
	for _, r := range rejected {
		raw := ""
		if len(r.Row) > 0 {
			if b, err := json.Marshal(r.Row); err == nil {
				raw = string(b)
			}
		}
		t.Rows = append(t.Rows, []string{r.Table, strconv.Itoa(r.Line), r.Reason, raw})
	}
	return t
}

// ComparisonTable is the side-by-side scenario view
func ComparisonTable(rows []pipeline.ComparisonRow) Table {
	t := Table{Header: []string{
		"scenario", "status", "total_demand", "total_supply", "fulfilled", "fill_rate", "otif",
		"days_of_cover", "allocated_units", "transport_cost", "objective", "error_kind", "error",
	}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Scenario, string(r.Status), qty(r.TotalDemand), qty(r.TotalSupply), qty(r.Fulfilled),
			r.FillRate.String(), r.OTIF.String(), r.DaysOfCover.String(), qty(r.AllocatedUnits),
			r.TransportCost.String(), r.Objective.String(), r.ErrorKind, r.Error,
		})
	}
	return t
}
