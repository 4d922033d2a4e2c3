package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricJSON(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		want   string
	}{
		{"defined", Defined(0.75), `0.75`},
		{"not applicable", NotApplicable(), `"N/A"`},
		{"infinite", Infinite(), `"infinite"`},
		{"positive infinity", Defined(math.Inf(1)), `"infinite"`},
		{"nan", Defined(math.NaN()), `"N/A"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.metric)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			var back Metric
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.metric.State, back.State)
		})
	}

	var m Metric
	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &m))
	assert.Error(t, json.Unmarshal([]byte(`true`), &m))
}

func TestMetricRoundAndString(t *testing.T) {
	assert.Equal(t, "0.6667", Defined(2.0/3.0).Round(4).String())
	assert.Equal(t, "N/A", NotApplicable().Round(2).String())
	assert.Equal(t, "infinite", Infinite().String())
}

func TestDatasetCloneIsDeep(t *testing.T) {
	base := &Dataset{
		Inventory: []InventoryRecord{{SKU: "SKU1", Warehouse: "WH_A", OnHand: 100}},
		Orders:    []OrderRecord{{SKU: "SKU1", City: "City_X", Quantity: 80}},
	}
	clone := base.Clone()
	clone.Inventory[0].OnHand = 1
	clone.Orders[0].Quantity = 2

	assert.Equal(t, Quantity(100), base.Inventory[0].OnHand)
	assert.Equal(t, Quantity(80), base.Orders[0].Quantity)
	assert.Nil(t, (*Dataset)(nil).Clone())
}

func TestBuildViews(t *testing.T) {
	ds := &Dataset{
		Inventory: []InventoryRecord{{SKU: "SKU1", Warehouse: "WH_A", OnHand: 100}},
		Orders: []OrderRecord{
			{SKU: "SKU1", City: "City_X", Quantity: 30},
			{SKU: "SKU1", City: "City_X", Quantity: 50},
		},
		Production: []ProductionRecord{
			{SKU: "SKU1", Week: 1, Quantity: 10},
			{SKU: "SKU1", Week: 3, Site: "WH_B", Quantity: 20},
		},
		Lanes: []LaneRecord{
			{Origin: "WH_A", Destination: "City_X", UnitCost: 1, Capacity: 60},
			{Origin: "WH_A", Destination: "City_X", UnitCost: 2, Capacity: 40},
		},
	}

	v := BuildViews(ds, SupplyOptions{HorizonWeeks: 2, DefaultProductionSite: "WH_A"})
	assert.Equal(t, Quantity(110), v.Supply[SupplyKey{SKU: "SKU1", Warehouse: "WH_A"}])
	assert.NotContains(t, v.Supply, SupplyKey{SKU: "SKU1", Warehouse: "WH_B"})
	assert.Equal(t, Quantity(80), v.Demand[DemandKey{SKU: "SKU1", City: "City_X"}])
	assert.Equal(t, Quantity(40), v.Lanes[LaneKey{Origin: "WH_A", Destination: "City_X"}].Capacity)

	// undated orders leave production unbounded; site-less output lands where SKU1 is stocked
	v = BuildViews(ds, SupplyOptions{})
	assert.Equal(t, Quantity(110), v.Supply[SupplyKey{SKU: "SKU1", Warehouse: "WH_A"}])
	assert.Equal(t, Quantity(20), v.Supply[SupplyKey{SKU: "SKU1", Warehouse: "WH_B"}])
}

func TestBuildViewsDerivesHorizonFromDueDates(t *testing.T) {
	ds := &Dataset{
		Inventory: []InventoryRecord{{SKU: "SKU1", Warehouse: "WH_A", OnHand: 20}},
		Orders: []OrderRecord{
			{SKU: "SKU1", City: "City_X", Quantity: 50, Expected: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
			{SKU: "SKU1", City: "City_X", Quantity: 50, Expected: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
			{SKU: "SKU1", City: "City_X", Quantity: 5},
		},
		Production: []ProductionRecord{
			{SKU: "SKU1", Week: 2, Quantity: 30},
			{SKU: "SKU1", Week: 3, Quantity: 40},
		},
		Lanes: []LaneRecord{{Origin: "WH_A", Destination: "City_X", UnitCost: 1, Capacity: 200}},
	}
	assert.Equal(t, 2, ds.PlanningHorizon())
	assert.Equal(t, 5, SupplyOptions{HorizonWeeks: 5}.Horizon(ds))

	v := BuildViews(ds, SupplyOptions{})
	assert.Equal(t, Quantity(50), v.Supply[SupplyKey{SKU: "SKU1", Warehouse: "WH_A"}])

	v = BuildViews(ds, SupplyOptions{HorizonWeeks: 3})
	assert.Equal(t, Quantity(90), v.Supply[SupplyKey{SKU: "SKU1", Warehouse: "WH_A"}])

	assert.Equal(t, 0, (&Dataset{Orders: []OrderRecord{{SKU: "SKU1", Quantity: 1}}}).PlanningHorizon())
	assert.Equal(t, 0, (*Dataset)(nil).PlanningHorizon())
}

func TestBuildViewsProductionSiteFallback(t *testing.T) {
	ds := &Dataset{
		Inventory: []InventoryRecord{
			{SKU: "SKU1", Warehouse: "WH_B", OnHand: 5},
			{SKU: "SKU1", Warehouse: "WH_A", OnHand: 5},
		},
		Production: []ProductionRecord{
			{SKU: "SKU1", Week: 1, Quantity: 10},
			{SKU: "SKU2", Week: 1, Quantity: 7},
		},
		Lanes: []LaneRecord{{Origin: "WH_C", Destination: "City_X", Capacity: 10}},
	}

	v := BuildViews(ds, SupplyOptions{})
	assert.Equal(t, Quantity(15), v.Supply[SupplyKey{SKU: "SKU1", Warehouse: "WH_A"}], "ties go to the first warehouse by name")
	assert.Equal(t, Quantity(7), v.Supply[SupplyKey{SKU: "SKU2", Warehouse: "WH_C"}], "unstocked SKU uses the only lane origin")

	ds.Lanes = append(ds.Lanes, LaneRecord{Origin: "WH_D", Destination: "City_X", Capacity: 10})
	v = BuildViews(ds, SupplyOptions{})
	assert.NotContains(t, v.Supply, SupplyKey{SKU: "SKU2", Warehouse: "WH_C"})
	assert.NotContains(t, v.Supply, SupplyKey{SKU: "SKU2", Warehouse: "WH_D"})

	v = BuildViews(ds, SupplyOptions{DefaultProductionSite: "WH_D"})
	assert.Equal(t, Quantity(10), v.Supply[SupplyKey{SKU: "SKU1", Warehouse: "WH_D"}])
	assert.Equal(t, Quantity(7), v.Supply[SupplyKey{SKU: "SKU2", Warehouse: "WH_D"}])
}

func TestAllocationPlan(t *testing.T) {
	plan := NewAllocationPlan([]Allocation{
		{SKU: "SKU2", Origin: "WH_A", Destination: "City_X", Quantity: 5},
		{SKU: "SKU1", Origin: "WH_A", Destination: "City_Y", Quantity: 40},
		{SKU: "SKU1", Origin: "WH_A", Destination: "City_X", Quantity: 60},
		{SKU: "SKU1", Origin: "WH_B", Destination: "City_X", Quantity: 0},
	})
	require.Len(t, plan.Lines, 3)
	assert.Equal(t, Location("City_X"), plan.Lines[0].Destination)
	assert.Equal(t, SKU("SKU2"), plan.Lines[2].SKU)
	assert.Equal(t, Quantity(105), plan.Total())
	assert.Equal(t, Quantity(65), plan.LaneLoad("WH_A", "City_X"))
	assert.Equal(t, Quantity(100), plan.DeliveredBySKU("SKU1"))
	assert.Equal(t, Quantity(0), (*AllocationPlan)(nil).Total())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&DataQualityError{}, "data_quality"},
		{fmt.Errorf("scenario surge: %w", &InfeasibleModelError{Reason: "floors"}), "infeasible"},
		{&SolverTimeoutError{}, "solver_timeout"},
		{&ConfigurationError{Field: "x"}, "configuration"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}

func TestDataQualityErrorMessage(t *testing.T) {
	err := &DataQualityError{Rejections: []Rejection{
		{Table: "orders", Line: 2, Reason: "blank sku"},
		{Table: "orders", Line: 3, Reason: "blank sku"},
		{Table: "orders", Line: 4, Reason: "blank sku"},
		{Table: "orders", Line: 5, Reason: "blank sku"},
	}}
	assert.Contains(t, err.Error(), "4 row(s) rejected")
	assert.Contains(t, err.Error(), "; ...")
	assert.True(t, errors.Is(err, ErrDataQuality))
}
