package scenario

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseDataset() *domain.Dataset {
	return &domain.Dataset{
		Inventory: []domain.InventoryRecord{
			{SKU: "SKU1", Warehouse: "WH_A", OnHand: 100},
			{SKU: "SKU1", Warehouse: "WH_B", OnHand: 8},
		},
		Orders: []domain.OrderRecord{
			{SKU: "SKU1", City: "City_X", Quantity: 60, SalesValue: decimal.RequireFromString("600")},
			{SKU: "SKU1", City: "City_Y", Quantity: 40, SalesValue: decimal.RequireFromString("400")},
		},
		Production: []domain.ProductionRecord{
			{SKU: "SKU1", Week: 1, Quantity: 10},
			{SKU: "SKU1", Week: 2, Quantity: 15},
		},
	}
}

func TestApplyDemandMultiplierLeavesBaseUntouched(t *testing.T) {
	base := baseDataset()
	snapshot := base.Clone()

	p := Baseline()
	p.Name = "surge"
	p.DemandMultiplier = 1.5
	out, err := Apply(p, base)
	require.NoError(t, err)

	assert.Equal(t, domain.Quantity(150), out.TotalDemand())
	assert.Equal(t, domain.Quantity(100), base.TotalDemand())
	assert.Equal(t, snapshot, base)
	assert.True(t, out.Orders[0].SalesValue.Equal(decimal.RequireFromString("900")))
	assert.NotSame(t, &base.Orders[0], &out.Orders[0])
}

func TestApplyRoundsHalfUp(t *testing.T) {
	base := &domain.Dataset{Orders: []domain.OrderRecord{{SKU: "S", City: "C", Quantity: 5}}}
	p := Baseline()
	p.DemandMultiplier = 1.1
	out, err := Apply(p, base)
	require.NoError(t, err)
	assert.Equal(t, domain.Quantity(6), out.Orders[0].Quantity)
}

func TestApplyProductionDelayAndOvertime(t *testing.T) {
	p := Baseline()
	p.Name = "delay"
	p.ProductionDelayWeeks = 2
	p.OvertimeMultiplier = 1.2
	out, err := Apply(p, baseDataset())
	require.NoError(t, err)

	assert.Equal(t, []domain.ProductionRecord{
		{SKU: "SKU1", Week: 3, Quantity: 12},
		{SKU: "SKU1", Week: 4, Quantity: 18},
	}, out.Production)

	views := domain.BuildViews(out, domain.SupplyOptions{HorizonWeeks: 3, DefaultProductionSite: "WH_A"})
	assert.Equal(t, domain.Quantity(112), views.Supply[domain.SupplyKey{SKU: "SKU1", Warehouse: "WH_A"}])
}

func TestApplyInventoryBuffer(t *testing.T) {
	p := Baseline()
	p.Name = "buffer"
	p.InventoryBuffer = InventoryBuffer{Units: 5, Percent: 10}
	out, err := Apply(p, baseDataset())
	require.NoError(t, err)

	assert.Equal(t, domain.Quantity(85), out.Inventory[0].OnHand)
	assert.Equal(t, domain.Quantity(2), out.Inventory[1].OnHand)

	p.InventoryBuffer = InventoryBuffer{Units: 500}
	out, err = Apply(p, baseDataset())
	require.NoError(t, err)
	assert.Equal(t, domain.Quantity(0), out.Inventory[0].OnHand)
}

func TestApplyBaselineIsIdentity(t *testing.T) {
	base := baseDataset()
	out, err := Apply(Baseline(), base)
	require.NoError(t, err)
	assert.Equal(t, base, out)
	assert.True(t, Baseline().IsIdentity())
}

func TestValidate(t *testing.T) {
	neg := -0.5
	cases := map[string]func(*Params){
		"blank name":           func(p *Params) { p.Name = " " },
		"zero demand":          func(p *Params) { p.DemandMultiplier = 0 },
		"negative demand":      func(p *Params) { p.DemandMultiplier = -1 },
		"negative delay":       func(p *Params) { p.ProductionDelayWeeks = -1 },
		"overtime below one":   func(p *Params) { p.OvertimeMultiplier = 0.9 },
		"negative buffer":      func(p *Params) { p.InventoryBuffer.Units = -1 },
		"percent above 100":    func(p *Params) { p.InventoryBuffer.Percent = 101 },
		"negative cost weight": func(p *Params) { p.CostWeight = &neg },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := Baseline()
			mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidConfig))

			_, err = Apply(p, baseDataset())
			var cfgErr *domain.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestLoadSet(t *testing.T) {
	doc := `
scenarios:
  - name: surge
    demand_multiplier: 1.5
  - name: delay
    production_delay_weeks: 2
    overtime_multiplier: 1.25
    inventory_buffer:
      percent: 10
`
	set, err := LoadSet(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"baseline", "surge", "delay"}, set.Names())

	surge := set.Scenarios[1]
	assert.Equal(t, 1.5, surge.DemandMultiplier)
	assert.Equal(t, 1.0, surge.OvertimeMultiplier)

	delay := set.Scenarios[2]
	assert.Equal(t, 1.0, delay.DemandMultiplier)
	assert.Equal(t, 2, delay.ProductionDelayWeeks)
	assert.Equal(t, 10.0, delay.InventoryBuffer.Percent)
}

func TestLoadSetRejectsBadInput(t *testing.T) {
	_, err := LoadSet(strings.NewReader("scenarios:\n  - name: a\n  - name: a\n"))
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))

	_, err = LoadSet(strings.NewReader("scenarios:\n  - name: a\n    demand_multiplier: -2\n"))
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))

	_, err = LoadSet(strings.NewReader("scenarios:\n  - name: a\n    surge: 2\n"))
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}

func TestNewSetKeepsExplicitBaselineFirst(t *testing.T) {
	custom := Baseline()
	custom.InventoryBuffer.Units = 3
	set, err := NewSet([]Params{{Name: "x", DemandMultiplier: 2, OvertimeMultiplier: 1}, custom})
	require.NoError(t, err)
	assert.Equal(t, []string{"baseline", "x"}, set.Names())
	assert.Equal(t, domain.Quantity(3), set.Scenarios[0].InventoryBuffer.Units)
}

func TestParamsJSONDefaults(t *testing.T) {
	var p Params
	require.NoError(t, json.Unmarshal([]byte(`{"name":"surge","demand_multiplier":2}`), &p))
	assert.Equal(t, 2.0, p.DemandMultiplier)
	assert.Equal(t, 1.0, p.OvertimeMultiplier)
	assert.NoError(t, p.Validate())
}
