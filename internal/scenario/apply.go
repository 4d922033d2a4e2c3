package scenario

import (
	"math"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/shopspring/decimal"
)

// Apply returns a perturbed copy of base; base itself is never modified.
//   - order quantities and sales values are scaled by DemandMultiplier (quantities round half up)
//   - production weeks move ProductionDelayWeeks later and quantities scale by
//     OvertimeMultiplier (rounded half up)
//   - on-hand stock is reduced by the buffer percentage, then by the buffer units, floored at 0
func Apply(p Params, base *domain.Dataset) (*domain.Dataset, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ds := base.Clone()
	if ds == nil {
		ds = &domain.Dataset{}
	}

	if p.DemandMultiplier != 1 {
		factor := decimal.NewFromFloat(p.DemandMultiplier)
		for i := range ds.Orders {
			o := &ds.Orders[i]
			o.Quantity = scale(o.Quantity, p.DemandMultiplier)
			o.SalesValue = o.SalesValue.Mul(factor)
		}
	}

	for i := range ds.Production {
		pr := &ds.Production[i]
		pr.Week += p.ProductionDelayWeeks
		if p.OvertimeMultiplier != 1 {
			pr.Quantity = scale(pr.Quantity, p.OvertimeMultiplier)
		}
	}

	buf := p.InventoryBuffer
	if buf.Units > 0 || buf.Percent > 0 {
		for i := range ds.Inventory {
			inv := &ds.Inventory[i]
			held := scale(inv.OnHand, buf.Percent/100) + buf.Units
			inv.OnHand -= held
			if inv.OnHand < 0 {
				inv.OnHand = 0
			}
		}
	}

	return ds, nil
}

// scale multiplies q by f, rounding half up
func scale(q domain.Quantity, f float64) domain.Quantity {
	return domain.Quantity(math.Floor(float64(q)*f + 0.5))
}
