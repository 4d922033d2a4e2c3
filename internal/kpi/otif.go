package kpi

import (
	"sort"
	"time"

	"github.com/andresuchdata/supplyplan/internal/domain"
)

type orderOutcome struct {
	order   domain.OrderRecord
	shipped domain.Quantity
	inFull  bool
}

// simulation is the result of serving one SKU's orders from its supply timeline
type simulation struct {
	outcomes []orderOutcome
}

func (s *simulation) shipped(keep func(domain.OrderRecord) bool) domain.Quantity {
	var total domain.Quantity
	for _, o := range s.outcomes {
		if keep(o.order) {
			total += o.shipped
		}
	}
	return total
}

// simulate serves the SKU's orders in expected-date order. On-hand stock is available from
// the start and production becomes available in its week, compared against the ISO week of
// each order's expected date. With a plan each city is also capped at its allocation.
// Orders without a date are served last and never count as on time.
func (e *Engine) simulate(sku domain.SKU) *simulation {
	idx := e.index[sku]

	orders := make([]domain.OrderRecord, len(idx.orders))
	copy(orders, idx.orders)
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.HasExpectedDate() != b.HasExpectedDate() {
			return a.HasExpectedDate()
		}
		if !a.Expected.Equal(b.Expected) {
			return a.Expected.Before(b.Expected)
		}
		return a.OrderID < b.OrderID
	})

	weeks := make([]int, 0, len(idx.production))
	for w := range idx.production {
		weeks = append(weeks, w)
	}
	sort.Ints(weeks)

	available := idx.totalOnHand
	released := 0
	release := func(upTo int) {
		for released < len(weeks) && weeks[released] <= upTo {
			available += idx.production[weeks[released]]
			released++
		}
	}

	var cityLeft map[domain.Location]domain.Quantity
	if e.plan != nil {
		cityLeft = make(map[domain.Location]domain.Quantity)
		for _, o := range orders {
			if _, ok := cityLeft[o.City]; !ok {
				cityLeft[o.City] = e.plan.Delivered(sku, o.City)
			}
		}
	}

	sim := &simulation{outcomes: make([]orderOutcome, 0, len(orders))}
	for _, o := range orders {
		if o.HasExpectedDate() {
			_, week := o.Expected.ISOWeek()
			release(week)
		} else {
			release(int(^uint(0) >> 1))
		}

		limit := available
		if cityLeft != nil && cityLeft[o.City] < limit {
			limit = cityLeft[o.City]
		}
		ship := o.Quantity
		if ship > limit {
			ship = limit
		}
		available -= ship
		if cityLeft != nil {
			cityLeft[o.City] -= ship
		}
		sim.outcomes = append(sim.outcomes, orderOutcome{
			order:   o,
			shipped: ship,
			inFull:  o.HasExpectedDate() && ship == o.Quantity,
		})
	}
	return sim
}

// OTIF is the fraction of dated orders delivered in full by their expected date. External
// fulfilments decide it when supplied; otherwise the supply timeline simulation does.
// A location without dated orders yields N/A.
func (e *Engine) OTIF(sku domain.SKU, loc domain.Location) domain.Metric {
	keep := e.orderFilter(loc)

	var total, hits int
	if e.fulfilments != nil {
		idx, ok := e.index[sku]
		if !ok {
			return domain.NotApplicable()
		}
		for _, o := range idx.orders {
			if !keep(o) || !o.HasExpectedDate() {
				continue
			}
			total++
			if e.deliveredOnTime(o) >= o.Quantity {
				hits++
			}
		}
	} else {
		sim, ok := e.sims[sku]
		if !ok {
			return domain.NotApplicable()
		}
		for _, out := range sim.outcomes {
			if !keep(out.order) || !out.order.HasExpectedDate() {
				continue
			}
			total++
			if out.inFull {
				hits++
			}
		}
	}

	if total == 0 {
		return domain.NotApplicable()
	}
	return domain.Defined(float64(hits) / float64(total))
}

// deliveredOnTime sums units delivered against the order up to the end of its expected day
func (e *Engine) deliveredOnTime(o domain.OrderRecord) domain.Quantity {
	if o.OrderID == "" {
		return 0
	}
	y, m, d := o.Expected.Date()
	deadline := time.Date(y, m, d+1, 0, 0, 0, 0, o.Expected.Location())
	var total domain.Quantity
	for _, f := range e.fulfilments[o.OrderID] {
		if f.DeliveredAt.Before(deadline) {
			total += f.Quantity
		}
	}
	return total
}
