// Package kpi computes fill rate, OTIF and days-of-cover from a reconciled dataset and,
// when available, an allocation plan or externally reported fulfilments.
package kpi

import (
	"math"
	"sort"
	"time"

	"github.com/andresuchdata/supplyplan/internal/domain"
)

// Options tunes KPI computation
type Options struct {
	// DefaultWindowDays is the demand window used when none of the orders carry a date.
	DefaultWindowDays int
	// HorizonWeeks limits production counted as supply. Zero means no limit.
	HorizonWeeks int
}

// Fulfillment is an externally reported delivery against an order
type Fulfillment struct {
	OrderID     string          `json:"order_id"`
	Quantity    domain.Quantity `json:"quantity"`
	DeliveredAt time.Time       `json:"delivered_at"`
}

// Totals are the dataset-wide KPIs. OTIF and days-of-cover are demand-weighted.
type Totals struct {
	TotalDemand domain.Quantity `json:"total_demand"`
	TotalSupply domain.Quantity `json:"total_supply"`
	Fulfilled   domain.Quantity `json:"fulfilled"`
	FillRate    domain.Metric   `json:"fill_rate"`
	OTIF        domain.Metric   `json:"otif"`
	DaysOfCover domain.Metric   `json:"days_of_cover"`
}

// Summary is the KPI table plus its totals
type Summary struct {
	Records []domain.KPIRecord `json:"records"`
	Totals  Totals             `json:"totals"`
}

type skuIndex struct {
	orders          []domain.OrderRecord
	onHand          map[domain.Location]domain.Quantity
	production      map[int]domain.Quantity
	totalOnHand     domain.Quantity
	totalProduction domain.Quantity
}

// Engine evaluates KPIs over an immutable snapshot. Every method is a pure function of the
// dataset, plan and fulfilments it was built with.
type Engine struct {
	opts        Options
	plan        *domain.AllocationPlan
	fulfilments map[string][]Fulfillment
	skus        []domain.SKU
	index       map[domain.SKU]*skuIndex
	warehouses  map[domain.Location]struct{}
	sims        map[domain.SKU]*simulation
}

// NewEngine indexes the dataset. plan and fulfilments may be nil.
func NewEngine(ds *domain.Dataset, plan *domain.AllocationPlan, fulfilments []Fulfillment, opts Options) *Engine {
	e := &Engine{
		opts:       opts,
		plan:       plan,
		index:      make(map[domain.SKU]*skuIndex),
		warehouses: make(map[domain.Location]struct{}),
		sims:       make(map[domain.SKU]*simulation),
	}
	if len(fulfilments) > 0 {
		e.fulfilments = make(map[string][]Fulfillment)
		for _, f := range fulfilments {
			e.fulfilments[f.OrderID] = append(e.fulfilments[f.OrderID], f)
		}
	}
	if ds == nil {
		return e
	}

	get := func(sku domain.SKU) *skuIndex {
		idx, ok := e.index[sku]
		if !ok {
			idx = &skuIndex{
				onHand:     make(map[domain.Location]domain.Quantity),
				production: make(map[int]domain.Quantity),
			}
			e.index[sku] = idx
		}
		return idx
	}
	for _, inv := range ds.Inventory {
		idx := get(inv.SKU)
		idx.onHand[inv.Warehouse] += inv.OnHand
		idx.totalOnHand += inv.OnHand
		e.warehouses[inv.Warehouse] = struct{}{}
	}
	for _, p := range ds.Production {
		if opts.HorizonWeeks > 0 && p.Week > opts.HorizonWeeks {
			continue
		}
		idx := get(p.SKU)
		idx.production[p.Week] += p.Quantity
		idx.totalProduction += p.Quantity
		if p.Site != "" {
			e.warehouses[p.Site] = struct{}{}
		}
	}
	for _, o := range ds.Orders {
		idx := get(o.SKU)
		idx.orders = append(idx.orders, o)
	}
	for _, l := range ds.Lanes {
		e.warehouses[l.Origin] = struct{}{}
	}

	e.skus = make([]domain.SKU, 0, len(e.index))
	for sku := range e.index {
		e.skus = append(e.skus, sku)
	}
	sort.Slice(e.skus, func(i, j int) bool { return e.skus[i] < e.skus[j] })

	for _, sku := range e.skus {
		e.sims[sku] = e.simulate(sku)
	}
	return e
}

func (e *Engine) isAggregate(loc domain.Location) bool {
	return loc == domain.AggregateLocation || loc == ""
}

func (e *Engine) isWarehouse(loc domain.Location) bool {
	_, ok := e.warehouses[loc]
	return ok
}

// orderFilter selects the orders counted for a location; warehouses and the aggregate see
// every order of the SKU.
func (e *Engine) orderFilter(loc domain.Location) func(domain.OrderRecord) bool {
	if e.isAggregate(loc) || e.isWarehouse(loc) {
		return func(domain.OrderRecord) bool { return true }
	}
	return func(o domain.OrderRecord) bool { return o.City == loc }
}

// Demand returns ordered units of sku at loc
func (e *Engine) Demand(sku domain.SKU, loc domain.Location) domain.Quantity {
	idx, ok := e.index[sku]
	if !ok {
		return 0
	}
	keep := e.orderFilter(loc)
	var total domain.Quantity
	for _, o := range idx.orders {
		if keep(o) {
			total += o.Quantity
		}
	}
	return total
}

// Supply returns on-hand plus in-horizon production for the aggregate, or on-hand for a warehouse.
// For a city it is the plan's allocation into that city.
func (e *Engine) Supply(sku domain.SKU, loc domain.Location) domain.Quantity {
	idx, ok := e.index[sku]
	switch {
	case e.isAggregate(loc):
		if !ok {
			return 0
		}
		return idx.totalOnHand + idx.totalProduction
	case e.isWarehouse(loc):
		if !ok {
			return 0
		}
		return idx.onHand[loc]
	default:
		return e.plan.Delivered(sku, loc)
	}
}

// Fulfilled returns the units counted as fulfilled for sku at loc
func (e *Engine) Fulfilled(sku domain.SKU, loc domain.Location) domain.Quantity {
	if e.plan != nil {
		if e.isAggregate(loc) {
			return e.plan.DeliveredBySKU(sku)
		}
		if e.isWarehouse(loc) {
			return e.plan.Shipped(sku, loc)
		}
		return e.plan.Delivered(sku, loc)
	}
	if e.isAggregate(loc) {
		demand := e.Demand(sku, loc)
		supply := e.Supply(sku, loc)
		if supply < demand {
			return supply
		}
		return demand
	}
	sim, ok := e.sims[sku]
	if !ok {
		return 0
	}
	return sim.shipped(e.orderFilter(loc))
}

// FillRate is fulfilled ÷ ordered. No demand yields 0 when nothing was fulfilled and N/A otherwise.
func (e *Engine) FillRate(sku domain.SKU, loc domain.Location) domain.Metric {
	return fillRate(e.Fulfilled(sku, loc), e.Demand(sku, loc))
}

func fillRate(fulfilled, demand domain.Quantity) domain.Metric {
	if demand <= 0 {
		if fulfilled > 0 {
			return domain.NotApplicable()
		}
		return domain.Defined(0)
	}
	rate := float64(fulfilled) / float64(demand)
	return domain.Defined(math.Min(rate, 1))
}

// DaysOfCover is on-hand ÷ average daily demand. A zero rate yields the infinite sentinel.
// A city's on-hand is what the plan positions there.
func (e *Engine) DaysOfCover(sku domain.SKU, loc domain.Location) domain.Metric {
	var onHand domain.Quantity
	idx, ok := e.index[sku]
	switch {
	case e.isAggregate(loc):
		if ok {
			onHand = idx.totalOnHand
		}
	case e.isWarehouse(loc):
		if ok {
			onHand = idx.onHand[loc]
		}
	default:
		onHand = e.plan.Delivered(sku, loc)
	}

	rate := e.dailyRate(sku, loc)
	if rate <= 0 {
		return domain.Infinite()
	}
	return domain.Defined(float64(onHand) / rate)
}

func (e *Engine) dailyRate(sku domain.SKU, loc domain.Location) float64 {
	idx, ok := e.index[sku]
	if !ok {
		return 0
	}
	keep := e.orderFilter(loc)
	var (
		demand      domain.Quantity
		first, last time.Time
	)
	for _, o := range idx.orders {
		if !keep(o) {
			continue
		}
		demand += o.Quantity
		if !o.HasExpectedDate() {
			continue
		}
		if first.IsZero() || o.Expected.Before(first) {
			first = o.Expected
		}
		if last.IsZero() || o.Expected.After(last) {
			last = o.Expected
		}
	}
	if demand <= 0 {
		return 0
	}
	window := float64(e.opts.DefaultWindowDays)
	if !first.IsZero() {
		window = math.Max(math.Floor(last.Sub(first).Hours()/24)+1, 1)
	}
	if window <= 0 {
		return 0
	}
	return float64(demand) / window
}

// Record evaluates every KPI for sku at loc
func (e *Engine) Record(sku domain.SKU, loc domain.Location) domain.KPIRecord {
	if loc == "" {
		loc = domain.AggregateLocation
	}
	return domain.KPIRecord{
		SKU:         sku,
		Location:    loc,
		Demand:      e.Demand(sku, loc),
		Supply:      e.Supply(sku, loc),
		Fulfilled:   e.Fulfilled(sku, loc),
		FillRate:    e.FillRate(sku, loc).Round(4),
		OTIF:        e.OTIF(sku, loc).Round(4),
		DaysOfCover: e.DaysOfCover(sku, loc).Round(2),
	}
}

// Summary returns one record per SKU at the aggregate location and, when a plan is present,
// one per SKU and destination city. Records are sorted by SKU then location.
func (e *Engine) Summary() Summary {
	var records []domain.KPIRecord
	for _, sku := range e.skus {
		records = append(records, e.Record(sku, domain.AggregateLocation))
		if e.plan == nil {
			continue
		}
		for _, city := range e.cities(sku) {
			records = append(records, e.Record(sku, city))
		}
	}
	return Summary{Records: records, Totals: e.totals(records)}
}

// cities lists the destinations with orders for sku, sorted
func (e *Engine) cities(sku domain.SKU) []domain.Location {
	idx, ok := e.index[sku]
	if !ok {
		return nil
	}
	seen := make(map[domain.Location]struct{})
	var out []domain.Location
	for _, o := range idx.orders {
		if _, dup := seen[o.City]; dup {
			continue
		}
		seen[o.City] = struct{}{}
		out = append(out, o.City)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) totals(records []domain.KPIRecord) Totals {
	var t Totals
	var otifWeighted, docWeighted float64
	for _, r := range records {
		if r.Location != domain.AggregateLocation {
			continue
		}
		t.TotalDemand += r.Demand
		t.TotalSupply += r.Supply
		t.Fulfilled += r.Fulfilled
		if r.OTIF.IsDefined() {
			otifWeighted += r.OTIF.Value * float64(r.Demand)
		}
		if r.DaysOfCover.IsDefined() {
			docWeighted += r.DaysOfCover.Value * float64(r.Demand)
		}
	}
	if t.TotalDemand <= 0 {
		t.FillRate = fillRate(t.Fulfilled, t.TotalDemand)
		t.OTIF = domain.NotApplicable()
		t.DaysOfCover = domain.NotApplicable()
		return t
	}
	demand := float64(t.TotalDemand)
	t.FillRate = fillRate(t.Fulfilled, t.TotalDemand).Round(4)
	t.OTIF = domain.Defined(otifWeighted / demand).Round(4)
	t.DaysOfCover = domain.Defined(docWeighted / demand).Round(2)
	return t
}
