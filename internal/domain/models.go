// Package domain holds the typed records shared by reconciliation, KPI computation,
// scenario application and the allocation optimizer.
package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SKU identifies a stock keeping unit
type SKU string

// Location identifies a warehouse (supply side) or a city/market (demand side)
type Location string

// Quantity is a whole number of units
type Quantity int64

// AggregateLocation is the location label used for SKU-level rows that span every location.
const AggregateLocation Location = "ALL"

// Item carries optional SKU attributes
type Item struct {
	SKU       SKU             `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Category  string          `json:"category,omitempty"`
}

// InventoryRecord is the on-hand quantity of a SKU at a warehouse
type InventoryRecord struct {
	SKU       SKU      `json:"sku"`
	Warehouse Location `json:"warehouse"`
	OnHand    Quantity `json:"on_hand"`
}

// OrderRecord is a single customer order line
type OrderRecord struct {
	OrderID    string          `json:"order_id,omitempty"`
	SKU        SKU             `json:"sku"`
	City       Location        `json:"city"`
	Channel    string          `json:"channel,omitempty"`
	Customer   string          `json:"customer,omitempty"`
	Quantity   Quantity        `json:"quantity"`
	SalesValue decimal.Decimal `json:"sales_value"`
	Expected   time.Time       `json:"expected,omitempty"`
}

// HasExpectedDate reports whether the order carries a due date.
func (o OrderRecord) HasExpectedDate() bool {
	return !o.Expected.IsZero()
}

// ProductionRecord is the planned output of a SKU in a week.
// Site is the warehouse the output lands in; empty means the default production warehouse.
type ProductionRecord struct {
	SKU      SKU      `json:"sku"`
	Week     int      `json:"week"`
	Site     Location `json:"site,omitempty"`
	Quantity Quantity `json:"quantity"`
}

// LaneRecord is a transportation link between a warehouse and a destination
type LaneRecord struct {
	Origin      Location `json:"origin"`
	Destination Location `json:"destination"`
	UnitCost    float64  `json:"unit_cost"`
	Capacity    Quantity `json:"capacity"`
}

// SupplyKey indexes supply by SKU and warehouse
type SupplyKey struct {
	SKU       SKU
	Warehouse Location
}

// DemandKey indexes demand by SKU and city
type DemandKey struct {
	SKU  SKU
	City Location
}

// LaneKey indexes lanes by origin and destination
type LaneKey struct {
	Origin      Location
	Destination Location
}

// Dataset is a clean, typed snapshot of the four input tables.
// Datasets are treated as immutable once built; use Clone before changing one.
type Dataset struct {
	Items      []Item             `json:"items,omitempty"`
	Inventory  []InventoryRecord  `json:"inventory"`
	Orders     []OrderRecord      `json:"orders"`
	Production []ProductionRecord `json:"production"`
	Lanes      []LaneRecord       `json:"lanes"`
}

// Clone returns a deep copy of the dataset
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	return &Dataset{
		Items:      append([]Item(nil), d.Items...),
		Inventory:  append([]InventoryRecord(nil), d.Inventory...),
		Orders:     append([]OrderRecord(nil), d.Orders...),
		Production: append([]ProductionRecord(nil), d.Production...),
		Lanes:      append([]LaneRecord(nil), d.Lanes...),
	}
}

// SupplyOptions controls how on-hand stock and production become allocatable supply
type SupplyOptions struct {
	// HorizonWeeks limits production to weeks <= HorizonWeeks. Zero derives the limit from
	// the ISO week of the latest order due date; without dated orders there is no limit.
	HorizonWeeks int
	// DefaultProductionSite receives production rows without a site. When empty those rows
	// land in the warehouse holding the most stock of the SKU, or in the only lane origin.
	DefaultProductionSite Location
}

// Horizon resolves the last production week counted as supply for d. Zero means no limit.
func (o SupplyOptions) Horizon(d *Dataset) int {
	if o.HorizonWeeks > 0 {
		return o.HorizonWeeks
	}
	return d.PlanningHorizon()
}

// PlanningHorizon is the ISO week of the latest order due date, or zero when no order is dated.
func (d *Dataset) PlanningHorizon() int {
	if d == nil {
		return 0
	}
	var latest time.Time
	for _, o := range d.Orders {
		if o.HasExpectedDate() && o.Expected.After(latest) {
			latest = o.Expected
		}
	}
	if latest.IsZero() {
		return 0
	}
	_, week := latest.ISOWeek()
	return week
}

// fallbackSites picks a landing warehouse per SKU for production rows without a site
func fallbackSites(d *Dataset) (map[SKU]Location, Location) {
	bySKU := make(map[SKU]Location)
	stock := make(map[SupplyKey]Quantity)
	for _, inv := range d.Inventory {
		stock[SupplyKey{SKU: inv.SKU, Warehouse: inv.Warehouse}] += inv.OnHand
	}
	for key, qty := range stock {
		cur, ok := bySKU[key.SKU]
		if !ok {
			bySKU[key.SKU] = key.Warehouse
			continue
		}
		best := stock[SupplyKey{SKU: key.SKU, Warehouse: cur}]
		if qty > best || (qty == best && key.Warehouse < cur) {
			bySKU[key.SKU] = key.Warehouse
		}
	}

	var origin Location
	for _, l := range d.Lanes {
		if origin == "" {
			origin = l.Origin
		} else if origin != l.Origin {
			return bySKU, ""
		}
	}
	return bySKU, origin
}

// Views are the canonical keyed mappings derived from a dataset
type Views struct {
	Supply map[SupplyKey]Quantity
	Demand map[DemandKey]Quantity
	Lanes  map[LaneKey]LaneRecord
}

// BuildViews derives supply-by-(SKU, warehouse), demand-by-(SKU, city) and
// capacity-by-(origin, destination) from the dataset.
func BuildViews(d *Dataset, opts SupplyOptions) Views {
	v := Views{
		Supply: make(map[SupplyKey]Quantity),
		Demand: make(map[DemandKey]Quantity),
		Lanes:  make(map[LaneKey]LaneRecord),
	}
	if d == nil {
		return v
	}

	for _, inv := range d.Inventory {
		v.Supply[SupplyKey{SKU: inv.SKU, Warehouse: inv.Warehouse}] += inv.OnHand
	}

	horizon := opts.Horizon(d)
	var (
		stocked    map[SKU]Location
		soleOrigin Location
	)
	if opts.DefaultProductionSite == "" {
		stocked, soleOrigin = fallbackSites(d)
	}
	for _, p := range d.Production {
		if horizon > 0 && p.Week > horizon {
			continue
		}
		site := p.Site
		if site == "" {
			site = opts.DefaultProductionSite
		}
		if site == "" {
			site = stocked[p.SKU]
		}
		if site == "" {
			site = soleOrigin
		}
		if site == "" {
			continue
		}
		v.Supply[SupplyKey{SKU: p.SKU, Warehouse: site}] += p.Quantity
	}

	for _, o := range d.Orders {
		v.Demand[DemandKey{SKU: o.SKU, City: o.City}] += o.Quantity
	}

	for _, l := range d.Lanes {
		v.Lanes[LaneKey{Origin: l.Origin, Destination: l.Destination}] = l
	}

	return v
}

// SKUs returns every SKU that appears in the dataset, sorted
func (d *Dataset) SKUs() []SKU {
	seen := make(map[SKU]struct{})
	for _, r := range d.Inventory {
		seen[r.SKU] = struct{}{}
	}
	for _, r := range d.Orders {
		seen[r.SKU] = struct{}{}
	}
	for _, r := range d.Production {
		seen[r.SKU] = struct{}{}
	}

	skus := make([]SKU, 0, len(seen))
	for s := range seen {
		skus = append(skus, s)
	}
	sort.Slice(skus, func(i, j int) bool { return skus[i] < skus[j] })
	return skus
}

// TotalDemand sums ordered units
func (d *Dataset) TotalDemand() Quantity {
	var total Quantity
	for _, o := range d.Orders {
		total += o.Quantity
	}
	return total
}

// TotalOnHand sums on-hand units
func (d *Dataset) TotalOnHand() Quantity {
	var total Quantity
	for _, r := range d.Inventory {
		total += r.OnHand
	}
	return total
}

// TotalProduction sums planned production units
func (d *Dataset) TotalProduction() Quantity {
	var total Quantity
	for _, r := range d.Production {
		total += r.Quantity
	}
	return total
}
