package domain

import "sort"

// Allocation is one line of an allocation plan
type Allocation struct {
	SKU         SKU      `json:"sku"`
	Origin      Location `json:"origin"`
	Destination Location `json:"destination"`
	Quantity    Quantity `json:"quantity"`
	UnitCost    float64  `json:"unit_cost"`
}

// AllocationPlan maps (SKU, origin, destination) to an allocated quantity.
// Lines are kept sorted by SKU, origin, destination and never contain zero quantities.
type AllocationPlan struct {
	Lines []Allocation `json:"lines"`
}

// NewAllocationPlan builds a plan from lines, dropping zero quantities and sorting the rest.
func NewAllocationPlan(lines []Allocation) *AllocationPlan {
	kept := make([]Allocation, 0, len(lines))
	for _, l := range lines {
		if l.Quantity > 0 {
			kept = append(kept, l)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.SKU != b.SKU {
			return a.SKU < b.SKU
		}
		if a.Origin != b.Origin {
			return a.Origin < b.Origin
		}
		return a.Destination < b.Destination
	})
	return &AllocationPlan{Lines: kept}
}

// Total returns the number of allocated units
func (p *AllocationPlan) Total() Quantity {
	if p == nil {
		return 0
	}
	var total Quantity
	for _, l := range p.Lines {
		total += l.Quantity
	}
	return total
}

// Delivered returns units of sku allocated into city
func (p *AllocationPlan) Delivered(sku SKU, city Location) Quantity {
	if p == nil {
		return 0
	}
	var total Quantity
	for _, l := range p.Lines {
		if l.SKU == sku && l.Destination == city {
			total += l.Quantity
		}
	}
	return total
}

// DeliveredBySKU returns units of sku allocated to any destination
func (p *AllocationPlan) DeliveredBySKU(sku SKU) Quantity {
	if p == nil {
		return 0
	}
	var total Quantity
	for _, l := range p.Lines {
		if l.SKU == sku {
			total += l.Quantity
		}
	}
	return total
}

// Shipped returns units of sku allocated out of origin
func (p *AllocationPlan) Shipped(sku SKU, origin Location) Quantity {
	if p == nil {
		return 0
	}
	var total Quantity
	for _, l := range p.Lines {
		if l.SKU == sku && l.Origin == origin {
			total += l.Quantity
		}
	}
	return total
}

// LaneLoad returns units of every SKU allocated on the lane
func (p *AllocationPlan) LaneLoad(origin, destination Location) Quantity {
	if p == nil {
		return 0
	}
	var total Quantity
	for _, l := range p.Lines {
		if l.Origin == origin && l.Destination == destination {
			total += l.Quantity
		}
	}
	return total
}

// Quantity returns the allocated units for a single (sku, origin, destination) triple
func (p *AllocationPlan) Quantity(sku SKU, origin, destination Location) Quantity {
	if p == nil {
		return 0
	}
	for _, l := range p.Lines {
		if l.SKU == sku && l.Origin == origin && l.Destination == destination {
			return l.Quantity
		}
	}
	return 0
}
