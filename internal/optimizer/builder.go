package optimizer

import (
	"fmt"
	"sort"

	"github.com/andresuchdata/supplyplan/internal/domain"
)

// Floors are minimum units that must reach a (SKU, destination)
type Floors map[domain.DemandKey]domain.Quantity

type floorRow struct {
	key  domain.DemandKey
	min  domain.Quantity
	vars []int
}

// problem is a model plus the integer bounds needed to repair its solution
type problem struct {
	model   *Model
	supply  map[domain.SupplyKey]domain.Quantity
	demand  map[domain.DemandKey]domain.Quantity
	lanes   map[domain.LaneKey]domain.Quantity
	floors  []floorRow
	maxCost float64
}

func sortedLocations(set map[domain.Location]struct{}) []domain.Location {
	out := make([]domain.Location, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// buildProblem creates one variable per (sku, origin, destination) with positive supply,
// positive demand and a lane with positive capacity, in lexicographic order. Rows are only
// emitted for keys some variable touches: supply, then demand, then lane capacity, then floors.
func buildProblem(views domain.Views, costWeight float64, floors Floors) (*problem, error) {
	origins := make(map[domain.SKU]map[domain.Location]struct{})
	for k, q := range views.Supply {
		if q <= 0 {
			continue
		}
		if origins[k.SKU] == nil {
			origins[k.SKU] = make(map[domain.Location]struct{})
		}
		origins[k.SKU][k.Warehouse] = struct{}{}
	}
	dests := make(map[domain.SKU]map[domain.Location]struct{})
	for k, q := range views.Demand {
		if q <= 0 {
			continue
		}
		if dests[k.SKU] == nil {
			dests[k.SKU] = make(map[domain.Location]struct{})
		}
		dests[k.SKU][k.City] = struct{}{}
	}

	skus := make([]domain.SKU, 0, len(origins))
	for sku := range origins {
		if _, ok := dests[sku]; ok {
			skus = append(skus, sku)
		}
	}
	sort.Slice(skus, func(i, j int) bool { return skus[i] < skus[j] })

	p := &problem{
		model:  &Model{Maximize: true},
		supply: make(map[domain.SupplyKey]domain.Quantity),
		demand: make(map[domain.DemandKey]domain.Quantity),
		lanes:  make(map[domain.LaneKey]domain.Quantity),
	}
	supplyVars := make(map[domain.SupplyKey][]int)
	demandVars := make(map[domain.DemandKey][]int)
	laneVars := make(map[domain.LaneKey][]int)

	for _, sku := range skus {
		destList := sortedLocations(dests[sku])
		for _, origin := range sortedLocations(origins[sku]) {
			for _, dest := range destList {
				lk := domain.LaneKey{Origin: origin, Destination: dest}
				lane, ok := views.Lanes[lk]
				if !ok || lane.Capacity <= 0 {
					continue
				}
				j := len(p.model.Variables)
				p.model.Variables = append(p.model.Variables, Variable{
					SKU: sku, Origin: origin, Destination: dest, UnitCost: lane.UnitCost,
				})
				p.model.Objective = append(p.model.Objective, 1-costWeight*lane.UnitCost)
				if lane.UnitCost > p.maxCost {
					p.maxCost = lane.UnitCost
				}

				sk := domain.SupplyKey{SKU: sku, Warehouse: origin}
				dk := domain.DemandKey{SKU: sku, City: dest}
				supplyVars[sk] = append(supplyVars[sk], j)
				demandVars[dk] = append(demandVars[dk], j)
				laneVars[lk] = append(laneVars[lk], j)
				p.supply[sk] = views.Supply[sk]
				p.demand[dk] = views.Demand[dk]
				p.lanes[lk] = lane.Capacity
			}
		}
	}

	supplyKeys := make([]domain.SupplyKey, 0, len(supplyVars))
	for k := range supplyVars {
		supplyKeys = append(supplyKeys, k)
	}
	sort.Slice(supplyKeys, func(i, j int) bool {
		if supplyKeys[i].SKU != supplyKeys[j].SKU {
			return supplyKeys[i].SKU < supplyKeys[j].SKU
		}
		return supplyKeys[i].Warehouse < supplyKeys[j].Warehouse
	})
	for _, k := range supplyKeys {
		p.model.Rows = append(p.model.Rows, Constraint{
			Name:  fmt.Sprintf("supply[%s,%s]", k.SKU, k.Warehouse),
			Terms: unitTerms(supplyVars[k]),
			Sense: LessEqual,
			RHS:   float64(p.supply[k]),
		})
	}

	demandKeys := sortedDemandKeys(demandVars)
	for _, k := range demandKeys {
		p.model.Rows = append(p.model.Rows, Constraint{
			Name:  fmt.Sprintf("demand[%s,%s]", k.SKU, k.City),
			Terms: unitTerms(demandVars[k]),
			Sense: LessEqual,
			RHS:   float64(p.demand[k]),
		})
	}

	laneKeys := make([]domain.LaneKey, 0, len(laneVars))
	for k := range laneVars {
		laneKeys = append(laneKeys, k)
	}
	sort.Slice(laneKeys, func(i, j int) bool {
		if laneKeys[i].Origin != laneKeys[j].Origin {
			return laneKeys[i].Origin < laneKeys[j].Origin
		}
		return laneKeys[i].Destination < laneKeys[j].Destination
	})
	for _, k := range laneKeys {
		p.model.Rows = append(p.model.Rows, Constraint{
			Name:  fmt.Sprintf("capacity[%s,%s]", k.Origin, k.Destination),
			Terms: unitTerms(laneVars[k]),
			Sense: LessEqual,
			RHS:   float64(p.lanes[k]),
		})
	}

	floorVars := make(map[domain.DemandKey][]int, len(floors))
	for k, atLeast := range floors {
		if atLeast > 0 {
			floorVars[k] = demandVars[k]
		}
	}
	for _, k := range sortedDemandKeys(floorVars) {
		atLeast := floors[k]
		if len(floorVars[k]) == 0 {
			return nil, &domain.InfeasibleModelError{Reason: fmt.Sprintf("floor of %d for %s at %s has no supply route", atLeast, k.SKU, k.City)}
		}
		if atLeast > views.Demand[k] {
			return nil, &domain.InfeasibleModelError{Reason: fmt.Sprintf("floor of %d for %s at %s exceeds demand %d", atLeast, k.SKU, k.City, views.Demand[k])}
		}
		p.floors = append(p.floors, floorRow{key: k, min: atLeast, vars: floorVars[k]})
		p.model.Rows = append(p.model.Rows, Constraint{
			Name:  fmt.Sprintf("floor[%s,%s]", k.SKU, k.City),
			Terms: unitTerms(floorVars[k]),
			Sense: GreaterEqual,
			RHS:   float64(atLeast),
		})
	}

	return p, nil
}

func unitTerms(vars []int) []Term {
	terms := make([]Term, len(vars))
	for i, j := range vars {
		terms[i] = Term{Var: j, Coef: 1}
	}
	return terms
}

func sortedDemandKeys[V any](m map[domain.DemandKey]V) []domain.DemandKey {
	keys := make([]domain.DemandKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SKU != keys[j].SKU {
			return keys[i].SKU < keys[j].SKU
		}
		return keys[i].City < keys[j].City
	})
	return keys
}
