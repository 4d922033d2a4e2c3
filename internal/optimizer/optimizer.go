package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// DefaultCostWeight keeps one unit of fulfilment worth more than any lane cost below 1000
	DefaultCostWeight   = 0.001
	DefaultSolveTimeout = 30 * time.Second

	roundingTolerance = 1e-6
)

// Config carries the tunables of one optimization run
type Config struct {
	// CostWeight is λ in Σx − λ·Σ(cost·x)
	CostWeight float64
	// SolveTimeout bounds the solver call. Zero disables the budget.
	SolveTimeout time.Duration
	Floors       Floors
}

func DefaultConfig() Config {
	return Config{CostWeight: DefaultCostWeight, SolveTimeout: DefaultSolveTimeout}
}

func (c Config) Validate() error {
	if math.IsNaN(c.CostWeight) || math.IsInf(c.CostWeight, 0) || c.CostWeight < 0 {
		return &domain.ConfigurationError{Field: "cost_weight", Value: c.CostWeight, Reason: "must be a finite number >= 0"}
	}
	if c.SolveTimeout < 0 {
		return &domain.ConfigurationError{Field: "solve_timeout", Value: c.SolveTimeout, Reason: "must be >= 0"}
	}
	for k, q := range c.Floors {
		if q < 0 {
			return &domain.ConfigurationError{Field: "floors", Value: fmt.Sprintf("%s@%s=%d", k.SKU, k.City, q), Reason: "must be >= 0"}
		}
	}
	return nil
}

// LaneUtilization is the load on one lane
type LaneUtilization struct {
	Origin        domain.Location `json:"origin"`
	Destination   domain.Location `json:"destination"`
	Allocated     domain.Quantity `json:"allocated"`
	Capacity      domain.Quantity `json:"capacity"`
	UnitCost      float64         `json:"unit_cost"`
	TransportCost decimal.Decimal `json:"transport_cost"`
	Utilization   domain.Metric   `json:"utilization"`
}

// SupplyBalance is what remains at a warehouse after allocation
type SupplyBalance struct {
	SKU       domain.SKU      `json:"sku"`
	Warehouse domain.Location `json:"warehouse"`
	Supply    domain.Quantity `json:"supply"`
	Allocated domain.Quantity `json:"allocated"`
	Remaining domain.Quantity `json:"remaining"`
}

// Result is the integer allocation plan and its derived figures
type Result struct {
	Status          Status                            `json:"status"`
	Plan            *domain.AllocationPlan            `json:"plan,omitempty"`
	Objective       float64                           `json:"objective"`
	LPObjective     float64                           `json:"lp_objective"`
	FulfilledUnits  domain.Quantity                   `json:"fulfilled_units"`
	TransportCost   decimal.Decimal                   `json:"transport_cost"`
	FillBySKU       map[domain.SKU]domain.Metric      `json:"fill_by_sku"`
	FillByCity      map[domain.Location]domain.Metric `json:"fill_by_city"`
	LaneUtilization []LaneUtilization                 `json:"lane_utilization"`
	RemainingSupply []SupplyBalance                   `json:"remaining_supply"`
	Variables       int                               `json:"variables"`
	Constraints     int                               `json:"constraints"`
	SolveTime       time.Duration                     `json:"solve_time_ns"`
}

// Optimizer turns reconciled views into an allocation plan
type Optimizer struct {
	solver Solver
	log    zerolog.Logger
}

// New returns an optimizer backed by solver, or by gonum's simplex when solver is nil
func New(solver Solver, log zerolog.Logger) *Optimizer {
	if solver == nil {
		solver = NewGonumSolver()
	}
	return &Optimizer{
		solver: solver,
		log:    log.With().Str("component", "optimizer").Logger(),
	}
}

// Optimize builds the LP from views, solves it under the configured time budget and rounds the
// solution into an integer plan. Infeasible floors and timeouts return a Result with the
// matching status, no plan, and a typed error.
func (o *Optimizer) Optimize(ctx context.Context, views domain.Views, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := buildProblem(views, cfg.CostWeight, cfg.Floors)
	if err != nil {
		var inf *domain.InfeasibleModelError
		if errors.As(err, &inf) {
			o.log.Warn().Str("reason", inf.Reason).Msg("Allocation model is infeasible")
			return &Result{Status: StatusInfeasible}, err
		}
		return nil, err
	}
	if cfg.CostWeight*p.maxCost >= 1 {
		o.log.Warn().
			Float64("cost_weight", cfg.CostWeight).
			Float64("max_unit_cost", p.maxCost).
			Msg("Cost penalty can outweigh fulfilment on some lanes")
	}

	o.log.Debug().
		Int("variables", len(p.model.Variables)).
		Int("constraints", len(p.model.Rows)).
		Msg("Allocation model built")

	start := time.Now()
	sol, err := o.solve(ctx, p.model, cfg.SolveTimeout)
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSolverTimeout):
			o.log.Error().Dur("timeout", cfg.SolveTimeout).Msg("Solver exceeded its time budget")
			return &Result{Status: StatusTimeout, SolveTime: elapsed}, err
		case errors.Is(err, domain.ErrInfeasible):
			o.log.Warn().Err(err).Msg("Allocation model is infeasible")
			return &Result{Status: StatusInfeasible, SolveTime: elapsed}, err
		default:
			return nil, fmt.Errorf("failed to solve allocation model: %w", err)
		}
	}
	if sol.Status != StatusOptimal {
		return nil, fmt.Errorf("solver returned status %s without an error", sol.Status)
	}

	quantities := p.integerize(sol.Values)
	res := o.summarize(p, views, quantities)
	res.LPObjective = sol.Objective
	res.SolveTime = elapsed

	o.log.Info().
		Int("variables", res.Variables).
		Int64("fulfilled_units", int64(res.FulfilledUnits)).
		Str("transport_cost", res.TransportCost.StringFixed(2)).
		Float64("objective", res.Objective).
		Dur("solve_time", elapsed).
		Msg("Allocation optimized")
	return res, nil
}

type solveOutcome struct {
	sol Solution
	err error
}

// solve runs the solver in its own goroutine so the caller can stop waiting at the deadline.
// The solver itself is not interrupted; its result is discarded.
func (o *Optimizer) solve(ctx context.Context, m *Model, timeout time.Duration) (Solution, error) {
	if len(m.Variables) == 0 {
		return o.solver.Solve(ctx, m)
	}

	done := make(chan solveOutcome, 1)
	go func() {
		sol, err := o.solver.Solve(ctx, m)
		done <- solveOutcome{sol: sol, err: err}
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case out := <-done:
		return out.sol, out.err
	case <-deadline:
		return Solution{Status: StatusTimeout}, &domain.SolverTimeoutError{Timeout: timeout}
	case <-ctx.Done():
		return Solution{Status: StatusError}, ctx.Err()
	}
}

// integerize floors the LP values and then repairs the plan: unmet floors first, then every
// variable with a positive net benefit in (benefit desc, SKU, origin, destination) order.
func (p *problem) integerize(values []float64) []domain.Quantity {
	vars := p.model.Variables
	q := make([]domain.Quantity, len(vars))
	for j := range vars {
		if j < len(values) {
			v := math.Floor(values[j] + roundingTolerance)
			if v > 0 {
				q[j] = domain.Quantity(v)
			}
		}
	}

	supplyLeft := make(map[domain.SupplyKey]domain.Quantity, len(p.supply))
	for k, v := range p.supply {
		supplyLeft[k] = v
	}
	demandLeft := make(map[domain.DemandKey]domain.Quantity, len(p.demand))
	for k, v := range p.demand {
		demandLeft[k] = v
	}
	laneLeft := make(map[domain.LaneKey]domain.Quantity, len(p.lanes))
	for k, v := range p.lanes {
		laneLeft[k] = v
	}
	keys := func(j int) (domain.SupplyKey, domain.DemandKey, domain.LaneKey) {
		v := vars[j]
		return domain.SupplyKey{SKU: v.SKU, Warehouse: v.Origin},
			domain.DemandKey{SKU: v.SKU, City: v.Destination},
			domain.LaneKey{Origin: v.Origin, Destination: v.Destination}
	}
	for j := range vars {
		sk, dk, lk := keys(j)
		supplyLeft[sk] -= q[j]
		demandLeft[dk] -= q[j]
		laneLeft[lk] -= q[j]
	}

	// trim any overshoot left by floating point noise, latest variables first
	for j := len(vars) - 1; j >= 0; j-- {
		sk, dk, lk := keys(j)
		over := maxQty(-supplyLeft[sk], -demandLeft[dk], -laneLeft[lk])
		if over <= 0 {
			continue
		}
		if over > q[j] {
			over = q[j]
		}
		q[j] -= over
		supplyLeft[sk] += over
		demandLeft[dk] += over
		laneLeft[lk] += over
	}

	headroom := func(j int) domain.Quantity {
		sk, dk, lk := keys(j)
		h := minQty(supplyLeft[sk], demandLeft[dk], laneLeft[lk])
		if h < 0 {
			return 0
		}
		return h
	}
	add := func(j int, n domain.Quantity) {
		sk, dk, lk := keys(j)
		q[j] += n
		supplyLeft[sk] -= n
		demandLeft[dk] -= n
		laneLeft[lk] -= n
	}

	order := make([]int, len(vars))
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		ba, bb := p.model.Objective[order[a]], p.model.Objective[order[b]]
		if ba != bb {
			return ba > bb
		}
		return order[a] < order[b]
	})

	for _, f := range p.floors {
		var have domain.Quantity
		for _, j := range f.vars {
			have += q[j]
		}
		unmet := f.min - have
		for _, j := range order {
			if unmet <= 0 {
				break
			}
			if !containsInt(f.vars, j) {
				continue
			}
			n := minQty(unmet, headroom(j))
			if n > 0 {
				add(j, n)
				unmet -= n
			}
		}
	}

	for _, j := range order {
		if p.model.Objective[j] <= 0 {
			break
		}
		if n := headroom(j); n > 0 {
			add(j, n)
		}
	}
	return q
}

func (o *Optimizer) summarize(p *problem, views domain.Views, q []domain.Quantity) *Result {
	res := &Result{
		Status:        StatusOptimal,
		TransportCost: decimal.Zero,
		FillBySKU:     make(map[domain.SKU]domain.Metric),
		FillByCity:    make(map[domain.Location]domain.Metric),
		Variables:     len(p.model.Variables),
		Constraints:   len(p.model.Rows),
	}

	lines := make([]domain.Allocation, 0, len(q))
	for j, v := range p.model.Variables {
		if q[j] <= 0 {
			continue
		}
		lines = append(lines, domain.Allocation{
			SKU: v.SKU, Origin: v.Origin, Destination: v.Destination, Quantity: q[j], UnitCost: v.UnitCost,
		})
		res.Objective += p.model.Objective[j] * float64(q[j])
	}
	res.Plan = domain.NewAllocationPlan(lines)
	res.FulfilledUnits = res.Plan.Total()

	laneKeys := make([]domain.LaneKey, 0, len(views.Lanes))
	for k := range views.Lanes {
		laneKeys = append(laneKeys, k)
	}
	sort.Slice(laneKeys, func(i, j int) bool {
		if laneKeys[i].Origin != laneKeys[j].Origin {
			return laneKeys[i].Origin < laneKeys[j].Origin
		}
		return laneKeys[i].Destination < laneKeys[j].Destination
	})
	for _, k := range laneKeys {
		lane := views.Lanes[k]
		load := res.Plan.LaneLoad(k.Origin, k.Destination)
		cost := decimal.NewFromFloat(lane.UnitCost).Mul(decimal.NewFromInt(int64(load)))
		res.TransportCost = res.TransportCost.Add(cost)

		util := domain.NotApplicable()
		if lane.Capacity > 0 {
			util = domain.Defined(float64(load) / float64(lane.Capacity))
		} else if load == 0 {
			util = domain.Defined(0)
		}
		res.LaneUtilization = append(res.LaneUtilization, LaneUtilization{
			Origin:        k.Origin,
			Destination:   k.Destination,
			Allocated:     load,
			Capacity:      lane.Capacity,
			UnitCost:      lane.UnitCost,
			TransportCost: cost,
			Utilization:   util,
		})
	}

	skuDemand := make(map[domain.SKU]domain.Quantity)
	cityDemand := make(map[domain.Location]domain.Quantity)
	for k, d := range views.Demand {
		skuDemand[k.SKU] += d
		cityDemand[k.City] += d
	}
	cityDelivered := make(map[domain.Location]domain.Quantity)
	for _, l := range res.Plan.Lines {
		cityDelivered[l.Destination] += l.Quantity
	}
	for sku, d := range skuDemand {
		res.FillBySKU[sku] = ratio(res.Plan.DeliveredBySKU(sku), d)
	}
	for city, d := range cityDemand {
		res.FillByCity[city] = ratio(cityDelivered[city], d)
	}

	supplyKeys := make([]domain.SupplyKey, 0, len(views.Supply))
	for k := range views.Supply {
		supplyKeys = append(supplyKeys, k)
	}
	sort.Slice(supplyKeys, func(i, j int) bool {
		if supplyKeys[i].SKU != supplyKeys[j].SKU {
			return supplyKeys[i].SKU < supplyKeys[j].SKU
		}
		return supplyKeys[i].Warehouse < supplyKeys[j].Warehouse
	})
	for _, k := range supplyKeys {
		shipped := res.Plan.Shipped(k.SKU, k.Warehouse)
		res.RemainingSupply = append(res.RemainingSupply, SupplyBalance{
			SKU:       k.SKU,
			Warehouse: k.Warehouse,
			Supply:    views.Supply[k],
			Allocated: shipped,
			Remaining: views.Supply[k] - shipped,
		})
	}
	return res
}

func ratio(num, den domain.Quantity) domain.Metric {
	if den <= 0 {
		if num > 0 {
			return domain.NotApplicable()
		}
		return domain.Defined(0)
	}
	return domain.Defined(float64(num) / float64(den))
}

func minQty(first domain.Quantity, rest ...domain.Quantity) domain.Quantity {
	m := first
	for _, v := range rest {
		if v < m {
			m = v
		}
	}
	return m
}

func maxQty(first domain.Quantity, rest ...domain.Quantity) domain.Quantity {
	m := first
	for _, v := range rest {
		if v > m {
			m = v
		}
	}
	return m
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
