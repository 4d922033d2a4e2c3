package optimizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Status is the outcome of an optimization
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusInfeasible Status = "INFEASIBLE"
	StatusTimeout    Status = "TIMEOUT"
	StatusError      Status = "ERROR"
)

// Solution holds variable values in model order
type Solution struct {
	Status    Status
	Values    []float64
	Objective float64
}

// Solver solves a Model. Implementations must not retain the model.
type Solver interface {
	Solve(ctx context.Context, m *Model) (Solution, error)
}

// DefaultTolerance is the simplex pivot tolerance
const DefaultTolerance = 1e-9

// GonumSolver runs gonum's simplex on the standard form of the model
type GonumSolver struct {
	Tolerance float64
}

func NewGonumSolver() *GonumSolver {
	return &GonumSolver{Tolerance: DefaultTolerance}
}

// Solve converts every row to an equality with one slack column. The slack columns form the
// starting basis when each row can be written with a +1 slack and a non-negative RHS;
// otherwise gonum searches for a feasible basis itself.
func (s *GonumSolver) Solve(ctx context.Context, m *Model) (sol Solution, err error) {
	defer func() {
		if r := recover(); r != nil {
			sol, err = Solution{Status: StatusError}, fmt.Errorf("simplex panicked: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return Solution{Status: StatusError}, err
	}
	if err := m.Validate(); err != nil {
		return Solution{Status: StatusError}, err
	}

	n := len(m.Variables)
	rows := len(m.Rows)
	if n == 0 {
		for _, row := range m.Rows {
			if (row.Sense == GreaterEqual && row.RHS > 0) || (row.Sense == LessEqual && row.RHS < 0) {
				return Solution{Status: StatusInfeasible}, &domain.InfeasibleModelError{Reason: fmt.Sprintf("row %s cannot hold without variables", row.Name)}
			}
		}
		return Solution{Status: StatusOptimal, Values: []float64{}}, nil
	}

	if rows == 0 {
		for _, v := range m.Objective {
			if (m.Maximize && v > 0) || (!m.Maximize && v < 0) {
				return Solution{Status: StatusError}, fmt.Errorf("simplex: %w", lp.ErrUnbounded)
			}
		}
		return Solution{Status: StatusOptimal, Values: make([]float64, n)}, nil
	}

	cols := n + rows
	a := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	slackBasis := true
	for i, row := range m.Rows {
		sign, slack := 1.0, 1.0
		if row.Sense == GreaterEqual {
			slack = -1
		}
		switch {
		case row.Sense == LessEqual && row.RHS >= 0:
		case row.Sense == GreaterEqual && row.RHS <= 0:
			// -Σ + s = -RHS keeps a +1 slack
			sign = -1
		default:
			slackBasis = false
		}
		for _, t := range row.Terms {
			a.Set(i, t.Var, a.At(i, t.Var)+sign*t.Coef)
		}
		a.Set(i, n+i, sign*slack)
		b[i] = sign * row.RHS
	}

	c := make([]float64, cols)
	for j, v := range m.Objective {
		if m.Maximize {
			c[j] = -v
		} else {
			c[j] = v
		}
	}

	var basis []int
	if slackBasis {
		basis = make([]int, rows)
		for i := range basis {
			basis[i] = n + i
		}
	}

	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	optF, optX, err := lp.Simplex(c, a, b, tol, basis)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return Solution{Status: StatusInfeasible}, &domain.InfeasibleModelError{Reason: "no allocation satisfies every constraint"}
		}
		return Solution{Status: StatusError}, fmt.Errorf("simplex: %w", err)
	}

	obj := optF
	if m.Maximize {
		obj = -optF
	}
	values := make([]float64, n)
	copy(values, optX[:n])
	return Solution{Status: StatusOptimal, Values: values, Objective: obj}, nil
}
