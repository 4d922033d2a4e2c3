// Package optimizer allocates supply to demand across capacity-limited lanes with a linear
// program. The model is a plain data structure; any Solver can back it.
package optimizer

import (
	"fmt"

	"github.com/andresuchdata/supplyplan/internal/domain"
)

// Sense is the direction of a constraint row
type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
)

func (s Sense) String() string {
	if s == GreaterEqual {
		return ">="
	}
	return "<="
}

// Term is one non-zero coefficient of a constraint row
type Term struct {
	Var  int
	Coef float64
}

// Constraint is a sparse row: Σ Coef·x[Var] (Sense) RHS
type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Variable is a shipment of SKU from Origin to Destination
type Variable struct {
	SKU         domain.SKU
	Origin      domain.Location
	Destination domain.Location
	UnitCost    float64
}

func (v Variable) Name() string {
	return fmt.Sprintf("x[%s,%s,%s]", v.SKU, v.Origin, v.Destination)
}

// Model is a linear program over non-negative variables
type Model struct {
	Variables []Variable
	Objective []float64
	Rows      []Constraint
	Maximize  bool
}

// Evaluate returns the objective value of x
func (m *Model) Evaluate(x []float64) float64 {
	var total float64
	for j, c := range m.Objective {
		if j < len(x) {
			total += c * x[j]
		}
	}
	return total
}

// Feasible reports whether x satisfies every row and non-negativity within tol
func (m *Model) Feasible(x []float64, tol float64) bool {
	for _, v := range x {
		if v < -tol {
			return false
		}
	}
	for _, row := range m.Rows {
		var lhs float64
		for _, t := range row.Terms {
			lhs += t.Coef * x[t.Var]
		}
		switch row.Sense {
		case LessEqual:
			if lhs > row.RHS+tol {
				return false
			}
		case GreaterEqual:
			if lhs < row.RHS-tol {
				return false
			}
		}
	}
	return true
}

// Validate checks the model's shape
func (m *Model) Validate() error {
	if len(m.Objective) != len(m.Variables) {
		return fmt.Errorf("objective has %d coefficients for %d variables", len(m.Objective), len(m.Variables))
	}
	for i, row := range m.Rows {
		for _, t := range row.Terms {
			if t.Var < 0 || t.Var >= len(m.Variables) {
				return fmt.Errorf("row %d (%s) references unknown variable %d", i, row.Name, t.Var)
			}
		}
	}
	return nil
}
