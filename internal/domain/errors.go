package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors, matched with errors.Is against the typed errors below.
var (
	ErrDataQuality   = errors.New("data quality check failed")
	ErrInfeasible    = errors.New("allocation model is infeasible")
	ErrSolverTimeout = errors.New("solver exceeded time budget")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Rejection describes one input row removed during reconciliation
type Rejection struct {
	Table  string                 `json:"table"`
	Line   int                    `json:"line"`
	Reason string                 `json:"reason"`
	Row    map[string]interface{} `json:"row,omitempty"`
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s line %d: %s", r.Table, r.Line, r.Reason)
}

// DataQualityError reports rows rejected during reconciliation
type DataQualityError struct {
	Rejections []Rejection
}

func (e *DataQualityError) Error() string {
	if len(e.Rejections) == 0 {
		return ErrDataQuality.Error()
	}
	parts := make([]string, 0, 3)
	for i, r := range e.Rejections {
		if i == 3 {
			break
		}
		parts = append(parts, r.String())
	}
	msg := fmt.Sprintf("%s: %d row(s) rejected (%s", ErrDataQuality, len(e.Rejections), strings.Join(parts, "; "))
	if len(e.Rejections) > 3 {
		msg += "; ..."
	}
	return msg + ")"
}

func (e *DataQualityError) Unwrap() error { return ErrDataQuality }

// InfeasibleModelError reports that hard constraints cannot be met
type InfeasibleModelError struct {
	Reason string
}

func (e *InfeasibleModelError) Error() string {
	if e.Reason == "" {
		return ErrInfeasible.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInfeasible, e.Reason)
}

func (e *InfeasibleModelError) Unwrap() error { return ErrInfeasible }

// SolverTimeoutError reports that the LP solve exceeded its wall-clock budget
type SolverTimeoutError struct {
	Timeout time.Duration
}

func (e *SolverTimeoutError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrSolverTimeout, e.Timeout)
}

func (e *SolverTimeoutError) Unwrap() error { return ErrSolverTimeout }

// ConfigurationError reports an invalid parameter value
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s=%v: %s", ErrInvalidConfig, e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfig }

// ErrorKind classifies an error for structured run reports
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDataQuality):
		return "data_quality"
	case errors.Is(err, ErrInfeasible):
		return "infeasible"
	case errors.Is(err, ErrSolverTimeout):
		return "solver_timeout"
	case errors.Is(err, ErrInvalidConfig):
		return "configuration"
	default:
		return "internal"
	}
}
