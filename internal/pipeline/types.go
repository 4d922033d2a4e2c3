package pipeline

import (
	"time"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/internal/kpi"
	"github.com/andresuchdata/supplyplan/internal/optimizer"
	"github.com/andresuchdata/supplyplan/internal/reconcile"
	"github.com/andresuchdata/supplyplan/internal/scenario"
)

// PipelineConfig holds configuration for scenario runs
type PipelineConfig struct {
	WorkerCount int // Number of scenarios run concurrently
	Optimizer   optimizer.Config
	KPI         kpi.Options
	Supply      domain.SupplyOptions
}

// DefaultPipelineConfig returns sensible defaults
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		WorkerCount: 4,
		Optimizer:   optimizer.DefaultConfig(),
		KPI:         kpi.Options{DefaultWindowDays: 30},
	}
}

// PipelineStatus represents the current state of a scenario run
type PipelineStatus string

const (
	StatusPending    PipelineStatus = "pending"
	StatusProcessing PipelineStatus = "processing"
	StatusCompleted  PipelineStatus = "completed"
	StatusFailed     PipelineStatus = "failed"
)

// RunReport is the structured outcome of one scenario run. A failed run carries its error
// kind and message and never a stand-in plan.
type RunReport struct {
	RunID       string            `json:"run_id"`
	Scenario    string            `json:"scenario"`
	Params      scenario.Params   `json:"params"`
	Status      PipelineStatus    `json:"status"`
	ErrorKind   string            `json:"error_kind,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Dataset     *domain.Dataset   `json:"-"`
	KPI         *kpi.Summary      `json:"kpi,omitempty"`
	Allocation  *optimizer.Result `json:"allocation,omitempty"`
	Metrics     PipelineMetrics   `json:"metrics"`
	Err         error             `json:"-"`
}

// Failed reports whether the run ended in error
func (r RunReport) Failed() bool {
	return r.Status == StatusFailed
}

// PipelineMetrics holds per-run figures for logs and reports
type PipelineMetrics struct {
	Orders      int           `json:"orders"`
	Variables   int           `json:"variables"`
	Constraints int           `json:"constraints"`
	Duration    time.Duration `json:"duration_ns"`
	SolveTime   time.Duration `json:"solve_time_ns"`
}

// Batch is a full run over one input snapshot: the reconciliation outcome plus every scenario
type Batch struct {
	BatchID    string             `json:"batch_id"`
	Rejected   []domain.Rejection `json:"rejected"`
	Reports    []RunReport        `json:"reports"`
	Comparison []ComparisonRow    `json:"comparison"`
	Base       *reconcile.Result  `json:"-"`
}

// Failures counts failed scenario runs
func (b *Batch) Failures() int {
	n := 0
	for _, r := range b.Reports {
		if r.Failed() {
			n++
		}
	}
	return n
}
