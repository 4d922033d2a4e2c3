package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/internal/kpi"
	"github.com/andresuchdata/supplyplan/internal/optimizer"
	"github.com/andresuchdata/supplyplan/internal/reconcile"
	"github.com/andresuchdata/supplyplan/internal/scenario"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Orchestrator reconciles one input snapshot and runs every scenario of a set against it.
type Orchestrator struct {
	cfg        PipelineConfig
	reconciler *reconcile.Reconciler
	optimizer  *optimizer.Optimizer
	log        zerolog.Logger
	newID      func() string
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(cfg PipelineConfig, reconciler *reconcile.Reconciler, opt *optimizer.Optimizer, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		reconciler: reconciler,
		optimizer:  opt,
		log:        log.With().Str("component", "pipeline").Logger(),
		newID:      func() string { return uuid.NewString() },
	}
}

// Run reconciles raw once and then runs every scenario of set on the clean dataset.
// Only reconciliation failures (strict policy) and cancellation abort the batch; scenario
// failures are recorded on their own reports.
func (o *Orchestrator) Run(ctx context.Context, raw reconcile.RawTables, set *scenario.Set) (*Batch, error) {
	batch := &Batch{BatchID: o.newID()}
	log := o.log.With().Str("batch_id", batch.BatchID).Logger()

	base, err := o.reconciler.Reconcile(raw)
	if base != nil {
		batch.Rejected = base.Rejected
		batch.Base = base
	}
	if err != nil {
		log.Error().Err(err).Int("rejected", len(batch.Rejected)).Msg("Reconciliation failed")
		return batch, fmt.Errorf("failed to reconcile inputs: %w", err)
	}

	log.Info().
		Int("scenarios", len(set.Scenarios)).
		Int("rejected", len(base.Rejected)).
		Msg("Starting scenario runs")

	reports, err := o.RunAll(ctx, base.Dataset, set)
	batch.Reports = reports
	batch.Comparison = Compare(reports)
	if err != nil {
		return batch, err
	}

	log.Info().
		Int("scenarios", len(reports)).
		Int("failed", batch.Failures()).
		Msg("Scenario runs completed")
	return batch, nil
}

// RunScenario applies p to base, optimizes the allocation and computes KPIs against the plan.
// It never returns an error: failures are captured on the report.
func (o *Orchestrator) RunScenario(ctx context.Context, base *domain.Dataset, p scenario.Params) (report RunReport) {
	report = RunReport{
		RunID:     o.newID(),
		Scenario:  p.Name,
		Params:    p,
		Status:    StatusProcessing,
		StartedAt: time.Now(),
	}
	log := o.log.With().Str("run_id", report.RunID).Str("scenario", p.Name).Logger()

	defer func() {
		if r := recover(); r != nil {
			o.fail(&report, fmt.Errorf("scenario panicked: %v", r))
		}
		report.CompletedAt = time.Now()
		report.Metrics.Duration = report.CompletedAt.Sub(report.StartedAt)
		if report.Failed() {
			log.Error().Str("error_kind", report.ErrorKind).Str("error", report.Error).Msg("Scenario failed")
			return
		}
		log.Info().Dur("duration", report.Metrics.Duration).Msg("Scenario completed")
	}()

	log.Debug().Str("params", p.String()).Msg("Applying scenario")
	ds, err := scenario.Apply(p, base)
	if err != nil {
		o.fail(&report, err)
		return report
	}
	report.Dataset = ds
	report.Metrics.Orders = len(ds.Orders)

	optCfg := o.cfg.Optimizer
	if p.CostWeight != nil {
		optCfg.CostWeight = *p.CostWeight
	}
	views := domain.BuildViews(ds, o.cfg.Supply)
	res, err := o.optimizer.Optimize(ctx, views, optCfg)

	var plan *domain.AllocationPlan
	if res != nil {
		report.Allocation = res
		report.Metrics.Variables = res.Variables
		report.Metrics.Constraints = res.Constraints
		report.Metrics.SolveTime = res.SolveTime
		plan = res.Plan
	}

	kpiOpts := o.cfg.KPI
	if kpiOpts.HorizonWeeks == 0 {
		kpiOpts.HorizonWeeks = o.cfg.Supply.HorizonWeeks
	}
	summary := kpi.NewEngine(ds, plan, nil, kpiOpts).Summary()
	report.KPI = &summary

	if err != nil {
		o.fail(&report, err)
		return report
	}
	report.Status = StatusCompleted
	return report
}

func (o *Orchestrator) fail(report *RunReport, err error) {
	report.Status = StatusFailed
	report.Err = err
	report.Error = err.Error()
	report.ErrorKind = domain.ErrorKind(err)
}
