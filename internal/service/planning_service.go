package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresuchdata/supplyplan/internal/cache"
	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/internal/kpi"
	"github.com/andresuchdata/supplyplan/internal/loader"
	"github.com/andresuchdata/supplyplan/internal/optimizer"
	"github.com/andresuchdata/supplyplan/internal/pipeline"
	"github.com/andresuchdata/supplyplan/internal/reconcile"
	"github.com/andresuchdata/supplyplan/internal/report"
	"github.com/andresuchdata/supplyplan/internal/scenario"
	"github.com/andresuchdata/supplyplan/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoSnapshot is returned before any input snapshot has been loaded
var ErrNoSnapshot = errors.New("no input snapshot loaded")

// Options configure a PlanningService. When Inputs and InputPrefix are set, Reload first
// downloads the tables stored under InputPrefix into DataDir.
type Options struct {
	DataDir     string
	Pipeline    pipeline.PipelineConfig
	Reconcile   reconcile.Options
	Inputs      storage.ObjectStorage
	InputPrefix string
}

// KPIReport is the baseline KPI view served to the dashboard
type KPIReport struct {
	Summary    kpi.Summary       `json:"summary"`
	Allocation *optimizer.Result `json:"allocation,omitempty"`
	Rejected   int               `json:"rejected"`
	LoadedAt   time.Time         `json:"loaded_at"`
}

type snapshot struct {
	result      *reconcile.Result
	fingerprint string
	loadedAt    time.Time
}

// PlanningService owns the current input snapshot and runs KPI and scenario requests on it
type PlanningService struct {
	opts         Options
	loader       *loader.Loader
	reconciler   *reconcile.Reconciler
	orchestrator *pipeline.Orchestrator
	cache        cache.ResultCache
	writer       *report.Writer
	log          zerolog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// NewPlanningService wires the reconciler, optimizer and orchestrator. cacheImpl and writer
// may be nil.
func NewPlanningService(opts Options, ld *loader.Loader, cacheImpl cache.ResultCache, writer *report.Writer, log zerolog.Logger) *PlanningService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopResultCache()
	}
	rec := reconcile.NewReconciler(opts.Reconcile, log)
	opt := optimizer.New(nil, log)
	return &PlanningService{
		opts:         opts,
		loader:       ld,
		reconciler:   rec,
		orchestrator: pipeline.NewOrchestrator(opts.Pipeline, rec, opt, log),
		cache:        cacheImpl,
		writer:       writer,
		log:          log.With().Str("component", "planning_service").Logger(),
	}
}

// Reload reads the data directory and replaces the current snapshot
func (s *PlanningService) Reload(ctx context.Context) error {
	if s.loader == nil {
		return fmt.Errorf("planning service has no loader")
	}
	if s.opts.Inputs != nil && s.opts.InputPrefix != "" {
		paths, err := storage.DownloadPrefix(ctx, s.opts.Inputs, s.opts.InputPrefix, s.opts.DataDir)
		if err != nil {
			return fmt.Errorf("failed to sync inputs: %w", err)
		}
		s.log.Info().Str("prefix", s.opts.InputPrefix).Int("files", len(paths)).Msg("Inputs synced from object storage")
	}
	raw, err := s.loader.LoadDir(ctx, s.opts.DataDir)
	if err != nil {
		return err
	}
	_, err = s.LoadTables(ctx, raw)
	return err
}

// LoadFiles reads explicit table files and makes them the current snapshot
func (s *PlanningService) LoadFiles(ctx context.Context, files loader.Files) (*reconcile.Result, error) {
	if s.loader == nil {
		return nil, fmt.Errorf("planning service has no loader")
	}
	raw, err := s.loader.Load(ctx, files)
	if err != nil {
		return nil, err
	}
	return s.LoadTables(ctx, raw)
}

// LoadTables reconciles raw and makes it the current snapshot. Under the strict policy a
// rejected row leaves the previous snapshot in place.
func (s *PlanningService) LoadTables(ctx context.Context, raw reconcile.RawTables) (*reconcile.Result, error) {
	res, err := s.reconciler.Reconcile(raw)
	if err != nil {
		return res, fmt.Errorf("failed to reconcile inputs: %w", err)
	}
	fp, err := cache.Fingerprint(res.Dataset)
	if err != nil {
		return res, err
	}

	s.mu.Lock()
	s.snap = &snapshot{result: res, fingerprint: fp, loadedAt: time.Now()}
	s.mu.Unlock()

	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.log.Warn().Err(err).Msg("planning: cache invalidate failed")
	}
	s.log.Info().
		Str("fingerprint", fp).
		Int("orders", len(res.Dataset.Orders)).
		Int("rejected", len(res.Rejected)).
		Msg("Snapshot loaded")
	return res, nil
}

func (s *PlanningService) current() (*snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, ErrNoSnapshot
	}
	return s.snap, nil
}

// Rejections lists the rows quarantined while loading the current snapshot
func (s *PlanningService) Rejections(ctx context.Context) ([]domain.Rejection, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	out := snap.result.Rejected
	if out == nil {
		out = make([]domain.Rejection, 0)
	}
	return out, nil
}

// KPI computes the baseline KPIs. With withPlan the baseline is also optimized and
// fulfilment is measured against the plan.
func (s *PlanningService) KPI(ctx context.Context, withPlan bool) (*KPIReport, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	ds := snap.result.Dataset
	out := &KPIReport{Rejected: len(snap.result.Rejected), LoadedAt: snap.loadedAt}

	if !withPlan {
		out.Summary = kpi.NewEngine(ds, nil, nil, s.kpiOptions()).Summary()
		return out, nil
	}

	run := s.orchestrator.RunScenario(ctx, ds, scenario.Baseline())
	if run.KPI != nil {
		out.Summary = *run.KPI
	}
	out.Allocation = run.Allocation
	if run.Failed() {
		return out, run.Err
	}
	return out, nil
}

func (s *PlanningService) kpiOptions() kpi.Options {
	opts := s.opts.Pipeline.KPI
	if opts.HorizonWeeks == 0 {
		opts.HorizonWeeks = s.opts.Pipeline.Supply.HorizonWeeks
	}
	return opts
}

// RunScenarios runs the baseline plus params on the current snapshot. Results are cached by
// snapshot fingerprint and parameters.
func (s *PlanningService) RunScenarios(ctx context.Context, params []scenario.Params) (*pipeline.Batch, error) {
	set, err := scenario.NewSet(params)
	if err != nil {
		return nil, err
	}
	return s.RunSet(ctx, set)
}

// RunSet runs an already validated scenario set on the current snapshot. Only batches without
// failed runs are cached.
func (s *PlanningService) RunSet(ctx context.Context, set *scenario.Set) (*pipeline.Batch, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}

	key := cache.ScenarioKey(snap.fingerprint, s.opts.Pipeline.Optimizer.CostWeight, set.Scenarios)
	var cached pipeline.Batch
	if ok, err := s.cache.Get(ctx, key, &cached); err == nil && ok {
		s.log.Debug().Str("key", key).Msg("planning: scenario cache hit")
		cached.Base = snap.result
		return &cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Msg("planning: cache get failed")
	}

	reports, err := s.orchestrator.RunAll(ctx, snap.result.Dataset, set)
	batch := &pipeline.Batch{
		BatchID:    uuid.NewString(),
		Rejected:   snap.result.Rejected,
		Reports:    reports,
		Comparison: pipeline.Compare(reports),
		Base:       snap.result,
	}
	if err != nil {
		return batch, err
	}
	if n := batch.Failures(); n > 0 {
		s.log.Debug().Int("failed", n).Msg("planning: batch has failed runs, not caching")
		return batch, nil
	}

	if err := s.cache.Set(ctx, key, batch); err != nil {
		s.log.Warn().Err(err).Msg("planning: cache set failed")
	}
	return batch, nil
}

// WriteReports writes batch under the configured output directory
func (s *PlanningService) WriteReports(ctx context.Context, batch *pipeline.Batch) (*report.Manifest, error) {
	if s.writer == nil {
		return nil, fmt.Errorf("planning service has no report writer")
	}
	return s.writer.WriteBatch(ctx, batch)
}
