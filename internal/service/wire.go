package service

import (
	"context"
	"fmt"

	"github.com/andresuchdata/supplyplan/internal/cache"
	"github.com/andresuchdata/supplyplan/internal/config"
	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/internal/kpi"
	"github.com/andresuchdata/supplyplan/internal/loader"
	"github.com/andresuchdata/supplyplan/internal/optimizer"
	"github.com/andresuchdata/supplyplan/internal/pipeline"
	"github.com/andresuchdata/supplyplan/internal/reconcile"
	"github.com/andresuchdata/supplyplan/internal/report"
	"github.com/andresuchdata/supplyplan/internal/storage"
	"github.com/rs/zerolog"
)

// OptionsFromConfig maps process configuration onto service options
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	policy, err := reconcile.ParsePolicy(cfg.Reconcile.QuarantinePolicy)
	if err != nil {
		return Options{}, err
	}

	supply := domain.SupplyOptions{
		HorizonWeeks:          cfg.Optimizer.HorizonWeeks,
		DefaultProductionSite: domain.Location(cfg.Optimizer.DefaultProductionSite),
	}
	return Options{
		DataDir: cfg.App.DataDir,
		Pipeline: pipeline.PipelineConfig{
			WorkerCount: cfg.Pipeline.Workers,
			Optimizer: optimizer.Config{
				CostWeight:   cfg.Optimizer.CostWeight,
				SolveTimeout: cfg.Optimizer.SolveTimeout(),
			},
			KPI: kpi.Options{
				DefaultWindowDays: cfg.Reconcile.DemandWindowDays,
				HorizonWeeks:      cfg.Optimizer.HorizonWeeks,
			},
			Supply: supply,
		},
		Reconcile: reconcile.Options{Policy: policy, Supply: supply},
	}, nil
}

// NewStorage returns the configured object storage, or nil when uploads are disabled
func NewStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := storage.NewMinioClient(storage.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// NewFromConfig builds a PlanningService with its cache, loader and report writer
func NewFromConfig(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*PlanningService, error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	resultCache, err := cache.NewResultCache(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize result cache: %w", err)
	}
	store, err := NewStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report storage: %w", err)
	}

	if store != nil && cfg.Storage.InputPrefix != "" {
		opts.Inputs = store
		opts.InputPrefix = cfg.Storage.InputPrefix
	}

	writer := report.NewWriter(cfg.App.OutputDir, store, cfg.Storage.Prefix, log)
	return NewPlanningService(opts, loader.New(log), resultCache, writer, log), nil
}
