package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/andresuchdata/supplyplan/internal/config"
	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/internal/pipeline"
	"github.com/andresuchdata/supplyplan/internal/report"
	"github.com/andresuchdata/supplyplan/internal/scenario"
	"github.com/andresuchdata/supplyplan/internal/service"
	"github.com/andresuchdata/supplyplan/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

// flagKeys maps CLI flags onto configuration keys
var flagKeys = map[string]string{
	"data-dir":    "APP_DATA_DIR",
	"output":      "APP_OUTPUT_DIR",
	"cost-weight": "OPTIMIZER_COST_WEIGHT",
	"policy":      "RECONCILE_QUARANTINE_POLICY",
	"workers":     "PIPELINE_WORKERS",
	"log-level":   "LOG_LEVEL",
}

// loadConfig reads the environment and lets explicitly set flags override it
func loadConfig(c *cli.Context) *config.Config {
	v := viper.New()
	v.AutomaticEnv()
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			v.Set(key, c.Value(flag))
		}
	}
	return config.LoadFrom(v)
}

// setup configures logging and builds a planning service loaded from the data directory
func setup(c *cli.Context) (*config.Config, *service.PlanningService, zerolog.Logger, error) {
	cfg := loadConfig(c)
	logger.SetLevel(cfg.App.LogLevel)
	if c.Bool("json-logs") || strings.EqualFold(cfg.App.LogFormat, "json") {
		logger.UseJSON(os.Stderr)
	}
	log := logger.Component("planner")

	svc, err := service.NewFromConfig(c.Context, cfg, log)
	if err != nil {
		return nil, nil, log, err
	}
	if err := svc.Reload(c.Context); err != nil {
		return nil, nil, log, fmt.Errorf("failed to load %s: %w", cfg.App.DataDir, err)
	}
	return cfg, svc, log, nil
}

func runKPI(c *cli.Context) error {
	cfg, svc, log, err := setup(c)
	if err != nil {
		return err
	}

	out, kpiErr := svc.KPI(c.Context, c.Bool("plan"))
	if out == nil {
		return kpiErr
	}
	rejected, err := svc.Rejections(c.Context)
	if err != nil {
		return err
	}
	if err := writeBatch(c.Context, svc, baselineBatch(out, kpiErr, rejected), cfg, log); err != nil {
		return err
	}

	t := out.Summary.Totals
	fmt.Fprintf(c.App.Writer, "demand %d  supply %d  fulfilled %d  fill rate %s  otif %s  days of cover %s\n",
		t.TotalDemand, t.TotalSupply, t.Fulfilled, t.FillRate, t.OTIF, t.DaysOfCover)
	if kpiErr != nil {
		return fmt.Errorf("baseline optimization failed: %w", kpiErr)
	}
	return nil
}

// baselineBatch wraps a baseline KPI computation in a one-report batch. A failed plan marks
// the run failed with its error kind.
func baselineBatch(out *service.KPIReport, kpiErr error, rejected []domain.Rejection) *pipeline.Batch {
	run := pipeline.RunReport{
		RunID:      uuid.NewString(),
		Scenario:   scenario.BaselineName,
		Params:     scenario.Baseline(),
		Status:     pipeline.StatusCompleted,
		KPI:        &out.Summary,
		Allocation: out.Allocation,
	}
	if kpiErr != nil {
		run.Status = pipeline.StatusFailed
		run.Err = kpiErr
		run.Error = kpiErr.Error()
		run.ErrorKind = domain.ErrorKind(kpiErr)
	}
	reports := []pipeline.RunReport{run}
	return &pipeline.Batch{
		BatchID:    run.RunID,
		Rejected:   rejected,
		Reports:    reports,
		Comparison: pipeline.Compare(reports),
	}
}

func runOptimize(c *cli.Context) error {
	cfg, svc, log, err := setup(c)
	if err != nil {
		return err
	}

	batch, err := svc.RunScenarios(c.Context, nil)
	if err != nil {
		return err
	}
	if err := writeBatch(c.Context, svc, batch, cfg, log); err != nil {
		return err
	}

	baseline := batch.Reports[0]
	if baseline.Failed() {
		return fmt.Errorf("baseline allocation failed: %w", baseline.Err)
	}
	res := baseline.Allocation
	fmt.Fprintf(c.App.Writer, "status %s  fulfilled %d  transport cost %s  objective %.4f\n",
		res.Status, res.FulfilledUnits, res.TransportCost.StringFixed(2), res.Objective)
	return nil
}

func runScenarios(c *cli.Context) error {
	cfg, svc, log, err := setup(c)
	if err != nil {
		return err
	}

	var set *scenario.Set
	file := c.String("file")
	if file == "" {
		file = cfg.App.ScenarioFile
	}
	if file != "" {
		if set, err = scenario.LoadSetFile(file); err != nil {
			return err
		}
	} else if set, err = scenario.NewSet(nil); err != nil {
		return err
	}

	batch, runErr := svc.RunSet(c.Context, set)
	if batch == nil {
		return runErr
	}
	if err := writeBatch(c.Context, svc, batch, cfg, log); err != nil {
		return err
	}
	printComparison(c.App.Writer, batch.Comparison)

	if runErr != nil {
		return runErr
	}
	if n := batch.Failures(); n > 0 {
		log.Warn().Int("failed", n).Int("scenarios", len(batch.Reports)).Msg("Some scenarios failed")
	}
	return nil
}

func writeBatch(ctx context.Context, svc *service.PlanningService, batch *pipeline.Batch, cfg *config.Config, log zerolog.Logger) error {
	manifest, err := svc.WriteReports(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to write reports: %w", err)
	}
	log.Info().
		Str("output", cfg.App.OutputDir).
		Int("files", len(manifest.Files)).
		Int("uploaded", len(manifest.Uploaded)).
		Msg("Reports written")
	return nil
}

func printComparison(w io.Writer, rows []pipeline.ComparisonRow) {
	table := report.ComparisonTable(rows)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(table.Header, "\t"))
	for _, row := range table.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}
