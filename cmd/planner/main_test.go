package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/internal/pipeline"
	"github.com/andresuchdata/supplyplan/internal/report"
	"github.com/andresuchdata/supplyplan/internal/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"inventory.csv": "SKU,Warehouse,Available\nSKU1,WH_A,100\n",
		"orders.csv":    "SKU,City,Qty Ord\nSKU1,City_X,80\nSKU1,City_Y,50\n",
		"lanes.csv":     "Origin,Destination,Unit Cost,Capacity\nWH_A,City_X,1,60\nWH_A,City_Y,2,60\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func runPlanner(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"planner"}, args...))
	return out.String(), err
}

func TestPlannerKPI(t *testing.T) {
	data := writeDataDir(t)
	output := t.TempDir()

	out, err := runPlanner(t, "kpi", "--data-dir", data, "--output", output)
	require.NoError(t, err)
	assert.Contains(t, out, "demand 130")
	assert.Contains(t, out, "fulfilled 100")

	assert.FileExists(t, filepath.Join(output, "rejected_rows.csv"))
	assert.FileExists(t, filepath.Join(output, "baseline", "kpi_summary.csv"))
	assert.NoFileExists(t, filepath.Join(output, "baseline", "allocation_plan.csv"))
}

func TestPlannerOptimize(t *testing.T) {
	data := writeDataDir(t)
	output := t.TempDir()

	out, err := runPlanner(t, "optimize", "--data-dir", data, "--output", output, "--cost-weight", "0.01")
	require.NoError(t, err)
	assert.Contains(t, out, "fulfilled 100")
	assert.Contains(t, out, "transport cost 140.00")
	assert.FileExists(t, filepath.Join(output, "baseline", "allocation_plan.csv"))
	assert.FileExists(t, filepath.Join(output, "baseline", "lane_utilization.csv"))
}

func TestPlannerScenarios(t *testing.T) {
	data := writeDataDir(t)
	output := t.TempDir()
	file := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(file, []byte("scenarios:\n  - name: surge\n    demand_multiplier: 1.5\n"), 0o644))

	out, err := runPlanner(t, "scenarios", "--data-dir", data, "--output", output, "-f", file, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "baseline")
	assert.Contains(t, out, "surge")
	assert.FileExists(t, filepath.Join(output, "scenario_comparison.csv"))
	assert.FileExists(t, filepath.Join(output, "surge", "kpi_overview.json"))
}

func TestPlannerRejectsUnknownScenarioField(t *testing.T) {
	data := writeDataDir(t)
	file := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(file, []byte("scenarios:\n  - name: surge\n    demand_multipler: 1.5\n"), 0o644))

	_, err := runPlanner(t, "scenarios", "--data-dir", data, "--output", t.TempDir(), "-f", file)
	assert.Error(t, err)
}

func TestPlannerMissingInputs(t *testing.T) {
	_, err := runPlanner(t, "kpi", "--data-dir", t.TempDir(), "--output", t.TempDir())
	assert.Error(t, err)
}

func TestBaselineBatchMarksFailedPlan(t *testing.T) {
	out := &service.KPIReport{}
	timeout := &domain.SolverTimeoutError{Timeout: time.Second}

	batch := baselineBatch(out, timeout, nil)
	require.Len(t, batch.Reports, 1)
	run := batch.Reports[0]
	assert.Equal(t, pipeline.StatusFailed, run.Status)
	assert.Equal(t, "solver_timeout", run.ErrorKind)
	assert.Equal(t, timeout.Error(), run.Error)
	assert.Equal(t, 1, batch.Failures())
	require.Len(t, batch.Comparison, 1)
	assert.Equal(t, pipeline.StatusFailed, batch.Comparison[0].Status)

	dir := t.TempDir()
	_, err := report.NewWriter(dir, nil, "", zerolog.Nop()).WriteBatch(context.Background(), batch)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "baseline", report.KPIOverviewJSON))
	require.NoError(t, err)
	var overview report.Overview
	require.NoError(t, json.Unmarshal(data, &overview))
	assert.Equal(t, pipeline.StatusFailed, overview.Status)
	assert.Equal(t, "solver_timeout", overview.ErrorKind)

	ok := baselineBatch(out, nil, nil)
	assert.Equal(t, pipeline.StatusCompleted, ok.Reports[0].Status)
	assert.Empty(t, ok.Reports[0].ErrorKind)
}
