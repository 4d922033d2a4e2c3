// Package report writes run results as flat CSV and JSON files and optionally publishes them
// to object storage.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/andresuchdata/supplyplan/internal/kpi"
	"github.com/andresuchdata/supplyplan/internal/pipeline"
	"github.com/andresuchdata/supplyplan/internal/scenario"
	"github.com/andresuchdata/supplyplan/internal/storage"
	"github.com/rs/zerolog"
)

// Output file names
const (
	KPISummaryCSV      = "kpi_summary.csv"
	KPISummaryJSON     = "kpi_summary.json"
	KPIOverviewJSON    = "kpi_overview.json"
	AllocationPlanCSV  = "allocation_plan.csv"
	AllocationPlanJSON = "allocation_plan.json"
	LaneUtilizationCSV = "lane_utilization.csv"
	RejectedRowsCSV    = "rejected_rows.csv"
	ComparisonCSV      = "scenario_comparison.csv"
	ComparisonJSON     = "scenario_comparison.json"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Overview is the per-scenario headline written to kpi_overview.json
type Overview struct {
	RunID     string                   `json:"run_id"`
	Scenario  string                   `json:"scenario"`
	Params    scenario.Params          `json:"params"`
	Status    pipeline.PipelineStatus  `json:"status"`
	ErrorKind string                   `json:"error_kind,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Totals    *kpi.Totals              `json:"totals,omitempty"`
	Metrics   pipeline.PipelineMetrics `json:"metrics"`
}

// Manifest lists what a write produced
type Manifest struct {
	Root     string   `json:"root"`
	Files    []string `json:"files"`
	Uploaded []string `json:"uploaded,omitempty"`
}

// Writer lays out a batch under a root directory
type Writer struct {
	root   string
	store  storage.ObjectStorage
	prefix string
	log    zerolog.Logger
}

// NewWriter creates a Writer rooted at dir. store may be nil to skip uploads.
func NewWriter(dir string, store storage.ObjectStorage, prefix string, log zerolog.Logger) *Writer {
	return &Writer{
		root:   dir,
		store:  store,
		prefix: prefix,
		log:    log.With().Str("component", "report").Logger(),
	}
}

// ScenarioDir returns the directory a scenario's files go to
func (w *Writer) ScenarioDir(name string) string {
	safe := unsafeName.ReplaceAllString(strings.TrimSpace(name), "_")
	if safe == "" || safe == "." || safe == ".." {
		safe = "_"
	}
	return filepath.Join(w.root, safe)
}

// WriteBatch writes the comparison and rejection tables at the root and one directory per
// scenario. Failed scenarios still get their overview and whatever figures were computed.
func (w *Writer) WriteBatch(ctx context.Context, batch *pipeline.Batch) (*Manifest, error) {
	m := &Manifest{Root: w.root}
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return m, fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := w.writeCSV(m, filepath.Join(w.root, RejectedRowsCSV), RejectionTable(batch.Rejected)); err != nil {
		return m, err
	}
	if len(batch.Comparison) > 0 {
		if err := w.writeCSV(m, filepath.Join(w.root, ComparisonCSV), ComparisonTable(batch.Comparison)); err != nil {
			return m, err
		}
		if err := w.writeJSON(m, filepath.Join(w.root, ComparisonJSON), batch.Comparison); err != nil {
			return m, err
		}
	}

	for _, r := range batch.Reports {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		if err := w.writeRun(m, r); err != nil {
			return m, fmt.Errorf("scenario %s: %w", r.Scenario, err)
		}
	}

	w.log.Info().Str("root", w.root).Int("files", len(m.Files)).Msg("Reports written")
	return m, w.publish(ctx, m)
}

// WriteRun writes a single scenario's files
func (w *Writer) WriteRun(ctx context.Context, r pipeline.RunReport) (*Manifest, error) {
	m := &Manifest{Root: w.root}
	if err := w.writeRun(m, r); err != nil {
		return m, err
	}
	return m, w.publish(ctx, m)
}

func (w *Writer) writeRun(m *Manifest, r pipeline.RunReport) error {
	dir := w.ScenarioDir(r.Scenario)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create scenario directory: %w", err)
	}

	overview := Overview{
		RunID:     r.RunID,
		Scenario:  r.Scenario,
		Params:    r.Params,
		Status:    r.Status,
		ErrorKind: r.ErrorKind,
		Error:     r.Error,
		Metrics:   r.Metrics,
	}
	if r.KPI != nil {
		overview.Totals = &r.KPI.Totals
	}
	if err := w.writeJSON(m, filepath.Join(dir, KPIOverviewJSON), overview); err != nil {
		return err
	}

	if r.KPI != nil {
		if err := w.writeCSV(m, filepath.Join(dir, KPISummaryCSV), KPITable(r.KPI)); err != nil {
			return err
		}
		if err := w.writeJSON(m, filepath.Join(dir, KPISummaryJSON), r.KPI); err != nil {
			return err
		}
	}

	if r.Allocation != nil && r.Allocation.Plan != nil {
		if err := w.writeCSV(m, filepath.Join(dir, AllocationPlanCSV), PlanTable(r.Allocation.Plan)); err != nil {
			return err
		}
		if err := w.writeJSON(m, filepath.Join(dir, AllocationPlanJSON), r.Allocation); err != nil {
			return err
		}
		if err := w.writeCSV(m, filepath.Join(dir, LaneUtilizationCSV), LaneTable(r.Allocation.LaneUtilization)); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeCSV(m *Manifest, path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv file %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write csv header to %s: %w", path, err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write csv rows to %s: %w", path, err)
	}
	m.Files = append(m.Files, path)
	return nil
}

func (w *Writer) writeJSON(m *Manifest, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	m.Files = append(m.Files, path)
	return nil
}

func (w *Writer) publish(ctx context.Context, m *Manifest) error {
	if w.store == nil || len(m.Files) == 0 {
		return nil
	}
	keys, err := storage.UploadFiles(ctx, w.store, w.root, w.prefix, m.Files)
	m.Uploaded = keys
	if err != nil {
		return fmt.Errorf("failed to publish reports: %w", err)
	}
	w.log.Info().Str("prefix", w.prefix).Int("objects", len(keys)).Msg("Reports uploaded")
	return nil
}
