package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/internal/loader"
	"github.com/andresuchdata/supplyplan/internal/pipeline"
	"github.com/andresuchdata/supplyplan/internal/scenario"
	"github.com/andresuchdata/supplyplan/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxScenarioBody bounds the scenario request payload
const maxScenarioBody = 1 << 20

type PlanningHandler struct {
	service *service.PlanningService
	log     zerolog.Logger
}

func NewPlanningHandler(service *service.PlanningService, log zerolog.Logger) *PlanningHandler {
	return &PlanningHandler{service: service, log: log.With().Str("component", "planning_handler").Logger()}
}

// ScenarioRunResponse is the body of a scenario run
type ScenarioRunResponse struct {
	BatchID    string                   `json:"batch_id"`
	Comparison []pipeline.ComparisonRow `json:"comparison"`
	Reports    []pipeline.RunReport     `json:"reports"`
	Rejected   int                      `json:"rejected"`
	Failed     int                      `json:"failed"`
	Files      []string                 `json:"files,omitempty"`
}

// statusFor maps error kinds onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNoSnapshot):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDataQuality), errors.Is(err, loader.ErrMissingInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInfeasible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSolverTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *PlanningHandler) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	event := h.log.Warn()
	if status >= http.StatusInternalServerError {
		event = h.log.Error()
	}
	event.Err(err).Str("path", c.Request.URL.Path).Msg(message)
	c.JSON(status, gin.H{"error": message, "kind": domain.ErrorKind(err), "details": err.Error()})
}

// GetKPI returns the baseline KPI table. plan=true measures fulfilment against an optimized plan.
func (h *PlanningHandler) GetKPI(c *gin.Context) {
	withPlan, _ := strconv.ParseBool(c.DefaultQuery("plan", "false"))
	out, err := h.service.KPI(c.Request.Context(), withPlan)
	if err != nil {
		if out != nil {
			status := statusFor(err)
			c.JSON(status, gin.H{"error": "baseline optimization failed", "kind": domain.ErrorKind(err), "details": err.Error(), "kpi": out})
			return
		}
		h.fail(c, "failed to compute kpi", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetRejections lists the rows quarantined in the current snapshot
func (h *PlanningHandler) GetRejections(c *gin.Context) {
	rejected, err := h.service.Rejections(c.Request.Context())
	if err != nil {
		h.fail(c, "failed to fetch rejections", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejections": rejected, "total": len(rejected)})
}

// RunScenarios accepts either a JSON list of scenario params or {"scenarios": [...]}.
// The baseline is always added. persist=true also writes the report files.
func (h *PlanningHandler) RunScenarios(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScenarioBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	params, err := decodeScenarios(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scenario payload", "details": err.Error()})
		return
	}

	batch, err := h.service.RunScenarios(c.Request.Context(), params)
	if err != nil {
		h.fail(c, "failed to run scenarios", err)
		return
	}

	resp := ScenarioRunResponse{
		BatchID:    batch.BatchID,
		Comparison: batch.Comparison,
		Reports:    batch.Reports,
		Rejected:   len(batch.Rejected),
		Failed:     batch.Failures(),
	}
	if persist, _ := strconv.ParseBool(c.DefaultQuery("persist", "false")); persist {
		manifest, err := h.service.WriteReports(c.Request.Context(), batch)
		if err != nil {
			h.fail(c, "failed to write reports", err)
			return
		}
		resp.Files = manifest.Files
	}
	c.JSON(http.StatusOK, resp)
}

func decodeScenarios(body []byte) ([]scenario.Params, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var params []scenario.Params
		if err := json.Unmarshal(trimmed, &params); err != nil {
			return nil, err
		}
		return params, nil
	}
	var set scenario.Set
	if err := json.Unmarshal(trimmed, &set); err != nil {
		return nil, err
	}
	return set.Scenarios, nil
}

// ReloadSnapshot re-reads the configured data directory
func (h *PlanningHandler) ReloadSnapshot(c *gin.Context) {
	if err := h.service.Reload(c.Request.Context()); err != nil {
		h.fail(c, "failed to reload snapshot", err)
		return
	}
	h.snapshotSummary(c)
}

// UploadSnapshot replaces the snapshot with uploaded table files. Each form field is named
// after its table (inventory, orders, production, lanes, items).
func (h *PlanningHandler) UploadSnapshot(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form data"})
		return
	}

	dir, err := os.MkdirTemp("", "supplyplan-upload-")
	if err != nil {
		h.fail(c, "failed to stage upload", err)
		return
	}
	defer os.RemoveAll(dir)

	var files loader.Files
	targets := map[string]*string{
		"items":      &files.Items,
		"inventory":  &files.Inventory,
		"orders":     &files.Orders,
		"production": &files.Production,
		"lanes":      &files.Lanes,
	}
	for field, dest := range targets {
		headers := form.File[field]
		if len(headers) == 0 {
			continue
		}
		header := headers[0]
		ext := strings.ToLower(filepath.Ext(header.Filename))
		if ext != ".xlsx" && ext != ".xlsm" {
			ext = ".csv"
		}
		path := filepath.Join(dir, field+ext)
		if err := c.SaveUploadedFile(header, path); err != nil {
			h.log.Error().Err(err).Str("filename", header.Filename).Msg("failed to save uploaded file")
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to save uploaded file", "file": header.Filename})
			return
		}
		*dest = path
	}

	if files.Inventory == "" || files.Orders == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "inventory and orders files are required"})
		return
	}

	if _, err := h.service.LoadFiles(c.Request.Context(), files); err != nil {
		h.fail(c, "failed to load uploaded snapshot", err)
		return
	}
	h.snapshotSummary(c)
}

func (h *PlanningHandler) snapshotSummary(c *gin.Context) {
	rejected, err := h.service.Rejections(c.Request.Context())
	if err != nil {
		h.fail(c, "failed to read snapshot", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "loaded", "rejected": len(rejected)})
}
