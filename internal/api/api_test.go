package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andresuchdata/supplyplan/internal/api/middleware"
	"github.com/andresuchdata/supplyplan/internal/loader"
	"github.com/andresuchdata/supplyplan/internal/pipeline"
	"github.com/andresuchdata/supplyplan/internal/reconcile"
	"github.com/andresuchdata/supplyplan/internal/report"
	"github.com/andresuchdata/supplyplan/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(line int, kv ...interface{}) reconcile.Row {
	data := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i].(string)] = kv[i+1]
	}
	return reconcile.Row{Line: line, Data: data}
}

func newTestRouter(t *testing.T, load bool) (*gin.Engine, *service.PlanningService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()

	opts := service.Options{Pipeline: pipeline.DefaultPipelineConfig(), Reconcile: reconcile.Options{Policy: reconcile.PolicyWarn}}
	opts.Pipeline.Optimizer.CostWeight = 0.01
	writer := report.NewWriter(t.TempDir(), nil, "", log)
	svc := service.NewPlanningService(opts, loader.New(log), nil, writer, log)

	if load {
		_, err := svc.LoadTables(context.Background(), reconcile.RawTables{
			Inventory: []reconcile.Row{row(2, "SKU", "SKU1", "Warehouse", "WH_A", "Available", "100")},
			Orders: []reconcile.Row{
				row(2, "SKU", "SKU1", "City", "City_X", "Qty Ord", "80"),
				row(3, "SKU", "SKU1", "City", "City_Y", "Qty Ord", "50"),
				row(4, "SKU", "", "City", "City_Y", "Qty Ord", "5"),
			},
			Lanes: []reconcile.Row{
				row(2, "Origin", "WH_A", "Destination", "City_X", "Unit Cost", "1", "Capacity", "60"),
				row(3, "Origin", "WH_A", "Destination", "City_Y", "Unit Cost", "2", "Capacity", "60"),
			},
		})
		require.NoError(t, err)
	}
	return NewRouter(&Services{PlanningService: svc}, nil, log), svc
}

func do(router http.Handler, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, false)
	w := do(router, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestKPIWithoutSnapshot(t *testing.T) {
	router, _ := newTestRouter(t, false)
	w := do(router, http.MethodGet, "/api/v1/kpi", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetKPI(t *testing.T) {
	router, _ := newTestRouter(t, true)

	w := do(router, http.MethodGet, "/api/v1/kpi", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var plain service.KPIReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plain))
	assert.EqualValues(t, 130, plain.Summary.Totals.TotalDemand)
	assert.EqualValues(t, 100, plain.Summary.Totals.Fulfilled)
	assert.Equal(t, 1, plain.Rejected)
	assert.Nil(t, plain.Allocation)

	w = do(router, http.MethodGet, "/api/v1/kpi?plan=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var planned service.KPIReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &planned))
	require.NotNil(t, planned.Allocation)
	assert.EqualValues(t, 100, planned.Allocation.FulfilledUnits)
}

func TestGetRejections(t *testing.T) {
	router, _ := newTestRouter(t, true)
	w := do(router, http.MethodGet, "/api/v1/rejections", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total      int `json:"total"`
		Rejections []struct {
			Table string `json:"table"`
			Line  int    `json:"line"`
		} `json:"rejections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Rejections, 1)
	assert.Equal(t, 4, body.Rejections[0].Line)
}

func TestRunScenarios(t *testing.T) {
	router, _ := newTestRouter(t, true)

	payload := []byte(`[{"name":"surge","demand_multiplier":1.5}]`)
	w := do(router, http.MethodPost, "/api/v1/scenarios/run", payload, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		BatchID    string `json:"batch_id"`
		Failed     int    `json:"failed"`
		Comparison []struct {
			Scenario    string `json:"scenario"`
			Status      string `json:"status"`
			TotalDemand int    `json:"total_demand"`
		} `json:"comparison"`
		Files []string `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.BatchID)
	assert.Equal(t, 0, resp.Failed)
	require.Len(t, resp.Comparison, 2)
	assert.Equal(t, "baseline", resp.Comparison[0].Scenario)
	assert.Equal(t, "surge", resp.Comparison[1].Scenario)
	assert.Equal(t, 130, resp.Comparison[0].TotalDemand)
	assert.Equal(t, 195, resp.Comparison[1].TotalDemand)
	assert.Empty(t, resp.Files)
}

func TestRunScenariosObjectPayloadAndPersist(t *testing.T) {
	router, _ := newTestRouter(t, true)

	payload := []byte(`{"scenarios":[{"name":"delay","production_delay_weeks":2}]}`)
	w := do(router, http.MethodPost, "/api/v1/scenarios/run?persist=true", payload, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Files []string `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Files)
}

func TestRunScenariosRejectsBadInput(t *testing.T) {
	router, _ := newTestRouter(t, true)

	w := do(router, http.MethodPost, "/api/v1/scenarios/run", []byte(`{not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/v1/scenarios/run", []byte(`[{"name":"bad","demand_multiplier":-1}]`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "configuration", body["kind"])

	w = do(router, http.MethodPost, "/api/v1/scenarios/run", []byte(`[{"name":"a"},{"name":"a"}]`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadSnapshot(t *testing.T) {
	router, svc := newTestRouter(t, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	files := map[string]string{
		"inventory": "SKU,Warehouse,Available\nSKU1,WH_A,40\n",
		"orders":    "SKU,City,Qty Ord\nSKU1,City_X,10\n,City_X,3\n",
	}
	for field, content := range files {
		part, err := mw.CreateFormFile(field, field+".csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	w := do(router, http.MethodPost, "/api/v1/snapshot/upload", buf.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rejected, err := svc.Rejections(context.Background())
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, 3, rejected[0].Line)

	kpiOut, err := svc.KPI(context.Background(), false)
	require.NoError(t, err)
	assert.EqualValues(t, 10, kpiOut.Summary.Totals.TotalDemand)
}

func TestUploadSnapshotRequiresInventoryAndOrders(t *testing.T) {
	router, _ := newTestRouter(t, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("orders", "orders.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("SKU,City,Qty Ord\nSKU1,City_X,10\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := do(router, http.MethodPost, "/api/v1/snapshot/upload", buf.Bytes(), mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReloadWithoutDataDir(t *testing.T) {
	router, _ := newTestRouter(t, false)
	w := do(router, http.MethodPost, "/api/v1/snapshot/reload", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, allowAll := normalizeAllowedOrigins([]string{"http://a.test, http://b.test", " "})
	assert.False(t, allowAll)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, origins)

	_, allowAll = normalizeAllowedOrigins([]string{"*"})
	assert.True(t, allowAll)
}
