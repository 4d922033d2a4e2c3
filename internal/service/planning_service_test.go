package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/andresuchdata/supplyplan/internal/config"
	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/internal/loader"
	"github.com/andresuchdata/supplyplan/internal/optimizer"
	"github.com/andresuchdata/supplyplan/internal/pipeline"
	"github.com/andresuchdata/supplyplan/internal/reconcile"
	"github.com/andresuchdata/supplyplan/internal/scenario"
	"github.com/andresuchdata/supplyplan/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	m.hits++
	return true, json.Unmarshal(payload, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = payload
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) InvalidateAll(context.Context) error {
	m.mu.Lock()
	m.entries = map[string][]byte{}
	m.mu.Unlock()
	return nil
}

type bucketStore struct {
	objects map[string]string
}

func (b *bucketStore) ListObjects(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key})
		}
	}
	return out, nil
}

func (b *bucketStore) DownloadObject(_ context.Context, key string, destPath string) error {
	return os.WriteFile(destPath, []byte(b.objects[key]), 0o644)
}

func (b *bucketStore) UploadObject(_ context.Context, key string, data []byte) error {
	b.objects[key] = string(data)
	return nil
}

func row(line int, kv ...interface{}) reconcile.Row {
	data := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i].(string)] = kv[i+1]
	}
	return reconcile.Row{Line: line, Data: data}
}

func sampleTables() reconcile.RawTables {
	return reconcile.RawTables{
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
	}
}

func newTestService(t *testing.T, policy reconcile.Policy, c *memoryCache) *PlanningService {
	t.Helper()
	opts := Options{Pipeline: pipeline.DefaultPipelineConfig(), Reconcile: reconcile.Options{Policy: policy}}
	opts.Pipeline.Optimizer.CostWeight = 0.01
	svc := NewPlanningService(opts, nil, c, nil, zerolog.Nop())
	return svc
}

func TestServiceRequiresSnapshot(t *testing.T) {
	svc := newTestService(t, reconcile.PolicyWarn, newMemoryCache())
	_, err := svc.KPI(context.Background(), false)
	assert.True(t, errors.Is(err, ErrNoSnapshot))
	_, err = svc.RunScenarios(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrNoSnapshot))
	_, err = svc.Rejections(context.Background())
	assert.True(t, errors.Is(err, ErrNoSnapshot))
	assert.Error(t, svc.Reload(context.Background()))
}

func TestServiceKPIAndRejections(t *testing.T) {
	svc := newTestService(t, reconcile.PolicyWarn, newMemoryCache())
	_, err := svc.LoadTables(context.Background(), sampleTables())
	require.NoError(t, err)

	rejected, err := svc.Rejections(context.Background())
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, 4, rejected[0].Line)

	plain, err := svc.KPI(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, plain.Allocation)
	assert.Equal(t, 1, plain.Rejected)
	require.Len(t, plain.Summary.Records, 1)
	assert.Equal(t, domain.Quantity(130), plain.Summary.Totals.TotalDemand)
	assert.Equal(t, domain.Quantity(100), plain.Summary.Totals.Fulfilled)

	planned, err := svc.KPI(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, planned.Allocation)
	assert.Equal(t, domain.Quantity(100), planned.Allocation.FulfilledUnits)
	assert.Len(t, planned.Summary.Records, 3)
}

func TestServiceRunScenariosUsesCache(t *testing.T) {
	c := newMemoryCache()
	svc := newTestService(t, reconcile.PolicyWarn, c)
	_, err := svc.LoadTables(context.Background(), sampleTables())
	require.NoError(t, err)

	surge := scenario.Baseline()
	surge.Name = "surge"
	surge.DemandMultiplier = 1.5

	first, err := svc.RunScenarios(context.Background(), []scenario.Params{surge})
	require.NoError(t, err)
	require.Len(t, first.Reports, 2)
	assert.Equal(t, 0, first.Failures())
	assert.Equal(t, 0, c.hits)

	second, err := svc.RunScenarios(context.Background(), []scenario.Params{surge})
	require.NoError(t, err)
	assert.Equal(t, 1, c.hits)
	assert.Equal(t, first.BatchID, second.BatchID)
	require.Len(t, second.Comparison, 2)
	assert.Equal(t, first.Comparison[1].Scenario, second.Comparison[1].Scenario)
	assert.Equal(t, first.Comparison[1].FillRate, second.Comparison[1].FillRate)
	assert.True(t, first.Comparison[0].TransportCost.Equal(second.Comparison[0].TransportCost))
	assert.NotNil(t, second.Base)

	_, err = svc.LoadTables(context.Background(), sampleTables())
	require.NoError(t, err)
	assert.Empty(t, c.entries)
}

func TestServiceDoesNotCacheFailedRuns(t *testing.T) {
	c := newMemoryCache()
	opts := Options{Pipeline: pipeline.DefaultPipelineConfig(), Reconcile: reconcile.Options{Policy: reconcile.PolicyWarn}}
	opts.Pipeline.Optimizer.Floors = optimizer.Floors{{SKU: "SKU1", City: "City_X"}: 70}
	svc := NewPlanningService(opts, nil, c, nil, zerolog.Nop())
	_, err := svc.LoadTables(context.Background(), sampleTables())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		batch, err := svc.RunScenarios(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, batch.Reports, 1)
		assert.Equal(t, 1, batch.Failures())
		assert.Equal(t, "infeasible", batch.Reports[0].ErrorKind)
		assert.True(t, errors.Is(batch.Reports[0].Err, domain.ErrInfeasible))
	}
	assert.Empty(t, c.entries)
	assert.Equal(t, 0, c.hits)
}

func TestServiceRejectsInvalidScenarios(t *testing.T) {
	svc := newTestService(t, reconcile.PolicyWarn, newMemoryCache())
	_, err := svc.LoadTables(context.Background(), sampleTables())
	require.NoError(t, err)

	_, err = svc.RunScenarios(context.Background(), []scenario.Params{{Name: "x", DemandMultiplier: -1, OvertimeMultiplier: 1}})
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}

func TestServiceStrictKeepsPreviousSnapshot(t *testing.T) {
	svc := newTestService(t, reconcile.PolicyStrict, newMemoryCache())
	clean := sampleTables()
	clean.Orders = clean.Orders[:2]
	_, err := svc.LoadTables(context.Background(), clean)
	require.NoError(t, err)

	_, err = svc.LoadTables(context.Background(), sampleTables())
	assert.True(t, errors.Is(err, domain.ErrDataQuality))

	rejected, err := svc.Rejections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rejected)
}

func TestOptionsFromConfig(t *testing.T) {
	v := viper.New()
	v.Set("OPTIMIZER_HORIZON_WEEKS", 6)
	v.Set("OPTIMIZER_DEFAULT_PRODUCTION_SITE", "WH_A")
	v.Set("RECONCILE_QUARANTINE_POLICY", "strict")
	cfg := config.LoadFrom(v)

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, reconcile.PolicyStrict, opts.Reconcile.Policy)
	assert.Equal(t, 6, opts.Pipeline.Supply.HorizonWeeks)
	assert.Equal(t, domain.Location("WH_A"), opts.Pipeline.Supply.DefaultProductionSite)
	assert.Equal(t, opts.Pipeline.Supply, opts.Reconcile.Supply)
	assert.Equal(t, 4, opts.Pipeline.WorkerCount)
	assert.Equal(t, 30, opts.Pipeline.KPI.DefaultWindowDays)

	cfg.Pipeline.Workers = 0
	_, err = OptionsFromConfig(cfg)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}

func TestReloadSyncsInputsFromStorage(t *testing.T) {
	dataDir := t.TempDir()
	store := &bucketStore{objects: map[string]string{
		"inputs/inventory.csv": "SKU,Warehouse,Available\nSKU1,WH_A,40\n",
		"inputs/orders.csv":    "SKU,City,Qty Ord\nSKU1,City_X,25\n",
	}}
	opts := Options{
		DataDir:     dataDir,
		Pipeline:    pipeline.DefaultPipelineConfig(),
		Reconcile:   reconcile.Options{Policy: reconcile.PolicyWarn},
		Inputs:      store,
		InputPrefix: "inputs/",
	}
	svc := NewPlanningService(opts, loader.New(zerolog.Nop()), nil, nil, zerolog.Nop())

	require.NoError(t, svc.Reload(context.Background()))
	assert.FileExists(t, filepath.Join(dataDir, "inventory.csv"))

	out, err := svc.KPI(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, domain.Quantity(25), out.Summary.Totals.TotalDemand)
	assert.Equal(t, domain.Quantity(25), out.Summary.Totals.Fulfilled)
}
