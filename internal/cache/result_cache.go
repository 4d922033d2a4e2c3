// Package cache memoizes scenario batch results keyed by a hash of the input snapshot and
// the scenario parameters.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andresuchdata/supplyplan/internal/config"
	"github.com/andresuchdata/supplyplan/internal/scenario"
	"github.com/redis/go-redis/v9"
)

const resultKeyPrefix = "supplyplan:result"

// ResultCache stores JSON-encodable results by key
type ResultCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	InvalidateAll(ctx context.Context) error
}

type redisResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopResultCache struct{}

// NewResultCache returns a redis-backed cache when enabled, a noop cache otherwise
func NewResultCache(ctx context.Context, cfg config.CacheConfig) (ResultCache, error) {
	if !cfg.Enabled {
		return &noopResultCache{}, nil
	}

	client, ttl, err := newRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &redisResultCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func NewNoopResultCache() ResultCache {
	return &noopResultCache{}
}

func (c *redisResultCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("decode cached result: %w", err)
	}
	return true, nil
}

func (c *redisResultCache) Set(ctx context.Context, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached result: %w", err)
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisResultCache) InvalidateAll(ctx context.Context) error {
	_, err := deleteKeysWithPrefix(ctx, c.client, resultKeyPrefix)
	return err
}

func (n *noopResultCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return false, nil
}

func (n *noopResultCache) Set(ctx context.Context, key string, value interface{}) error {
	return nil
}

func (n *noopResultCache) InvalidateAll(ctx context.Context) error {
	return nil
}

// ScenarioKey builds the cache key of a batch run: the snapshot fingerprint plus every
// scenario's parameters in run order. Names are part of the key since they label reports.
func ScenarioKey(fingerprint string, costWeight float64, scenarios []scenario.Params) string {
	parts := make([]string, 0, len(scenarios)+2)
	parts = append(parts, "data="+fingerprint, "lambda="+formatFloat(costWeight))
	for _, p := range scenarios {
		parts = append(parts, scenarioHashPart(p))
	}

	raw := strings.Join(parts, "|")
	sum := sha1.Sum([]byte(raw))
	return fmt.Sprintf("%s:%s", resultKeyPrefix, hex.EncodeToString(sum[:]))
}

func scenarioHashPart(p scenario.Params) string {
	fields := []string{
		"name=" + strings.TrimSpace(p.Name),
		"demand=" + formatFloat(p.DemandMultiplier),
		"delay=" + strconv.Itoa(p.ProductionDelayWeeks),
		"overtime=" + formatFloat(p.OvertimeMultiplier),
		"buffer_units=" + strconv.FormatInt(int64(p.InventoryBuffer.Units), 10),
		"buffer_pct=" + formatFloat(p.InventoryBuffer.Percent),
	}
	if p.CostWeight != nil {
		fields = append(fields, "lambda="+formatFloat(*p.CostWeight))
	}
	return "scenario(" + strings.Join(fields, ",") + ")"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Fingerprint hashes the JSON encoding of v
func Fingerprint(v interface{}) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:]), nil
}
