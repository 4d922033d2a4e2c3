package config

import (
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/andresuchdata/supplyplan/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	App       AppConfig
	Optimizer OptimizerConfig
	Reconcile ReconcileConfig
	Pipeline  PipelineConfig
	Cache     CacheConfig
	Storage   StorageConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type AppConfig struct {
	DataDir      string
	OutputDir    string
	ScenarioFile string
	LogLevel     string
	LogFormat    string
}

type OptimizerConfig struct {
	CostWeight            float64
	SolveTimeoutSeconds   int
	HorizonWeeks          int
	DefaultProductionSite string
}

// SolveTimeout is the solver's wall-clock budget
func (c OptimizerConfig) SolveTimeout() time.Duration {
	return time.Duration(c.SolveTimeoutSeconds) * time.Second
}

type ReconcileConfig struct {
	QuarantinePolicy string
	DemandWindowDays int
}

type PipelineConfig struct {
	Workers int
}

type CacheConfig struct {
	Enabled          bool
	RedisURL         string
	RedisHost        string
	RedisPort        string
	RedisPassword    string
	RedisDB          int
	ResultTTLSeconds int
}

// StorageConfig points at the S3-compatible bucket reports are published to. A non-empty
// InputPrefix also syncs the input tables stored under it into the data directory on reload.
type StorageConfig struct {
	Enabled     bool
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	Region      string
	UseSSL      bool
	Prefix      string
	InputPrefix string
}

var (
	once     sync.Once
	instance *Config
)

// Load reads the process configuration once from .env, the environment and defaults.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		viper.AutomaticEnv()
		instance = LoadFrom(viper.GetViper())

		ensureDir(instance.App.OutputDir)
	})

	return instance
}

// SetDefaults registers every key's default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 30)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 120)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("APP_DATA_DIR", "./data")
	v.SetDefault("APP_OUTPUT_DIR", "./data/output")
	v.SetDefault("APP_SCENARIO_FILE", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("OPTIMIZER_COST_WEIGHT", 0.001)
	v.SetDefault("OPTIMIZER_SOLVE_TIMEOUT_SECONDS", 30)
	v.SetDefault("OPTIMIZER_HORIZON_WEEKS", 0)
	v.SetDefault("OPTIMIZER_DEFAULT_PRODUCTION_SITE", "")
	v.SetDefault("RECONCILE_QUARANTINE_POLICY", "warn")
	v.SetDefault("RECONCILE_DEMAND_WINDOW_DAYS", 30)
	v.SetDefault("PIPELINE_WORKERS", 4)
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_RESULT_TTL_SECONDS", 300)
	v.SetDefault("STORAGE_ENABLED", false)
	v.SetDefault("STORAGE_ENDPOINT", "")
	v.SetDefault("STORAGE_ACCESS_KEY", "")
	v.SetDefault("STORAGE_SECRET_KEY", "")
	v.SetDefault("STORAGE_BUCKET", "")
	v.SetDefault("STORAGE_REGION", "")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("STORAGE_PREFIX", "reports")
	v.SetDefault("STORAGE_INPUT_PREFIX", "")
}

// LoadFrom builds a Config from v after registering defaults on it
func LoadFrom(v *viper.Viper) *Config {
	SetDefaults(v)

	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		App: AppConfig{
			DataDir:      v.GetString("APP_DATA_DIR"),
			OutputDir:    v.GetString("APP_OUTPUT_DIR"),
			ScenarioFile: v.GetString("APP_SCENARIO_FILE"),
			LogLevel:     v.GetString("LOG_LEVEL"),
			LogFormat:    v.GetString("LOG_FORMAT"),
		},
		Optimizer: OptimizerConfig{
			CostWeight:            v.GetFloat64("OPTIMIZER_COST_WEIGHT"),
			SolveTimeoutSeconds:   v.GetInt("OPTIMIZER_SOLVE_TIMEOUT_SECONDS"),
			HorizonWeeks:          v.GetInt("OPTIMIZER_HORIZON_WEEKS"),
			DefaultProductionSite: v.GetString("OPTIMIZER_DEFAULT_PRODUCTION_SITE"),
		},
		Reconcile: ReconcileConfig{
			QuarantinePolicy: v.GetString("RECONCILE_QUARANTINE_POLICY"),
			DemandWindowDays: v.GetInt("RECONCILE_DEMAND_WINDOW_DAYS"),
		},
		Pipeline: PipelineConfig{
			Workers: v.GetInt("PIPELINE_WORKERS"),
		},
		Cache: CacheConfig{
			Enabled:          v.GetBool("CACHE_ENABLED"),
			RedisURL:         v.GetString("REDIS_URL"),
			RedisHost:        v.GetString("REDIS_HOST"),
			RedisPort:        v.GetString("REDIS_PORT"),
			RedisPassword:    v.GetString("REDIS_PASSWORD"),
			RedisDB:          v.GetInt("REDIS_DB"),
			ResultTTLSeconds: v.GetInt("CACHE_RESULT_TTL_SECONDS"),
		},
		Storage: StorageConfig{
			Enabled:     v.GetBool("STORAGE_ENABLED"),
			Endpoint:    v.GetString("STORAGE_ENDPOINT"),
			AccessKey:   v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey:   v.GetString("STORAGE_SECRET_KEY"),
			Bucket:      v.GetString("STORAGE_BUCKET"),
			Region:      v.GetString("STORAGE_REGION"),
			UseSSL:      v.GetBool("STORAGE_USE_SSL"),
			Prefix:      v.GetString("STORAGE_PREFIX"),
			InputPrefix: v.GetString("STORAGE_INPUT_PREFIX"),
		},
	}
}

// Validate checks the knobs the core depends on
func (c *Config) Validate() error {
	o := c.Optimizer
	if !(o.CostWeight >= 0) || math.IsInf(o.CostWeight, 0) {
		return &domain.ConfigurationError{Field: "OPTIMIZER_COST_WEIGHT", Value: o.CostWeight, Reason: "must be a finite number >= 0"}
	}
	if o.SolveTimeoutSeconds <= 0 {
		return &domain.ConfigurationError{Field: "OPTIMIZER_SOLVE_TIMEOUT_SECONDS", Value: o.SolveTimeoutSeconds, Reason: "must be > 0"}
	}
	if o.HorizonWeeks < 0 {
		return &domain.ConfigurationError{Field: "OPTIMIZER_HORIZON_WEEKS", Value: o.HorizonWeeks, Reason: "must be >= 0"}
	}
	switch strings.ToLower(strings.TrimSpace(c.Reconcile.QuarantinePolicy)) {
	case "warn", "strict":
	default:
		return &domain.ConfigurationError{Field: "RECONCILE_QUARANTINE_POLICY", Value: c.Reconcile.QuarantinePolicy, Reason: "must be warn or strict"}
	}
	if c.Reconcile.DemandWindowDays <= 0 {
		return &domain.ConfigurationError{Field: "RECONCILE_DEMAND_WINDOW_DAYS", Value: c.Reconcile.DemandWindowDays, Reason: "must be > 0"}
	}
	if c.Pipeline.Workers < 1 {
		return &domain.ConfigurationError{Field: "PIPELINE_WORKERS", Value: c.Pipeline.Workers, Reason: "must be >= 1"}
	}
	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return &domain.ConfigurationError{Field: "STORAGE_ENDPOINT", Value: c.Storage.Endpoint, Reason: "endpoint and bucket are required when storage is enabled"}
	}
	return nil
}

func ensureDir(dir string) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create directory")
		}
	}
}
