package main

import (
	"errors"
	"os"
	"runtime"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/23skdu/bulkgraph/internal/importer"
	bgmemory "github.com/23skdu/bulkgraph/internal/memory"
	"github.com/23skdu/bulkgraph/internal/numarray"
	"github.com/23skdu/bulkgraph/internal/pagecache"
)

// Config is read from BULKGRAPH_* environment variables, optionally seeded from a
// .env file.
type Config struct {
	DenseNodeThreshold int64  `envconfig:"DENSE_NODE_THRESHOLD" default:"50"`
	MaxHeap            int64  `envconfig:"MAX_HEAP" default:"1073741824"`
	MaxOffHeap         int64  `envconfig:"MAX_OFF_HEAP" default:"4294967296"`
	SafetyMargin       int64  `envconfig:"SAFETY_MARGIN" default:"314572800"`
	ChunkFraction      int    `envconfig:"CHUNK_FRACTION" default:"10"`
	Availability       string `envconfig:"AVAILABILITY" default:"budget"`
	Backend            string `envconfig:"BACKEND" default:"auto"`
	PageCacheDir       string `envconfig:"PAGE_CACHE_DIR"`
	PageSize           int    `envconfig:"PAGE_SIZE" default:"8192"`
	Workers            int    `envconfig:"WORKERS"`
	BatchSize          int    `envconfig:"BATCH_SIZE" default:"10000"`
	LogFormat          string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr        string `envconfig:"METRICS_ADDR"`
	GCTune             bool   `envconfig:"GC_TUNE" default:"false"`
}

// Config validation errors
var (
	ErrInvalidDenseNodeThreshold = errors.New("dense_node_threshold must be positive")
	ErrInvalidMaxHeap            = errors.New("max_heap must not be negative")
	ErrInvalidMaxOffHeap         = errors.New("max_off_heap must not be negative")
	ErrInvalidSafetyMargin       = errors.New("safety_margin must not be negative")
	ErrInvalidChunkFraction      = errors.New("chunk_fraction must be at least 2")
	ErrInvalidAvailability       = errors.New("availability must be 'budget' or 'runtime'")
	ErrInvalidBackend            = errors.New("backend must be auto, heap, offheap or pagecache")
	ErrMissingPageCacheDir       = errors.New("page_cache_dir is required for the pagecache backend")
	ErrInvalidPageSize           = errors.New("page_size must be positive")
	ErrInvalidWorkers            = errors.New("workers must not be negative")
	ErrInvalidBatchSize          = errors.New("batch_size must be positive")
	ErrInvalidLogFormat          = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel           = errors.New("log_level must be debug, info, warn, or error")
)

// LoadConfig applies envFile, when it exists, and then the environment.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	var cfg Config
	if err := envconfig.Process("BULKGRAPH", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, ValidateConfig(&cfg)
}

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	if cfg.DenseNodeThreshold <= 0 {
		return ErrInvalidDenseNodeThreshold
	}
	if cfg.MaxHeap < 0 {
		return ErrInvalidMaxHeap
	}
	if cfg.MaxOffHeap < 0 {
		return ErrInvalidMaxOffHeap
	}
	if cfg.SafetyMargin < 0 {
		return ErrInvalidSafetyMargin
	}
	if cfg.ChunkFraction < 2 {
		return ErrInvalidChunkFraction
	}
	if cfg.Availability != "budget" && cfg.Availability != "runtime" {
		return ErrInvalidAvailability
	}
	backend, err := numarray.ParseBackend(cfg.Backend)
	if err != nil {
		return ErrInvalidBackend
	}
	if backend == numarray.PageCache && cfg.PageCacheDir == "" {
		return ErrMissingPageCacheDir
	}
	if cfg.PageSize <= 0 {
		return ErrInvalidPageSize
	}
	if cfg.Workers < 0 {
		return ErrInvalidWorkers
	}
	if cfg.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	return nil
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		DenseNodeThreshold: importer.DefaultDenseNodeThreshold,
		MaxHeap:            1 << 30,
		MaxOffHeap:         4 << 30,
		SafetyMargin:       numarray.DefaultSafetyMargin,
		ChunkFraction:      numarray.DefaultChunkFraction,
		Availability:       "budget",
		Backend:            "auto",
		PageSize:           pagecache.DefaultPageSize,
		BatchSize:          importer.DefaultBatchSize,
		LogFormat:          "json",
		LogLevel:           "info",
	}
}

// BuildFactoryConfig maps the configuration onto the array factory.
func (c *Config) BuildFactoryConfig() numarray.FactoryConfig {
	backend, _ := numarray.ParseBackend(c.Backend)
	return numarray.FactoryConfig{
		Policy:        backend,
		SafetyMargin:  c.SafetyMargin,
		ChunkFraction: c.ChunkFraction,
		PageCacheDir:  c.PageCacheDir,
		PageSize:      c.PageSize,
	}
}

// BuildImporterConfig maps the configuration onto the importer.
func (c *Config) BuildImporterConfig() importer.Config {
	cfg := importer.DefaultConfig()
	cfg.DenseNodeThreshold = c.DenseNodeThreshold
	cfg.Workers = c.Workers
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return cfg
}

// allocators are the tracked heap and native allocators the factory places arrays
// with. The budget availability measures usage through them.
type allocators struct {
	heap    *bgmemory.TrackingAllocator
	offHeap *bgmemory.TrackingAllocator
}

func newAllocators() allocators {
	return allocators{
		heap:    bgmemory.NewTrackingAllocator("heap", memory.NewGoAllocator()),
		offHeap: bgmemory.NewTrackingAllocator("offheap", bgmemory.NewNativeAllocator()),
	}
}

// BuildAvailability returns the memory availability strategy the factory consults.
func (c *Config) BuildAvailability(a allocators) bgmemory.Availability {
	if c.Availability == "runtime" {
		return bgmemory.NewRuntimeAvailability()
	}
	return bgmemory.NewBudgetAvailability(c.MaxHeap, c.MaxOffHeap, a.heap, a.offHeap)
}
