package main

import (
	"os"
	"path/filepath"
	"testing"

	bgmemory "github.com/23skdu/bulkgraph/internal/memory"
	"github.com/23skdu/bulkgraph/internal/numarray"
)

func TestValidateConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(&cfg); err != nil {
		t.Errorf("ValidateConfig() error = %v, want nil", err)
	}
}

func TestValidateConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"threshold", func(c *Config) { c.DenseNodeThreshold = 0 }, ErrInvalidDenseNodeThreshold},
		{"max heap", func(c *Config) { c.MaxHeap = -1 }, ErrInvalidMaxHeap},
		{"max off-heap", func(c *Config) { c.MaxOffHeap = -1 }, ErrInvalidMaxOffHeap},
		{"safety margin", func(c *Config) { c.SafetyMargin = -1 }, ErrInvalidSafetyMargin},
		{"chunk fraction", func(c *Config) { c.ChunkFraction = 1 }, ErrInvalidChunkFraction},
		{"availability", func(c *Config) { c.Availability = "guess" }, ErrInvalidAvailability},
		{"backend", func(c *Config) { c.Backend = "tape" }, ErrInvalidBackend},
		{"page cache dir", func(c *Config) { c.Backend = "pagecache" }, ErrMissingPageCacheDir},
		{"page size", func(c *Config) { c.PageSize = 0 }, ErrInvalidPageSize},
		{"workers", func(c *Config) { c.Workers = -2 }, ErrInvalidWorkers},
		{"batch size", func(c *Config) { c.BatchSize = 0 }, ErrInvalidBatchSize},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, ErrInvalidLogFormat},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, ErrInvalidLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := ValidateConfig(&cfg); err != tt.want {
				t.Errorf("ValidateConfig() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadConfig_EnvAndDotEnv(t *testing.T) {
	t.Setenv("BULKGRAPH_DENSE_NODE_THRESHOLD", "7")
	t.Setenv("BULKGRAPH_BACKEND", "heap")

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("BULKGRAPH_WORKERS=3\nBULKGRAPH_DENSE_NODE_THRESHOLD=99\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("BULKGRAPH_WORKERS") })

	cfg, err := LoadConfig(envFile)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	// godotenv does not override variables that are already set.
	if cfg.DenseNodeThreshold != 7 {
		t.Errorf("DenseNodeThreshold = %d, want 7", cfg.DenseNodeThreshold)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers)
	}
	if cfg.BuildFactoryConfig().Policy != numarray.Heap {
		t.Errorf("Policy = %v, want heap", cfg.BuildFactoryConfig().Policy)
	}
	if cfg.SafetyMargin != numarray.DefaultSafetyMargin {
		t.Errorf("SafetyMargin default = %d, want %d", cfg.SafetyMargin, numarray.DefaultSafetyMargin)
	}
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("LoadConfig() error = %v, want nil", err)
	}
}

func TestBuildAvailability(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHeap = 1000
	cfg.MaxOffHeap = 2000
	a := newAllocators()

	avail := cfg.BuildAvailability(a)
	if avail.AvailableHeap() != 1000 || avail.AvailableOffHeap() != 2000 {
		t.Errorf("budget availability = %d/%d, want 1000/2000", avail.AvailableHeap(), avail.AvailableOffHeap())
	}

	b := a.heap.Allocate(100)
	defer a.heap.Free(b)
	if avail.AvailableHeap() != 900 {
		t.Errorf("AvailableHeap() = %d after allocating, want 900", avail.AvailableHeap())
	}

	cfg.Availability = "runtime"
	if _, ok := cfg.BuildAvailability(a).(*bgmemory.RuntimeAvailability); !ok {
		t.Errorf("runtime availability not selected")
	}
}

func TestBuildImporterConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DenseNodeThreshold = 12
	ic := cfg.BuildImporterConfig()
	if ic.DenseNodeThreshold != 12 {
		t.Errorf("DenseNodeThreshold = %d, want 12", ic.DenseNodeThreshold)
	}
	if ic.Workers <= 0 {
		t.Errorf("Workers = %d, want GOMAXPROCS", ic.Workers)
	}
}
