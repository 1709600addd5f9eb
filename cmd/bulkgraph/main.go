// Command bulkgraph stages a graph through the import caches and reports what they
// held. Input comes from parquet files or is generated.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/23skdu/bulkgraph/internal/core"
	"github.com/23skdu/bulkgraph/internal/importer"
	"github.com/23skdu/bulkgraph/internal/logging"
	bgmemory "github.com/23skdu/bulkgraph/internal/memory"
	"github.com/23skdu/bulkgraph/internal/numarray"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	relationships string
	nodes         string
	envFile       string
	writeFixture  string
	graph         graphSpec
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("bulkgraph", flag.ContinueOnError)
	fs.StringVar(&f.relationships, "relationships", "", "Parquet file of relationships (id, start, end, type)")
	fs.StringVar(&f.nodes, "nodes", "", "Parquet file of nodes (id, labels)")
	fs.StringVar(&f.envFile, "env-file", ".env", "Optional file of BULKGRAPH_* variables")
	fs.StringVar(&f.writeFixture, "write-fixture", "", "Write the generated graph as parquet files into this directory and exit")
	fs.Int64Var(&f.graph.Nodes, "generate-nodes", 0, "Number of nodes of a generated graph")
	fs.Int64Var(&f.graph.Relationships, "generate-rels", 0, "Number of relationships of a generated graph")
	fs.Float64Var(&f.graph.DenseFraction, "dense-fraction", 0.2, "Share of generated relationships attached to hub nodes")
	fs.IntVar(&f.graph.Types, "generate-types", 8, "Number of relationship types of a generated graph")
	fs.IntVar(&f.graph.Labels, "generate-labels", 16, "Number of label ids of a generated graph")
	fs.Uint64Var(&f.graph.Seed, "seed", 1, "Seed of the generated graph")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	generated := f.graph.Nodes > 0
	files := f.relationships != "" || f.nodes != ""
	switch {
	case generated && files:
		return f, errors.New("use either parquet files or a generated graph, not both")
	case !generated && !files:
		return f, errors.New("no input: pass -relationships/-nodes or -generate-nodes")
	case f.writeFixture != "" && !generated:
		return f, errors.New("-write-fixture needs a generated graph")
	}
	return f, nil
}

func run(ctx context.Context, args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := LoadConfig(f.envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.NewLogger(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Output: os.Stderr})
	if err != nil {
		return err
	}

	if f.writeFixture != "" {
		return writeFixture(f.writeFixture, f.graph, logger)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info().Str("address", cfg.MetricsAddr).Msg("Starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	if cfg.GCTune {
		tuner := bgmemory.NewGCTuner(cfg.MaxHeap, 100, 10, logger)
		tunerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go tuner.Start(tunerCtx, time.Second)
	}

	input, release, err := openInput(f, cfg)
	if err != nil {
		return err
	}
	defer release()

	allocs := newAllocators()
	factory, err := numarray.NewFactory(cfg.BuildFactoryConfig(),
		numarray.WithAvailability(cfg.BuildAvailability(allocs)),
		numarray.WithHeapAllocator(allocs.heap),
		numarray.WithOffHeapAllocator(allocs.offHeap),
		numarray.WithLogger(logger))
	if err != nil {
		return err
	}
	im, err := importer.New(factory, cfg.BuildImporterConfig(), logger)
	if err != nil {
		return err
	}

	sink := &countingSink{}
	sum, err := im.Run(ctx, input, sink)
	if err != nil {
		return err
	}
	logSummary(logger, sum, sink, allocs)
	return nil
}

func openInput(f flags, cfg Config) (importer.Input, func(), error) {
	if f.graph.Nodes > 0 {
		rels, nodes := generate(f.graph)
		return importer.NewSliceInput(rels, nodes, cfg.BatchSize), func() {}, nil
	}
	in, err := importer.OpenParquetInput(f.relationships, f.nodes, cfg.BatchSize, memory.NewGoAllocator())
	if err != nil {
		return nil, nil, err
	}
	return in, in.Release, nil
}

func writeFixture(dir string, g graphSpec, logger zerolog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	rels, nodes := generate(g)
	write := func(name string, fn func(*os.File) error) error {
		file, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := fn(file); err != nil {
			_ = file.Close()
			return err
		}
		return file.Close()
	}
	if err := write("relationships.parquet", func(file *os.File) error {
		return importer.WriteParquetRelationships(file, rels)
	}); err != nil {
		return err
	}
	if err := write("nodes.parquet", func(file *os.File) error {
		return importer.WriteParquetNodes(file, nodes)
	}); err != nil {
		return err
	}
	logger.Info().
		Str("dir", dir).
		Int("relationships", len(rels)).
		Int("nodes", len(nodes)).
		Msg("Wrote fixture")
	return nil
}

// countingSink discards what it receives and counts it.
type countingSink struct {
	chainLinks atomic.Int64
	groups     atomic.Int64
	nodes      atomic.Int64
	labels     atomic.Int64
}

func (s *countingSink) RelationshipNext(_ int64, _ core.Endpoint, next int64) {
	if next != core.Empty {
		s.chainLinks.Add(1)
	}
}

func (s *countingSink) Group(int64, int, int64, int64, int64, int64) int64 {
	return s.groups.Add(1) - 1
}

func (s *countingSink) Node(_, _ int64, _ bool, labels []int) {
	s.nodes.Add(1)
	s.labels.Add(int64(len(labels)))
}

func logSummary(logger zerolog.Logger, sum importer.Summary, sink *countingSink, a allocators) {
	ev := logger.Info().
		Int64("nodes", sum.Nodes).
		Int64("relationships", sum.Relationships).
		Int64("dense_nodes", sum.DenseNodes).
		Int64("groups", sum.Groups).
		Int64("label_spill_words", sum.SpillOverWords).
		Int64("heap_bytes", sum.Memory.Heap).
		Int64("off_heap_bytes", sum.Memory.OffHeap).
		Int64("max_group_bytes", sum.MaxGroupBytes).
		Int64("peak_heap_bytes", a.heap.Peak()).
		Int64("peak_off_heap_bytes", a.offHeap.Peak()).
		Int64("chain_links", sink.chainLinks.Load()).
		Int64("labels", sink.labels.Load())
	for phase, d := range sum.Phases {
		ev = ev.Dur(phase, d)
	}
	ev.Msg("Import finished")
}
