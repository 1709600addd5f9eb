// Package importer runs a bulk import through the staging caches: it counts node
// degrees, links relationships into per-node chains and groups, stages labels and
// finally hands every node to a Sink.
package importer

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/bulkgraph/internal/cache"
	"github.com/23skdu/bulkgraph/internal/core"
	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
	"github.com/23skdu/bulkgraph/internal/metrics"
	"github.com/23skdu/bulkgraph/internal/numarray"
)

const (
	PhaseCounting = "counting"
	PhaseLinking  = "linking"
	PhaseLabels   = "labels"
	PhaseFixate   = "fixate"
	PhaseFlush    = "flush"
)

// DefaultDenseNodeThreshold is the degree at which a node gets relationship groups.
const DefaultDenseNodeThreshold = 50

// Config tunes an Importer.
type Config struct {
	DenseNodeThreshold int64
	// Workers is the number of goroutines per phase. Node ids are striped across them.
	Workers        int
	NodeChunkSize  int64
	GroupChunkSize int64
}

func DefaultConfig() Config {
	return Config{
		DenseNodeThreshold: DefaultDenseNodeThreshold,
		Workers:            runtime.GOMAXPROCS(0),
		NodeChunkSize:      cache.DefaultNodeChunkSize,
		GroupChunkSize:     cache.DefaultGroupChunkSize,
	}
}

// Summary describes a finished import.
type Summary struct {
	Nodes          int64
	Relationships  int64
	DenseNodes     int64
	Groups         int64
	SpillOverWords int64
	// MaxGroupBytes is the budgeted upper bound of the group array.
	MaxGroupBytes int64
	// Memory is what both caches held when the import finished.
	Memory numarray.MemoryStats
	Phases map[string]time.Duration
}

// PhaseError is a failure inside a phase, with the entity being processed.
type PhaseError struct {
	Phase  string
	Entity string
	ID     int64
	Err    error
}

func (e *PhaseError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("import phase %s failed: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("import phase %s failed at %s %d: %v", e.Phase, e.Entity, e.ID, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Importer runs imports with arrays placed by one factory.
type Importer struct {
	factory *numarray.Factory
	cfg     Config
	logger  zerolog.Logger
}

func New(f *numarray.Factory, cfg Config, logger zerolog.Logger) (*Importer, error) {
	if cfg.DenseNodeThreshold < 1 {
		return nil, bgerrors.NewConfigurationError("importer.new",
			fmt.Sprintf("dense node threshold must be positive, got %d", cfg.DenseNodeThreshold))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.NodeChunkSize <= 0 {
		cfg.NodeChunkSize = cache.DefaultNodeChunkSize
	}
	if cfg.GroupChunkSize <= 0 {
		cfg.GroupChunkSize = cache.DefaultGroupChunkSize
	}
	return &Importer{
		factory: f,
		cfg:     cfg,
		logger:  logger.With().Str("component", "importer").Logger(),
	}, nil
}

// tracker follows what one worker is doing, so a panic can be reported with the
// entity at fault.
type tracker struct {
	phase   string
	entity  string
	id      int64
	records int64
}

func (t *tracker) at(entity string, id int64) {
	t.entity, t.id = entity, id
}

func (t *tracker) fail(err error) error {
	return &PhaseError{Phase: t.phase, Entity: t.entity, ID: t.id, Err: err}
}

func (t *tracker) recovered(r any) error {
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	return t.fail(err)
}

// run is one import: both caches live exactly as long as it does.
type run struct {
	im     *Importer
	input  Input
	sink   Sink
	est    core.Estimates
	rels   *cache.NodeRelationshipCache
	labels *cache.NodeLabelsCache
	sum    Summary
}

// Run imports input into sink. Whatever happens, every array is released before it
// returns.
func (im *Importer) Run(ctx context.Context, input Input, sink Sink) (sum Summary, err error) {
	r := &run{im: im, input: input, sink: sink, est: input.Estimates()}
	r.sum.Phases = make(map[string]time.Duration)
	r.sum.Nodes = r.est.NumberOfNodes

	estimate := cache.MemoryEstimation(r.est.NumberOfNodes)
	im.logger.Info().
		Int64("nodes", r.est.NumberOfNodes).
		Int64("relationships", r.est.NumberOfRelationships).
		Int("high_label_id", r.est.HighLabelID).
		Int64("node_cache_bytes", estimate.OffHeap).
		Int("workers", im.cfg.Workers).
		Msg("Starting import")

	defer func() {
		var closeErr error
		if r.labels != nil {
			closeErr = r.labels.Close()
		}
		if r.rels != nil {
			closeErr = stderrors.Join(closeErr, r.rels.Close())
		}
		err = stderrors.Join(err, closeErr)
		if err != nil {
			im.logger.Error().Err(err).Msg("Import failed")
		}
	}()

	opts := []cache.Option{
		cache.WithNodeChunkSize(im.cfg.NodeChunkSize),
		cache.WithGroupChunkSize(im.cfg.GroupChunkSize),
		cache.WithLogger(im.logger),
	}
	if r.rels, err = cache.NewNodeRelationshipCache(im.factory, im.cfg.DenseNodeThreshold, opts...); err != nil {
		return r.sum, err
	}
	if r.labels, err = cache.NewNodeLabelsCache(im.factory, r.est.HighLabelID, opts...); err != nil {
		return r.sum, err
	}
	if err = r.rels.SetNodeCount(r.est.NumberOfNodes); err != nil {
		return r.sum, err
	}

	if err = im.phase(ctx, r, PhaseCounting, r.count); err != nil {
		return r.sum, err
	}
	r.rels.CountingCompleted()
	if err = im.phase(ctx, r, PhaseLinking, r.link); err != nil {
		return r.sum, err
	}
	if err = im.phase(ctx, r, PhaseLabels, r.stageLabels); err != nil {
		return r.sum, err
	}

	start := time.Now()
	r.rels.FixateNodes()
	r.rels.FixateGroups()
	r.sum.Phases[PhaseFixate] = time.Since(start)

	if err = im.phase(ctx, r, PhaseFlush, r.flush); err != nil {
		return r.sum, err
	}

	r.sum.DenseNodes = r.rels.NumberOfDenseNodes()
	r.sum.Groups = r.rels.NumberOfGroups()
	r.sum.SpillOverWords = r.labels.SpillOverWords()
	r.sum.MaxGroupBytes = r.rels.CalculateMaxMemoryUsage(r.est.NumberOfRelationships)
	r.rels.AcceptMemoryStatsVisitor(&r.sum.Memory)
	r.labels.AcceptMemoryStatsVisitor(&r.sum.Memory)
	return r.sum, nil
}

// phase runs work on every worker and waits for all of them. The first failure
// cancels the others.
func (im *Importer) phase(ctx context.Context, r *run, name string, work func(ctx context.Context, w int, t *tracker) error) error {
	start := time.Now()
	im.logger.Info().Str("phase", name).Msg("Phase started")

	g, gctx := errgroup.WithContext(ctx)
	var records atomic.Int64
	for w := 0; w < im.cfg.Workers; w++ {
		g.Go(func() (err error) {
			t := &tracker{phase: name, id: core.Empty}
			defer func() {
				if p := recover(); p != nil {
					err = t.recovered(p)
				}
				records.Add(t.records)
			}()
			return work(gctx, w, t)
		})
	}
	err := g.Wait()

	elapsed := time.Since(start)
	r.sum.Phases[name] = elapsed
	metrics.ImportPhaseDurationSeconds.WithLabelValues(name).Observe(elapsed.Seconds())
	metrics.ImportRecordsTotal.WithLabelValues(name).Add(float64(records.Load()))
	if err != nil {
		metrics.ImportFailuresTotal.WithLabelValues(name).Inc()
		return err
	}
	if name == PhaseCounting {
		r.sum.Relationships = records.Load()
	}
	im.logger.Info().
		Str("phase", name).
		Int64("records", records.Load()).
		Dur("duration", elapsed).
		Msg("Phase completed")
	return nil
}

func (r *run) owns(nodeID int64, w int) bool {
	return nodeID%int64(r.im.cfg.Workers) == int64(w)
}

func (r *run) checkNode(nodeID int64) error {
	if nodeID < 0 || nodeID >= r.est.NumberOfNodes {
		return bgerrors.NewInputError("importer.check_node",
			fmt.Sprintf("node id %d outside [0, %d)", nodeID, r.est.NumberOfNodes))
	}
	return nil
}

// relationships calls fn for every relationship of every batch.
func (r *run) relationships(ctx context.Context, t *tracker, fn func(core.Relationship) error) error {
	var buf []core.Relationship
	for b := 0; b < r.input.RelationshipBatches(); b++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if buf, err = r.input.ReadRelationships(b, buf); err != nil {
			return t.fail(err)
		}
		for _, rel := range buf {
			t.at("relationship", rel.ID)
			if err := fn(rel); err != nil {
				return t.fail(err)
			}
		}
	}
	return nil
}

func (r *run) count(ctx context.Context, w int, t *tracker) error {
	return r.relationships(ctx, t, func(rel core.Relationship) error {
		if err := stderrors.Join(r.checkNode(rel.Start), r.checkNode(rel.End)); err != nil {
			return err
		}
		if rel.Type < 0 {
			return bgerrors.NewInputError("importer.count", fmt.Sprintf("negative relationship type %d", rel.Type))
		}
		if r.owns(rel.Start, w) {
			r.rels.IncrementCount(rel.Start)
			t.records++
		}
		if !rel.IsLoop() && r.owns(rel.End, w) {
			r.rels.IncrementCount(rel.End)
		}
		return nil
	})
}

// link puts every relationship at the head of its chains. The id each end displaces
// becomes that end's next pointer.
func (r *run) link(ctx context.Context, w int, t *tracker) error {
	return r.relationships(ctx, t, func(rel core.Relationship) error {
		if r.owns(rel.Start, w) {
			d := core.Outgoing
			if rel.IsLoop() {
				d = core.Loop
			}
			prev := r.rels.GetAndPutRelationship(rel.Start, rel.Type, d, rel.ID, true)
			r.sink.RelationshipNext(rel.ID, core.StartEndpoint, prev)
			if rel.IsLoop() {
				r.sink.RelationshipNext(rel.ID, core.EndEndpoint, prev)
			}
			t.records++
		}
		if !rel.IsLoop() && r.owns(rel.End, w) {
			prev := r.rels.GetAndPutRelationship(rel.End, rel.Type, core.Incoming, rel.ID, true)
			r.sink.RelationshipNext(rel.ID, core.EndEndpoint, prev)
		}
		return nil
	})
}

func (r *run) stageLabels(ctx context.Context, w int, t *tracker) error {
	var buf []core.Node
	for b := 0; b < r.input.NodeBatches(); b++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if buf, err = r.input.ReadNodes(b, buf); err != nil {
			return t.fail(err)
		}
		for _, n := range buf {
			t.at("node", n.ID)
			if err := r.checkNode(n.ID); err != nil {
				return t.fail(err)
			}
			if r.owns(n.ID, w) {
				r.labels.Put(n.ID, n.Labels)
				t.records++
			}
		}
	}
	return nil
}

// flush writes the node records of a contiguous slice of the id range. Only nodes
// the link phase changed have a chain to read; the rest get an empty pointer.
func (r *run) flush(ctx context.Context, w int, t *tracker) error {
	workers := int64(r.im.cfg.Workers)
	from := r.est.NumberOfNodes * int64(w) / workers
	to := r.est.NumberOfNodes * int64(w+1) / workers

	var labels []int
	emit := func(id, first int64) error {
		if (id-from)%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		t.at("node", id)
		labels = r.labels.Get(id, labels)
		r.sink.Node(id, first, r.rels.IsDense(id), cache.TrimLabels(labels))
		t.records++
		return nil
	}
	next := from
	unchanged := func(end int64) error {
		for ; next < end; next++ {
			if err := emit(next, core.Empty); err != nil {
				return err
			}
		}
		return nil
	}

	err := r.rels.VisitChangedNodesRange(core.NodeTypeAll, from, to, func(id int64) error {
		if err := unchanged(id); err != nil {
			return err
		}
		next = id + 1
		return emit(id, r.rels.GetFirstRel(id, r.sink.Group))
	})
	if err != nil {
		return err
	}
	return unchanged(to)
}
