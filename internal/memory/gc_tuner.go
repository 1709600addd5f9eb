package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/23skdu/bulkgraph/internal/metrics"
)

// GCTuner lowers GOGC as heap usage approaches the import's heap budget, so that
// heap-backed arrays do not push the process past it between collections.
type GCTuner struct {
	limitBytes int64
	highGOGC   int
	lowGOGC    int

	reader       MemStatsReader
	setGCPercent func(int) int
	logger       zerolog.Logger

	mu          sync.Mutex
	currentGOGC int
	// GOGC in effect before the first adjustment, -1 until then
	original int
}

// NewGCTuner creates a tuner for a heap budget of limitBytes.
func NewGCTuner(limitBytes int64, highGOGC, lowGOGC int, logger zerolog.Logger) *GCTuner {
	if highGOGC <= 0 {
		highGOGC = 100
	}
	if lowGOGC <= 0 {
		lowGOGC = 10
	}
	if lowGOGC > highGOGC {
		lowGOGC = highGOGC
	}

	return &GCTuner{
		limitBytes:   limitBytes,
		highGOGC:     highGOGC,
		lowGOGC:      lowGOGC,
		reader:       &defaultMemStatsReader{},
		setGCPercent: debug.SetGCPercent,
		logger:       logger.With().Str("component", "gc_tuner").Logger(),
		currentGOGC:  100,
		original:     -1,
	}
}

// Start runs the tuner loop until ctx is canceled, then restores the GOGC that was
// in effect before the first adjustment.
func (t *GCTuner) Start(ctx context.Context, interval time.Duration) {
	if t.limitBytes <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var m runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			t.restore()
			return
		case <-ticker.C:
			t.reader.ReadMemStats(&m)
			t.tune(m.HeapInuse)
		}
	}
}

// Current returns the GOGC value last applied.
func (t *GCTuner) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentGOGC
}

func (t *GCTuner) tune(heapInUse uint64) {
	if t.limitBytes <= 0 {
		return
	}

	ratio := float64(heapInUse) / float64(t.limitBytes)
	metrics.GCTunerHeapUtilization.Set(ratio)

	// < 50% -> high, > 90% -> low, linear in between
	var target int
	switch {
	case ratio < 0.5:
		target = t.highGOGC
	case ratio > 0.9:
		target = t.lowGOGC
	default:
		slope := float64(t.lowGOGC-t.highGOGC) / 0.4
		target = t.highGOGC + int(slope*(ratio-0.5))
	}
	target = max(t.lowGOGC, min(t.highGOGC, target))

	t.mu.Lock()
	defer t.mu.Unlock()
	if diff := target - t.currentGOGC; diff < -5 || diff > 5 {
		prev := t.setGCPercent(target)
		if t.original < 0 {
			t.original = prev
		}
		t.logger.Debug().
			Int("from", t.currentGOGC).
			Int("to", target).
			Float64("heap_utilization", ratio).
			Msg("Adjusted GOGC")
		t.currentGOGC = target
		metrics.GCTunerTargetGOGC.Set(float64(target))
	}
}

func (t *GCTuner) restore() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.original < 0 {
		return
	}
	t.setGCPercent(t.original)
	t.currentGOGC = t.original
	t.original = -1
}
