package memory

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type mockMemStatsReader struct {
	mu        sync.Mutex
	heapInUse uint64
}

func (m *mockMemStatsReader) ReadMemStats(stats *runtime.MemStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats.HeapInuse = m.heapInUse
}

func newTestTuner(limit int64) (*GCTuner, *[]int) {
	tuner := NewGCTuner(limit, 100, 10, zerolog.Nop())
	var applied []int
	tuner.setGCPercent = func(v int) int {
		applied = append(applied, v)
		return 100
	}
	return tuner, &applied
}

func TestGCTuner_Logic(t *testing.T) {
	limit := int64(100 * 1024 * 1024)
	tuner, _ := newTestTuner(limit)

	tests := []struct {
		name         string
		heapUsage    uint64
		expectedGOGC int
	}{
		{"Low Usage (10%)", uint64(10 * 1024 * 1024), 100},
		{"Mid Usage (50%)", uint64(50 * 1024 * 1024), 100},
		{"High Usage (90%)", uint64(90 * 1024 * 1024), 10},
		{"Critical Usage (95%)", uint64(95 * 1024 * 1024), 10},
		{"Interpolated (70%)", uint64(70 * 1024 * 1024), 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tuner.tune(tt.heapUsage)
			assert.InDelta(t, tt.expectedGOGC, tuner.Current(), 5, "Heap: %d", tt.heapUsage)
		})
	}
}

func TestGCTuner_IgnoresSmallChanges(t *testing.T) {
	tuner, applied := newTestTuner(100)
	tuner.tune(52) // target 95, within 5 of 100
	assert.Empty(t, *applied)
	tuner.tune(95)
	assert.Equal(t, []int{10}, *applied)
}

func TestGCTuner_StartRestoresOnCancel(t *testing.T) {
	tuner, applied := newTestTuner(100)
	reader := &mockMemStatsReader{heapInUse: 99}
	tuner.reader = reader

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tuner.Start(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return tuner.Current() == 10 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 100, tuner.Current())
	assert.Equal(t, 100, (*applied)[len(*applied)-1])
}

func TestGCTuner_RestoresPreviousGOGC(t *testing.T) {
	tuner := NewGCTuner(100, 100, 10, zerolog.Nop())
	gogc := 80
	tuner.setGCPercent = func(v int) int {
		prev := gogc
		gogc = v
		return prev
	}

	tuner.tune(95)
	tuner.tune(70)
	assert.InDelta(t, 55, gogc, 1)
	tuner.restore()
	assert.Equal(t, 80, gogc)
	assert.Equal(t, 80, tuner.Current())

	// nothing to undo a second time
	tuner.restore()
	assert.Equal(t, 80, gogc)
}

func TestGCTuner_NoBudgetIsNoop(t *testing.T) {
	tuner, applied := newTestTuner(0)
	tuner.Start(context.Background(), time.Millisecond)
	tuner.tune(1 << 40)
	assert.Empty(t, *applied)
}
