package cache

import (
	stderrors "errors"
	"fmt"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
	"github.com/23skdu/bulkgraph/internal/metrics"
	"github.com/23skdu/bulkgraph/internal/numarray"
	"github.com/23skdu/bulkgraph/internal/packed"
)

const (
	// inlineBits is what a node word can hold without a spill-over pointer. The top
	// bit marks spilled entries.
	inlineBits = packed.WordBits - 1
	spillFlag  = int64(math.MinInt64)

	spillPointer = 0
	spillLength  = 1
)

var spillLayout = packed.MustLayout(idBits, inlineBits-idBits)

// NodeLabelsCache stores the label ids of every node in one word per node. A list
// that fits is bit packed into the word behind its length; a longer one goes to a
// spill-over array and the word keeps its length and position there. A zero word
// means the node has no labels.
type NodeLabelsCache struct {
	bitsPerLabel int
	lengthBits   int
	highLabelID  int
	maxLabels    int
	logger       zerolog.Logger

	cache  *numarray.DynamicLongArray
	spill  *numarray.DynamicLongArray
	cursor atomic.Int64
	closed atomic.Bool

	scratch sync.Pool
}

// NewNodeLabelsCache creates a cache for label ids in [0, highLabelID].
func NewNodeLabelsCache(f *numarray.Factory, highLabelID int, opts ...Option) (*NodeLabelsCache, error) {
	if highLabelID < 0 {
		return nil, bgerrors.NewConfigurationError("cache.new_labels_cache",
			fmt.Sprintf("high label id must not be negative, got %d", highLabelID))
	}
	o := buildOptions("labels_cache", opts)
	if o.nodeChunkSize < 1 {
		return nil, bgerrors.NewConfigurationError("cache.new_labels_cache", "chunk size must be positive")
	}
	cache, err := f.NewDynamicLongArray(o.nodeChunkSize, 0)
	if err != nil {
		return nil, err
	}
	spill, err := f.NewDynamicLongArray(o.nodeChunkSize, 0)
	if err != nil {
		return nil, stderrors.Join(err, cache.Close())
	}
	c := &NodeLabelsCache{
		bitsPerLabel: max(bitsFor(int64(highLabelID)), 1),
		lengthBits:   bitsFor(int64(highLabelID) + 1),
		highLabelID:  highLabelID,
		logger:       o.logger,
		cache:        cache,
		spill:        spill,
	}
	// A spilled list keeps its length in the narrower spill-over slot.
	c.maxLabels = int(min(int64(1)<<c.lengthBits-1, spillLayout.MaxValue(spillLength)))
	c.scratch.New = func() any {
		buf := make([]int64, 0, 4)
		return &buf
	}
	return c, nil
}

func bitsFor(v int64) int { return packed.WordBits - bits.LeadingZeros64(uint64(v)) }

// MaxLabels is the longest label list Put accepts.
func (c *NodeLabelsCache) MaxLabels() int { return c.maxLabels }

// Put stores the labels of nodeID. A label outside [0, highLabelID] or a list longer
// than MaxLabels panics with an overflow error.
func (c *NodeLabelsCache) Put(nodeID int64, labelIDs []int) {
	if len(labelIDs) > c.maxLabels {
		panic(bgerrors.NewOverflowError("cache.put_labels",
			fmt.Sprintf("%d labels exceed the limit of %d", len(labelIDs), c.maxLabels)).
			WithContext("node_id", nodeID))
	}
	buf := c.scratch.Get().(*[]int64)
	b := packed.NewBits((*buf)[:0])
	b.Put(int64(len(labelIDs)), c.lengthBits)
	for _, l := range labelIDs {
		if l < 0 || l > c.highLabelID {
			panic(bgerrors.NewOverflowError("cache.put_labels",
				fmt.Sprintf("label %d outside [0, %d]", l, c.highLabelID)).
				WithContext("node_id", nodeID))
		}
		b.Put(int64(l), c.bitsPerLabel)
	}

	total := c.lengthBits + len(labelIDs)*c.bitsPerLabel
	words := b.Longs()[:b.LongsInUse()]
	if total <= inlineBits {
		var word int64
		if len(words) > 0 {
			word = words[0]
		}
		c.cache.Set(nodeID, word)
	} else {
		n := int64(len(words))
		ptr := c.cursor.Add(n) - n
		for i, w := range words {
			c.spill.Set(ptr+int64(i), w)
		}
		word := spillLayout.Set(0, spillPointer, ptr)
		word = spillLayout.Set(word, spillLength, int64(len(labelIDs)))
		c.cache.Set(nodeID, word|spillFlag)
		metrics.LabelSpillOverWordsTotal.Add(float64(n))
	}

	b.Reset()
	*buf = b.Longs()[:0]
	c.scratch.Put(buf)
}

// Get decodes the labels of nodeID into target, growing it when it is too short,
// and returns it. When target is longer than the list, the slot after the last
// label is -1. A node without labels yields -1 in the first slot.
func (c *NodeLabelsCache) Get(nodeID int64, target []int) []int {
	word := c.cache.Get(nodeID)
	if word == 0 {
		if len(target) == 0 {
			target = make([]int, 1)
		}
		target[0] = -1
		return target
	}

	var src []int64
	var buf *[]int64
	if word < 0 {
		n := int(spillLayout.Get(word, spillLength))
		ptr := spillLayout.Get(word, spillPointer)
		words := (c.lengthBits + n*c.bitsPerLabel + packed.WordBits - 1) / packed.WordBits
		buf = c.scratch.Get().(*[]int64)
		src = (*buf)[:0]
		for i := 0; i < words; i++ {
			src = append(src, c.spill.Get(ptr+int64(i)))
		}
	} else {
		src = []int64{word}
	}

	b := packed.NewBits(src)
	n := int(b.Get(c.lengthBits))
	if len(target) < n {
		target = make([]int, n)
	}
	for i := 0; i < n; i++ {
		target[i] = int(b.Get(c.bitsPerLabel))
	}
	if len(target) > n {
		target[n] = -1
	}

	if buf != nil {
		*buf = src[:0]
		c.scratch.Put(buf)
	}
	return target
}

// TrimLabels cuts a buffer filled by Get at its end marker.
func TrimLabels(target []int) []int {
	for i, l := range target {
		if l == -1 {
			return target[:i]
		}
	}
	return target
}

// SpillOverWords is the number of words written to the spill-over array.
func (c *NodeLabelsCache) SpillOverWords() int64 { return c.cursor.Load() }

func (c *NodeLabelsCache) AcceptMemoryStatsVisitor(v numarray.MemoryStatsVisitor) {
	c.cache.AcceptMemoryStatsVisitor(v)
	c.spill.AcceptMemoryStatsVisitor(v)
}

// Close releases both arrays. It is safe to call more than once.
func (c *NodeLabelsCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.spill.NumberOfChunks() > 0 {
		c.logger.Debug().Int64("spill_words", c.cursor.Load()).Msg("Releasing label spill-over array")
	}
	return stderrors.Join(c.cache.Close(), c.spill.Close())
}
