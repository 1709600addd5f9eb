package numarray

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	"github.com/23skdu/bulkgraph/internal/core"
	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
	bgmemory "github.com/23skdu/bulkgraph/internal/memory"
	"github.com/23skdu/bulkgraph/internal/metrics"
	"github.com/23skdu/bulkgraph/internal/pagecache"
)

const (
	// DefaultSafetyMargin is kept free on both heap and off-heap by the auto policy.
	DefaultSafetyMargin int64 = 300 << 20
	// DefaultChunkFraction splits an array that fits neither side alone into this many chunks.
	DefaultChunkFraction = 10
)

// FactoryConfig selects the backend policy of a Factory.
type FactoryConfig struct {
	Policy        Backend
	SafetyMargin  int64
	ChunkFraction int
	// PageCacheDir enables page-cache arrays; temporary paged files are created there.
	PageCacheDir string
	PageSize     int
}

// DefaultFactoryConfig returns the auto policy with the default margin and fraction.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		Policy:        Auto,
		SafetyMargin:  DefaultSafetyMargin,
		ChunkFraction: DefaultChunkFraction,
		PageSize:      pagecache.DefaultPageSize,
	}
}

// Decision is the outcome of the auto policy for one allocation.
type Decision int

const (
	DecisionOffHeap Decision = iota + 1
	DecisionHeap
	DecisionChunked
	DecisionPageCache
)

func (d Decision) String() string {
	switch d {
	case DecisionOffHeap:
		return "offheap"
	case DecisionHeap:
		return "heap"
	case DecisionChunked:
		return "chunked"
	case DecisionPageCache:
		return "pagecache"
	default:
		return "insufficient"
	}
}

// decide applies the auto policy to free figures that already exclude the safety
// margin. Order: off-heap, heap, chunked over both, page cache. A heap array is one
// Go slice, so it must also be addressable by int.
func decide(bytes, freeHeap, freeOffHeap int64, canChunk, pageCache bool) (Decision, bool) {
	switch {
	case bytes <= freeOffHeap:
		return DecisionOffHeap, true
	case bytes <= freeHeap && bytes <= math.MaxInt:
		return DecisionHeap, true
	case canChunk && bytes <= freeHeap+freeOffHeap:
		return DecisionChunked, true
	case pageCache:
		return DecisionPageCache, true
	}
	return 0, false
}

// Factory creates arrays on the backend its policy selects. It is safe for concurrent use.
type Factory struct {
	cfg          FactoryConfig
	pageSize     int
	availability bgmemory.Availability
	heap         memory.Allocator
	offHeap      memory.Allocator
	logger       zerolog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithAvailability sets the memory estimate the auto policy consults.
func WithAvailability(a bgmemory.Availability) Option {
	return func(f *Factory) { f.availability = a }
}

// WithHeapAllocator sets the allocator for heap arrays.
func WithHeapAllocator(a memory.Allocator) Option {
	return func(f *Factory) { f.heap = a }
}

// WithOffHeapAllocator sets the allocator for native memory arrays.
func WithOffHeapAllocator(a memory.Allocator) Option {
	return func(f *Factory) { f.offHeap = a }
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// NewFactory validates cfg and creates a factory. Without options it reads runtime
// memory figures, allocates heap arrays with the arrow Go allocator and native arrays
// with anonymous mappings.
func NewFactory(cfg FactoryConfig, opts ...Option) (*Factory, error) {
	if cfg.SafetyMargin < 0 {
		return nil, bgerrors.NewConfigurationError("numarray.new_factory",
			fmt.Sprintf("safety margin %d is negative", cfg.SafetyMargin))
	}
	if cfg.ChunkFraction == 0 {
		cfg.ChunkFraction = DefaultChunkFraction
	}
	if cfg.ChunkFraction < 2 {
		return nil, bgerrors.NewConfigurationError("numarray.new_factory",
			fmt.Sprintf("chunk fraction %d must be at least 2", cfg.ChunkFraction))
	}
	if cfg.Policy == PageCache && cfg.PageCacheDir == "" {
		return nil, bgerrors.NewConfigurationError("numarray.new_factory",
			"page cache policy needs a page cache directory")
	}
	f := &Factory{
		cfg:      cfg,
		pageSize: pagecache.RoundPageSize(cfg.PageSize),
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(f)
	}
	if f.availability == nil {
		f.availability = bgmemory.NewRuntimeAvailability()
	}
	if f.heap == nil {
		f.heap = memory.NewGoAllocator()
	}
	if f.offHeap == nil {
		f.offHeap = bgmemory.NewNativeAllocator()
	}
	f.logger = f.logger.With().Str("component", "array_factory").Logger()
	return f, nil
}

func (f *Factory) Config() FactoryConfig                { return f.cfg }
func (f *Factory) Availability() bgmemory.Availability { return f.availability }

// Decide returns the backend the auto policy picks for length items of itemSize
// bytes, or a capacity error wrapping core.ErrInsufficientMemory.
func (f *Factory) Decide(length int64, itemSize int) (Decision, error) {
	bytes := length * int64(itemSize)
	freeHeap := max(0, f.availability.AvailableHeap()-f.cfg.SafetyMargin)
	freeOffHeap := max(0, f.availability.AvailableOffHeap()-f.cfg.SafetyMargin)
	canChunk := f.chunkLength(length) < length

	d, ok := decide(bytes, freeHeap, freeOffHeap, canChunk, f.cfg.PageCacheDir != "")
	metrics.ArraySelectionTotal.WithLabelValues(d.String()).Inc()
	if !ok {
		err := bgerrors.WrapCapacityError(core.NewInsufficientMemoryError(bytes, freeHeap, freeOffHeap),
			"numarray.decide", "no backend can hold the array").
			WithContext("length", length).WithContext("item_size", itemSize)
		f.logger.Error().Err(err).
			Int64("requested_bytes", bytes).
			Int64("free_heap", freeHeap).
			Int64("free_off_heap", freeOffHeap).
			Msg("Insufficient memory for array")
		return 0, err
	}
	f.logger.Debug().
		Int64("length", length).
		Int("item_size", itemSize).
		Str("decision", d.String()).
		Int64("free_heap", freeHeap).
		Int64("free_off_heap", freeOffHeap).
		Msg("Selected array backend")
	return d, nil
}

func (f *Factory) chunkLength(length int64) int64 {
	fr := int64(f.cfg.ChunkFraction)
	return max(1, (length+fr-1)/fr)
}

// kind binds the constructors of one array type so placement can be written once.
type kind[T NumberArray] struct {
	itemSize int
	heap     func(alloc memory.Allocator, length, base int64) (T, error)
	offHeap  func(alloc memory.Allocator, length, base int64) (T, error)
	paged    func(pf *pagecache.PagedFile, length, base int64) (T, error)
	chunked  func(chunks []T, chunkLength, base, length int64) T
}

func place[T NumberArray](f *Factory, k kind[T], length, base int64) (T, error) {
	var zero T
	if length < 0 {
		return zero, bgerrors.NewConfigurationError("numarray.place", fmt.Sprintf("negative length %d", length))
	}
	switch f.cfg.Policy {
	case Heap:
		return k.heap(f.heap, length, base)
	case OffHeap:
		return k.offHeap(f.offHeap, length, base)
	case PageCache:
		return placePaged(f, k, length, base)
	}

	d, err := f.Decide(length, k.itemSize)
	if err != nil {
		return zero, err
	}
	switch d {
	case DecisionOffHeap:
		return k.offHeap(f.offHeap, length, base)
	case DecisionHeap:
		return k.heap(f.heap, length, base)
	case DecisionPageCache:
		return placePaged(f, k, length, base)
	}

	chunkLen := f.chunkLength(length)
	chunks := make([]T, 0, (length+chunkLen-1)/chunkLen)
	for off := int64(0); off < length; off += chunkLen {
		c, err := place(f, k, min(chunkLen, length-off), base+off)
		if err != nil {
			_ = closeAll(chunks)
			return zero, err
		}
		chunks = append(chunks, c)
	}
	return k.chunked(chunks, chunkLen, base, length), nil
}

func placePaged[T NumberArray](f *Factory, k kind[T], length, base int64) (T, error) {
	var zero T
	pf, err := pagecache.CreateTemp(f.cfg.PageCacheDir, f.pageSize, pagesFor(length, k.itemSize, f.pageSize), f.logger)
	if err != nil {
		return zero, err
	}
	a, err := k.paged(pf, length, base)
	if err != nil {
		_ = pf.Close()
		return zero, err
	}
	return a, nil
}

func longKind(def int64) kind[LongArray] {
	return kind[LongArray]{
		itemSize: 8,
		heap: func(alloc memory.Allocator, length, base int64) (LongArray, error) {
			return asLong(NewHeapLongArray(alloc, length, def, base))
		},
		offHeap: func(alloc memory.Allocator, length, base int64) (LongArray, error) {
			return asLong(NewOffHeapLongArray(alloc, length, def, base))
		},
		paged: func(pf *pagecache.PagedFile, length, base int64) (LongArray, error) {
			return asLong(NewPageCacheLongArray(pf, length, def, base))
		},
		chunked: func(chunks []LongArray, chunkLength, base, length int64) LongArray {
			return newChunkedLongArray(chunks, chunkLength, base, length)
		},
	}
}

func intKind(def int32) kind[IntArray] {
	return kind[IntArray]{
		itemSize: 4,
		heap: func(alloc memory.Allocator, length, base int64) (IntArray, error) {
			return asInt(NewHeapIntArray(alloc, length, def, base))
		},
		offHeap: func(alloc memory.Allocator, length, base int64) (IntArray, error) {
			return asInt(NewOffHeapIntArray(alloc, length, def, base))
		},
		paged: func(pf *pagecache.PagedFile, length, base int64) (IntArray, error) {
			return asInt(NewPageCacheIntArray(pf, length, def, base))
		},
		chunked: func(chunks []IntArray, chunkLength, base, length int64) IntArray {
			return newChunkedIntArray(chunks, chunkLength, base, length)
		},
	}
}

func byteKind(defaultItem []byte) kind[ByteArray] {
	return kind[ByteArray]{
		itemSize: len(defaultItem),
		heap: func(alloc memory.Allocator, length, base int64) (ByteArray, error) {
			return asByte(NewHeapByteArray(alloc, length, defaultItem, base))
		},
		offHeap: func(alloc memory.Allocator, length, base int64) (ByteArray, error) {
			return asByte(NewOffHeapByteArray(alloc, length, defaultItem, base))
		},
		paged: func(pf *pagecache.PagedFile, length, base int64) (ByteArray, error) {
			return asByte(NewPageCacheByteArray(pf, length, defaultItem, base))
		},
		chunked: func(chunks []ByteArray, chunkLength, base, length int64) ByteArray {
			return newChunkedByteArray(chunks, chunkLength, base, length, len(defaultItem))
		},
	}
}

// The as* helpers keep a failed constructor's nil pointer from becoming a non-nil
// interface value.
func asLong(a *FixedLongArray, err error) (LongArray, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

func asInt(a *FixedIntArray, err error) (IntArray, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

func asByte(a *FixedByteArray, err error) (ByteArray, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewLongArray creates length longs covering [base, base+length).
func (f *Factory) NewLongArray(length, def, base int64) (LongArray, error) {
	return place(f, longKind(def), length, base)
}

func (f *Factory) NewIntArray(length int64, def int32, base int64) (IntArray, error) {
	return place(f, intKind(def), length, base)
}

// NewByteArray creates length items of len(defaultItem) bytes.
func (f *Factory) NewByteArray(length int64, defaultItem []byte, base int64) (ByteArray, error) {
	if err := checkItemSize(defaultItem); err != nil {
		return nil, err
	}
	return place(f, byteKind(defaultItem), length, base)
}

// NewDynamicLongArray creates a growable array whose chunks the factory places one by one.
func (f *Factory) NewDynamicLongArray(chunkSize, def int64) (*DynamicLongArray, error) {
	if err := checkChunkSize(chunkSize); err != nil {
		return nil, err
	}
	k := longKind(def)
	return newDynamicLongArray(chunkSize, def, func(base, length int64) (LongArray, error) {
		return place(f, k, length, base)
	}), nil
}

func (f *Factory) NewDynamicIntArray(chunkSize int64, def int32) (*DynamicIntArray, error) {
	if err := checkChunkSize(chunkSize); err != nil {
		return nil, err
	}
	k := intKind(def)
	return newDynamicIntArray(chunkSize, def, func(base, length int64) (IntArray, error) {
		return place(f, k, length, base)
	}), nil
}

func (f *Factory) NewDynamicByteArray(chunkSize int64, defaultItem []byte) (*DynamicByteArray, error) {
	if err := checkChunkSize(chunkSize); err != nil {
		return nil, err
	}
	def, err := NewHeapByteArray(f.heap, 1, defaultItem, 0)
	if err != nil {
		return nil, err
	}
	k := byteKind(defaultItem)
	return newDynamicByteArray(chunkSize, defaultItem, def, func(base, length int64) (ByteArray, error) {
		return place(f, k, length, base)
	}), nil
}

func checkChunkSize(chunkSize int64) error {
	if chunkSize < 1 {
		return bgerrors.NewConfigurationError("numarray.dynamic",
			fmt.Sprintf("chunk size %d must be positive", chunkSize))
	}
	return nil
}
