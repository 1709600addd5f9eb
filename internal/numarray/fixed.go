package numarray

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
	"github.com/23skdu/bulkgraph/internal/metrics"
	"github.com/23skdu/bulkgraph/internal/pagecache"
)

// fixed is the part shared by all fixed-length arrays: index translation, bounds,
// swapping, defaults and release.
type fixed struct {
	st       storage
	length   int64
	base     int64
	itemSize int
	pattern  []byte
	closed   atomic.Bool
}

func (a *fixed) init(st storage, length, base int64, itemSize int, pattern []byte) {
	if !isZero(pattern) {
		st.fill(pattern)
	}
	a.st, a.length, a.base, a.itemSize, a.pattern = st, length, base, itemSize, pattern
	b := st.backend().String()
	metrics.ArrayBytes.WithLabelValues(b).Add(float64(st.sizeBytes()))
	metrics.ArrayAllocationsTotal.WithLabelValues(b).Inc()
}

func (a *fixed) Length() int64    { return a.length }
func (a *fixed) Base() int64      { return a.base }
func (a *fixed) ItemSize() int    { return a.itemSize }
func (a *fixed) Backend() Backend { return a.st.backend() }

func (a *fixed) offset(i int64) int64 {
	j := i - a.base
	if j < 0 || j >= a.length {
		panic(indexError("numarray.index", i, a.base, a.length))
	}
	return j * int64(a.itemSize)
}

func (a *fixed) subOffset(i int64, off, width int) int64 {
	o := a.offset(i)
	if off < 0 || off+width > a.itemSize {
		panic(bgerrors.NewBoundsError("numarray.field",
			fmt.Sprintf("field [%d, %d) outside item of %d bytes", off, off+width, a.itemSize)).
			WithContext("index", i))
	}
	return o + int64(off)
}

func (a *fixed) Swap(from, to int64, n int) {
	if n <= 0 || from == to {
		return
	}
	last := int64(n - 1)
	fo, to2 := a.offset(from), a.offset(to)
	a.offset(from + last)
	a.offset(to + last)

	size := n * a.itemSize
	var stack [2][64]byte
	var x, y []byte
	if size <= len(stack[0]) {
		x, y = stack[0][:size], stack[1][:size]
	} else {
		x, y = make([]byte, size), make([]byte, size)
	}
	a.st.getBytes(fo, x)
	a.st.getBytes(to2, y)
	a.st.putBytes(fo, y)
	a.st.putBytes(to2, x)
}

func (a *fixed) Clear() { a.st.fill(a.pattern) }

func (a *fixed) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	metrics.ArrayBytes.WithLabelValues(a.st.backend().String()).Sub(float64(a.st.sizeBytes()))
	return a.st.release()
}

func (a *fixed) AcceptMemoryStatsVisitor(v MemoryStatsVisitor) { a.st.accept(v) }

// FixedLongArray is a fixed-length array of int64.
type FixedLongArray struct {
	fixed
	def int64
}

func newFixedLong(st storage, length, def, base int64) *FixedLongArray {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], uint64(def))
	a := &FixedLongArray{def: def}
	a.init(st, length, base, 8, p[:])
	return a
}

// NewHeapLongArray allocates length longs on the heap through alloc.
func NewHeapLongArray(alloc memory.Allocator, length, def, base int64) (*FixedLongArray, error) {
	st, err := newMemStorage(alloc, length*8, Heap)
	if err != nil {
		return nil, err
	}
	return newFixedLong(st, length, def, base), nil
}

// NewOffHeapLongArray allocates length longs in native memory through alloc. The block
// is freed on Close.
func NewOffHeapLongArray(alloc memory.Allocator, length, def, base int64) (*FixedLongArray, error) {
	st, err := newMemStorage(alloc, length*8, OffHeap)
	if err != nil {
		return nil, err
	}
	return newFixedLong(st, length, def, base), nil
}

// NewPageCacheLongArray lays length longs over pf. The array owns pf and closes it.
func NewPageCacheLongArray(pf *pagecache.PagedFile, length, def, base int64) (*FixedLongArray, error) {
	st, err := newPagedStorage(pf, length, 8)
	if err != nil {
		return nil, err
	}
	return newFixedLong(st, length, def, base), nil
}

func (a *FixedLongArray) Get(i int64) int64 { return a.st.getLong(a.offset(i)) }
func (a *FixedLongArray) Set(i, v int64)    { a.st.putLong(a.offset(i), v) }
func (a *FixedLongArray) Default() int64    { return a.def }

// FixedIntArray is a fixed-length array of int32.
type FixedIntArray struct {
	fixed
	def int32
}

func newFixedInt(st storage, length int64, def int32, base int64) *FixedIntArray {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(def))
	a := &FixedIntArray{def: def}
	a.init(st, length, base, 4, p[:])
	return a
}

func NewHeapIntArray(alloc memory.Allocator, length int64, def int32, base int64) (*FixedIntArray, error) {
	st, err := newMemStorage(alloc, length*4, Heap)
	if err != nil {
		return nil, err
	}
	return newFixedInt(st, length, def, base), nil
}

func NewOffHeapIntArray(alloc memory.Allocator, length int64, def int32, base int64) (*FixedIntArray, error) {
	st, err := newMemStorage(alloc, length*4, OffHeap)
	if err != nil {
		return nil, err
	}
	return newFixedInt(st, length, def, base), nil
}

func NewPageCacheIntArray(pf *pagecache.PagedFile, length int64, def int32, base int64) (*FixedIntArray, error) {
	st, err := newPagedStorage(pf, length, 4)
	if err != nil {
		return nil, err
	}
	return newFixedInt(st, length, def, base), nil
}

func (a *FixedIntArray) Get(i int64) int32    { return a.st.getInt(a.offset(i)) }
func (a *FixedIntArray) Set(i int64, v int32) { a.st.putInt(a.offset(i), v) }
func (a *FixedIntArray) Default() int32       { return a.def }

// FixedByteArray is a fixed-length array of items len(defaultItem) bytes wide.
type FixedByteArray struct {
	fixed
}

func newFixedByte(st storage, length int64, defaultItem []byte, base int64) *FixedByteArray {
	def := append([]byte(nil), defaultItem...)
	a := &FixedByteArray{}
	a.init(st, length, base, len(def), def)
	return a
}

func checkItemSize(defaultItem []byte) error {
	if len(defaultItem) == 0 {
		return bgerrors.NewConfigurationError("numarray.byte_array", "default item must not be empty")
	}
	return nil
}

func NewHeapByteArray(alloc memory.Allocator, length int64, defaultItem []byte, base int64) (*FixedByteArray, error) {
	if err := checkItemSize(defaultItem); err != nil {
		return nil, err
	}
	st, err := newMemStorage(alloc, length*int64(len(defaultItem)), Heap)
	if err != nil {
		return nil, err
	}
	return newFixedByte(st, length, defaultItem, base), nil
}

func NewOffHeapByteArray(alloc memory.Allocator, length int64, defaultItem []byte, base int64) (*FixedByteArray, error) {
	if err := checkItemSize(defaultItem); err != nil {
		return nil, err
	}
	st, err := newMemStorage(alloc, length*int64(len(defaultItem)), OffHeap)
	if err != nil {
		return nil, err
	}
	return newFixedByte(st, length, defaultItem, base), nil
}

func NewPageCacheByteArray(pf *pagecache.PagedFile, length int64, defaultItem []byte, base int64) (*FixedByteArray, error) {
	if err := checkItemSize(defaultItem); err != nil {
		return nil, err
	}
	st, err := newPagedStorage(pf, length, len(defaultItem))
	if err != nil {
		return nil, err
	}
	return newFixedByte(st, length, defaultItem, base), nil
}

// Get copies the item into into, which must hold at least ItemSize bytes.
func (a *FixedByteArray) Get(i int64, into []byte) {
	a.st.getBytes(a.offset(i), into[:a.itemSize])
}

// Set writes v as the leading bytes of the item.
func (a *FixedByteArray) Set(i int64, v []byte) {
	a.st.putBytes(a.subOffset(i, 0, len(v)), v)
}

func (a *FixedByteArray) GetByte(i int64, off int) byte {
	return a.st.getByte(a.subOffset(i, off, 1))
}

func (a *FixedByteArray) SetByte(i int64, off int, v byte) {
	a.st.putByte(a.subOffset(i, off, 1), v)
}

func (a *FixedByteArray) GetShort(i int64, off int) int16 {
	var b [2]byte
	a.st.getBytes(a.subOffset(i, off, 2), b[:])
	return int16(binary.LittleEndian.Uint16(b[:]))
}

func (a *FixedByteArray) SetShort(i int64, off int, v int16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	a.st.putBytes(a.subOffset(i, off, 2), b[:])
}

func (a *FixedByteArray) GetInt(i int64, off int) int32 {
	return a.st.getInt(a.subOffset(i, off, 4))
}

func (a *FixedByteArray) SetInt(i int64, off int, v int32) {
	a.st.putInt(a.subOffset(i, off, 4), v)
}

func (a *FixedByteArray) Get3ByteInt(i int64, off int) int32 {
	var b [4]byte
	a.st.getBytes(a.subOffset(i, off, 3), b[:3])
	v := binary.LittleEndian.Uint32(b[:])
	if v == 0xFFFFFF {
		return -1
	}
	return int32(v)
}

func (a *FixedByteArray) Set3ByteInt(i int64, off int, v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	a.st.putBytes(a.subOffset(i, off, 3), b[:3])
}

func (a *FixedByteArray) Get6ByteLong(i int64, off int) int64 {
	var b [8]byte
	a.st.getBytes(a.subOffset(i, off, 6), b[:6])
	v := binary.LittleEndian.Uint64(b[:])
	if v == 0xFFFFFFFFFFFF {
		return -1
	}
	return int64(v)
}

func (a *FixedByteArray) Set6ByteLong(i int64, off int, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	a.st.putBytes(a.subOffset(i, off, 6), b[:6])
}

func (a *FixedByteArray) GetLong(i int64, off int) int64 {
	return a.st.getLong(a.subOffset(i, off, 8))
}

func (a *FixedByteArray) SetLong(i int64, off int, v int64) {
	a.st.putLong(a.subOffset(i, off, 8), v)
}

var (
	_ LongArray = (*FixedLongArray)(nil)
	_ IntArray  = (*FixedIntArray)(nil)
	_ ByteArray = (*FixedByteArray)(nil)
)
