package numarray

import (
	"sync"
	"sync/atomic"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
)

// dynamic grows by appending chunks of chunkSize items. The chunk list is replaced
// copy-on-write under mu, so readers load it without locking.
type dynamic[T NumberArray] struct {
	chunkSize int64
	itemSize  int
	newChunk  func(base, length int64) (T, error)

	mu      sync.Mutex
	chunks  atomic.Pointer[[]T]
	closed  atomic.Bool
	fixated atomic.Bool
}

func (d *dynamic[T]) init(chunkSize int64, itemSize int, newChunk func(base, length int64) (T, error)) {
	d.chunkSize, d.itemSize, d.newChunk = chunkSize, itemSize, newChunk
}

func (d *dynamic[T]) load() []T {
	if p := d.chunks.Load(); p != nil {
		return *p
	}
	return nil
}

// Length is the capacity covered by the allocated chunks.
func (d *dynamic[T]) Length() int64       { return int64(len(d.load())) * d.chunkSize }
func (d *dynamic[T]) Base() int64         { return 0 }
func (d *dynamic[T]) ItemSize() int       { return d.itemSize }
func (d *dynamic[T]) ChunkSize() int64    { return d.chunkSize }
func (d *dynamic[T]) NumberOfChunks() int { return len(d.load()) }

func (d *dynamic[T]) at(i int64) (T, bool) {
	if i < 0 {
		panic(indexError("numarray.dynamic_index", i, 0, d.Length()))
	}
	cs := d.load()
	k := i / d.chunkSize
	if k >= int64(len(cs)) {
		var zero T
		return zero, false
	}
	return cs[k], true
}

// EnsureChunkAt allocates chunks until index i is covered. Each chunk is placed by
// the factory's policy on its own.
func (d *dynamic[T]) EnsureChunkAt(i int64) error {
	if i < 0 {
		return indexError("numarray.ensure_chunk", i, 0, d.Length())
	}
	k := i / d.chunkSize
	if k < int64(len(d.load())) {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fixated.Load() {
		return bgerrors.NewCapacityError("numarray.ensure_chunk", "array was fixated and cannot grow").
			WithContext("index", i)
	}
	cs := d.load()
	if k < int64(len(cs)) {
		return nil
	}
	grown := make([]T, len(cs), k+1)
	copy(grown, cs)
	var err error
	for int64(len(grown)) <= k {
		var c T
		if c, err = d.newChunk(int64(len(grown))*d.chunkSize, d.chunkSize); err != nil {
			break
		}
		grown = append(grown, c)
	}
	// Partially grown lists are kept so Close releases what was allocated.
	d.chunks.Store(&grown)
	if err != nil {
		return bgerrors.WrapCapacityError(err, "numarray.ensure_chunk", "cannot allocate chunk").
			WithContext("index", i)
	}
	return nil
}

func (d *dynamic[T]) ensure(i int64) T {
	if err := d.EnsureChunkAt(i); err != nil {
		panic(err)
	}
	c, _ := d.at(i)
	return c
}

func (d *dynamic[T]) swap(from, to int64, n int, one func(a, b int64)) {
	if n <= 0 || from == to {
		return
	}
	last := int64(n - 1)
	d.ensure(max(from, to) + last)
	first := d.ensure(from)
	k := from / d.chunkSize
	if (from+last)/d.chunkSize == k && to/d.chunkSize == k && (to+last)/d.chunkSize == k {
		first.Swap(from, to, n)
		return
	}
	for j := int64(0); j <= last; j++ {
		one(from+j, to+j)
	}
}

func (d *dynamic[T]) Clear() {
	for _, c := range d.load() {
		c.Clear()
	}
}

// Close releases every chunk unless ownership moved to a fixated view.
func (d *dynamic[T]) Close() error {
	if d.fixated.Load() || !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return closeAll(d.load())
}

func (d *dynamic[T]) AcceptMemoryStatsVisitor(v MemoryStatsVisitor) {
	for _, c := range d.load() {
		c.AcceptMemoryStatsVisitor(v)
	}
}

// fixate hands the chunk list over to a fixed view. The dynamic array must not be
// used afterwards; its Close becomes a no-op.
func (d *dynamic[T]) fixate() []T {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fixated.Store(true)
	return d.load()
}

// DynamicLongArray is a growable long array. Reads past the last chunk return the
// default without allocating; writes allocate the chunks they need.
type DynamicLongArray struct {
	dynamic[LongArray]
	def int64
}

func newDynamicLongArray(chunkSize, def int64, newChunk func(base, length int64) (LongArray, error)) *DynamicLongArray {
	a := &DynamicLongArray{def: def}
	a.init(chunkSize, 8, newChunk)
	return a
}

func (a *DynamicLongArray) Get(i int64) int64 {
	if c, ok := a.at(i); ok {
		return c.Get(i)
	}
	return a.def
}

// Set panics with a capacity error if the chunk for i cannot be allocated.
func (a *DynamicLongArray) Set(i, v int64) { a.ensure(i).Set(i, v) }

func (a *DynamicLongArray) Swap(from, to int64, n int) {
	a.swap(from, to, n, func(x, y int64) {
		vx := a.Get(x)
		a.Set(x, a.Get(y))
		a.Set(y, vx)
	})
}

// Fixate converts the array into a fixed view over the chunks allocated so far.
func (a *DynamicLongArray) Fixate() *ChunkedLongArray {
	cs := a.fixate()
	return newChunkedLongArray(cs, a.chunkSize, 0, int64(len(cs))*a.chunkSize)
}

// DynamicIntArray is the int counterpart of DynamicLongArray.
type DynamicIntArray struct {
	dynamic[IntArray]
	def int32
}

func newDynamicIntArray(chunkSize int64, def int32, newChunk func(base, length int64) (IntArray, error)) *DynamicIntArray {
	a := &DynamicIntArray{def: def}
	a.init(chunkSize, 4, newChunk)
	return a
}

func (a *DynamicIntArray) Get(i int64) int32 {
	if c, ok := a.at(i); ok {
		return c.Get(i)
	}
	return a.def
}

func (a *DynamicIntArray) Set(i int64, v int32) { a.ensure(i).Set(i, v) }

func (a *DynamicIntArray) Swap(from, to int64, n int) {
	a.swap(from, to, n, func(x, y int64) {
		vx := a.Get(x)
		a.Set(x, a.Get(y))
		a.Set(y, vx)
	})
}

func (a *DynamicIntArray) Fixate() *ChunkedIntArray {
	cs := a.fixate()
	return newChunkedIntArray(cs, a.chunkSize, 0, int64(len(cs))*a.chunkSize)
}

// DynamicByteArray is the byte-item counterpart of DynamicLongArray. Reads of
// unallocated items return bytes of the default item.
type DynamicByteArray struct {
	dynamic[ByteArray]
	def *FixedByteArray // single item holding the default, heap resident
}

func newDynamicByteArray(chunkSize int64, defaultItem []byte, def *FixedByteArray,
	newChunk func(base, length int64) (ByteArray, error)) *DynamicByteArray {
	a := &DynamicByteArray{def: def}
	a.init(chunkSize, len(defaultItem), newChunk)
	return a
}

func (a *DynamicByteArray) read(i int64) (ByteArray, int64) {
	if c, ok := a.at(i); ok {
		return c, i
	}
	return a.def, 0
}

func (a *DynamicByteArray) Get(i int64, into []byte) {
	c, j := a.read(i)
	c.Get(j, into)
}

func (a *DynamicByteArray) Set(i int64, v []byte) { a.ensure(i).Set(i, v) }

func (a *DynamicByteArray) GetByte(i int64, off int) byte {
	c, j := a.read(i)
	return c.GetByte(j, off)
}

func (a *DynamicByteArray) SetByte(i int64, off int, v byte) { a.ensure(i).SetByte(i, off, v) }

func (a *DynamicByteArray) GetShort(i int64, off int) int16 {
	c, j := a.read(i)
	return c.GetShort(j, off)
}

func (a *DynamicByteArray) SetShort(i int64, off int, v int16) { a.ensure(i).SetShort(i, off, v) }

func (a *DynamicByteArray) GetInt(i int64, off int) int32 {
	c, j := a.read(i)
	return c.GetInt(j, off)
}

func (a *DynamicByteArray) SetInt(i int64, off int, v int32) { a.ensure(i).SetInt(i, off, v) }

func (a *DynamicByteArray) Get3ByteInt(i int64, off int) int32 {
	c, j := a.read(i)
	return c.Get3ByteInt(j, off)
}

func (a *DynamicByteArray) Set3ByteInt(i int64, off int, v int32) {
	a.ensure(i).Set3ByteInt(i, off, v)
}

func (a *DynamicByteArray) Get6ByteLong(i int64, off int) int64 {
	c, j := a.read(i)
	return c.Get6ByteLong(j, off)
}

func (a *DynamicByteArray) Set6ByteLong(i int64, off int, v int64) {
	a.ensure(i).Set6ByteLong(i, off, v)
}

func (a *DynamicByteArray) GetLong(i int64, off int) int64 {
	c, j := a.read(i)
	return c.GetLong(j, off)
}

func (a *DynamicByteArray) SetLong(i int64, off int, v int64) { a.ensure(i).SetLong(i, off, v) }

func (a *DynamicByteArray) Swap(from, to int64, n int) {
	x, y := make([]byte, a.itemSize), make([]byte, a.itemSize)
	a.swap(from, to, n, func(i, j int64) {
		a.Get(i, x)
		a.Get(j, y)
		a.Set(i, y)
		a.Set(j, x)
	})
}

// Close releases the chunks and the default item.
func (a *DynamicByteArray) Close() error {
	err := a.dynamic.Close()
	if !a.fixated.Load() {
		_ = a.def.Close()
	}
	return err
}

func (a *DynamicByteArray) Fixate() *ChunkedByteArray {
	cs := a.fixate()
	_ = a.def.Close()
	return newChunkedByteArray(cs, a.chunkSize, 0, int64(len(cs))*a.chunkSize, a.itemSize)
}

var (
	_ LongArray = (*DynamicLongArray)(nil)
	_ IntArray  = (*DynamicIntArray)(nil)
	_ ByteArray = (*DynamicByteArray)(nil)
)
