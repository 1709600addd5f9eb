package numarray

import (
	stderrors "errors"
	"sync/atomic"
)

// chunked is a fixed-length composite of consecutive chunks. Every chunk but the last
// holds chunkSize items and honours its own base, so a chunk is addressed with the
// composite's logical index.
type chunked[T NumberArray] struct {
	chunks    []T
	chunkSize int64
	base      int64
	length    int64
	itemSize  int
	closed    atomic.Bool
}

func (c *chunked[T]) init(chunks []T, chunkSize, base, length int64, itemSize int) {
	c.chunks, c.chunkSize, c.base, c.length, c.itemSize = chunks, chunkSize, base, length, itemSize
}

func (c *chunked[T]) Length() int64       { return c.length }
func (c *chunked[T]) Base() int64         { return c.base }
func (c *chunked[T]) ItemSize() int       { return c.itemSize }
func (c *chunked[T]) NumberOfChunks() int { return len(c.chunks) }

func (c *chunked[T]) chunk(i int64) T {
	j := i - c.base
	if j < 0 || j >= c.length {
		panic(indexError("numarray.chunked_index", i, c.base, c.length))
	}
	return c.chunks[j/c.chunkSize]
}

func (c *chunked[T]) sameChunk(a, b int64) bool {
	return (a-c.base)/c.chunkSize == (b-c.base)/c.chunkSize
}

func (c *chunked[T]) swap(from, to int64, n int, one func(a, b int64)) {
	if n <= 0 || from == to {
		return
	}
	last := int64(n - 1)
	first := c.chunk(from)
	c.chunk(to)
	c.chunk(from + last)
	c.chunk(to + last)
	if c.sameChunk(from, from+last) && c.sameChunk(from, to) && c.sameChunk(to, to+last) {
		first.Swap(from, to, n)
		return
	}
	for k := int64(0); k <= last; k++ {
		one(from+k, to+k)
	}
}

func (c *chunked[T]) Clear() {
	for _, ch := range c.chunks {
		ch.Clear()
	}
}

func (c *chunked[T]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return closeAll(c.chunks)
}

func (c *chunked[T]) AcceptMemoryStatsVisitor(v MemoryStatsVisitor) {
	for _, ch := range c.chunks {
		ch.AcceptMemoryStatsVisitor(v)
	}
}

func closeAll[T NumberArray](chunks []T) error {
	var errs []error
	for _, ch := range chunks {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// ChunkedLongArray is a fixed-length long array split over chunks that may live on
// different backends.
type ChunkedLongArray struct {
	chunked[LongArray]
}

func newChunkedLongArray(chunks []LongArray, chunkSize, base, length int64) *ChunkedLongArray {
	a := &ChunkedLongArray{}
	a.init(chunks, chunkSize, base, length, 8)
	return a
}

func (a *ChunkedLongArray) Get(i int64) int64 { return a.chunk(i).Get(i) }
func (a *ChunkedLongArray) Set(i, v int64)    { a.chunk(i).Set(i, v) }

func (a *ChunkedLongArray) Swap(from, to int64, n int) {
	a.swap(from, to, n, func(x, y int64) {
		vx := a.Get(x)
		a.Set(x, a.Get(y))
		a.Set(y, vx)
	})
}

// ChunkedIntArray is the int counterpart of ChunkedLongArray.
type ChunkedIntArray struct {
	chunked[IntArray]
}

func newChunkedIntArray(chunks []IntArray, chunkSize, base, length int64) *ChunkedIntArray {
	a := &ChunkedIntArray{}
	a.init(chunks, chunkSize, base, length, 4)
	return a
}

func (a *ChunkedIntArray) Get(i int64) int32    { return a.chunk(i).Get(i) }
func (a *ChunkedIntArray) Set(i int64, v int32) { a.chunk(i).Set(i, v) }

func (a *ChunkedIntArray) Swap(from, to int64, n int) {
	a.swap(from, to, n, func(x, y int64) {
		vx := a.Get(x)
		a.Set(x, a.Get(y))
		a.Set(y, vx)
	})
}

// ChunkedByteArray is the byte-item counterpart of ChunkedLongArray.
type ChunkedByteArray struct {
	chunked[ByteArray]
}

func newChunkedByteArray(chunks []ByteArray, chunkSize, base, length int64, itemSize int) *ChunkedByteArray {
	a := &ChunkedByteArray{}
	a.init(chunks, chunkSize, base, length, itemSize)
	return a
}

func (a *ChunkedByteArray) Swap(from, to int64, n int) {
	x, y := make([]byte, a.itemSize), make([]byte, a.itemSize)
	a.swap(from, to, n, func(i, j int64) {
		a.Get(i, x)
		a.Get(j, y)
		a.Set(i, y)
		a.Set(j, x)
	})
}

func (a *ChunkedByteArray) Get(i int64, into []byte)         { a.chunk(i).Get(i, into) }
func (a *ChunkedByteArray) Set(i int64, v []byte)            { a.chunk(i).Set(i, v) }
func (a *ChunkedByteArray) GetByte(i int64, off int) byte    { return a.chunk(i).GetByte(i, off) }
func (a *ChunkedByteArray) SetByte(i int64, off int, v byte) { a.chunk(i).SetByte(i, off, v) }
func (a *ChunkedByteArray) GetShort(i int64, off int) int16  { return a.chunk(i).GetShort(i, off) }
func (a *ChunkedByteArray) SetShort(i int64, off int, v int16) {
	a.chunk(i).SetShort(i, off, v)
}
func (a *ChunkedByteArray) GetInt(i int64, off int) int32    { return a.chunk(i).GetInt(i, off) }
func (a *ChunkedByteArray) SetInt(i int64, off int, v int32) { a.chunk(i).SetInt(i, off, v) }
func (a *ChunkedByteArray) Get3ByteInt(i int64, off int) int32 {
	return a.chunk(i).Get3ByteInt(i, off)
}
func (a *ChunkedByteArray) Set3ByteInt(i int64, off int, v int32) {
	a.chunk(i).Set3ByteInt(i, off, v)
}
func (a *ChunkedByteArray) Get6ByteLong(i int64, off int) int64 {
	return a.chunk(i).Get6ByteLong(i, off)
}
func (a *ChunkedByteArray) Set6ByteLong(i int64, off int, v int64) {
	a.chunk(i).Set6ByteLong(i, off, v)
}
func (a *ChunkedByteArray) GetLong(i int64, off int) int64    { return a.chunk(i).GetLong(i, off) }
func (a *ChunkedByteArray) SetLong(i int64, off int, v int64) { a.chunk(i).SetLong(i, off, v) }

var (
	_ LongArray = (*ChunkedLongArray)(nil)
	_ IntArray  = (*ChunkedIntArray)(nil)
	_ ByteArray = (*ChunkedByteArray)(nil)
)
