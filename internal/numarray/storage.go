package numarray

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
	bgmemory "github.com/23skdu/bulkgraph/internal/memory"
	"github.com/23skdu/bulkgraph/internal/pagecache"
)

// storage is a flat byte range addressed by byte offset. Callers never let a single
// access cross an item boundary.
type storage interface {
	getLong(off int64) int64
	putLong(off int64, v int64)
	getInt(off int64) int32
	putInt(off int64, v int32)
	getByte(off int64) byte
	putByte(off int64, v byte)
	getBytes(off int64, into []byte)
	putBytes(off int64, v []byte)
	// fill writes pattern into every item.
	fill(pattern []byte)
	sizeBytes() int64
	accept(v MemoryStatsVisitor)
	release() error
	backend() Backend
}

var littleEndianHost = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// memStorage is a block from a memory.Allocator, used for both heap and native
// memory. Allocators must hand out zeroed blocks, as the arrow allocators do.
type memStorage struct {
	buf   []byte
	words []int64 // aligned view of buf, nil if buf is not 8-byte aligned
	alloc memory.Allocator
	kind  Backend
}

func newMemStorage(alloc memory.Allocator, size int64, kind Backend) (*memStorage, error) {
	if size < 0 || size > math.MaxInt {
		return nil, bgerrors.NewCapacityError("numarray.allocate",
			fmt.Sprintf("%d bytes exceed a single allocation", size)).WithContext("size", size)
	}
	buf, err := bgmemory.TryAllocate(alloc, int(size))
	if err != nil {
		return nil, err
	}
	s := &memStorage{buf: buf, alloc: alloc, kind: kind}
	if littleEndianHost && len(buf) >= 8 && uintptr(unsafe.Pointer(unsafe.SliceData(buf)))%8 == 0 {
		s.words = unsafe.Slice((*int64)(unsafe.Pointer(unsafe.SliceData(buf))), len(buf)/8)
	}
	return s, nil
}

func (s *memStorage) getLong(off int64) int64 {
	if s.words != nil && off&7 == 0 {
		return s.words[off>>3]
	}
	return int64(binary.LittleEndian.Uint64(s.buf[off:]))
}

func (s *memStorage) putLong(off int64, v int64) {
	if s.words != nil && off&7 == 0 {
		s.words[off>>3] = v
		return
	}
	binary.LittleEndian.PutUint64(s.buf[off:], uint64(v))
}

func (s *memStorage) getInt(off int64) int32 {
	return int32(binary.LittleEndian.Uint32(s.buf[off:]))
}

func (s *memStorage) putInt(off int64, v int32) {
	binary.LittleEndian.PutUint32(s.buf[off:], uint32(v))
}

func (s *memStorage) getByte(off int64) byte       { return s.buf[off] }
func (s *memStorage) putByte(off int64, v byte)    { s.buf[off] = v }
func (s *memStorage) getBytes(off int64, b []byte) { copy(b, s.buf[off:]) }
func (s *memStorage) putBytes(off int64, v []byte) { copy(s.buf[off:], v) }

func (s *memStorage) fill(pattern []byte) {
	if isZero(pattern) {
		if d, ok := s.alloc.(bgmemory.Discarder); ok && s.kind == OffHeap {
			if d.Discard(s.buf) == nil {
				return
			}
		}
		clear(s.buf)
		return
	}
	fillPattern(s.buf, pattern)
}

func (s *memStorage) sizeBytes() int64 { return int64(len(s.buf)) }

func (s *memStorage) accept(v MemoryStatsVisitor) {
	if s.kind == Heap {
		v.HeapUsage(int64(len(s.buf)))
	} else {
		v.OffHeapUsage(int64(len(s.buf)))
	}
}

func (s *memStorage) release() error {
	if s.buf == nil {
		return nil
	}
	buf := s.buf
	s.buf, s.words = nil, nil
	s.alloc.Free(buf)
	return nil
}

func (s *memStorage) backend() Backend { return s.kind }

// pagedStorage lays items out page by page so that no item straddles two pages.
type pagedStorage struct {
	pf           *pagecache.PagedFile
	itemSize     int64
	itemsPerPage int64
	length       int64
}

func newPagedStorage(pf *pagecache.PagedFile, length int64, itemSize int) (*pagedStorage, error) {
	if itemSize > pf.PageSize() {
		return nil, bgerrors.NewConfigurationError("numarray.page_cache",
			fmt.Sprintf("item of %d bytes does not fit a page of %d bytes", itemSize, pf.PageSize()))
	}
	perPage := int64(pf.PageSize() / itemSize)
	if need := (length + perPage - 1) / perPage; need > pf.MaxPages() {
		return nil, bgerrors.NewCapacityError("numarray.page_cache",
			fmt.Sprintf("%d items need %d pages, paged file has %d", length, need, pf.MaxPages()))
	}
	return &pagedStorage{pf: pf, itemSize: int64(itemSize), itemsPerPage: perPage, length: length}, nil
}

// pagesFor returns how many pages length items of itemSize need.
func pagesFor(length int64, itemSize, pageSize int) int64 {
	perPage := int64(pageSize / itemSize)
	return max(1, (length+perPage-1)/perPage)
}

func (p *pagedStorage) locate(off int64) (int64, int) {
	item := off / p.itemSize
	within := off % p.itemSize
	return item / p.itemsPerPage, int((item%p.itemsPerPage)*p.itemSize + within)
}

func (p *pagedStorage) read(off int64, fn func(c *pagecache.ReadCursor, po int)) {
	page, po := p.locate(off)
	c, err := p.pf.OptimisticRead(page)
	if err != nil {
		panic(err)
	}
	for {
		fn(c, po)
		if !c.ShouldRetry() {
			break
		}
	}
	if err := c.CheckAndClearBoundsFlag(); err != nil {
		panic(err)
	}
}

func (p *pagedStorage) write(off int64, fn func(c *pagecache.WriteCursor, po int)) {
	page, po := p.locate(off)
	c, err := p.pf.Lock(page)
	if err != nil {
		panic(err)
	}
	fn(c, po)
	if err := c.Unlock(); err != nil {
		panic(err)
	}
}

func (p *pagedStorage) getLong(off int64) (v int64) {
	p.read(off, func(c *pagecache.ReadCursor, po int) { v = c.GetLong(po) })
	return v
}

func (p *pagedStorage) putLong(off int64, v int64) {
	p.write(off, func(c *pagecache.WriteCursor, po int) { c.PutLong(po, v) })
}

func (p *pagedStorage) getInt(off int64) (v int32) {
	p.read(off, func(c *pagecache.ReadCursor, po int) { v = c.GetInt(po) })
	return v
}

func (p *pagedStorage) putInt(off int64, v int32) {
	p.write(off, func(c *pagecache.WriteCursor, po int) { c.PutInt(po, v) })
}

func (p *pagedStorage) getByte(off int64) (v byte) {
	p.read(off, func(c *pagecache.ReadCursor, po int) { v = c.GetByte(po) })
	return v
}

func (p *pagedStorage) putByte(off int64, v byte) {
	p.write(off, func(c *pagecache.WriteCursor, po int) { c.PutByte(po, v) })
}

func (p *pagedStorage) getBytes(off int64, into []byte) {
	p.read(off, func(c *pagecache.ReadCursor, po int) { c.GetBytes(po, into) })
}

func (p *pagedStorage) putBytes(off int64, v []byte) {
	p.write(off, func(c *pagecache.WriteCursor, po int) { c.PutBytes(po, v) })
}

func (p *pagedStorage) fill(pattern []byte) {
	pages := (p.length + p.itemsPerPage - 1) / p.itemsPerPage
	v, uniform := uniformByte(pattern)
	var row []byte
	if !uniform {
		row = make([]byte, p.itemsPerPage*p.itemSize)
		fillPattern(row, pattern)
	}
	for page := int64(0); page < pages; page++ {
		c, err := p.pf.Lock(page)
		if err != nil {
			panic(err)
		}
		if uniform {
			c.Fill(v)
		} else {
			c.PutBytes(0, row)
		}
		if err := c.Unlock(); err != nil {
			panic(err)
		}
	}
}

func (p *pagedStorage) sizeBytes() int64 { return p.length * p.itemSize }

// accept reports nothing: paged memory belongs to the OS page cache.
func (p *pagedStorage) accept(MemoryStatsVisitor) {}

func (p *pagedStorage) release() error { return p.pf.Close() }

func (p *pagedStorage) backend() Backend { return PageCache }

// uniformByte reports whether every byte of pattern is the same.
func uniformByte(pattern []byte) (byte, bool) {
	if len(pattern) == 0 {
		return 0, false
	}
	for _, x := range pattern[1:] {
		if x != pattern[0] {
			return 0, false
		}
	}
	return pattern[0], true
}

func isZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// fillPattern repeats pattern over dst by doubling copies.
func fillPattern(dst, pattern []byte) {
	if len(dst) == 0 || len(pattern) == 0 {
		return
	}
	n := copy(dst, pattern)
	for n < len(dst) {
		n += copy(dst[n:], dst[:n])
	}
}
