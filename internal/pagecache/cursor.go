package pagecache

import (
	"encoding/binary"
	"fmt"
	"runtime"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
	"github.com/23skdu/bulkgraph/internal/metrics"
)

// ReadCursor reads one page without holding its lock. Accessors past the page end
// return zero and raise the bounds flag instead of panicking, because a torn read
// may compute a bad offset that the retry then corrects.
type ReadCursor struct {
	data   []byte
	latch  *latch
	pageID int64
	seq    uint64
	oob    bool
	badOff int
}

func (c *ReadCursor) begin() {
	for {
		s := c.latch.seq.Load()
		if s&1 == 0 {
			c.seq = s
			return
		}
		runtime.Gosched()
	}
}

func (c *ReadCursor) check(off, n int) bool {
	if off < 0 || off+n > len(c.data) {
		c.oob = true
		c.badOff = off
		return false
	}
	return true
}

func (c *ReadCursor) GetLong(off int) int64 {
	if !c.check(off, 8) {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(c.data[off:]))
}

func (c *ReadCursor) GetInt(off int) int32 {
	if !c.check(off, 4) {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(c.data[off:]))
}

func (c *ReadCursor) GetByte(off int) byte {
	if !c.check(off, 1) {
		return 0
	}
	return c.data[off]
}

// GetBytes copies len(into) bytes starting at off.
func (c *ReadCursor) GetBytes(off int, into []byte) {
	if !c.check(off, len(into)) {
		return
	}
	copy(into, c.data[off:])
}

// ShouldRetry reports whether a writer touched the page since the cursor started, and
// if so restarts the cursor so the caller can read again.
func (c *ReadCursor) ShouldRetry() bool {
	if c.latch.seq.Load() == c.seq {
		return false
	}
	metrics.PageCacheReadRetriesTotal.Inc()
	c.oob = false
	c.begin()
	return true
}

// CheckAndClearBoundsFlag returns a bounds error if any accessor ran past the page.
func (c *ReadCursor) CheckAndClearBoundsFlag() error {
	if !c.oob {
		return nil
	}
	c.oob = false
	return boundsError("pagecache.read", c.pageID, c.badOff, len(c.data))
}

// WriteCursor writes one page while holding its lock. Unlock must be called exactly once.
type WriteCursor struct {
	data   []byte
	latch  *latch
	pageID int64
	oob    bool
	badOff int
}

func (c *WriteCursor) check(off, n int) bool {
	if off < 0 || off+n > len(c.data) {
		c.oob = true
		c.badOff = off
		return false
	}
	return true
}

func (c *WriteCursor) PutLong(off int, v int64) {
	if c.check(off, 8) {
		binary.LittleEndian.PutUint64(c.data[off:], uint64(v))
	}
}

func (c *WriteCursor) PutInt(off int, v int32) {
	if c.check(off, 4) {
		binary.LittleEndian.PutUint32(c.data[off:], uint32(v))
	}
}

func (c *WriteCursor) PutByte(off int, v byte) {
	if c.check(off, 1) {
		c.data[off] = v
	}
}

func (c *WriteCursor) PutBytes(off int, v []byte) {
	if c.check(off, len(v)) {
		copy(c.data[off:], v)
	}
}

// GetLong reads under the write lock, for read-modify-write sequences.
func (c *WriteCursor) GetLong(off int) int64 {
	if !c.check(off, 8) {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(c.data[off:]))
}

// GetBytes reads under the write lock.
func (c *WriteCursor) GetBytes(off int, into []byte) {
	if c.check(off, len(into)) {
		copy(into, c.data[off:])
	}
}

// Fill sets every byte of the page to v.
func (c *WriteCursor) Fill(v byte) {
	for i := range c.data {
		c.data[i] = v
	}
}

// Unlock publishes the write and releases the page. It returns a bounds error if any
// write ran past the page end; such writes were dropped.
func (c *WriteCursor) Unlock() error {
	c.latch.seq.Add(1)
	c.latch.mu.Unlock()
	if c.oob {
		return boundsError("pagecache.write", c.pageID, c.badOff, len(c.data))
	}
	return nil
}

func boundsError(op string, pageID int64, off, size int) error {
	return bgerrors.NewBoundsError(op, fmt.Sprintf("offset %d outside page of %d bytes", off, size)).
		WithContext("page", pageID).WithContext("offset", off)
}
