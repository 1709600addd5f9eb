// Package pagecache maps a fixed-size file as pages with optimistic read cursors and
// exclusive write locks.
//
// Pages are mapped lazily in segments of several pages on first access. A write holds
// the page's lock and bumps its sequence to odd for the duration of the write, so an
// optimistic reader can tell that the bytes it saw may be torn and must retry.
package pagecache

import (
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
	"github.com/23skdu/bulkgraph/internal/metrics"
)

// DefaultPageSize is used when a caller passes a non-positive page size.
const DefaultPageSize = 8192

const segmentTargetBytes = 16 << 20

type latch struct {
	seq atomic.Uint64 // odd while a writer holds the page
	mu  sync.Mutex
}

type segment struct {
	data    []byte
	latches []latch
}

// PagedFile is a file of maxPages pages of pageSize bytes. It never grows after Open.
type PagedFile struct {
	file     *os.File
	path     string
	temp     bool
	pageSize int
	maxPages int64

	pagesPerSegment int64
	segments        []atomic.Pointer[segment]
	mapMu           sync.Mutex

	closed atomic.Bool
	logger zerolog.Logger
}

// Open creates or truncates path and sizes it for maxPages pages. pageSize is rounded
// up to a multiple of the OS page size.
func Open(path string, pageSize int, maxPages int64, logger zerolog.Logger) (*PagedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, bgerrors.WrapStorageError(err, "pagecache.open", "cannot open paged file").
			WithContext("path", path)
	}
	return newPagedFile(f, false, pageSize, maxPages, logger)
}

// CreateTemp creates a paged file in dir that is removed again on Close.
func CreateTemp(dir string, pageSize int, maxPages int64, logger zerolog.Logger) (*PagedFile, error) {
	f, err := os.CreateTemp(dir, "bulkgraph-*.pages")
	if err != nil {
		return nil, bgerrors.WrapStorageError(err, "pagecache.create_temp", "cannot create paged file").
			WithContext("dir", dir)
	}
	return newPagedFile(f, true, pageSize, maxPages, logger)
}

func newPagedFile(f *os.File, temp bool, pageSize int, maxPages int64, logger zerolog.Logger) (*PagedFile, error) {
	pageSize = RoundPageSize(pageSize)
	fail := func(err error, msg string) (*PagedFile, error) {
		_ = f.Close()
		if temp {
			_ = os.Remove(f.Name())
		}
		return nil, bgerrors.WrapStorageError(err, "pagecache.open", msg).WithContext("path", f.Name())
	}
	if maxPages <= 0 {
		return fail(fmt.Errorf("max pages %d", maxPages), "paged file needs at least one page")
	}
	if err := f.Truncate(maxPages * int64(pageSize)); err != nil {
		return fail(err, "cannot size paged file")
	}

	pps := int64(segmentTargetBytes / pageSize)
	if pps < 1 {
		pps = 1
	}
	numSegments := (maxPages + pps - 1) / pps

	pf := &PagedFile{
		file:            f,
		path:            f.Name(),
		temp:            temp,
		pageSize:        pageSize,
		maxPages:        maxPages,
		pagesPerSegment: pps,
		segments:        make([]atomic.Pointer[segment], numSegments),
		logger:          logger.With().Str("component", "pagecache").Str("path", f.Name()).Logger(),
	}
	pf.logger.Debug().
		Int("page_size", pageSize).
		Int64("max_pages", maxPages).
		Msg("Opened paged file")
	return pf, nil
}

// RoundPageSize returns the page size a paged file actually uses for pageSize.
func RoundPageSize(pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	sys := os.Getpagesize()
	return (pageSize + sys - 1) / sys * sys
}

// PageSize returns the effective page size in bytes.
func (f *PagedFile) PageSize() int { return f.pageSize }

// MaxPages returns the number of pages the file holds.
func (f *PagedFile) MaxPages() int64 { return f.maxPages }

// Path returns the file path.
func (f *PagedFile) Path() string { return f.path }

// MappedBytes returns the bytes of all segments mapped so far.
func (f *PagedFile) MappedBytes() int64 {
	var n int64
	for i := range f.segments {
		if s := f.segments[i].Load(); s != nil {
			n += int64(len(s.data))
		}
	}
	return n
}

func (f *PagedFile) page(pageID int64) ([]byte, *latch, error) {
	if pageID < 0 || pageID >= f.maxPages {
		return nil, nil, bgerrors.NewBoundsError("pagecache.page",
			fmt.Sprintf("page %d outside [0, %d)", pageID, f.maxPages)).WithContext("page", pageID)
	}
	segID := pageID / f.pagesPerSegment
	seg := f.segments[segID].Load()
	if seg == nil {
		var err error
		if seg, err = f.mapSegment(segID); err != nil {
			return nil, nil, err
		}
	}
	idx := pageID % f.pagesPerSegment
	start := idx * int64(f.pageSize)
	return seg.data[start : start+int64(f.pageSize)], &seg.latches[idx], nil
}

func (f *PagedFile) mapSegment(segID int64) (*segment, error) {
	f.mapMu.Lock()
	defer f.mapMu.Unlock()
	if seg := f.segments[segID].Load(); seg != nil {
		return seg, nil
	}
	if f.closed.Load() {
		return nil, bgerrors.NewStorageError("pagecache.map", "paged file is closed")
	}

	first := segID * f.pagesPerSegment
	pages := min(f.pagesPerSegment, f.maxPages-first)
	data, err := unix.Mmap(int(f.file.Fd()), first*int64(f.pageSize), int(pages)*f.pageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, bgerrors.WrapStorageError(err, "pagecache.map", "mmap of segment failed").
			WithContext("segment", segID)
	}
	seg := &segment{data: data, latches: make([]latch, pages)}
	f.segments[segID].Store(seg)
	metrics.PageCacheFaultsTotal.Add(float64(pages))
	return seg, nil
}

// OptimisticRead starts a read of pageID without taking its lock. The caller reads
// through the cursor, then must call ShouldRetry and start over if it returns true.
func (f *PagedFile) OptimisticRead(pageID int64) (*ReadCursor, error) {
	data, l, err := f.page(pageID)
	if err != nil {
		return nil, err
	}
	c := &ReadCursor{data: data, latch: l, pageID: pageID}
	c.begin()
	return c, nil
}

// Lock takes the exclusive write lock on pageID.
func (f *PagedFile) Lock(pageID int64) (*WriteCursor, error) {
	data, l, err := f.page(pageID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.seq.Add(1)
	return &WriteCursor{data: data, latch: l, pageID: pageID}, nil
}

// Close unmaps every segment and closes the file, removing it if it was created by
// CreateTemp. Further calls return nil.
func (f *PagedFile) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.mapMu.Lock()
	defer f.mapMu.Unlock()

	var errs []error
	for i := range f.segments {
		seg := f.segments[i].Swap(nil)
		if seg == nil {
			continue
		}
		if err := unix.Munmap(seg.data); err != nil {
			errs = append(errs, err)
		}
	}
	if err := f.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if f.temp {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if err := stderrors.Join(errs...); err != nil {
		return bgerrors.WrapStorageError(err, "pagecache.close", "releasing paged file failed").
			WithContext("path", f.path)
	}
	f.logger.Debug().Msg("Closed paged file")
	return nil
}
