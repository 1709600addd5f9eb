package pagecache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
)

func readLong(t *testing.T, f *PagedFile, page int64, off int) int64 {
	t.Helper()
	for {
		c, err := f.OptimisticRead(page)
		require.NoError(t, err)
		v := c.GetLong(off)
		if !c.ShouldRetry() {
			require.NoError(t, c.CheckAndClearBoundsFlag())
			return v
		}
	}
}

func TestPagedFile_WriteThenRead(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "pages"), 8192, 4, zerolog.Nop())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(4), f.MaxPages())
	assert.Zero(t, f.PageSize()%os.Getpagesize())

	w, err := f.Lock(3)
	require.NoError(t, err)
	w.PutLong(0, 42)
	w.PutInt(8, -7)
	w.PutByte(12, 0xEE)
	w.PutBytes(16, []byte{1, 2, 3})
	require.NoError(t, w.Unlock())

	assert.Equal(t, int64(42), readLong(t, f, 3, 0))

	c, err := f.OptimisticRead(3)
	require.NoError(t, err)
	assert.Equal(t, int32(-7), c.GetInt(8))
	assert.Equal(t, byte(0xEE), c.GetByte(12))
	buf := make([]byte, 3)
	c.GetBytes(16, buf)
	assert.Equal(t, []byte{1, 2, 3}, buf)
	assert.False(t, c.ShouldRetry())

	// Untouched pages read as zero
	assert.Zero(t, readLong(t, f, 0, 64))
}

func TestPagedFile_FileIsPreSized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages")
	f, err := Open(path, 4096, 10, zerolog.Nop())
	require.NoError(t, err)
	defer f.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(10*f.PageSize()), info.Size())
	assert.Zero(t, f.MappedBytes())

	w, err := f.Lock(9)
	require.NoError(t, err)
	w.PutLong(f.PageSize()-8, 1)
	require.NoError(t, w.Unlock())
	assert.Positive(t, f.MappedBytes())

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(10*f.PageSize()), info.Size(), "writes never grow the file")
}

func TestPagedFile_BoundsFlags(t *testing.T) {
	f, err := CreateTemp(t.TempDir(), 4096, 1, zerolog.Nop())
	require.NoError(t, err)
	defer f.Close()

	w, err := f.Lock(0)
	require.NoError(t, err)
	w.PutLong(f.PageSize()-4, 1)
	err = w.Unlock()
	require.Error(t, err)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeBounds))

	c, err := f.OptimisticRead(0)
	require.NoError(t, err)
	assert.Zero(t, c.GetLong(-1))
	assert.False(t, c.ShouldRetry())
	assert.Error(t, c.CheckAndClearBoundsFlag())
	assert.NoError(t, c.CheckAndClearBoundsFlag(), "flag is cleared")

	_, err = f.OptimisticRead(1)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeBounds))
	_, err = f.Lock(-1)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeBounds))
}

func TestPagedFile_ReaderSeesConcurrentWrite(t *testing.T) {
	f, err := CreateTemp(t.TempDir(), 4096, 1, zerolog.Nop())
	require.NoError(t, err)
	defer f.Close()

	c, err := f.OptimisticRead(0)
	require.NoError(t, err)
	_ = c.GetLong(0)

	w, err := f.Lock(0)
	require.NoError(t, err)
	w.PutLong(0, 5)
	require.NoError(t, w.Unlock())

	assert.True(t, c.ShouldRetry())
	assert.Equal(t, int64(5), c.GetLong(0))
	assert.False(t, c.ShouldRetry())
}

func TestPagedFile_ConcurrentWritersOnDistinctOffsets(t *testing.T) {
	f, err := CreateTemp(t.TempDir(), 4096, 2, zerolog.Nop())
	require.NoError(t, err)
	defer f.Close()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				w, err := f.Lock(int64(i % 2))
				if err != nil {
					t.Error(err)
					return
				}
				w.PutLong(i*8, w.GetLong(i*8)+1)
				if err := w.Unlock(); err != nil {
					t.Error(err)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		assert.Equal(t, int64(100), readLong(t, f, int64(i%2), i*8))
	}
}

func TestPagedFile_CloseIsIdempotentAndRemovesTemp(t *testing.T) {
	f, err := CreateTemp(t.TempDir(), 4096, 2, zerolog.Nop())
	require.NoError(t, err)
	path := f.Path()

	w, err := f.Lock(1)
	require.NoError(t, err)
	require.NoError(t, w.Unlock())

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_RejectsEmptyFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "pages"), 4096, 0, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeStorage))
}
