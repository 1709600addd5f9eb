package packed

import (
	"testing"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLayout_Validation(t *testing.T) {
	_, err := NewLayout()
	assert.Error(t, err)

	_, err = NewLayout(40, 0)
	assert.Error(t, err)

	_, err = NewLayout(40, 25)
	require.Error(t, err)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeConfiguration))

	l, err := NewLayout(40, 24)
	require.NoError(t, err)
	assert.Equal(t, 64, l.UsedBits())
	assert.Equal(t, 40, l.Offset(1))
	assert.Equal(t, int64(1<<40-2), l.MaxValue(0))
	assert.Equal(t, int64(1<<24-2), l.MaxValue(1))
}

func TestLayout_AllOnesReadsUnset(t *testing.T) {
	l := MustLayout(8, 8)
	w := l.Clear(0, 0, true)
	assert.Equal(t, int64(-1), l.Get(w, 0))
	assert.Equal(t, int64(0), l.Get(w, 1))

	w = l.Set(w, 1, -1)
	assert.Equal(t, int64(-1), l.Get(w, 1))
	assert.Equal(t, int64(0xFFFF), w)
}

func TestLayout_SetOverflowPanics(t *testing.T) {
	l := MustLayout(4, 60)
	assert.Panics(t, func() { l.Set(0, 0, 15) })
	assert.Panics(t, func() { l.Set(0, 0, -2) })
	assert.NotPanics(t, func() { l.Set(0, 0, 14) })

	defer func() {
		r := recover()
		err, ok := r.(*bgerrors.StructuredError)
		require.True(t, ok)
		assert.Equal(t, bgerrors.ErrorTypeOverflow, err.Type)
	}()
	l.Set(0, 0, 100)
}

func TestLayout_Template(t *testing.T) {
	l := MustLayout(10, 20, 30)
	w := l.Template(true, false, true)
	assert.Equal(t, int64(-1), l.Get(w, 0))
	assert.Equal(t, int64(0), l.Get(w, 1))
	assert.Equal(t, int64(-1), l.Get(w, 2))
	assert.Equal(t, int64(0), l.Template())
}

func TestLayout_FullWidthSlot(t *testing.T) {
	l := MustLayout(64)
	assert.Equal(t, int64(-1), l.Get(-1, 0))
	w := l.Set(0, 0, 1<<62)
	assert.Equal(t, int64(1<<62), l.Get(w, 0))
}

func TestLayout_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	l := MustLayout(40, 24)

	properties.Property("set then get returns the value", prop.ForAll(
		func(start int64, id int64, count int64) bool {
			w := l.Set(start, 0, id)
			w = l.Set(w, 1, count)
			return l.Get(w, 0) == id && l.Get(w, 1) == count
		},
		gen.Int64(),
		gen.Int64Range(0, 1<<40-2),
		gen.Int64Range(0, 1<<24-2),
	))

	properties.Property("setting one slot leaves the others intact", prop.ForAll(
		func(start int64, id int64) bool {
			before := l.Get(start, 1)
			return l.Get(l.Set(start, 0, id), 1) == before
		},
		gen.Int64(),
		gen.Int64Range(-1, 1<<40-2),
	))

	properties.Property("clear is idempotent", prop.ForAll(
		func(start int64, ones bool) bool {
			once := l.Clear(start, 1, ones)
			return l.Clear(once, 1, ones) == once
		},
		gen.Int64(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
