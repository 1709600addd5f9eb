package packed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDCount_EmptyField(t *testing.T) {
	f := MustIDCount(40, 24)
	empty := f.EmptyField()
	assert.True(t, f.IsEmpty(empty))
	assert.Equal(t, int64(-1), f.ID(empty))
	assert.Equal(t, int64(0), f.Count(empty))
}

func TestIDCount_IncrementKeepsID(t *testing.T) {
	f := MustIDCount(40, 24)
	w := f.SetID(f.EmptyField(), 123456)
	for i := 0; i < 5; i++ {
		w = f.IncrementCount(w, 1)
	}
	assert.Equal(t, int64(5), f.Count(w))
	assert.Equal(t, int64(123456), f.ID(w))

	w = f.CleanID(w)
	assert.True(t, f.IsEmpty(w))
	assert.Equal(t, int64(5), f.Count(w))
}

func TestIDCount_Limits(t *testing.T) {
	f, err := NewIDCount(8, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(254), f.MaxID())
	assert.Equal(t, int64(14), f.MaxCount())

	w := f.SetCount(f.EmptyField(), f.MaxCount())
	assert.Panics(t, func() { f.IncrementCount(w, 1) })
	assert.Panics(t, func() { f.SetID(w, 255) })

	_, err = NewIDCount(40, 30)
	assert.Error(t, err)
}
