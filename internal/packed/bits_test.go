package packed

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestBits_StraddlesWords(t *testing.T) {
	b := NewBits(make([]int64, 2))
	b.Put(5, 60)
	b.Put(0x1FF, 9) // crosses into the second word
	b.Put(1, 1)
	assert.Equal(t, 2, b.LongsInUse())

	assert.Equal(t, int64(5), b.Get(60))
	assert.Equal(t, int64(0x1FF), b.Get(9))
	assert.Equal(t, int64(1), b.Get(1))
}

func TestBits_GrowsAndResets(t *testing.T) {
	b := NewBits(nil)
	for i := 0; i < 10; i++ {
		b.Put(int64(i), 20)
	}
	assert.Equal(t, 4, b.LongsInUse())
	assert.Len(t, b.Longs(), 4)

	b.Reset()
	assert.Equal(t, 0, b.LongsInUse())
	for _, w := range b.Longs() {
		assert.Zero(t, w)
	}
}

func TestBits_RoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("values read back in write order", prop.ForAll(
		func(values []int64, width int) bool {
			b := NewBits(nil)
			for _, v := range values {
				b.Put(v&int64(lowMask(width)), width)
			}
			for _, v := range values {
				if b.Get(width) != v&int64(lowMask(width)) {
					return false
				}
			}
			return b.LongsInUse() == (len(values)*width+63)/64
		},
		gen.SliceOf(gen.Int64Range(0, 1<<62)),
		gen.IntRange(1, 63),
	))

	properties.TestingRun(t)
}
