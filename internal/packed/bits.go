package packed

// Bits is a little-endian bit stream over 64-bit words. Values are written and read
// back in order with an explicit width each, and may straddle word boundaries.
type Bits struct {
	longs    []int64
	writePos int
	readPos  int
}

// NewBits wraps longs for writing from bit 0. The slice grows when a write needs it.
func NewBits(longs []int64) *Bits {
	return &Bits{longs: longs}
}

// Put appends the low width bits of value.
func (b *Bits) Put(value int64, width int) {
	v := uint64(value)
	for width > 0 {
		idx := b.writePos / WordBits
		off := b.writePos % WordBits
		for idx >= len(b.longs) {
			b.longs = append(b.longs, 0)
		}
		n := WordBits - off
		if n > width {
			n = width
		}
		chunk := v & lowMask(n)
		b.longs[idx] = int64(uint64(b.longs[idx]) | chunk<<uint(off))
		v >>= uint(n)
		width -= n
		b.writePos += n
	}
}

// Get reads the next width bits as a non-negative value.
func (b *Bits) Get(width int) int64 {
	var v uint64
	shift := 0
	for width > 0 {
		idx := b.readPos / WordBits
		off := b.readPos % WordBits
		n := WordBits - off
		if n > width {
			n = width
		}
		var word uint64
		if idx < len(b.longs) {
			word = uint64(b.longs[idx])
		}
		v |= ((word >> uint(off)) & lowMask(n)) << uint(shift)
		shift += n
		width -= n
		b.readPos += n
	}
	return int64(v)
}

// LongsInUse returns how many words the written bits occupy.
func (b *Bits) LongsInUse() int {
	return (b.writePos + WordBits - 1) / WordBits
}

// Longs returns the backing words.
func (b *Bits) Longs() []int64 { return b.longs }

// Reset zeroes the written words and rewinds both positions.
func (b *Bits) Reset() {
	n := b.LongsInUse()
	if n > len(b.longs) {
		n = len(b.longs)
	}
	clear(b.longs[:n])
	b.writePos = 0
	b.readPos = 0
}

func lowMask(n int) uint64 {
	if n >= WordBits {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}
