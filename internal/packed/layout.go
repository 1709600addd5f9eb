// Package packed lays out fixed-width slots inside a single 64-bit word.
//
// Slots are placed from the least significant bit upwards, each at the running sum of
// the widths before it. The all-ones pattern of a slot is reserved as "unset" and reads
// back as -1, so a slot of width w holds values in [0, 2^w-2].
package packed

import (
	"fmt"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
)

// WordBits is the number of bits available to a layout.
const WordBits = 64

type slot struct {
	width  uint
	offset uint
	mask   uint64 // unshifted, width ones
}

// Layout is an ordered list of slots inside one 64-bit word. It is immutable and safe
// for concurrent use.
type Layout struct {
	slots []slot
	used  uint
}

// NewLayout allocates one slot per width, in order.
func NewLayout(widths ...int) (*Layout, error) {
	if len(widths) == 0 {
		return nil, bgerrors.NewConfigurationError("packed.new_layout", "at least one slot is required")
	}
	l := &Layout{slots: make([]slot, len(widths))}
	for i, w := range widths {
		if w < 1 {
			return nil, bgerrors.Newf(bgerrors.ErrorTypeConfiguration, "packed.new_layout", "slot %d has width %d", i, w)
		}
		if l.used+uint(w) > WordBits {
			return nil, bgerrors.Newf(bgerrors.ErrorTypeConfiguration, "packed.new_layout",
				"slot widths %v sum to more than %d bits", widths, WordBits)
		}
		l.slots[i] = slot{
			width:  uint(w),
			offset: l.used,
			mask:   (uint64(1) << uint(w)) - 1,
		}
		l.used += uint(w)
	}
	return l, nil
}

// MustLayout is NewLayout for package level layouts whose widths are constants.
func MustLayout(widths ...int) *Layout {
	l, err := NewLayout(widths...)
	if err != nil {
		panic(err)
	}
	return l
}

// Slots returns the number of slots.
func (l *Layout) Slots() int { return len(l.slots) }

// Width returns the bit width of slot s.
func (l *Layout) Width(s int) int { return int(l.slots[s].width) }

// Offset returns the bit offset of slot s.
func (l *Layout) Offset(s int) int { return int(l.slots[s].offset) }

// UsedBits returns the sum of all slot widths.
func (l *Layout) UsedBits() int { return int(l.used) }

// MaxValue returns the largest value slot s can hold.
func (l *Layout) MaxValue(s int) int64 {
	m := l.slots[s].mask - 1
	if m > uint64(1<<63-1) {
		return 1<<63 - 1
	}
	return int64(m)
}

// Get decodes slot s of word. The all-ones pattern decodes as -1.
func (l *Layout) Get(word int64, s int) int64 {
	sl := l.slots[s]
	v := (uint64(word) >> sl.offset) & sl.mask
	if v == sl.mask {
		return -1
	}
	return int64(v)
}

// Set returns word with slot s replaced by value. -1 writes the all-ones pattern.
// Any other value outside [0, MaxValue(s)] panics with an overflow error, because
// truncating it would corrupt the neighbouring slots.
func (l *Layout) Set(word int64, s int, value int64) int64 {
	sl := l.slots[s]
	var bits uint64
	switch {
	case value == -1:
		bits = sl.mask
	case value < 0 || uint64(value) >= sl.mask:
		panic(bgerrors.NewOverflowError("packed.set",
			fmt.Sprintf("value %d does not fit slot %d of %d bits", value, s, sl.width)).
			WithContext("slot", s).WithContext("value", value))
	default:
		bits = uint64(value)
	}
	w := uint64(word)&^(sl.mask<<sl.offset) | bits<<sl.offset
	return int64(w)
}

// Clear returns word with slot s set to all ones (allOnes, meaning unset) or all zeros.
func (l *Layout) Clear(word int64, s int, allOnes bool) int64 {
	sl := l.slots[s]
	w := uint64(word) &^ (sl.mask << sl.offset)
	if allOnes {
		w |= sl.mask << sl.offset
	}
	return int64(w)
}

// Template builds a starting word where slot i is unset if empty[i] is true and zero
// otherwise. Slots beyond len(empty) and bits outside all slots are zero.
func (l *Layout) Template(empty ...bool) int64 {
	var word int64
	for i, e := range empty {
		if e {
			word = l.Clear(word, i, true)
		}
	}
	return word
}
