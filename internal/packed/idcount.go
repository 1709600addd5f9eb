package packed

const (
	idSlot    = 0
	countSlot = 1
)

// IDCount packs an entity id and a small counter into one word. The empty field has
// an unset id and a zero count.
type IDCount struct {
	layout *Layout
	empty  int64
}

// NewIDCount creates a field with an id slot of idBits followed by a count slot of
// countBits.
func NewIDCount(idBits, countBits int) (*IDCount, error) {
	l, err := NewLayout(idBits, countBits)
	if err != nil {
		return nil, err
	}
	return &IDCount{layout: l, empty: l.Template(true, false)}, nil
}

// MustIDCount is NewIDCount for package level fields.
func MustIDCount(idBits, countBits int) *IDCount {
	f, err := NewIDCount(idBits, countBits)
	if err != nil {
		panic(err)
	}
	return f
}

// Layout exposes the underlying slot layout.
func (f *IDCount) Layout() *Layout { return f.layout }

func (f *IDCount) EmptyField() int64 { return f.empty }

func (f *IDCount) ID(word int64) int64 { return f.layout.Get(word, idSlot) }

func (f *IDCount) SetID(word, id int64) int64 { return f.layout.Set(word, idSlot, id) }

// CleanID unsets the id and keeps the count.
func (f *IDCount) CleanID(word int64) int64 { return f.layout.Clear(word, idSlot, true) }

func (f *IDCount) IsEmpty(word int64) bool { return f.ID(word) == -1 }

// Count returns the counter, treating an unset count slot as zero.
func (f *IDCount) Count(word int64) int64 {
	c := f.layout.Get(word, countSlot)
	if c == -1 {
		return 0
	}
	return c
}

func (f *IDCount) SetCount(word, count int64) int64 { return f.layout.Set(word, countSlot, count) }

// IncrementCount adds delta to the counter. It panics rather than wraps when the
// result does not fit; callers cap growth below MaxCount.
func (f *IDCount) IncrementCount(word, delta int64) int64 {
	return f.SetCount(word, f.Count(word)+delta)
}

func (f *IDCount) MaxID() int64 { return f.layout.MaxValue(idSlot) }

func (f *IDCount) MaxCount() int64 { return f.layout.MaxValue(countSlot) }
