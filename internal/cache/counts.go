package cache

import (
	"sync"

	"github.com/23skdu/bulkgraph/internal/packed"
)

// counts reads and writes the count slot of IDCount words. A count that reaches the
// slot's maximum is parked in an overflow table keyed by the word's array index, and
// the slot keeps the maximum as a marker.
type counts struct {
	field *packed.IDCount

	mu       sync.Mutex
	overflow map[int64]int64
}

func newCounts(field *packed.IDCount) *counts {
	return &counts{field: field, overflow: make(map[int64]int64)}
}

func (c *counts) get(word, key int64) int64 {
	n := c.field.Count(word)
	if n < c.field.MaxCount() {
		return n
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflow[key]
}

// set returns word with its count replaced by n.
func (c *counts) set(word, key, n int64) int64 {
	maxCount := c.field.MaxCount()
	if n < maxCount {
		if c.field.Count(word) == maxCount {
			c.mu.Lock()
			delete(c.overflow, key)
			c.mu.Unlock()
		}
		return c.field.SetCount(word, n)
	}
	c.mu.Lock()
	c.overflow[key] = n
	c.mu.Unlock()
	return c.field.SetCount(word, maxCount)
}

func (c *counts) increment(word, key, delta int64) (int64, int64) {
	if n := c.field.Count(word) + delta; n < c.field.MaxCount() {
		return c.field.SetCount(word, n), n
	}
	n := c.get(word, key) + delta
	return c.set(word, key, n), n
}

// swap carries an overflowed count from one key to another, for records that change
// position in their array.
func (c *counts) swap(a, b int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	va, okA := c.overflow[a]
	vb, okB := c.overflow[b]
	delete(c.overflow, a)
	delete(c.overflow, b)
	if okA {
		c.overflow[b] = va
	}
	if okB {
		c.overflow[a] = vb
	}
}

func (c *counts) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.overflow)
}

func (c *counts) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.overflow)
}
