package objc

// Cache is a fixed-capacity, single-probe open-addressing cache mapping a
// class_rw_t address to its already-resolved class_ro_t location. It
// exists so bestimp.go's two-pass scan (once to find the best covering
// implementation address, once to report it) doesn't re-walk the
// RW_REALIZED/COPIED_RO decode logic twice per class.
//
// Grounded on calvinalkan-agent-task's slotcache.go: no chaining, no
// resize, first writer into a slot wins and later collisions are silently
// dropped (a cache miss just means re-deriving the entry, never a
// correctness problem). This keeps the cache itself allocation-free after
// construction and safe to probe from the crash path.
type Cache struct {
	slots []classROEntry
	cap   uintptr
}

// classROEntry is the resolved, decoded location of one class's
// class_ro_t, keyed by the class_rw_t address it came from.
type classROEntry struct {
	dataRW   uintptr
	roAddr   uintptr
	nameAddr uintptr
	valid    bool
}

const defaultCacheCapacity = 1024

// NewCache constructs a Cache with room for capacity entries. capacity <= 0
// selects defaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &Cache{slots: make([]classROEntry, capacity), cap: uintptr(capacity)}
}

func (c *Cache) slot(dataRW uintptr) uintptr {
	// >>2: dataRW is always at least 4-byte aligned (it is itself a
	// pointer), so the low bits carry no distribution entropy.
	return (dataRW >> 2) % c.cap
}

// Lookup returns the cached entry for dataRW, if any slot currently holds
// it. A collision with a different class at the same slot is reported as a
// miss, not an error.
func (c *Cache) Lookup(dataRW uintptr) (classROEntry, bool) {
	e := c.slots[c.slot(dataRW)]
	if e.valid && e.dataRW == dataRW {
		return e, true
	}
	return classROEntry{}, false
}

// Insert records e in its slot if that slot is empty. A slot already
// occupied by a different class is left untouched: first writer wins.
func (c *Cache) Insert(e classROEntry) {
	idx := c.slot(e.dataRW)
	if !c.slots[idx].valid {
		e.valid = true
		c.slots[idx] = e
	}
}
