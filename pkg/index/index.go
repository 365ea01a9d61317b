// Package index is the bounded RAM index mapping keys to entry offsets
// inside the active sector.
//
// Slots live in a fixed arena and chain through int32 links, so memory use
// is fixed by the capacity chosen at construction. Keys are hashed with
// xxhash and compared literally on collision.
package index

import (
	"bytes"
	"errors"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// ErrIndexFull is returned when every slot of the arena is in use
var ErrIndexFull = errors.New("index: no free slot")

const nilSlot int32 = -1

type slot struct {
	hash   uint64
	key    []byte
	offset uint32
	next   int32
	used   bool
}

// Index maps keys to byte offsets. It is not safe for concurrent use.
type Index struct {
	buckets []int32
	slots   []slot
	free    int32
	count   int
}

// New creates an index with room for capacity keys spread over the given
// number of hash buckets
func New(capacity, buckets int) *Index {
	if capacity < 1 {
		capacity = 1
	}
	if buckets < 1 {
		buckets = 1
	}
	idx := &Index{
		buckets: make([]int32, buckets),
		slots:   make([]slot, capacity),
	}
	idx.Clear()
	return idx
}

// Clear drops every entry and returns all slots to the free list
func (idx *Index) Clear() {
	for i := range idx.buckets {
		idx.buckets[i] = nilSlot
	}
	for i := range idx.slots {
		idx.slots[i] = slot{next: int32(i + 1)}
	}
	idx.slots[len(idx.slots)-1].next = nilSlot
	idx.free = 0
	idx.count = 0
}

func (idx *Index) bucket(h uint64) int {
	return int(h % uint64(len(idx.buckets)))
}

func (idx *Index) lookup(key []byte) (h uint64, b int, prev, cur int32) {
	h = xxhash.Sum64(key)
	b = idx.bucket(h)
	prev = nilSlot
	for cur = idx.buckets[b]; cur != nilSlot; cur = idx.slots[cur].next {
		s := &idx.slots[cur]
		if s.hash == h && bytes.Equal(s.key, key) {
			return h, b, prev, cur
		}
		prev = cur
	}
	return h, b, prev, nilSlot
}

// Find returns the offset recorded for key
func (idx *Index) Find(key []byte) (uint32, bool) {
	_, _, _, cur := idx.lookup(key)
	if cur == nilSlot {
		return 0, false
	}
	return idx.slots[cur].offset, true
}

// Has reports whether key is indexed
func (idx *Index) Has(key []byte) bool {
	_, ok := idx.Find(key)
	return ok
}

// Update points key at offset, inserting it when absent
func (idx *Index) Update(key []byte, offset uint32) error {
	h, b, _, cur := idx.lookup(key)
	if cur != nilSlot {
		idx.slots[cur].offset = offset
		return nil
	}
	if idx.free == nilSlot {
		return ErrIndexFull
	}

	n := idx.free
	s := &idx.slots[n]
	idx.free = s.next
	*s = slot{
		hash:   h,
		key:    append([]byte(nil), key...),
		offset: offset,
		next:   idx.buckets[b],
		used:   true,
	}
	idx.buckets[b] = n
	idx.count++
	return nil
}

// Remove drops key and reports whether it was present
func (idx *Index) Remove(key []byte) bool {
	_, b, prev, cur := idx.lookup(key)
	if cur == nilSlot {
		return false
	}
	if prev == nilSlot {
		idx.buckets[b] = idx.slots[cur].next
	} else {
		idx.slots[prev].next = idx.slots[cur].next
	}
	idx.slots[cur] = slot{next: idx.free}
	idx.free = cur
	idx.count--
	return true
}

// Len returns the number of indexed keys
func (idx *Index) Len() int { return idx.count }

// Cap returns the slot capacity
func (idx *Index) Cap() int { return len(idx.slots) }

// Full reports whether no slot is free
func (idx *Index) Full() bool { return idx.free == nilSlot }

// Entry is a snapshot of one index slot
type Entry struct {
	Key    []byte
	Offset uint32
}

// Entries returns every indexed key ordered by offset, which is the order
// the entries appear in the sector log
func (idx *Index) Entries() []Entry {
	out := make([]Entry, 0, idx.count)
	for i := range idx.slots {
		s := &idx.slots[i]
		if s.used {
			out = append(out, Entry{Key: s.key, Offset: s.offset})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Range calls fn for each indexed key in slot order until fn returns false.
// The key slice is owned by the index.
func (idx *Index) Range(fn func(key []byte, offset uint32) bool) {
	for i := range idx.slots {
		s := &idx.slots[i]
		if s.used && !fn(s.key, s.offset) {
			return
		}
	}
}
