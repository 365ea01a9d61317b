// Package wear tracks per-sector erase counts and implements the
// wear-leveling policies.
//
// Dynamic leveling picks the least-worn free sector whenever the active
// sector rotates. Static leveling looks for a resident sector that has
// fallen too far behind the most-worn one, so it can be put back into
// rotation.
package wear

import (
	"github.com/google/btree"

	"github.com/KevoDB/tinynvs/pkg/sector"
)

// Sector is the RAM view of one physical sector
type Sector struct {
	Index      int
	EraseCount uint32
	State      sector.State
}

// Free reports whether the sector can be chosen as a rotation target
func (s Sector) Free() bool {
	return !s.State.Resident()
}

type rank struct {
	count uint32
	index int
}

func lessRank(a, b rank) bool {
	if a.count != b.count {
		return a.count < b.count
	}
	return a.index < b.index
}

// Table mirrors erase counts and states for every sector and keeps them
// ordered by (erase count, sector index)
type Table struct {
	sectors []Sector
	order   *btree.BTreeG[rank]
}

// NewTable creates a table of n erased sectors with zero wear
func NewTable(n int) *Table {
	t := &Table{
		sectors: make([]Sector, n),
		order:   btree.NewG[rank](2, lessRank),
	}
	for i := range t.sectors {
		t.sectors[i] = Sector{Index: i, State: sector.StateErased}
		t.order.ReplaceOrInsert(rank{index: i})
	}
	return t
}

// Len returns the number of sectors
func (t *Table) Len() int { return len(t.sectors) }

// Get returns the RAM view of sector i
func (t *Table) Get(i int) Sector { return t.sectors[i] }

// Sectors returns a copy of every sector view in index order
func (t *Table) Sectors() []Sector {
	out := make([]Sector, len(t.sectors))
	copy(out, t.sectors)
	return out
}

// SetEraseCount records the erase count of sector i
func (t *Table) SetEraseCount(i int, count uint32) {
	s := &t.sectors[i]
	t.order.Delete(rank{count: s.EraseCount, index: i})
	s.EraseCount = count
	t.order.ReplaceOrInsert(rank{count: count, index: i})
}

// Bump increments the erase count of sector i and returns the new value
func (t *Table) Bump(i int) uint32 {
	t.SetEraseCount(i, t.sectors[i].EraseCount+1)
	return t.sectors[i].EraseCount
}

// SetState records the state of sector i
func (t *Table) SetState(i int, s sector.State) {
	t.sectors[i].State = s
}

// LeastWornFree returns the free sector with the lowest erase count,
// skipping exclude. Ties go to the lowest index.
func (t *Table) LeastWornFree(exclude int) (int, bool) {
	found := -1
	t.order.Ascend(func(r rank) bool {
		if r.index != exclude && t.sectors[r.index].Free() {
			found = r.index
			return false
		}
		return true
	})
	return found, found >= 0
}

// MaxEraseCount returns the highest erase count of any sector
func (t *Table) MaxEraseCount() uint32 {
	r, ok := t.order.Max()
	if !ok {
		return 0
	}
	return r.count
}

// ColdestResident returns the resident sector with the lowest erase count,
// skipping exclude
func (t *Table) ColdestResident(exclude int) (int, bool) {
	found := -1
	t.order.Ascend(func(r rank) bool {
		if r.index != exclude && t.sectors[r.index].State.Resident() {
			found = r.index
			return false
		}
		return true
	})
	return found, found >= 0
}

// StaticCandidate returns the cold resident sector whose erase count trails
// the most-worn sector by more than threshold, together with that spread
func (t *Table) StaticCandidate(active int, threshold uint32) (int, uint32, bool) {
	cold, ok := t.ColdestResident(active)
	if !ok {
		return -1, 0, false
	}
	spread := t.MaxEraseCount() - t.sectors[cold].EraseCount
	if spread <= threshold {
		return cold, spread, false
	}
	return cold, spread, true
}
