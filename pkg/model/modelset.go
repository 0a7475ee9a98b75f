package model

import "github.com/ammar0144/entity4go/pkg/identity"

// ModelSet is an insertion-ordered set of entities keyed by identity.
// Two entity values with the same identity are the same member.
// Members of many-to-many collections carry join rows: exactly one for a
// compound-key join, one per parallel link for an explicit-id join.
type ModelSet struct {
	items []*Entity
	index map[identity.GUID]int
	joins map[identity.GUID][]*JoinRow
}

// NewModelSet creates a set holding the given entities, skipping duplicates
func NewModelSet(items ...*Entity) *ModelSet {
	s := &ModelSet{
		index: make(map[identity.GUID]int, len(items)),
		joins: make(map[identity.GUID][]*JoinRow),
	}
	for _, e := range items {
		s.Add(e)
	}
	return s
}

// Add inserts e; it returns false when a member with the same identity exists
func (s *ModelSet) Add(e *Entity) bool {
	if e == nil {
		return false
	}
	if _, ok := s.index[e.ID()]; ok {
		return false
	}
	s.index[e.ID()] = len(s.items)
	s.items = append(s.items, e)
	return true
}

// AddWithJoin inserts e together with a join row. When e is already a
// member the row is appended as a parallel link. It reports whether e
// was newly added.
func (s *ModelSet) AddWithJoin(e *Entity, jr *JoinRow) bool {
	if e == nil {
		return false
	}
	added := s.Add(e)
	if jr != nil {
		s.joins[e.ID()] = append(s.joins[e.ID()], jr)
	}
	return added
}

func (s *ModelSet) addWithJoins(e *Entity, rows []*JoinRow) {
	s.Add(e)
	if len(rows) > 0 {
		s.joins[e.ID()] = append([]*JoinRow(nil), rows...)
	}
}

// Remove drops the member with e's identity and all of its join rows
func (s *ModelSet) Remove(e *Entity) bool {
	if e == nil {
		return false
	}
	return s.RemoveID(e.ID())
}

// RemoveID drops the member with the given identity
func (s *ModelSet) RemoveID(id identity.GUID) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	delete(s.index, id)
	delete(s.joins, id)
	for i := pos; i < len(s.items); i++ {
		s.index[s.items[i].ID()] = i
	}
	return true
}

// RemoveJoin drops one join row of member e. Dropping the last row drops
// the member too.
func (s *ModelSet) RemoveJoin(e *Entity, jr *JoinRow) bool {
	if e == nil || jr == nil {
		return false
	}
	rows := s.joins[e.ID()]
	for i, r := range rows {
		if r != jr {
			continue
		}
		rows = append(rows[:i:i], rows[i+1:]...)
		if len(rows) == 0 {
			s.RemoveID(e.ID())
		} else {
			s.joins[e.ID()] = rows
		}
		return true
	}
	return false
}

// Has reports whether a member with e's identity is present
func (s *ModelSet) Has(e *Entity) bool {
	if e == nil {
		return false
	}
	return s.HasID(e.ID())
}

// HasID reports whether a member with the identity is present
func (s *ModelSet) HasID(id identity.GUID) bool {
	_, ok := s.index[id]
	return ok
}

// Get returns the member with the identity, or nil
func (s *ModelSet) Get(id identity.GUID) *Entity {
	pos, ok := s.index[id]
	if !ok {
		return nil
	}
	return s.items[pos]
}

// Find returns the first member matching fn, or nil
func (s *ModelSet) Find(fn func(*Entity) bool) *Entity {
	for _, e := range s.items {
		if fn(e) {
			return e
		}
	}
	return nil
}

// Filter returns a new set of the members matching fn, join rows shared
func (s *ModelSet) Filter(fn func(*Entity) bool) *ModelSet {
	out := NewModelSet()
	for _, e := range s.items {
		if fn(e) {
			out.addWithJoins(e, s.joins[e.ID()])
		}
	}
	return out
}

// Len returns the number of members
func (s *ModelSet) Len() int {
	return len(s.items)
}

// Items returns the members in insertion order
func (s *ModelSet) Items() []*Entity {
	out := make([]*Entity, len(s.items))
	copy(out, s.items)
	return out
}

// IDs returns the member identities in insertion order
func (s *ModelSet) IDs() []identity.GUID {
	out := make([]identity.GUID, len(s.items))
	for i, e := range s.items {
		out[i] = e.ID()
	}
	return out
}

// Join returns the first join row of member e, creating an empty one on
// first access. It returns nil when e is not a member.
func (s *ModelSet) Join(e *Entity) *JoinRow {
	if !s.Has(e) {
		return nil
	}
	rows := s.joins[e.ID()]
	if len(rows) == 0 {
		jr := NewJoinRow(nil)
		s.joins[e.ID()] = []*JoinRow{jr}
		return jr
	}
	return rows[0]
}

// JoinIfPresent returns the first join row of member e without creating one
func (s *ModelSet) JoinIfPresent(e *Entity) (*JoinRow, bool) {
	rows := s.joins[e.ID()]
	if len(rows) == 0 {
		return nil, false
	}
	return rows[0], true
}

// Joins returns every join row of member e, one per parallel link
func (s *ModelSet) Joins(e *Entity) []*JoinRow {
	return append([]*JoinRow(nil), s.joins[e.ID()]...)
}

// Clone copies the set; members are shared, join rows are copied
func (s *ModelSet) Clone() *ModelSet {
	out := &ModelSet{
		items: make([]*Entity, len(s.items)),
		index: make(map[identity.GUID]int, len(s.index)),
		joins: make(map[identity.GUID][]*JoinRow, len(s.joins)),
	}
	copy(out.items, s.items)
	for id, pos := range s.index {
		out.index[id] = pos
	}
	for id, rows := range s.joins {
		out.joins[id] = cloneRows(rows)
	}
	return out
}

// Intersection returns the members of s also present in other. For
// members with a single join row on both sides, other's properties are
// copied into s's row, marking changed properties dirty; s's join-row
// identities are kept.
func (s *ModelSet) Intersection(other *ModelSet) *ModelSet {
	out := NewModelSet()
	for _, e := range s.items {
		if !other.HasID(e.ID()) {
			continue
		}
		mine, theirs := s.joins[e.ID()], other.joins[e.ID()]
		if len(mine) == 1 && len(theirs) == 1 {
			mine[0].copyPropsFrom(theirs[0])
		}
		out.addWithJoins(e, mine)
	}
	return out
}

// Removed returns the members of s absent from other
func (s *ModelSet) Removed(other *ModelSet) *ModelSet {
	out := NewModelSet()
	for _, e := range s.items {
		if !other.HasID(e.ID()) {
			out.addWithJoins(e, s.joins[e.ID()])
		}
	}
	return out
}

// AddedTo returns the members of other absent from s
func (s *ModelSet) AddedTo(other *ModelSet) *ModelSet {
	out := NewModelSet()
	for _, e := range other.items {
		if !s.HasID(e.ID()) {
			out.addWithJoins(e, other.joins[e.ID()])
		}
	}
	return out
}

// SameMembers reports whether both sets hold the same identities
func (s *ModelSet) SameMembers(other *ModelSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for id := range s.index {
		if !other.HasID(id) {
			return false
		}
	}
	return true
}

// sameJoinRows reports whether every member of s holds exactly the stored
// join rows other holds for it
func (s *ModelSet) sameJoinRows(other *ModelSet) bool {
	for id := range s.index {
		mine, theirs := s.joins[id], other.joins[id]
		if len(mine) != len(theirs) {
			return false
		}
		for i, jr := range mine {
			if !jr.persisted || jr.id != theirs[i].id {
				return false
			}
		}
	}
	return true
}

func (s *ModelSet) hasDirtyJoins() bool {
	for _, rows := range s.joins {
		for _, jr := range rows {
			if jr.IsDirty() {
				return true
			}
		}
	}
	return false
}

func (s *ModelSet) clearJoinDirt() {
	for _, rows := range s.joins {
		for _, jr := range rows {
			jr.MarkPersisted()
		}
	}
}

func cloneRows(rows []*JoinRow) []*JoinRow {
	if len(rows) == 0 {
		return nil
	}
	out := make([]*JoinRow, len(rows))
	for i, jr := range rows {
		out[i] = jr.clone()
	}
	return out
}
