package model

import (
	"sort"

	"github.com/ammar0144/entity4go/pkg/identity"
)

// JoinRow is the per-membership record of a many-to-many collection: the
// join row's own identity (explicit-id shape only) and its properties
type JoinRow struct {
	id        identity.GUID
	props     map[string]any
	dirty     *ChangeTracker
	persisted bool
}

// NewJoinRow creates an unsaved join row with optional initial properties
func NewJoinRow(props map[string]any) *JoinRow {
	jr := &JoinRow{props: make(map[string]any, len(props)), dirty: NewChangeTracker()}
	for k, v := range props {
		jr.props[k] = v
		jr.dirty.MarkDirty(k)
	}
	return jr
}

// HydrateJoinRow builds a join row as read from the store
func HydrateJoinRow(id identity.GUID, props map[string]any) *JoinRow {
	jr := &JoinRow{id: id, props: make(map[string]any, len(props)), dirty: NewChangeTracker(), persisted: true}
	for k, v := range props {
		jr.props[k] = v
	}
	return jr
}

// ID returns the join row's identity; zero for compound-key join rows and
// explicit-id rows not yet inserted
func (j *JoinRow) ID() identity.GUID {
	return j.id
}

// AssignID sets the identity of an explicit-id join row before its insert.
// An identity, once assigned, is kept.
func (j *JoinRow) AssignID(id identity.GUID) {
	if j.id.IsZero() {
		j.id = id
	}
}

// Persisted reports whether the row exists in the store
func (j *JoinRow) Persisted() bool {
	return j.persisted
}

// Get returns a property value, nil when unset
func (j *JoinRow) Get(name string) any {
	return j.props[name]
}

// Set assigns a property and marks it dirty when the value changes
func (j *JoinRow) Set(name string, value any) {
	if old, ok := j.props[name]; ok && valuesEqual(old, value) {
		return
	}
	j.props[name] = value
	j.dirty.MarkDirty(name)
}

// Props returns a copy of all properties
func (j *JoinRow) Props() map[string]any {
	out := make(map[string]any, len(j.props))
	for k, v := range j.props {
		out[k] = v
	}
	return out
}

// PropNames returns the property names in sorted order
func (j *JoinRow) PropNames() []string {
	names := make([]string, 0, len(j.props))
	for k := range j.props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DirtyProps returns the properties changed since the last commit
func (j *JoinRow) DirtyProps() []string {
	return j.dirty.DirtyFields()
}

// IsDirty reports whether any property changed since the last commit
func (j *JoinRow) IsDirty() bool {
	return j.dirty.HasChanges()
}

// MarkPersisted records a successful write of the row
func (j *JoinRow) MarkPersisted() {
	j.persisted = true
	j.dirty.Clear()
}

// copyPropsFrom takes over other's property values, marking changed ones dirty
func (j *JoinRow) copyPropsFrom(other *JoinRow) {
	for k, v := range other.props {
		j.Set(k, v)
	}
	for _, k := range other.dirty.DirtyFields() {
		j.dirty.MarkDirty(k)
	}
}

// blank reports an unsaved row with no identity and no properties
func (j *JoinRow) blank() bool {
	return !j.persisted && j.id.IsZero() && len(j.props) == 0
}

func (j *JoinRow) clone() *JoinRow {
	out := &JoinRow{id: j.id, props: make(map[string]any, len(j.props)), dirty: j.dirty.clone(), persisted: j.persisted}
	for k, v := range j.props {
		out.props[k] = v
	}
	return out
}
