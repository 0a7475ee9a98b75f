package model

import "sort"

// ChangeTracker tracks which fields have been modified since the last
// commit, so updates write only those fields
type ChangeTracker struct {
	dirtyFields map[string]struct{}
}

// NewChangeTracker creates an empty tracker
func NewChangeTracker() *ChangeTracker {
	return &ChangeTracker{dirtyFields: make(map[string]struct{})}
}

// MarkDirty marks a field as modified
func (ct *ChangeTracker) MarkDirty(field string) {
	ct.dirtyFields[field] = struct{}{}
}

// Dirty reports whether a field is modified
func (ct *ChangeTracker) Dirty(field string) bool {
	_, ok := ct.dirtyFields[field]
	return ok
}

// HasChanges reports whether any field is modified
func (ct *ChangeTracker) HasChanges() bool {
	return len(ct.dirtyFields) > 0
}

// DirtyFields returns the modified fields in sorted order
func (ct *ChangeTracker) DirtyFields() []string {
	fields := make([]string, 0, len(ct.dirtyFields))
	for field := range ct.dirtyFields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Clear removes all dirty markers
func (ct *ChangeTracker) Clear() {
	ct.dirtyFields = make(map[string]struct{})
}

// Count returns the number of modified fields
func (ct *ChangeTracker) Count() int {
	return len(ct.dirtyFields)
}

func (ct *ChangeTracker) clone() *ChangeTracker {
	out := NewChangeTracker()
	for f := range ct.dirtyFields {
		out.dirtyFields[f] = struct{}{}
	}
	return out
}
