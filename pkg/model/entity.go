// Package model holds the in-memory side of persistence: entities with
// their lifecycle state, dirty tracking, relation handles and the set
// algebra used to diff collections.
package model

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/schema"
)

// State is the lifecycle state of an entity
type State int

const (
	// StateNew entities have never been committed
	StateNew State = iota
	// StateLoaded entities match their stored row
	StateLoaded
	// StateDirty entities are loaded with uncommitted changes
	StateDirty
	// StateDeleted entities are gone from the store; every access fails
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLoaded:
		return "loaded"
	case StateDirty:
		return "dirty"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Loader fetches missing parts of an entity on explicit request
type Loader interface {
	LoadFields(ctx context.Context, e *Entity, fields ...string) error
	LoadRelation(ctx context.Context, e *Entity, relation string) error
}

// Committer persists and deletes entities
type Committer interface {
	Commit(ctx context.Context, e *Entity) error
	Delete(ctx context.Context, e *Entity) error
}

// Entity is one in-memory instance of a registered entity type
type Entity struct {
	typ      *schema.EntityType
	id       identity.GUID
	state    State
	readOnly bool

	values map[string]any
	loaded map[string]struct{}
	dirty  *ChangeTracker

	relLoaded map[string]struct{}
	refs      map[string]*Entity
	sets      map[string]*ModelSet
	base      map[string]*ModelSet
}

func newEntity(t *schema.EntityType, id identity.GUID, state State) *Entity {
	return &Entity{
		typ:       t,
		id:        id,
		state:     state,
		values:    make(map[string]any),
		loaded:    make(map[string]struct{}),
		dirty:     NewChangeTracker(),
		relLoaded: make(map[string]struct{}),
		refs:      make(map[string]*Entity),
		sets:      make(map[string]*ModelSet),
		base:      make(map[string]*ModelSet),
	}
}

// New creates an unsaved entity with a fresh identity. Keys of data may
// name scalar fields, many-to-one relations (*Entity) or collections
// (*ModelSet or []*Entity).
func New(t *schema.EntityType, data map[string]any) (*Entity, error) {
	return NewWithID(t, identity.New(), data)
}

// NewWithID creates an unsaved entity with a caller-chosen identity, the
// way a forward reference to a not-yet-committed row is made
func NewWithID(t *schema.EntityType, id identity.GUID, data map[string]any) (*Entity, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("new %s: %w", t.Name, identity.ErrInvalidGUID)
	}
	e := newEntity(t, id, StateNew)
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := e.assign(k, data[k]); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Reference creates a handle to a stored entity with nothing fetched.
// Every field read fails with ErrNotLoaded until loaded.
func Reference(t *schema.EntityType, id identity.GUID) *Entity {
	return newEntity(t, id, StateLoaded)
}

// Hydrate builds a loaded entity from stored values keyed by field name
func Hydrate(t *schema.EntityType, id identity.GUID, values map[string]any) (*Entity, error) {
	e := newEntity(t, id, StateLoaded)
	if err := e.MergeLoaded(values); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Entity) assign(key string, value any) error {
	if _, ok := e.typ.Field(key); ok || key == schema.IDField {
		return e.Set(key, value)
	}
	rel, ok := e.typ.Relation(key)
	if !ok {
		return fmt.Errorf("%s.%s: %w", e.typ.Name, key, ErrUnknownField)
	}
	if rel.Shape() == schema.ManyToOne {
		target, ok := value.(*Entity)
		if value != nil && !ok {
			return fmt.Errorf("%s.%s: expected *model.Entity, got %T", e.typ.Name, key, value)
		}
		return e.SetRef(key, target)
	}
	switch v := value.(type) {
	case *ModelSet:
		return e.SetCollection(key, v)
	case []*Entity:
		return e.SetCollection(key, NewModelSet(v...))
	case nil:
		return e.SetCollection(key, NewModelSet())
	default:
		return fmt.Errorf("%s.%s: expected a collection, got %T", e.typ.Name, key, value)
	}
}

// Type returns the entity's registered type
func (e *Entity) Type() *schema.EntityType {
	return e.typ
}

// ID returns the entity's identity
func (e *Entity) ID() identity.GUID {
	return e.id
}

// State reports the lifecycle state; a loaded entity with pending changes is StateDirty
func (e *Entity) State() State {
	if e.state == StateLoaded && e.IsDirty() {
		return StateDirty
	}
	return e.state
}

// IsNew reports whether the entity has never been committed
func (e *Entity) IsNew() bool {
	return e.state == StateNew
}

// IsDeleted reports whether the entity was deleted
func (e *Entity) IsDeleted() bool {
	return e.state == StateDeleted
}

// IsReadOnly reports whether mutations are refused
func (e *Entity) IsReadOnly() bool {
	return e.readOnly
}

// MarkReadOnly makes every later mutation fail with ErrReadOnly
func (e *Entity) MarkReadOnly() {
	e.readOnly = true
}

// IsDirty reports pending scalar, membership or join-row changes
func (e *Entity) IsDirty() bool {
	if e.dirty.HasChanges() {
		return true
	}
	for name, cur := range e.sets {
		if base, ok := e.base[name]; ok && (!base.SameMembers(cur) || !cur.sameJoinRows(base)) {
			return true
		}
		if cur.hasDirtyJoins() {
			return true
		}
	}
	return false
}

func (e *Entity) checkAlive() error {
	if e.state == StateDeleted {
		return fmt.Errorf("%s %s: %w", e.typ.Name, e.id, ErrDeleted)
	}
	return nil
}

func (e *Entity) checkWritable() error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.readOnly {
		return fmt.Errorf("%s %s: %w", e.typ.Name, e.id, ErrReadOnly)
	}
	return nil
}

// IsLoaded reports whether a field or relation can be read without a load
func (e *Entity) IsLoaded(name string) bool {
	if name == schema.IDField || e.state == StateNew {
		return true
	}
	if _, ok := e.typ.Relation(name); ok {
		_, loaded := e.relLoaded[name]
		return loaded
	}
	_, ok := e.loaded[name]
	return ok
}

// Get returns a scalar field value. Unfetched fields fail with ErrNotLoaded.
func (e *Entity) Get(field string) (any, error) {
	if err := e.checkAlive(); err != nil {
		return nil, err
	}
	if field == schema.IDField {
		return e.id, nil
	}
	if _, ok := e.typ.Field(field); !ok {
		if _, isRel := e.typ.Relation(field); isRel {
			return nil, fmt.Errorf("%s.%s is a relation: %w", e.typ.Name, field, ErrUnknownField)
		}
		return nil, fmt.Errorf("%s.%s: %w", e.typ.Name, field, ErrUnknownField)
	}
	if !e.IsLoaded(field) {
		return nil, fmt.Errorf("%s.%s: %w", e.typ.Name, field, ErrNotLoaded)
	}
	return e.values[field], nil
}

// String returns a string field; an unset field reads as ""
func (e *Entity) String(field string) (string, error) {
	v, err := e.Get(field)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s.%s is %T, not a string", e.typ.Name, field, v)
	}
	return s, nil
}

// Int returns an integer field; an unset field reads as 0
func (e *Entity) Int(field string) (int64, error) {
	v, err := e.Get(field)
	if err != nil || v == nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%s.%s is %T, not an int", e.typ.Name, field, v)
	}
	return n, nil
}

// Bool returns a boolean field; an unset field reads as false
func (e *Entity) Bool(field string) (bool, error) {
	v, err := e.Get(field)
	if err != nil || v == nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s.%s is %T, not a bool", e.typ.Name, field, v)
	}
	return b, nil
}

// Time returns a time field; an unset field reads as the zero time
func (e *Entity) Time(field string) (time.Time, error) {
	v, err := e.Get(field)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("%s.%s is %T, not a time", e.typ.Name, field, v)
	}
	return t, nil
}

// GUID returns an identity-valued field; an unset field reads as identity.Nil
func (e *Entity) GUID(field string) (identity.GUID, error) {
	v, err := e.Get(field)
	if err != nil || v == nil {
		return identity.Nil, err
	}
	id, ok := v.(identity.GUID)
	if !ok {
		return identity.Nil, fmt.Errorf("%s.%s is %T, not a guid", e.typ.Name, field, v)
	}
	return id, nil
}

// IsSet reports whether a field holds a non-null value in memory
func (e *Entity) IsSet(field string) bool {
	if field == schema.IDField {
		return true
	}
	v, ok := e.values[field]
	return ok && v != nil
}

// Set assigns a scalar field, normalizing the value to the field's type.
// Assigning an unchanged value to a loaded field is a no-op.
func (e *Entity) Set(field string, value any) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if field == schema.IDField {
		id, err := identity.FromAny(value)
		if err != nil || id != e.id {
			return fmt.Errorf("%s.%s: %w", e.typ.Name, field, ErrImmutableID)
		}
		return nil
	}
	f, ok := e.typ.Field(field)
	if !ok {
		return fmt.Errorf("%s.%s: %w", e.typ.Name, field, ErrUnknownField)
	}
	v, err := f.Normalize(value)
	if err != nil {
		return &ValidationError{Entity: e.typ.Name, Fields: []string{field}, Err: err}
	}
	if _, loaded := e.loaded[field]; loaded && valuesEqual(e.values[field], v) {
		return nil
	}
	e.values[field] = v
	e.loaded[field] = struct{}{}
	e.dirty.MarkDirty(field)
	e.dropStaleRefs(field, v)
	return nil
}

// dropStaleRefs forgets a cached many-to-one target whose foreign key changed
func (e *Entity) dropStaleRefs(field string, fk any) {
	for i := range e.typ.Relations {
		rel := &e.typ.Relations[i]
		if rel.Shape() != schema.ManyToOne || rel.ForeignKey != field {
			continue
		}
		target, ok := e.refs[rel.Name]
		id, isID := fk.(identity.GUID)
		switch {
		case fk == nil:
			e.refs[rel.Name] = nil
			e.relLoaded[rel.Name] = struct{}{}
		case ok && target != nil && isID && target.ID() == id:
		default:
			delete(e.refs, rel.Name)
			delete(e.relLoaded, rel.Name)
		}
	}
}

// Ref returns the target of a many-to-one relation; nil when unset
func (e *Entity) Ref(relation string) (*Entity, error) {
	if err := e.checkAlive(); err != nil {
		return nil, err
	}
	rel, err := e.relation(relation, schema.ManyToOne)
	if err != nil {
		return nil, err
	}
	if _, ok := e.relLoaded[relation]; ok {
		return e.refs[relation], nil
	}
	if e.IsLoaded(rel.ForeignKey) && e.values[rel.ForeignKey] == nil {
		return nil, nil
	}
	return nil, fmt.Errorf("%s.%s: %w", e.typ.Name, relation, ErrNotLoaded)
}

// SetRef points a many-to-one relation at target, or clears it when nil.
// The foreign key follows the target's identity.
func (e *Entity) SetRef(relation string, target *Entity) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	rel, err := e.relation(relation, schema.ManyToOne)
	if err != nil {
		return err
	}
	if target != nil {
		if target.typ.Name != rel.Target {
			return fmt.Errorf("%s.%s: expected %s, got %s", e.typ.Name, relation, rel.Target, target.typ.Name)
		}
		if target.IsDeleted() {
			return fmt.Errorf("%s.%s: target %w", e.typ.Name, relation, ErrDeleted)
		}
		if err := e.Set(rel.ForeignKey, target.ID()); err != nil {
			return err
		}
	} else if err := e.Set(rel.ForeignKey, nil); err != nil {
		return err
	}
	e.refs[relation] = target
	e.relLoaded[relation] = struct{}{}
	return nil
}

// Collection returns the live member set of a one-to-many or many-to-many
// relation. Mutations of the returned set are diffed at commit.
func (e *Entity) Collection(relation string) (*ModelSet, error) {
	if err := e.checkAlive(); err != nil {
		return nil, err
	}
	if _, err := e.relation(relation, schema.ShapeUnknown); err != nil {
		return nil, err
	}
	if set, ok := e.sets[relation]; ok {
		if e.readOnly {
			return set.Clone(), nil
		}
		return set, nil
	}
	if e.state == StateNew {
		e.initCollection(relation, NewModelSet())
		return e.sets[relation], nil
	}
	return nil, fmt.Errorf("%s.%s: %w", e.typ.Name, relation, ErrNotLoaded)
}

// SetCollection replaces the members of a loaded collection
func (e *Entity) SetCollection(relation string, set *ModelSet) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	rel, err := e.relation(relation, schema.ShapeUnknown)
	if err != nil {
		return err
	}
	for _, m := range set.Items() {
		if m.typ.Name != rel.Target {
			return fmt.Errorf("%s.%s: expected %s members, got %s", e.typ.Name, relation, rel.Target, m.typ.Name)
		}
	}
	if _, ok := e.sets[relation]; !ok {
		if e.state != StateNew {
			return fmt.Errorf("%s.%s: load the collection before replacing it: %w", e.typ.Name, relation, ErrNotLoaded)
		}
		e.initCollection(relation, NewModelSet())
	}
	e.sets[relation] = set.Clone()
	return nil
}

func (e *Entity) initCollection(relation string, set *ModelSet) {
	e.sets[relation] = set
	e.base[relation] = set.Clone()
	e.relLoaded[relation] = struct{}{}
}

func (e *Entity) relation(name string, want schema.Shape) (*schema.Relation, error) {
	rel, ok := e.typ.Relation(name)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", e.typ.Name, name, ErrUnknownField)
	}
	switch {
	case want == schema.ManyToOne && rel.Shape() != schema.ManyToOne:
		return nil, fmt.Errorf("%s.%s is a collection, use Collection", e.typ.Name, name)
	case want == schema.ShapeUnknown && rel.Shape() == schema.ManyToOne:
		return nil, fmt.Errorf("%s.%s is a single reference, use Ref", e.typ.Name, name)
	}
	return rel, nil
}

// SafeLoad fetches any of the named fields or relations not yet loaded.
// Values assigned in memory are never overwritten by the load.
func (e *Entity) SafeLoad(ctx context.Context, loader Loader, names ...string) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	var scalars []string
	for _, name := range names {
		if e.IsLoaded(name) {
			continue
		}
		if _, ok := e.typ.Relation(name); ok {
			if err := loader.LoadRelation(ctx, e, name); err != nil {
				return err
			}
			continue
		}
		if _, ok := e.typ.Field(name); !ok {
			return fmt.Errorf("%s.%s: %w", e.typ.Name, name, ErrUnknownField)
		}
		scalars = append(scalars, name)
	}
	if len(scalars) > 0 {
		return loader.LoadFields(ctx, e, scalars...)
	}
	return nil
}

// Fetch loads a scalar field if needed and returns its value
func (e *Entity) Fetch(ctx context.Context, loader Loader, field string) (any, error) {
	if err := e.SafeLoad(ctx, loader, field); err != nil {
		return nil, err
	}
	return e.Get(field)
}

// Commit persists the entity and its owned graph
func (e *Entity) Commit(ctx context.Context, c Committer) error {
	return c.Commit(ctx, e)
}

// Delete removes the entity and everything it owns
func (e *Entity) Delete(ctx context.Context, c Committer) error {
	return c.Delete(ctx, e)
}

// Validate runs the type's validate hook, then the required-field check
func (e *Entity) Validate() error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.typ.Validate != nil {
		if err := e.typ.Validate(e); err != nil {
			return &ValidationError{Entity: e.typ.Name, Err: err}
		}
	}
	var missing []string
	for _, f := range e.typ.Fields {
		if f.Kind != schema.Required {
			continue
		}
		if e.state != StateNew && !e.IsLoaded(f.Name) {
			continue
		}
		if e.values[f.Name] == nil {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Entity: e.typ.Name, Fields: missing}
	}
	return nil
}

// Project renders the entity for a client: the identity plus the
// whitelisted fields that are loaded. Identities render as hex strings;
// relations render as identities.
func (e *Entity) Project(fields ...string) map[string]any {
	out := map[string]any{schema.IDField: e.id.String()}
	if e.state == StateDeleted {
		return out
	}
	for _, name := range fields {
		if name == schema.IDField || !e.IsLoaded(name) {
			continue
		}
		if rel, ok := e.typ.Relation(name); ok {
			if rel.Shape() == schema.ManyToOne {
				if target := e.refs[name]; target != nil {
					out[name] = target.ID().String()
				} else {
					out[name] = nil
				}
				continue
			}
			set := e.sets[name]
			if set == nil {
				continue
			}
			ids := make([]string, 0, set.Len())
			for _, id := range set.IDs() {
				ids = append(ids, id.String())
			}
			out[name] = ids
			continue
		}
		if _, ok := e.typ.Field(name); !ok {
			continue
		}
		out[name] = projectValue(e.values[name])
	}
	return out
}

func projectValue(v any) any {
	switch x := v.(type) {
	case identity.GUID:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// The methods below are the engine's bookkeeping surface.

// Snapshot returns a copy of the in-memory scalar values
func (e *Entity) Snapshot() map[string]any {
	out := make(map[string]any, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// IsDirtyField reports whether a scalar field changed since the last commit
func (e *Entity) IsDirtyField(field string) bool {
	return e.dirty.Dirty(field)
}

// DirtyFields returns the scalar fields changed since the last commit
func (e *Entity) DirtyFields() []string {
	return e.dirty.DirtyFields()
}

// MergeLoaded records stored values; fields dirty in memory keep their value
func (e *Entity) MergeLoaded(values map[string]any) error {
	for name, raw := range values {
		if name == schema.IDField {
			continue
		}
		f, ok := e.typ.Field(name)
		if !ok {
			return fmt.Errorf("%s.%s: %w", e.typ.Name, name, ErrUnknownField)
		}
		if e.dirty.Dirty(name) {
			continue
		}
		v, err := f.Normalize(raw)
		if err != nil {
			return fmt.Errorf("hydrate %s.%s: %w", e.typ.Name, name, err)
		}
		e.values[name] = v
		e.loaded[name] = struct{}{}
	}
	return nil
}

// RefIfLoaded returns a loaded many-to-one target without failing
func (e *Entity) RefIfLoaded(relation string) (*Entity, bool) {
	if _, ok := e.relLoaded[relation]; !ok {
		return nil, false
	}
	return e.refs[relation], true
}

// SetLoadedRef records a fetched many-to-one target without marking it dirty
func (e *Entity) SetLoadedRef(relation string, target *Entity) {
	if _, ok := e.relLoaded[relation]; ok && e.refs[relation] != nil {
		return
	}
	rel, ok := e.typ.Relation(relation)
	if ok && e.dirty.Dirty(rel.ForeignKey) {
		if fk, _ := e.values[rel.ForeignKey].(identity.GUID); target == nil || fk != target.ID() {
			return
		}
	}
	e.refs[relation] = target
	e.relLoaded[relation] = struct{}{}
}

// CollectionIfLoaded returns a loaded collection without failing
func (e *Entity) CollectionIfLoaded(relation string) (*ModelSet, bool) {
	set, ok := e.sets[relation]
	return set, ok
}

// SetLoadedCollection records fetched members as both baseline and live set.
// A collection already loaded in memory is kept.
func (e *Entity) SetLoadedCollection(relation string, set *ModelSet) {
	if _, ok := e.sets[relation]; ok {
		return
	}
	e.sets[relation] = set
	e.base[relation] = set.Clone()
	e.relLoaded[relation] = struct{}{}
}

// CollectionDelta diffs the live collection against its baseline. Kept
// members carry their live join rows.
func (e *Entity) CollectionDelta(relation string) (removed, kept, added *ModelSet, ok bool) {
	cur, loaded := e.sets[relation]
	if !loaded {
		return nil, nil, nil, false
	}
	base := e.base[relation]
	kept = cur.Filter(func(m *Entity) bool { return base.Has(m) })
	return base.Removed(cur), kept, base.AddedTo(cur), true
}

// JoinChanges is the join-row work of one kept many-to-many member
type JoinChanges struct {
	Insert []*JoinRow
	Update []*JoinRow
	Delete []*JoinRow
}

// Empty reports whether nothing needs writing
func (c JoinChanges) Empty() bool {
	return len(c.Insert) == 0 && len(c.Update) == 0 && len(c.Delete) == 0
}

// KeptJoinChanges reconciles the live join rows of kept member m with the
// baseline. A member whose live rows are all blank takes the baseline rows
// back unchanged. Compound-key rows fold into the single stored row of the
// pair; explicit-id rows are matched by their own identity, so unsaved
// rows are inserted and baseline rows no longer held are deleted.
func (e *Entity) KeptJoinChanges(relation string, m *Entity) JoinChanges {
	cur, ok := e.sets[relation]
	if !ok || !cur.Has(m) {
		return JoinChanges{}
	}
	baseRows := e.base[relation].joins[m.ID()]
	live := cur.joins[m.ID()]
	if allBlank(live) {
		if len(baseRows) > 0 {
			cur.joins[m.ID()] = cloneRows(baseRows)
		} else {
			delete(cur.joins, m.ID())
		}
		return JoinChanges{}
	}

	rel, _ := e.typ.Relation(relation)
	if rel == nil || rel.Join == nil || rel.Join.IDColumn == "" {
		row := live[0]
		if !row.persisted || len(live) > 1 {
			if len(baseRows) > 0 {
				row = baseRows[0].clone()
			} else {
				row = HydrateJoinRow(identity.Nil, nil)
			}
			for _, jr := range live {
				row.copyPropsFrom(jr)
			}
			cur.joins[m.ID()] = []*JoinRow{row}
		}
		if row.IsDirty() {
			return JoinChanges{Update: []*JoinRow{row}}
		}
		return JoinChanges{}
	}

	var out JoinChanges
	held := make(map[identity.GUID]bool, len(live))
	for _, jr := range live {
		if !jr.persisted {
			out.Insert = append(out.Insert, jr)
			continue
		}
		held[jr.id] = true
		if jr.IsDirty() {
			out.Update = append(out.Update, jr)
		}
	}
	for _, jr := range baseRows {
		if !held[jr.id] {
			out.Delete = append(out.Delete, jr)
		}
	}
	return out
}

func allBlank(rows []*JoinRow) bool {
	for _, jr := range rows {
		if !jr.blank() {
			return false
		}
	}
	return true
}

// LoadedCollections returns the names of collections held in memory
func (e *Entity) LoadedCollections() []string {
	names := make([]string, 0, len(e.sets))
	for name := range e.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarkCommitted records a successful commit: the entity matches the store
func (e *Entity) MarkCommitted() {
	if e.state == StateNew {
		for _, f := range e.typ.Fields {
			if _, ok := e.loaded[f.Name]; !ok {
				e.values[f.Name] = nil
				e.loaded[f.Name] = struct{}{}
			}
		}
	}
	e.state = StateLoaded
	e.dirty.Clear()
	for name, cur := range e.sets {
		cur.clearJoinDirt()
		e.base[name] = cur.Clone()
	}
}

// Checkpoint captures e's scalar values, dirty markers and cached
// many-to-one targets; the returned func puts them back. Collections are
// not covered.
func (e *Entity) Checkpoint() func() {
	values := make(map[string]any, len(e.values))
	for k, v := range e.values {
		values[k] = v
	}
	loaded := make(map[string]struct{}, len(e.loaded))
	for k := range e.loaded {
		loaded[k] = struct{}{}
	}
	relLoaded := make(map[string]struct{}, len(e.relLoaded))
	for k := range e.relLoaded {
		relLoaded[k] = struct{}{}
	}
	refs := make(map[string]*Entity, len(e.refs))
	for k, v := range e.refs {
		refs[k] = v
	}
	dirty := e.dirty.clone()
	return func() {
		e.values, e.loaded, e.relLoaded, e.refs, e.dirty = values, loaded, relLoaded, refs, dirty
	}
}

// MarkDeleted records a successful delete
func (e *Entity) MarkDeleted() {
	e.state = StateDeleted
	e.dirty.Clear()
}

// LinkMember adds m to a loaded collection and its baseline, the way the
// inverse side of a committed link is kept in sync
func (e *Entity) LinkMember(relation string, m *Entity) {
	cur, ok := e.sets[relation]
	if !ok {
		return
	}
	cur.Add(m)
	e.base[relation].Add(m)
}

// UnlinkMember removes m from a loaded collection and its baseline
func (e *Entity) UnlinkMember(relation string, m *Entity) {
	cur, ok := e.sets[relation]
	if !ok {
		return
	}
	cur.Remove(m)
	e.base[relation].Remove(m)
}

// SyncForeignKey records a foreign-key value written on e's behalf
// without marking it dirty
func (e *Entity) SyncForeignKey(field string, id *identity.GUID) {
	if e.dirty.Dirty(field) {
		return
	}
	if id == nil {
		e.values[field] = nil
	} else {
		e.values[field] = *id
	}
	e.loaded[field] = struct{}{}
	e.dropStaleRefs(field, e.values[field])
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	return reflect.DeepEqual(a, b)
}
