// Package schema holds the declarative per-entity-type descriptors: field
// classification, relationship wiring and the registry that validates the
// wiring once at startup.
package schema

import (
	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/query"
)

// IDField is the field (and column) name carrying an entity's identity
const IDField = "id"

// FieldKind classifies how a field is persisted
type FieldKind int

const (
	// Optional fields are nullable with no presence requirement
	Optional FieldKind = iota
	// Required fields must hold a non-null value at commit time
	Required
	// EncryptedUnique fields are sealed before storage and unique in the store
	EncryptedUnique
)

func (k FieldKind) String() string {
	switch k {
	case Required:
		return "required"
	case EncryptedUnique:
		return "encrypted_unique"
	default:
		return "optional"
	}
}

// ValueType is the Go-side type a field normalizes to
type ValueType int

const (
	TypeString ValueType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeGUID
	TypeJSON
)

func (t ValueType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeGUID:
		return "guid"
	case TypeJSON:
		return "json"
	default:
		return "string"
	}
}

// Field describes one persisted scalar attribute
type Field struct {
	Name   string
	Column string // Defaults to Name
	Kind   FieldKind
	Type   ValueType
	Unique bool // Store-enforced uniqueness; implied by EncryptedUnique
}

// IsUnique reports whether the store enforces uniqueness on the field
func (f *Field) IsUnique() bool {
	return f.Unique || f.Kind == EncryptedUnique
}

// JoinSpec describes the join table behind a many-to-many relation.
// LocalColumn references the entity declaring the relation and RemoteColumn
// the related entity; for self-referential graphs the two roles are told
// apart by which column is local.
type JoinSpec struct {
	Table        string
	LocalColumn  string
	RemoteColumn string
	IDColumn     string  // Non-empty selects the explicit-id shape
	Properties   []Field // Join-row properties
}

// Property returns the join-row property descriptor by name
func (j *JoinSpec) Property(name string) (*Field, bool) {
	for i := range j.Properties {
		if j.Properties[i].Name == name {
			return &j.Properties[i], true
		}
	}
	return nil, false
}

// Relation declares one relationship field.
// Target, Inverse, ForeignKey, OwnsForeignKey and Many are the five wiring
// facts; Wrap marks owned composition (transitive commit, cascading delete).
type Relation struct {
	Name           string
	Target         string
	Inverse        string
	ForeignKey     string
	OwnsForeignKey bool
	Many           bool
	Wrap           bool
	Join           *JoinSpec

	owner  *EntityType
	target *EntityType
	shape  Shape
}

// Shape returns the relational shape resolved at Build time
func (r *Relation) Shape() Shape {
	return r.shape
}

// Owner returns the entity type declaring the relation
func (r *Relation) Owner() *EntityType {
	return r.owner
}

// TargetType returns the resolved related entity type
func (r *Relation) TargetType() *EntityType {
	return r.target
}

// IsSelfReferential reports whether the relation points back at its owner type
func (r *Relation) IsSelfReferential() bool {
	return r.Target == r.owner.Name
}

// Reader is the read surface handed to validation hooks
type Reader interface {
	ID() identity.GUID
	Get(field string) (any, error)
	IsSet(field string) bool
}

// ValidateFunc is a per-type cross-field check run before the required-field check
type ValidateFunc func(r Reader) error

// EntityType is the registered schema of one entity type
type EntityType struct {
	Name         string
	Table        string
	Fields       []Field
	Relations    []Relation
	TenantField  string        // Non-empty marks the type tenant-scoped
	SearchFields []string      // Scalar fields or relation.field paths
	DefaultOrder []query.Order // Applied when a read names no order
	Validate     ValidateFunc

	fields    map[string]*Field
	columns   map[string]*Field
	relations map[string]*Relation
}

// Field looks up a scalar field by name
func (t *EntityType) Field(name string) (*Field, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// FieldByColumn looks up a scalar field by its column name
func (t *EntityType) FieldByColumn(column string) (*Field, bool) {
	f, ok := t.columns[column]
	return f, ok
}

// Relation looks up a relation by field name
func (t *EntityType) Relation(name string) (*Relation, bool) {
	r, ok := t.relations[name]
	return r, ok
}

// IsTenantScoped reports whether reads of the type are constrained by tenant
func (t *EntityType) IsTenantScoped() bool {
	return t.TenantField != ""
}

// ScalarFields returns the names of all scalar fields in declaration order
func (t *EntityType) ScalarFields() []string {
	names := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		names = append(names, f.Name)
	}
	return names
}

// UniqueFields returns the fields a ReadUnique may key on, identity included
func (t *EntityType) UniqueFields() []string {
	names := []string{IDField}
	for _, f := range t.Fields {
		if f.IsUnique() {
			names = append(names, f.Name)
		}
	}
	return names
}

// Column maps a field name to its column, the identity included
func (t *EntityType) Column(field string) (string, bool) {
	if field == IDField {
		return IDField, true
	}
	f, ok := t.fields[field]
	if !ok {
		return "", false
	}
	return f.Column, true
}
