package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidWiring is returned by Build for any configuration error
	ErrInvalidWiring = errors.New("invalid schema wiring")

	// ErrUnknownType is returned when an entity type name is not registered
	ErrUnknownType = errors.New("unknown entity type")

	// ErrRegistryBuilt is returned when registering after Build
	ErrRegistryBuilt = errors.New("schema registry already built")
)

// JoinRef names a join-table column that references an entity type
type JoinRef struct {
	Table  string
	Column string
}

// Registry holds every entity type. Types are registered, then Build
// validates the wiring once; after Build the registry is read-only.
type Registry struct {
	types    map[string]*EntityType
	order    []string
	built    bool
	fkRefs   map[string][]*Relation
	joinRefs map[string][]JoinRef
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		types:    make(map[string]*EntityType),
		fkRefs:   make(map[string][]*Relation),
		joinRefs: make(map[string][]JoinRef),
	}
}

// Register adds entity types to the registry
func (r *Registry) Register(types ...*EntityType) error {
	if r.built {
		return ErrRegistryBuilt
	}
	for _, t := range types {
		if t == nil || t.Name == "" {
			return fmt.Errorf("%w: entity type name is required", ErrInvalidWiring)
		}
		if _, exists := r.types[t.Name]; exists {
			return fmt.Errorf("%w: entity type %s registered twice", ErrInvalidWiring, t.Name)
		}
		r.types[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return nil
}

// Built reports whether Build has completed successfully
func (r *Registry) Built() bool {
	return r.built
}

// Type returns a registered entity type
func (r *Registry) Type(name string) (*EntityType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// MustType returns a registered entity type or panics
func (r *Registry) MustType(name string) *EntityType {
	t, ok := r.types[name]
	if !ok {
		panic(fmt.Sprintf("%v: %s", ErrUnknownType, name))
	}
	return t
}

// Types returns all entity types in registration order
func (r *Registry) Types() []*EntityType {
	out := make([]*EntityType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

// ReferencingForeignKeys returns every many-to-one relation whose target is the named type
func (r *Registry) ReferencingForeignKeys(name string) []*Relation {
	return r.fkRefs[name]
}

// ReferencingJoins returns every join-table column holding identities of the named type
func (r *Registry) ReferencingJoins(name string) []JoinRef {
	return r.joinRefs[name]
}

// Build indexes every type and validates the relationship wiring.
// All problems found are reported together.
func (r *Registry) Build() error {
	if r.built {
		return nil
	}

	var errs []error
	for _, name := range r.order {
		errs = append(errs, r.indexType(r.types[name])...)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, name := range r.order {
		errs = append(errs, r.wireRelations(r.types[name])...)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, name := range r.order {
		t := r.types[name]
		errs = append(errs, r.checkInverses(t)...)
		errs = append(errs, checkSelfReferentialRoles(t)...)
		errs = append(errs, r.checkPaths(t)...)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.indexReferences()
	r.built = true
	return nil
}

func wiringErr(t *EntityType, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidWiring, t.Name, fmt.Sprintf(format, args...))
}

func (r *Registry) indexType(t *EntityType) []error {
	var errs []error
	if t.Table == "" {
		errs = append(errs, wiringErr(t, "table name is required"))
	}

	t.fields = make(map[string]*Field, len(t.Fields))
	t.columns = make(map[string]*Field, len(t.Fields))
	t.relations = make(map[string]*Relation, len(t.Relations))

	for i := range t.Fields {
		f := &t.Fields[i]
		if f.Name == "" {
			errs = append(errs, wiringErr(t, "field %d has no name", i))
			continue
		}
		if f.Name == IDField {
			errs = append(errs, wiringErr(t, "field name %q is reserved for the identity", IDField))
			continue
		}
		if f.Column == "" {
			f.Column = f.Name
		}
		if f.Kind == EncryptedUnique && f.Type != TypeString {
			errs = append(errs, wiringErr(t, "encrypted field %s must be a string", f.Name))
		}
		if _, dup := t.fields[f.Name]; dup {
			errs = append(errs, wiringErr(t, "field %s declared twice", f.Name))
			continue
		}
		if _, dup := t.columns[f.Column]; dup || f.Column == IDField {
			errs = append(errs, wiringErr(t, "column %s declared twice", f.Column))
			continue
		}
		t.fields[f.Name] = f
		t.columns[f.Column] = f
	}

	for i := range t.Relations {
		rel := &t.Relations[i]
		if rel.Name == "" {
			errs = append(errs, wiringErr(t, "relation %d has no name", i))
			continue
		}
		if _, clash := t.fields[rel.Name]; clash || rel.Name == IDField {
			errs = append(errs, wiringErr(t, "relation %s clashes with a field", rel.Name))
			continue
		}
		if _, dup := t.relations[rel.Name]; dup {
			errs = append(errs, wiringErr(t, "relation %s declared twice", rel.Name))
			continue
		}
		rel.owner = t
		t.relations[rel.Name] = rel
	}
	return errs
}

func (r *Registry) wireRelations(t *EntityType) []error {
	var errs []error
	for i := range t.Relations {
		rel := &t.Relations[i]

		target, ok := r.types[rel.Target]
		if !ok {
			errs = append(errs, wiringErr(t, "relation %s targets unknown type %q", rel.Name, rel.Target))
			continue
		}
		rel.target = target

		shape, err := resolveShape(rel)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidWiring, t.Name, err))
			continue
		}
		rel.shape = shape

		switch shape {
		case ManyToOne:
			f, ok := t.fields[rel.ForeignKey]
			if !ok {
				errs = append(errs, wiringErr(t, "relation %s: foreign key field %q not declared", rel.Name, rel.ForeignKey))
			} else if f.Type != TypeGUID {
				errs = append(errs, wiringErr(t, "relation %s: foreign key field %s must be a guid", rel.Name, f.Name))
			}
		case OneToMany:
			f, ok := target.fields[rel.ForeignKey]
			if !ok {
				errs = append(errs, wiringErr(t, "relation %s: foreign key field %q not declared on %s", rel.Name, rel.ForeignKey, target.Name))
			} else if f.Type != TypeGUID {
				errs = append(errs, wiringErr(t, "relation %s: foreign key field %s.%s must be a guid", rel.Name, target.Name, f.Name))
			}
		case ManyToManyCompound, ManyToManyExplicit:
			j := rel.Join
			if j.Table == "" || j.LocalColumn == "" || j.RemoteColumn == "" {
				errs = append(errs, wiringErr(t, "relation %s: join table and both columns are required", rel.Name))
			} else if j.LocalColumn == j.RemoteColumn || j.IDColumn == j.LocalColumn || j.IDColumn == j.RemoteColumn {
				errs = append(errs, wiringErr(t, "relation %s: join columns must be distinct", rel.Name))
			}
			for pi := range j.Properties {
				if j.Properties[pi].Column == "" {
					j.Properties[pi].Column = j.Properties[pi].Name
				}
			}
			if rel.Wrap {
				errs = append(errs, wiringErr(t, "relation %s: many-to-many relations cannot wrap their members", rel.Name))
			}
		}
	}
	return errs
}

func (r *Registry) checkInverses(t *EntityType) []error {
	var errs []error
	for i := range t.Relations {
		rel := &t.Relations[i]
		if rel.Inverse == "" {
			continue
		}
		inv, ok := rel.target.relations[rel.Inverse]
		if !ok {
			errs = append(errs, wiringErr(t, "relation %s: inverse %s.%s not declared", rel.Name, rel.Target, rel.Inverse))
			continue
		}
		if inv.Target != t.Name {
			errs = append(errs, wiringErr(t, "relation %s: inverse %s.%s targets %s", rel.Name, rel.Target, rel.Inverse, inv.Target))
			continue
		}

		switch rel.shape {
		case ManyToOne, OneToMany:
			if rel.OwnsForeignKey == inv.OwnsForeignKey {
				errs = append(errs, wiringErr(t, "relation %s: exactly one side of %s/%s.%s must own the foreign key",
					rel.Name, rel.Name, rel.Target, inv.Name))
			} else if inv.ForeignKey != rel.ForeignKey || inv.shape.IsManyToMany() {
				errs = append(errs, wiringErr(t, "relation %s: inverse %s.%s disagrees on the foreign key", rel.Name, rel.Target, inv.Name))
			}
			if rel.shape == ManyToOne && rel.Wrap && inv.Wrap {
				errs = append(errs, wiringErr(t, "relation %s: both sides of a pair cannot wrap each other", rel.Name))
			}
		default:
			if inv.Join == nil || inv.Join.Table != rel.Join.Table ||
				inv.Join.LocalColumn != rel.Join.RemoteColumn || inv.Join.RemoteColumn != rel.Join.LocalColumn ||
				inv.Join.IDColumn != rel.Join.IDColumn {
				errs = append(errs, wiringErr(t, "relation %s: inverse %s.%s must use the same join table with swapped columns",
					rel.Name, rel.Target, inv.Name))
			}
		}
	}
	return errs
}

// checkSelfReferentialRoles rejects two self-referential relations reading
// the same join column, which would make source and target indistinguishable
func checkSelfReferentialRoles(t *EntityType) []error {
	var errs []error
	seen := make(map[JoinRef]string)
	for i := range t.Relations {
		rel := &t.Relations[i]
		if rel.Join == nil || !rel.IsSelfReferential() {
			continue
		}
		key := JoinRef{Table: rel.Join.Table, Column: rel.Join.LocalColumn}
		if other, dup := seen[key]; dup {
			errs = append(errs, wiringErr(t, "relations %s and %s read the same join column %s.%s",
				other, rel.Name, key.Table, key.Column))
			continue
		}
		seen[key] = rel.Name
	}
	return errs
}

func (r *Registry) checkPaths(t *EntityType) []error {
	var errs []error
	if t.TenantField != "" {
		f, ok := t.fields[t.TenantField]
		if !ok || f.Type != TypeGUID {
			errs = append(errs, wiringErr(t, "tenant field %q must be a declared guid field", t.TenantField))
		}
	}
	for _, path := range t.SearchFields {
		if _, err := ResolvePath(t, path); err != nil {
			errs = append(errs, wiringErr(t, "search field %q: %v", path, err))
		}
	}
	for _, o := range t.DefaultOrder {
		p, err := ResolvePath(t, o.Field)
		if err != nil {
			errs = append(errs, wiringErr(t, "default order %q: %v", o.Field, err))
		} else if p.Relation != nil && p.Relation.shape != ManyToOne {
			errs = append(errs, wiringErr(t, "default order %q: can only order through many-to-one relations", o.Field))
		}
	}
	return errs
}

func (r *Registry) indexReferences() {
	seen := make(map[string]map[JoinRef]struct{})
	addJoin := func(typeName string, ref JoinRef) {
		if seen[typeName] == nil {
			seen[typeName] = make(map[JoinRef]struct{})
		}
		if _, dup := seen[typeName][ref]; dup {
			return
		}
		seen[typeName][ref] = struct{}{}
		r.joinRefs[typeName] = append(r.joinRefs[typeName], ref)
	}

	for _, name := range r.order {
		t := r.types[name]
		for i := range t.Relations {
			rel := &t.Relations[i]
			switch rel.shape {
			case ManyToOne:
				r.fkRefs[rel.Target] = append(r.fkRefs[rel.Target], rel)
			case ManyToManyCompound, ManyToManyExplicit:
				addJoin(t.Name, JoinRef{Table: rel.Join.Table, Column: rel.Join.LocalColumn})
				addJoin(rel.Target, JoinRef{Table: rel.Join.Table, Column: rel.Join.RemoteColumn})
			}
		}
	}

	for name := range r.joinRefs {
		refs := r.joinRefs[name]
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].Table != refs[j].Table {
				return refs[i].Table < refs[j].Table
			}
			return refs[i].Column < refs[j].Column
		})
	}
}

// Path is a resolved field path: a scalar field on the type itself, or a
// scalar field reached through one relation
type Path struct {
	Relation *Relation
	Field    string // Scalar field name on the final type, or IDField
}

// ResolvePath resolves "field" or "relation.field"
func ResolvePath(t *EntityType, path string) (Path, error) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		if _, ok := t.Column(head); !ok {
			return Path{}, fmt.Errorf("unknown field %q", head)
		}
		return Path{Field: head}, nil
	}
	rel, ok := t.relations[head]
	if !ok {
		return Path{}, fmt.Errorf("unknown relation %q", head)
	}
	if rel.target == nil {
		return Path{}, fmt.Errorf("relation %q is not wired", head)
	}
	if strings.Contains(rest, ".") {
		return Path{}, fmt.Errorf("paths may traverse a single relation")
	}
	if _, ok := rel.target.Column(rest); !ok {
		return Path{}, fmt.Errorf("unknown field %q on %s", rest, rel.Target)
	}
	return Path{Relation: rel, Field: rest}, nil
}
