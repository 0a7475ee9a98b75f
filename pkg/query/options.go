package query

import "github.com/ammar0144/entity4go/pkg/identity"

// Order is one ordering term; Field may be "relation.field" for a
// many-to-one relation
type Order struct {
	Field string
	Desc  bool
}

// Asc orders ascending by field
func Asc(field string) Order { return Order{Field: field} }

// Desc orders descending by field
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Select is the projection of a read: which scalar fields to hydrate and
// which relations to load, recursively. A nil Select hydrates every scalar
// field and no relations.
type Select struct {
	Fields    []string
	Relations map[string]*Select
}

// Fields starts a projection with the given scalar fields
func Fields(fields ...string) *Select {
	return &Select{Fields: fields}
}

// With adds a relation to the projection; a nil sub-selection hydrates
// every scalar field of the related entities
func (s *Select) With(relation string, sub *Select) *Select {
	if s.Relations == nil {
		s.Relations = make(map[string]*Select)
	}
	s.Relations[relation] = sub
	return s
}

// FindOptions are the arguments of a read
type FindOptions struct {
	Where    Where
	OrderBy  []Order
	Select   *Select
	Limit    int // 0 uses the engine default page size, negative is unbounded
	Offset   int
	TenantID *identity.GUID
}

// MergeTenant ANDs a tenant predicate onto w. A supplied tenant is never dropped.
func MergeTenant(w Where, tenantField string, tenant *identity.GUID) Where {
	if tenant == nil || tenantField == "" {
		return w
	}
	return All(w, Eq(tenantField, *tenant))
}
