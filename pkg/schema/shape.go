package schema

import "fmt"

// Shape is one of the four relational shapes a relation resolves to
type Shape int

const (
	ShapeUnknown Shape = iota
	// ManyToOne: this entity holds the FK, single-valued
	ManyToOne
	// OneToMany: inverse of ManyToOne, the FK lives on the related entity
	OneToMany
	// ManyToManyCompound: join table keyed by the pair of identities
	ManyToManyCompound
	// ManyToManyExplicit: join rows carry their own identity
	ManyToManyExplicit
)

func (s Shape) String() string {
	switch s {
	case ManyToOne:
		return "many_to_one"
	case OneToMany:
		return "one_to_many"
	case ManyToManyCompound:
		return "many_to_many"
	case ManyToManyExplicit:
		return "many_to_many_explicit"
	default:
		return "unknown"
	}
}

// IsManyToMany reports whether the shape is backed by a join table
func (s Shape) IsManyToMany() bool {
	return s == ManyToManyCompound || s == ManyToManyExplicit
}

// resolveShape derives the shape from the wiring facts
func resolveShape(r *Relation) (Shape, error) {
	if r.Join != nil {
		if r.OwnsForeignKey {
			return ShapeUnknown, fmt.Errorf("relation %s: a join relation cannot own a foreign key", r.Name)
		}
		if !r.Many {
			return ShapeUnknown, fmt.Errorf("relation %s: join relations must be collection-valued", r.Name)
		}
		if r.Join.IDColumn != "" {
			return ManyToManyExplicit, nil
		}
		return ManyToManyCompound, nil
	}

	switch {
	case r.OwnsForeignKey && r.Many:
		return ShapeUnknown, fmt.Errorf("relation %s: collection-valued relation cannot own the foreign key", r.Name)
	case r.OwnsForeignKey:
		return ManyToOne, nil
	case r.Many:
		return OneToMany, nil
	default:
		return ShapeUnknown, fmt.Errorf("relation %s: single-valued relation must own its foreign key", r.Name)
	}
}
