package repository

import "github.com/ammar0144/entity4go/pkg/model"

// Entity is the minimal contract of a typed wrapper around a model.Entity.
// Generated per-type layers implement it so the generic repository can
// hand back typed values.
type Entity interface {
	// TypeName returns the registered entity type name
	TypeName() string

	// Model returns the wrapped entity
	Model() *model.Entity
}

// Models unwraps typed entities
func Models[T Entity](items []T) []*model.Entity {
	out := make([]*model.Entity, len(items))
	for i, item := range items {
		out[i] = item.Model()
	}
	return out
}
