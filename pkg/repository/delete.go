package repository

import (
	"context"
	"fmt"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/model"
	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// Delete removes e together with the join rows it takes part in and the
// entities it owns through wrap relations. Foreign keys of other entities
// pointing at a deleted row are nulled. Deleting a new entity only marks
// it deleted.
func (tx *Tx) Delete(ctx context.Context, e *model.Entity) error {
	if err := tx.guard(); err != nil {
		return err
	}
	t := e.Type()
	switch {
	case e.IsDeleted():
		return fmt.Errorf("delete %s %s: %w", t.Name, e.ID(), model.ErrDeleted)
	case e.IsReadOnly():
		return fmt.Errorf("delete %s %s: %w", t.Name, e.ID(), model.ErrReadOnly)
	}

	var removed []*model.Entity
	if err := tx.deleteGraph(ctx, e, &removed, make(map[string]bool)); err != nil {
		return tx.translate(t, "delete", err)
	}
	for _, d := range removed {
		d.MarkDeleted()
	}
	tx.engine.logger.Debug("entity deleted", "tx", tx.id, "entity", t.Name, "id", e.ID(), "cascaded", len(removed)-1)
	return nil
}

// deleteGraph deletes e and everything it owns, appending each entity
// deleted to removed. Entities are marked by the caller once every
// statement succeeded.
func (tx *Tx) deleteGraph(ctx context.Context, e *model.Entity, removed *[]*model.Entity, seen map[string]bool) error {
	t := e.Type()
	key := t.Name + ":" + e.ID().String()
	if seen[key] {
		return nil
	}
	seen[key] = true
	*removed = append(*removed, e)
	if e.IsNew() {
		return nil
	}
	reg := tx.engine.registry

	for _, ref := range reg.ReferencingJoins(t.Name) {
		if _, err := tx.remove(ctx, ref.Table, query.Eq(ref.Column, e.ID())); err != nil {
			return err
		}
	}

	for i := range t.Relations {
		rel := &t.Relations[i]
		if rel.Shape() != schema.OneToMany || !rel.Wrap {
			continue
		}
		if err := tx.deleteOwnedMembers(ctx, e, rel, removed, seen); err != nil {
			return err
		}
	}

	// Owned many-to-one targets go after the row; their ids are read first.
	var owned []*model.Entity
	for i := range t.Relations {
		rel := &t.Relations[i]
		if rel.Shape() != schema.ManyToOne || !rel.Wrap {
			continue
		}
		target, err := tx.ownedTarget(ctx, e, rel)
		if err != nil {
			return err
		}
		if target != nil {
			owned = append(owned, target)
		}
	}

	for _, rel := range reg.ReferencingForeignKeys(t.Name) {
		holder := rel.Owner()
		fk, _ := holder.Field(rel.ForeignKey)
		if _, err := tx.update(ctx, holder.Table, query.Eq(fk.Column, e.ID()), storage.Row{fk.Column: nil}); err != nil {
			return err
		}
	}

	if _, err := tx.remove(ctx, t.Table, idFilter(e.ID())); err != nil {
		return err
	}

	for _, target := range owned {
		if err := tx.deleteGraph(ctx, target, removed, seen); err != nil {
			return err
		}
	}
	return nil
}

// deleteOwnedMembers deletes the stored members of a wrap collection,
// reusing in-memory members where the collection is loaded
func (tx *Tx) deleteOwnedMembers(ctx context.Context, e *model.Entity, rel *schema.Relation, removed *[]*model.Entity, seen map[string]bool) error {
	target := rel.TargetType()
	fk, _ := target.Field(rel.ForeignKey)
	ids, err := tx.fetchColumn(ctx, target.Table, schema.IDField, query.Eq(fk.Column, e.ID()))
	if err != nil {
		return err
	}
	cur, loaded := e.CollectionIfLoaded(rel.Name)
	for _, raw := range ids {
		id, err := identity.FromAny(raw)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", target.Table, schema.IDField, err)
		}
		var child *model.Entity
		if loaded {
			child = cur.Get(id)
		}
		if child == nil {
			child = model.Reference(target, id)
		}
		if err := tx.deleteGraph(ctx, child, removed, seen); err != nil {
			return err
		}
	}
	if loaded {
		for _, m := range cur.Items() {
			if m.IsNew() {
				if err := tx.deleteGraph(ctx, m, removed, seen); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ownedTarget returns the entity an owned many-to-one relation points at,
// reading the foreign key when it is not in memory
func (tx *Tx) ownedTarget(ctx context.Context, e *model.Entity, rel *schema.Relation) (*model.Entity, error) {
	if target, ok := e.RefIfLoaded(rel.Name); ok && target != nil && !target.IsNew() {
		return target, nil
	}
	t := e.Type()
	fk, _ := t.Field(rel.ForeignKey)
	ids, err := tx.fetchColumn(ctx, t.Table, fk.Column, idFilter(e.ID()))
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	id, err := identity.FromAny(ids[0])
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", t.Table, fk.Column, err)
	}
	return model.Reference(rel.TargetType(), id), nil
}
