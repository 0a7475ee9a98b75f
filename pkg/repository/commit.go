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

// ============================================================================
// COMMIT - minimal-diff, dependency-ordered writes
// ============================================================================

// commitPlan is the work of one Commit call. Participants are the entities
// whose own rows are written: the root, new or owned-and-dirty many-to-one
// targets, and new or owned-and-dirty collection members.
type commitPlan struct {
	tx *Tx

	members map[*model.Entity]bool
	order   []*model.Entity
	linked  []*model.Entity // existing entities whose links are written

	inProgress map[*model.Entity]bool
	written    map[*model.Entity]bool
	fixups     []fkFixup
	deleted    []*model.Entity
	after      []func()
}

// fkFixup is a foreign key held back from an insert because its target
// was still waiting on this row; it is written once both rows exist
type fkFixup struct {
	entity *model.Entity
	rel    *schema.Relation
	target *model.Entity
}

// Commit writes e and every entity its commit depends on. New entities are
// inserted; loaded entities update only their dirty fields; collections
// write only their difference against the loaded baseline. Validation of
// every participant runs before any statement.
func (tx *Tx) Commit(ctx context.Context, e *model.Entity) error {
	if err := tx.guard(); err != nil {
		return err
	}
	t := e.Type()
	switch {
	case e.IsDeleted():
		return fmt.Errorf("commit %s %s: %w", t.Name, e.ID(), model.ErrDeleted)
	case e.IsReadOnly():
		return fmt.Errorf("commit %s %s: %w", t.Name, e.ID(), model.ErrReadOnly)
	}

	p := &commitPlan{
		tx:         tx,
		members:    make(map[*model.Entity]bool),
		inProgress: make(map[*model.Entity]bool),
		written:    make(map[*model.Entity]bool),
	}
	p.collect(e)
	restore, err := p.prelink()
	if err == nil {
		err = p.validate()
	}
	if err != nil {
		restore()
		return tx.translate(t, "commit", err)
	}

	if err := p.persist(ctx, e); err != nil {
		return tx.translate(t, "commit", err)
	}
	for _, m := range p.order {
		if err := p.persist(ctx, m); err != nil {
			return tx.translate(t, "commit", err)
		}
	}
	if err := p.applyFixups(ctx); err != nil {
		return tx.translate(t, "commit", err)
	}

	p.finalize()
	tx.engine.logger.Debug("entity committed",
		"tx", tx.id,
		"entity", t.Name,
		"id", e.ID(),
		"participants", len(p.order),
	)
	return nil
}

// collect walks the graph reachable from e and records the participants
func (p *commitPlan) collect(e *model.Entity) {
	if p.members[e] {
		return
	}
	p.members[e] = true
	p.order = append(p.order, e)

	t := e.Type()
	for i := range t.Relations {
		rel := &t.Relations[i]
		switch rel.Shape() {
		case schema.ManyToOne:
			target, ok := e.RefIfLoaded(rel.Name)
			if !ok || target == nil {
				continue
			}
			if target.IsNew() || (rel.Wrap && target.IsDirty()) {
				p.collect(target)
			}
		case schema.OneToMany:
			_, _, added, ok := e.CollectionDelta(rel.Name)
			if !ok {
				continue
			}
			cur, _ := e.CollectionIfLoaded(rel.Name)
			for _, m := range cur.Items() {
				switch {
				case m.IsNew(), rel.Wrap && m.IsDirty():
					p.collect(m)
				case added.Has(m):
					p.linked = append(p.linked, m)
				}
			}
		default:
			_, _, added, ok := e.CollectionDelta(rel.Name)
			if !ok {
				continue
			}
			for _, m := range added.Items() {
				if m.IsNew() {
					p.collect(m)
				} else {
					p.linked = append(p.linked, m)
				}
			}
		}
	}
}

// prelink points the foreign keys of participating one-to-many members at
// their owner in memory, so the member's own insert or update carries it.
// The returned func puts the members back as they were.
func (p *commitPlan) prelink() (func(), error) {
	var undo []func()
	restore := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	touched := make(map[*model.Entity]bool)
	for _, e := range p.order {
		t := e.Type()
		for i := range t.Relations {
			rel := &t.Relations[i]
			if rel.Shape() != schema.OneToMany {
				continue
			}
			cur, ok := e.CollectionIfLoaded(rel.Name)
			if !ok {
				continue
			}
			for _, m := range cur.Items() {
				if !p.members[m] {
					continue
				}
				if !touched[m] {
					touched[m] = true
					undo = append(undo, m.Checkpoint())
				}
				if err := m.Set(rel.ForeignKey, e.ID()); err != nil {
					return restore, err
				}
			}
		}
	}
	return restore, nil
}

func (p *commitPlan) validate() error {
	for _, e := range p.order {
		t := e.Type()
		switch {
		case e.IsDeleted():
			return fmt.Errorf("commit %s %s: %w", t.Name, e.ID(), model.ErrDeleted)
		case e.IsReadOnly():
			return fmt.Errorf("commit %s %s: %w", t.Name, e.ID(), model.ErrReadOnly)
		}
		if err := e.Validate(); err != nil {
			return err
		}
		if err := checkDetachable(e); err != nil {
			return err
		}
	}
	for _, m := range p.linked {
		if m.IsDeleted() {
			return fmt.Errorf("link %s %s: %w", m.Type().Name, m.ID(), model.ErrDeleted)
		}
	}
	return nil
}

// checkDetachable rejects removing members from a plain one-to-many
// collection when their foreign key is required
func checkDetachable(e *model.Entity) error {
	t := e.Type()
	for i := range t.Relations {
		rel := &t.Relations[i]
		if rel.Shape() != schema.OneToMany || rel.Wrap {
			continue
		}
		removed, _, _, ok := e.CollectionDelta(rel.Name)
		if !ok || removed.Len() == 0 {
			continue
		}
		if fk, _ := rel.TargetType().Field(rel.ForeignKey); fk != nil && fk.Kind == schema.Required {
			return &model.ValidationError{
				Entity: rel.Target,
				Fields: []string{rel.ForeignKey},
				Err:    fmt.Errorf("%s cannot be removed from %s.%s", rel.Target, t.Name, rel.Name),
			}
		}
	}
	return nil
}

// persist writes e's row after the rows it references, then its
// collection differences
func (p *commitPlan) persist(ctx context.Context, e *model.Entity) error {
	if p.written[e] || p.inProgress[e] {
		return nil
	}
	p.inProgress[e] = true
	defer delete(p.inProgress, e)

	t := e.Type()
	held := make(map[string]bool)
	for i := range t.Relations {
		rel := &t.Relations[i]
		if rel.Shape() != schema.ManyToOne {
			continue
		}
		target, ok := e.RefIfLoaded(rel.Name)
		if !ok || target == nil || !p.members[target] {
			continue
		}
		if p.inProgress[target] {
			if target.IsNew() && e.IsDirtyField(rel.ForeignKey) {
				held[rel.ForeignKey] = true
				p.fixups = append(p.fixups, fkFixup{entity: e, rel: rel, target: target})
			}
			continue
		}
		if err := p.persist(ctx, target); err != nil {
			return err
		}
	}

	if err := p.writeRow(ctx, e, held); err != nil {
		return err
	}
	p.written[e] = true

	for i := range t.Relations {
		rel := &t.Relations[i]
		var err error
		switch rel.Shape() {
		case schema.ManyToOne:
			continue
		case schema.OneToMany:
			err = p.writeOneToMany(ctx, e, rel)
		default:
			err = p.writeManyToMany(ctx, e, rel)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// writeRow inserts a new entity with every assigned field, or updates the
// dirty fields of a stored one
func (p *commitPlan) writeRow(ctx context.Context, e *model.Entity, held map[string]bool) error {
	tx := p.tx
	t := e.Type()
	values := e.Snapshot()

	if e.IsNew() {
		fields := make([]string, 0, len(values))
		for _, f := range t.Fields {
			if _, set := values[f.Name]; set && !held[f.Name] {
				fields = append(fields, f.Name)
			}
		}
		row, err := tx.engine.encodeFields(t, values, fields)
		if err != nil {
			return err
		}
		row[schema.IDField] = e.ID()
		if err := tx.insert(ctx, t.Table, row); err != nil {
			return err
		}
		p.linkInverses(e, fields)
		return nil
	}

	dirty := make([]string, 0)
	for _, name := range e.DirtyFields() {
		if !held[name] {
			dirty = append(dirty, name)
		}
	}
	if len(dirty) == 0 {
		return nil
	}
	row, err := tx.engine.encodeFields(t, values, dirty)
	if err != nil {
		return err
	}
	n, err := tx.update(ctx, t.Table, idFilter(e.ID()), row)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update %s %s: %w", t.Name, e.ID(), model.ErrNotFound)
	}
	p.linkInverses(e, dirty)
	return nil
}

// linkInverses adds e to the loaded inverse collections of the many-to-one
// targets whose foreign keys were just written
func (p *commitPlan) linkInverses(e *model.Entity, fields []string) {
	t := e.Type()
	written := make(map[string]bool, len(fields))
	for _, f := range fields {
		written[f] = true
	}
	for i := range t.Relations {
		rel := &t.Relations[i]
		if rel.Shape() != schema.ManyToOne || rel.Inverse == "" || !written[rel.ForeignKey] {
			continue
		}
		target, ok := e.RefIfLoaded(rel.Name)
		if !ok || target == nil {
			continue
		}
		inverse := rel.Inverse
		p.after = append(p.after, func() { target.LinkMember(inverse, e) })
	}
}

func (p *commitPlan) writeOneToMany(ctx context.Context, e *model.Entity, rel *schema.Relation) error {
	removed, _, added, ok := e.CollectionDelta(rel.Name)
	if !ok {
		return nil
	}
	tx := p.tx
	target := rel.TargetType()
	fk, _ := target.Field(rel.ForeignKey)

	for _, m := range removed.Items() {
		if rel.Wrap {
			if err := tx.deleteGraph(ctx, m, &p.deleted, make(map[string]bool)); err != nil {
				return err
			}
			continue
		}
		if m.IsNew() {
			continue
		}
		where := query.All(idFilter(m.ID()), query.Eq(fk.Column, e.ID()))
		if _, err := tx.update(ctx, target.Table, where, storage.Row{fk.Column: nil}); err != nil {
			return err
		}
		member := m
		p.after = append(p.after, func() { member.SyncForeignKey(rel.ForeignKey, nil) })
	}

	for _, m := range added.Items() {
		if p.members[m] {
			if err := p.persist(ctx, m); err != nil {
				return err
			}
			continue
		}
		id := e.ID()
		if _, err := tx.update(ctx, target.Table, idFilter(m.ID()), storage.Row{fk.Column: id}); err != nil {
			return err
		}
		member := m
		p.after = append(p.after, func() {
			member.SyncForeignKey(rel.ForeignKey, &id)
			if rel.Inverse != "" {
				member.SetLoadedRef(rel.Inverse, e)
			}
		})
	}

	cur, _ := e.CollectionIfLoaded(rel.Name)
	for _, m := range cur.Items() {
		if p.members[m] {
			if err := p.persist(ctx, m); err != nil {
				return err
			}
			if rel.Inverse != "" {
				member := m
				p.after = append(p.after, func() { member.SetLoadedRef(rel.Inverse, e) })
			}
		}
	}
	return nil
}

func (p *commitPlan) writeManyToMany(ctx context.Context, e *model.Entity, rel *schema.Relation) error {
	removed, kept, added, ok := e.CollectionDelta(rel.Name)
	if !ok {
		return nil
	}
	tx := p.tx
	j := rel.Join
	cur, _ := e.CollectionIfLoaded(rel.Name)

	// every parallel row of a dropped member goes with it
	for _, m := range removed.Items() {
		if _, err := tx.remove(ctx, j.Table, pairFilter(j, e.ID(), m.ID())); err != nil {
			return err
		}
		member := m
		if rel.Inverse != "" {
			p.after = append(p.after, func() { member.UnlinkMember(rel.Inverse, e) })
		}
	}

	for _, m := range added.Items() {
		if p.members[m] {
			if err := p.persist(ctx, m); err != nil {
				return err
			}
		}
		rows := []*model.JoinRow{cur.Join(m)}
		if j.IDColumn != "" {
			rows = cur.Joins(m)
		}
		for _, jr := range rows {
			if err := p.insertJoinRow(ctx, e, rel, m, jr); err != nil {
				return err
			}
		}
		member := m
		if rel.Inverse != "" {
			p.after = append(p.after, func() { member.LinkMember(rel.Inverse, e) })
		}
	}

	for _, m := range kept.Items() {
		changes := e.KeptJoinChanges(rel.Name, m)
		for _, jr := range changes.Delete {
			if _, err := tx.remove(ctx, j.Table, query.Eq(j.IDColumn, jr.ID())); err != nil {
				return err
			}
		}
		for _, jr := range changes.Insert {
			if err := p.insertJoinRow(ctx, e, rel, m, jr); err != nil {
				return err
			}
		}
		for _, jr := range changes.Update {
			values, err := joinProps(e.Type(), rel, jr, jr.DirtyProps())
			if err != nil {
				return err
			}
			where := pairFilter(j, e.ID(), m.ID())
			if j.IDColumn != "" {
				where = query.Eq(j.IDColumn, jr.ID())
			}
			if _, err := tx.update(ctx, j.Table, where, values); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertJoinRow writes one membership row, giving explicit-id rows their
// identity first
func (p *commitPlan) insertJoinRow(ctx context.Context, e *model.Entity, rel *schema.Relation, m *model.Entity, jr *model.JoinRow) error {
	j := rel.Join
	row, err := joinProps(e.Type(), rel, jr, jr.PropNames())
	if err != nil {
		return err
	}
	row[j.LocalColumn] = e.ID()
	row[j.RemoteColumn] = m.ID()
	if j.IDColumn != "" {
		jr.AssignID(identity.New())
		row[j.IDColumn] = jr.ID()
	}
	return p.tx.insert(ctx, j.Table, row)
}

// pairFilter addresses the join rows between one owner and one member
func pairFilter(j *schema.JoinSpec, local, remote identity.GUID) storage.Filter {
	return query.All(query.Eq(j.LocalColumn, local), query.Eq(j.RemoteColumn, remote))
}

// joinProps encodes the named join-row properties
func joinProps(t *schema.EntityType, rel *schema.Relation, jr *model.JoinRow, names []string) (storage.Row, error) {
	row := make(storage.Row, len(names)+3)
	for _, name := range names {
		prop, ok := rel.Join.Property(name)
		if !ok {
			return nil, &model.ValidationError{
				Entity: t.Name,
				Fields: []string{rel.Name + "." + name},
				Err:    fmt.Errorf("%s.%s has no join property %q", t.Name, rel.Name, name),
			}
		}
		v, err := prop.Normalize(jr.Get(name))
		if err != nil {
			return nil, &model.ValidationError{Entity: t.Name, Fields: []string{rel.Name + "." + name}, Err: err}
		}
		row[prop.Column] = v
	}
	return row, nil
}

// applyFixups writes the foreign keys held back while breaking reference cycles
func (p *commitPlan) applyFixups(ctx context.Context) error {
	for _, f := range p.fixups {
		t := f.entity.Type()
		fk, _ := t.Field(f.rel.ForeignKey)
		if _, err := p.tx.update(ctx, t.Table, idFilter(f.entity.ID()), storage.Row{fk.Column: f.target.ID()}); err != nil {
			return err
		}
	}
	return nil
}

// finalize updates in-memory state once every statement succeeded
func (p *commitPlan) finalize() {
	for _, e := range p.order {
		if p.written[e] {
			e.MarkCommitted()
		}
	}
	for _, e := range p.deleted {
		e.MarkDeleted()
	}
	for _, fn := range p.after {
		fn()
	}
}
