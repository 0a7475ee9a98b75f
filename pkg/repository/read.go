package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/model"
	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// ============================================================================
// READ OPERATIONS
// ============================================================================

// Read returns the entities matching opts, hydrated to opts.Select
func (tx *Tx) Read(ctx context.Context, typeName string, opts query.FindOptions) (*model.ModelSet, error) {
	t, err := tx.begin(typeName)
	if err != nil {
		return nil, err
	}
	set, err := tx.read(ctx, t, opts, tx.engine.pageSize(opts.Limit, false))
	return set, tx.translate(t, "read", err)
}

// ReadUnique returns the single entity matching a unique-capable filter,
// or nil when nothing matches
func (tx *Tx) ReadUnique(ctx context.Context, typeName string, opts query.FindOptions) (*model.Entity, error) {
	t, err := tx.begin(typeName)
	if err != nil {
		return nil, err
	}
	if !query.UniqueCapable(opts.Where, t.UniqueFields()) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotUniqueCapable, t.Name, query.Format(opts.Where))
	}
	opts.OrderBy = nil
	opts.Offset = 0
	set, err := tx.read(ctx, t, opts, 1)
	if err != nil {
		return nil, tx.translate(t, "readUnique", err)
	}
	if set.Len() == 0 {
		return nil, nil
	}
	return set.Items()[0], nil
}

// GetByID reads one entity by identity; nil when it does not exist
func (tx *Tx) GetByID(ctx context.Context, typeName string, id identity.GUID, sel *query.Select) (*model.Entity, error) {
	t, err := tx.begin(typeName)
	if err != nil {
		return nil, err
	}
	if sel == nil {
		if e, ok := tx.cachedByID(ctx, t, id); ok {
			return e, nil
		}
	}
	e, err := tx.ReadUnique(ctx, typeName, query.FindOptions{Where: query.Eq(schema.IDField, id), Select: sel})
	if err != nil || e == nil || sel != nil {
		return e, err
	}
	tx.cacheRow(ctx, t, e)
	return e, nil
}

// Count returns the number of entities matching opts.Where; limit and
// offset are ignored
func (tx *Tx) Count(ctx context.Context, typeName string, opts query.FindOptions) (int64, error) {
	t, err := tx.begin(typeName)
	if err != nil {
		return 0, err
	}
	w := query.MergeTenant(opts.Where, t.TenantField, opts.TenantID)

	cacheable := tx.engine.cache != nil && !tx.touched(t.Table) && !hasRelationPredicate(w)
	key := query.Format(w)
	if cacheable {
		if n, ok, err := tx.engine.cache.GetCount(ctx, t.Table, key); err != nil {
			tx.engine.logger.Warn("cache read failed", "tx", tx.id, "table", t.Table, "error", err)
		} else if ok {
			return n, nil
		}
	}

	filter, err := tx.resolve(ctx, t, w)
	if err != nil {
		return 0, tx.translate(t, "count", err)
	}
	n, err := tx.count(ctx, t.Table, filter)
	if err != nil {
		return 0, tx.translate(t, "count", err)
	}
	if cacheable {
		if err := tx.engine.cache.SetCount(ctx, t.Table, key, n); err != nil {
			tx.engine.logger.Warn("cache write failed", "tx", tx.id, "table", t.Table, "error", err)
		}
	}
	return n, nil
}

// Exists reports whether any entity matches opts.Where
func (tx *Tx) Exists(ctx context.Context, typeName string, opts query.FindOptions) (bool, error) {
	n, err := tx.Count(ctx, typeName, opts)
	return n > 0, err
}

// Search finds entities whose declared search fields contain term,
// case-insensitively. Tenant-scoped types require a tenant.
func (tx *Tx) Search(ctx context.Context, typeName, term string, opts SearchOptions) (*model.ModelSet, error) {
	t, err := tx.begin(typeName)
	if err != nil {
		return nil, err
	}
	if t.IsTenantScoped() && opts.TenantID == nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantRequired, t.Name)
	}
	set, err := tx.read(ctx, t, query.FindOptions{
		Where:    searchWhere(t, term),
		Select:   opts.Select,
		Offset:   opts.Offset,
		TenantID: opts.TenantID,
	}, tx.engine.pageSize(opts.Count, true))
	return set, tx.translate(t, "search", err)
}

// SearchCount returns the number of entities Search would page through
func (tx *Tx) SearchCount(ctx context.Context, typeName, term string, tenantID *identity.GUID) (int64, error) {
	t, err := tx.begin(typeName)
	if err != nil {
		return 0, err
	}
	if t.IsTenantScoped() && tenantID == nil {
		return 0, fmt.Errorf("%w: %s", ErrTenantRequired, t.Name)
	}
	return tx.Count(ctx, typeName, query.FindOptions{Where: searchWhere(t, term), TenantID: tenantID})
}

func searchWhere(t *schema.EntityType, term string) query.Where {
	if term == "" {
		return nil
	}
	items := make([]query.Where, 0, len(t.SearchFields))
	for _, field := range t.SearchFields {
		items = append(items, query.ContainsFold(field, term))
	}
	return query.Any(items...)
}

func hasRelationPredicate(w query.Where) bool {
	found := false
	query.Walk(w, func(n query.Where) bool {
		switch c := n.(type) {
		case query.RelPredicate:
			found = true
		case query.Cond:
			found = strings.Contains(c.Field, ".")
		}
		return !found
	})
	return found
}

// begin checks the transaction and resolves the entity type
func (tx *Tx) begin(typeName string) (*schema.EntityType, error) {
	if err := tx.guard(); err != nil {
		return nil, err
	}
	return tx.engine.Type(typeName)
}

func (tx *Tx) read(ctx context.Context, t *schema.EntityType, opts query.FindOptions, limit int) (*model.ModelSet, error) {
	w := query.MergeTenant(opts.Where, t.TenantField, opts.TenantID)
	filter, err := tx.resolve(ctx, t, w)
	if err != nil {
		return nil, err
	}
	order, err := tx.orderTerms(t, opts.OrderBy)
	if err != nil {
		return nil, err
	}
	fields, err := selectedFields(t, opts.Select)
	if err != nil {
		return nil, err
	}
	cols := columnsFor(t, fields)
	rows, err := tx.fetch(ctx, storage.FetchRequest{
		Table:   t.Table,
		Columns: cols,
		Where:   filter,
		Order:   order,
		Limit:   limit,
		Offset:  opts.Offset,
	})
	if err != nil {
		return nil, err
	}
	entities, err := tx.hydrateRows(t, rows, cols)
	if err != nil {
		return nil, err
	}
	if opts.Select != nil {
		for name, sub := range opts.Select.Relations {
			if err := tx.loadRelation(ctx, t, entities, name, sub); err != nil {
				return nil, err
			}
		}
	}
	return model.NewModelSet(entities...), nil
}

// selectedFields returns the scalar fields a projection hydrates. The
// foreign keys of selected many-to-one relations are always included.
func selectedFields(t *schema.EntityType, sel *query.Select) ([]string, error) {
	if sel == nil {
		return t.ScalarFields(), nil
	}
	fields := make([]string, 0, len(sel.Fields)+len(sel.Relations))
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			fields = append(fields, name)
		}
	}
	for _, name := range sel.Fields {
		if name == schema.IDField {
			continue
		}
		if _, ok := t.Field(name); !ok {
			return nil, fmt.Errorf("%w: select unknown field %s.%s", ErrInvalidQuery, t.Name, name)
		}
		add(name)
	}
	for name := range sel.Relations {
		rel, ok := t.Relation(name)
		if !ok {
			return nil, fmt.Errorf("%w: select unknown relation %s.%s", ErrInvalidQuery, t.Name, name)
		}
		if rel.Shape() == schema.ManyToOne {
			add(rel.ForeignKey)
		}
	}
	return fields, nil
}

func (tx *Tx) hydrateRows(t *schema.EntityType, rows []storage.Row, cols []string) ([]*model.Entity, error) {
	out := make([]*model.Entity, 0, len(rows))
	for _, row := range rows {
		id, values, err := tx.engine.decodeRow(t, row, cols)
		if err != nil {
			return nil, err
		}
		e, err := model.Hydrate(t, id, values)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ============================================================================
// RELATION LOADING - batched per relation
// ============================================================================

func (tx *Tx) loadRelation(ctx context.Context, t *schema.EntityType, owners []*model.Entity, name string, sub *query.Select) error {
	rel, ok := t.Relation(name)
	if !ok {
		return fmt.Errorf("%w: unknown relation %s.%s", ErrInvalidQuery, t.Name, name)
	}
	if len(owners) == 0 {
		return nil
	}
	switch rel.Shape() {
	case schema.ManyToOne:
		return tx.loadManyToOne(ctx, rel, owners, sub)
	case schema.OneToMany:
		return tx.loadOneToMany(ctx, rel, owners, sub)
	default:
		return tx.loadManyToMany(ctx, rel, owners, sub)
	}
}

func (tx *Tx) readTargets(ctx context.Context, target *schema.EntityType, where query.Where, sub *query.Select) ([]*model.Entity, error) {
	set, err := tx.read(ctx, target, query.FindOptions{Where: where, Select: sub}, 0)
	if err != nil {
		return nil, err
	}
	return set.Items(), nil
}

func (tx *Tx) loadManyToOne(ctx context.Context, rel *schema.Relation, owners []*model.Entity, sub *query.Select) error {
	var ids []identity.GUID
	seen := make(map[identity.GUID]bool)
	for _, o := range owners {
		v, err := o.Get(rel.ForeignKey)
		if err != nil {
			return err
		}
		if id, ok := v.(identity.GUID); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	byID := make(map[identity.GUID]*model.Entity)
	if len(ids) > 0 {
		targets, err := tx.readTargets(ctx, rel.TargetType(), query.IDsIn(schema.IDField, ids), sub)
		if err != nil {
			return err
		}
		for _, e := range targets {
			byID[e.ID()] = e
		}
	}
	for _, o := range owners {
		v, _ := o.Get(rel.ForeignKey)
		id, _ := v.(identity.GUID)
		o.SetLoadedRef(rel.Name, byID[id])
	}
	return nil
}

func (tx *Tx) loadOneToMany(ctx context.Context, rel *schema.Relation, owners []*model.Entity, sub *query.Select) error {
	target := rel.TargetType()
	ids := make([]identity.GUID, len(owners))
	for i, o := range owners {
		ids[i] = o.ID()
	}
	if sub != nil {
		withFK := *sub
		withFK.Fields = append(append([]string(nil), sub.Fields...), rel.ForeignKey)
		sub = &withFK
	}
	members, err := tx.readTargets(ctx, target, query.IDsIn(rel.ForeignKey, ids), sub)
	if err != nil {
		return err
	}

	groups := make(map[identity.GUID]*model.ModelSet, len(owners))
	for _, o := range owners {
		groups[o.ID()] = model.NewModelSet()
	}
	ownerByID := make(map[identity.GUID]*model.Entity, len(owners))
	for _, o := range owners {
		ownerByID[o.ID()] = o
	}
	for _, m := range members {
		v, _ := m.Get(rel.ForeignKey)
		fk, _ := v.(identity.GUID)
		if set, ok := groups[fk]; ok {
			set.Add(m)
			if rel.Inverse != "" {
				m.SetLoadedRef(rel.Inverse, ownerByID[fk])
			}
		}
	}
	for _, o := range owners {
		o.SetLoadedCollection(rel.Name, groups[o.ID()])
	}
	return nil
}

func (tx *Tx) loadManyToMany(ctx context.Context, rel *schema.Relation, owners []*model.Entity, sub *query.Select) error {
	j := rel.Join
	ids := make([]identity.GUID, len(owners))
	for i, o := range owners {
		ids[i] = o.ID()
	}
	cols := []string{j.LocalColumn, j.RemoteColumn}
	if j.IDColumn != "" {
		cols = append(cols, j.IDColumn)
	}
	for _, p := range j.Properties {
		cols = append(cols, p.Column)
	}
	order := []storage.OrderTerm{{Column: j.RemoteColumn}}
	if j.IDColumn != "" {
		order = []storage.OrderTerm{{Column: j.IDColumn}}
	}
	joinRows, err := tx.fetch(ctx, storage.FetchRequest{
		Table:   j.Table,
		Columns: cols,
		Where:   query.IDsIn(j.LocalColumn, ids),
		Order:   order,
	})
	if err != nil {
		return err
	}

	var remoteIDs []identity.GUID
	seen := make(map[identity.GUID]bool)
	for _, r := range joinRows {
		id, err := identity.FromAny(r[j.RemoteColumn])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", j.Table, j.RemoteColumn, err)
		}
		if !seen[id] {
			seen[id] = true
			remoteIDs = append(remoteIDs, id)
		}
	}
	byID := make(map[identity.GUID]*model.Entity)
	if len(remoteIDs) > 0 {
		targets, err := tx.readTargets(ctx, rel.TargetType(), query.IDsIn(schema.IDField, remoteIDs), sub)
		if err != nil {
			return err
		}
		for _, e := range targets {
			byID[e.ID()] = e
		}
	}

	groups := make(map[identity.GUID]*model.ModelSet, len(owners))
	for _, o := range owners {
		groups[o.ID()] = model.NewModelSet()
	}
	for _, r := range joinRows {
		local, err := identity.FromAny(r[j.LocalColumn])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", j.Table, j.LocalColumn, err)
		}
		remote, _ := identity.FromAny(r[j.RemoteColumn])
		member, ok := byID[remote]
		set, owned := groups[local]
		if !ok || !owned {
			continue
		}
		jr, err := decodeJoinRow(j, r)
		if err != nil {
			return err
		}
		set.AddWithJoin(member, jr)
	}
	for _, o := range owners {
		o.SetLoadedCollection(rel.Name, groups[o.ID()])
	}
	return nil
}

func decodeJoinRow(j *schema.JoinSpec, r storage.Row) (*model.JoinRow, error) {
	var id identity.GUID
	if j.IDColumn != "" {
		parsed, err := identity.FromAny(r[j.IDColumn])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", j.Table, j.IDColumn, err)
		}
		id = parsed
	}
	props := make(map[string]any, len(j.Properties))
	for i := range j.Properties {
		p := &j.Properties[i]
		v, err := p.Normalize(r[p.Column])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", j.Table, p.Column, err)
		}
		props[p.Name] = v
	}
	return model.HydrateJoinRow(id, props), nil
}

// ============================================================================
// LAZY LOADING - model.Loader
// ============================================================================

// LoadFields fetches scalar fields of a stored entity. Fields assigned in
// memory keep their value.
func (tx *Tx) LoadFields(ctx context.Context, e *model.Entity, fields ...string) error {
	if err := tx.guard(); err != nil {
		return err
	}
	t := e.Type()
	if e.IsNew() {
		return nil
	}
	cols := columnsFor(t, fields)
	rows, err := tx.fetch(ctx, storage.FetchRequest{Table: t.Table, Columns: cols, Where: idFilter(e.ID()), Limit: 1})
	if err != nil {
		return tx.translate(t, "load", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s %s: %w", t.Name, e.ID(), model.ErrNotFound)
	}
	_, values, err := tx.engine.decodeRow(t, rows[0], cols)
	if err != nil {
		return tx.translate(t, "load", err)
	}
	return e.MergeLoaded(values)
}

// LoadRelation fetches a relation of a stored entity with every scalar
// field of the related entities
func (tx *Tx) LoadRelation(ctx context.Context, e *model.Entity, relation string) error {
	if err := tx.guard(); err != nil {
		return err
	}
	t := e.Type()
	rel, ok := t.Relation(relation)
	if !ok {
		return fmt.Errorf("%s.%s: %w", t.Name, relation, model.ErrUnknownField)
	}
	if rel.Shape() == schema.ManyToOne && !e.IsLoaded(rel.ForeignKey) {
		if err := tx.LoadFields(ctx, e, rel.ForeignKey); err != nil {
			return err
		}
	}
	return tx.translate(t, "load", tx.loadRelation(ctx, t, []*model.Entity{e}, relation, nil))
}

// ============================================================================
// CACHE HELPERS - best effort
// ============================================================================

func (tx *Tx) cachedByID(ctx context.Context, t *schema.EntityType, id identity.GUID) (*model.Entity, bool) {
	cache := tx.engine.cache
	if cache == nil || tx.touched(t.Table) {
		return nil, false
	}
	row, ok, err := cache.GetRow(ctx, t.Table, id)
	if err != nil {
		tx.engine.logger.Warn("cache read failed", "tx", tx.id, "table", t.Table, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	cols := columnsFor(t, t.ScalarFields())
	entities, err := tx.hydrateRows(t, []storage.Row{row}, cols)
	if err != nil {
		tx.engine.logger.Warn("cached row rejected", "tx", tx.id, "table", t.Table, "error", err)
		return nil, false
	}
	return entities[0], true
}

func (tx *Tx) cacheRow(ctx context.Context, t *schema.EntityType, e *model.Entity) {
	cache := tx.engine.cache
	if cache == nil || tx.touched(t.Table) {
		return
	}
	row, err := tx.engine.encodeFields(t, e.Snapshot(), t.ScalarFields())
	if err != nil {
		return
	}
	row[schema.IDField] = e.ID()
	if err := cache.SetRow(ctx, t.Table, e.ID(), row); err != nil {
		tx.engine.logger.Warn("cache write failed", "tx", tx.id, "table", t.Table, "error", err)
	}
}
