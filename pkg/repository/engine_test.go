package repository_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/entity4go/pkg/crm"
	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/memdriver"
	"github.com/ammar0144/entity4go/pkg/model"
	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/repository"
	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

type fixture struct {
	engine *repository.Engine
	store  *memdriver.Driver
	repos  *crm.Repositories
	tenant identity.GUID
}

func newFixture(t *testing.T, opts ...repository.Option) *fixture {
	t.Helper()
	reg, err := crm.NewRegistry()
	require.NoError(t, err)
	cipher, err := schema.NewAESCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	store := memdriver.New(memdriver.WithSchema(reg))
	base := []repository.Option{
		repository.WithCipher(cipher),
		repository.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	engine, err := repository.NewEngine(reg, store, append(base, opts...)...)
	require.NoError(t, err)

	return &fixture{engine: engine, store: store, repos: crm.NewRepositories(), tenant: identity.New()}
}

// run executes fn in a committed transaction and fails the test on error
func (f *fixture) run(t *testing.T, fn func(tx *repository.Tx) error) {
	t.Helper()
	require.NoError(t, f.engine.RunInTransaction(context.Background(), fn))
}

func (f *fixture) newEntity(t *testing.T, typeName string, data map[string]any) *model.Entity {
	t.Helper()
	typ, err := f.engine.Type(typeName)
	require.NoError(t, err)
	if _, ok := data["tenantId"]; typ.IsTenantScoped() && !ok {
		data["tenantId"] = f.tenant
	}
	e, err := f.engine.New(typeName, data)
	require.NoError(t, err)
	return e
}

func (f *fixture) contact(t *testing.T, first, email string) *model.Entity {
	t.Helper()
	data := map[string]any{"firstName": first, "lastName": "Tester"}
	if email != "" {
		data["email"] = email
	}
	return f.newEntity(t, crm.TypeContact, data)
}

func (f *fixture) countOps(op, table string) int {
	n := 0
	for _, s := range f.store.Statements() {
		if s.Op == op && s.Table == table {
			n++
		}
	}
	return n
}

func (f *fixture) get(t *testing.T, typeName string, id identity.GUID, sel *query.Select) *model.Entity {
	t.Helper()
	var out *model.Entity
	f.run(t, func(tx *repository.Tx) error {
		var err error
		out, err = tx.GetByID(context.Background(), typeName, id, sel)
		return err
	})
	return out
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC)
	c := f.contact(t, "Ada", "ada@example.com")
	require.NoError(t, c.Set("phone", "+44 20 7946 0000"))
	require.NoError(t, c.Set("createdAt", created))

	f.run(t, func(tx *repository.Tx) error { return c.Commit(context.Background(), tx) })
	assert.Equal(t, model.StateLoaded, c.State())
	assert.False(t, c.IsDirty())

	got := f.get(t, crm.TypeContact, c.ID(), nil)
	require.NotNil(t, got)
	for _, field := range []string{"firstName", "lastName", "email", "phone"} {
		want, _ := c.Get(field)
		have, err := got.Get(field)
		require.NoError(t, err)
		assert.Equal(t, want, have, field)
	}
	at, err := got.Time("createdAt")
	require.NoError(t, err)
	assert.True(t, created.Equal(at))

	title, err := got.Get("title")
	require.NoError(t, err)
	assert.Nil(t, title)

	rows := f.store.Rows("contacts")
	require.Len(t, rows, 1)
	assert.NotEqual(t, "ada@example.com", rows[0]["email"], "email is stored sealed")
}

func TestMinimalDiffKeepsConcurrentWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "Grace", "")
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, c) })

	first, err := f.engine.Begin(ctx)
	require.NoError(t, err)
	stale, err := first.GetByID(ctx, crm.TypeContact, c.ID(), nil)
	require.NoError(t, err)

	f.run(t, func(tx *repository.Tx) error {
		e, err := tx.GetByID(ctx, crm.TypeContact, c.ID(), nil)
		if err != nil {
			return err
		}
		if err := e.Set("phone", "555-0100"); err != nil {
			return err
		}
		return tx.Commit(ctx, e)
	})

	f.store.ResetStatements()
	require.NoError(t, stale.Set("title", "Rear Admiral"))
	assert.Equal(t, []string{"title"}, stale.DirtyFields())
	require.NoError(t, first.Commit(ctx, stale))
	require.NoError(t, first.Complete(ctx))

	stmts := f.store.Statements()
	require.Len(t, stmts, 1)
	assert.Equal(t, "UPDATE", stmts[0].Op)
	assert.Equal(t, []string{"title"}, stmts[0].Columns)

	got := f.get(t, crm.TypeContact, c.ID(), nil)
	phone, _ := got.String("phone")
	title, _ := got.String("title")
	assert.Equal(t, "555-0100", phone)
	assert.Equal(t, "Rear Admiral", title)
}

func TestCommitWithoutChangesWritesNothing(t *testing.T) {
	f := newFixture(t)
	c := f.contact(t, "Idle", "")
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(context.Background(), c) })
	f.store.ResetStatements()

	f.run(t, func(tx *repository.Tx) error { return tx.Commit(context.Background(), c) })
	assert.Empty(t, f.store.Statements())
}

func TestCollectionDiff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newEntity(t, crm.TypeTag, map[string]any{"name": "alpha"})
	b := f.newEntity(t, crm.TypeTag, map[string]any{"name": "beta"})
	c := f.contact(t, "Katherine", "")
	contact := crm.Contact{Entity: c}
	require.NoError(t, contact.AddTag(crm.Tag{Entity: a}, ""))
	require.NoError(t, contact.AddTag(crm.Tag{Entity: b}, "alice"))
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, c) })
	require.Len(t, f.store.Rows("contact_tags"), 2)

	f.store.ResetStatements()
	gamma := f.newEntity(t, crm.TypeTag, map[string]any{"name": "gamma"})
	f.run(t, func(tx *repository.Tx) error {
		loaded, err := tx.GetByID(ctx, crm.TypeContact, c.ID(), query.Fields("firstName").With("tags", nil))
		if err != nil {
			return err
		}
		tags, err := loaded.Collection("tags")
		if err != nil {
			return err
		}
		beta := tags.Find(func(e *model.Entity) bool {
			name, _ := e.String("name")
			return name == "beta"
		})
		require.NotNil(t, beta)
		if err := loaded.SetCollection("tags", model.NewModelSet(beta, gamma)); err != nil {
			return err
		}
		return tx.Commit(ctx, loaded)
	})

	assert.Equal(t, 1, f.countOps("DELETE", "contact_tags"))
	assert.Equal(t, 1, f.countOps("INSERT", "contact_tags"))
	assert.Equal(t, 0, f.countOps("UPDATE", "contact_tags"))
	assert.Equal(t, 1, f.countOps("INSERT", "tags"))

	rows := f.store.Rows("contact_tags")
	require.Len(t, rows, 2)
	byTag := make(map[identity.GUID]storage.Row)
	for _, r := range rows {
		byTag[r["tag_id"].(identity.GUID)] = r
	}
	require.Contains(t, byTag, b.ID())
	require.Contains(t, byTag, gamma.ID())
	assert.NotContains(t, byTag, a.ID())
	assert.Equal(t, "alice", byTag[b.ID()]["added_by"])
}

func TestJoinPropertyUpdateKeepsIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.contact(t, "Ada", "")
	b := f.contact(t, "Charles", "")
	require.NoError(t, crm.Contact{Entity: a}.LinkTo(crm.Contact{Entity: b}, "colleague", time.Time{}))
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, a) })

	rows := f.store.Rows("contact_links")
	require.Len(t, rows, 1)
	linkID := rows[0]["link_id"]
	require.NotNil(t, linkID)

	f.store.ResetStatements()
	f.run(t, func(tx *repository.Tx) error {
		loaded, err := tx.GetByID(ctx, crm.TypeContact, a.ID(), query.Fields().With("linksOut", nil))
		if err != nil {
			return err
		}
		out, err := loaded.Collection("linksOut")
		if err != nil {
			return err
		}
		require.Equal(t, 1, out.Len())
		peer := out.Items()[0]
		assert.Equal(t, linkID, out.Join(peer).ID())
		out.Join(peer).Set("kind", "mentor")
		return tx.Commit(ctx, loaded)
	})

	stmts := f.store.Statements()
	require.Len(t, stmts, 1)
	assert.Equal(t, "UPDATE", stmts[0].Op)
	assert.Equal(t, []string{"kind"}, stmts[0].Columns)

	rows = f.store.Rows("contact_links")
	require.Len(t, rows, 1)
	assert.Equal(t, linkID, rows[0]["link_id"])
	assert.Equal(t, "mentor", rows[0]["kind"])
}

func TestSelfReferentialRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.contact(t, "Source", "")
	b := f.contact(t, "Target", "")
	require.NoError(t, crm.Contact{Entity: a}.LinkTo(crm.Contact{Entity: b}, "reports-to", time.Now()))
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, a) })

	sel := query.Fields("firstName").With("linksOut", nil).With("linksIn", nil)
	ids := func(e *model.Entity, rel string) []identity.GUID {
		set, err := e.Collection(rel)
		require.NoError(t, err)
		return set.IDs()
	}

	gotA := f.get(t, crm.TypeContact, a.ID(), sel)
	assert.Equal(t, []identity.GUID{b.ID()}, ids(gotA, "linksOut"))
	assert.Empty(t, ids(gotA, "linksIn"))

	gotB := f.get(t, crm.TypeContact, b.ID(), sel)
	assert.Empty(t, ids(gotB, "linksOut"))
	assert.Equal(t, []identity.GUID{a.ID()}, ids(gotB, "linksIn"))
}

func TestCascadingDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	address := f.newEntity(t, crm.TypeAddress, map[string]any{"city": "London"})
	n1 := f.newEntity(t, crm.TypeNote, map[string]any{"body": "met at conference"})
	n2 := f.newEntity(t, crm.TypeNote, map[string]any{"body": "sent proposal"})
	tag := f.newEntity(t, crm.TypeTag, map[string]any{"name": "vip"})
	peer := f.contact(t, "Peer", "")
	owner := f.newEntity(t, crm.TypeContact, map[string]any{
		"firstName": "Owner",
		"address":   address,
		"notes":     []*model.Entity{n1, n2},
		"tags":      []*model.Entity{tag},
	})
	require.NoError(t, crm.Contact{Entity: peer}.LinkTo(crm.Contact{Entity: owner}, "friend", time.Time{}))
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, peer) })

	require.Len(t, f.store.Rows("notes"), 2)
	require.Len(t, f.store.Rows("addresses"), 1)
	require.Len(t, f.store.Rows("contact_links"), 1)

	var deleted *model.Entity
	f.run(t, func(tx *repository.Tx) error {
		var err error
		deleted, err = tx.GetByID(ctx, crm.TypeContact, owner.ID(), nil)
		if err != nil {
			return err
		}
		return tx.Delete(ctx, deleted)
	})

	assert.True(t, deleted.IsDeleted())
	_, err := deleted.Get("firstName")
	assert.True(t, model.IsDeleted(err))

	assert.Nil(t, f.get(t, crm.TypeContact, owner.ID(), nil))
	assert.Nil(t, f.get(t, crm.TypeNote, n1.ID(), nil))
	assert.Nil(t, f.get(t, crm.TypeNote, n2.ID(), nil))
	assert.Nil(t, f.get(t, crm.TypeAddress, address.ID(), nil))
	assert.Empty(t, f.store.Rows("contact_tags"))
	assert.Empty(t, f.store.Rows("contact_links"))

	assert.NotNil(t, f.get(t, crm.TypeTag, tag.ID(), nil), "associated tags are not owned")
	assert.NotNil(t, f.get(t, crm.TypeContact, peer.ID(), nil))
}

func TestDeleteNullsPlainReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := f.newEntity(t, crm.TypeCompany, map[string]any{"name": "Initech"})
	c := f.newEntity(t, crm.TypeContact, map[string]any{"firstName": "Peter", "company": company})
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, c) })

	f.run(t, func(tx *repository.Tx) error { return tx.Delete(ctx, company) })

	got := f.get(t, crm.TypeContact, c.ID(), nil)
	require.NotNil(t, got)
	fk, err := got.Get("companyId")
	require.NoError(t, err)
	assert.Nil(t, fk)
}

func TestDeferredLinkage(t *testing.T) {
	for _, via := range []string{"parent", "child"} {
		t.Run("second commit via "+via, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			child := f.newEntity(t, crm.TypeNote, map[string]any{"body": "draft"})
			parent := f.newEntity(t, crm.TypeContact, map[string]any{
				"firstName": "Parent",
				"notes":     []*model.Entity{child},
			})
			f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, parent) })

			rows := f.store.Rows("notes")
			require.Len(t, rows, 1)
			assert.Equal(t, parent.ID(), rows[0]["contact_id"], "linked in the first commit")

			require.NoError(t, child.Set("body", "X"))
			assert.True(t, child.IsDirty())

			f.store.ResetStatements()
			target := parent
			if via == "child" {
				target = child
			}
			f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, target) })

			stmts := f.store.Statements()
			require.Len(t, stmts, 1)
			assert.Equal(t, "notes", stmts[0].Table)
			assert.Equal(t, []string{"body"}, stmts[0].Columns)
			assert.False(t, child.IsDirty())

			got := f.get(t, crm.TypeNote, child.ID(), nil)
			body, err := got.String("body")
			require.NoError(t, err)
			assert.Equal(t, "X", body)
		})
	}
}

func TestPagination(t *testing.T) {
	f := newFixture(t, repository.WithPageSize(25, 50))
	ctx := context.Background()
	f.run(t, func(tx *repository.Tx) error {
		for i := 0; i < 120; i++ {
			tag := f.newEntity(t, crm.TypeTag, map[string]any{"name": fmt.Sprintf("tag-%03d", i)})
			if err := tx.Commit(ctx, tag); err != nil {
				return err
			}
		}
		return nil
	})

	f.run(t, func(tx *repository.Tx) error {
		page, err := tx.Read(ctx, crm.TypeTag, query.FindOptions{Limit: 25, Offset: 25, TenantID: &f.tenant})
		require.NoError(t, err)
		require.Equal(t, 25, page.Len())
		first, _ := page.Items()[0].String("name")
		last, _ := page.Items()[24].String("name")
		assert.Equal(t, "tag-025", first)
		assert.Equal(t, "tag-049", last)

		n, err := tx.Count(ctx, crm.TypeTag, query.FindOptions{Limit: 25, Offset: 25, TenantID: &f.tenant})
		require.NoError(t, err)
		assert.Equal(t, int64(120), n)

		byDefault, err := tx.Read(ctx, crm.TypeTag, query.FindOptions{})
		require.NoError(t, err)
		assert.Equal(t, 25, byDefault.Len())

		all, err := tx.Read(ctx, crm.TypeTag, query.FindOptions{Limit: -1})
		require.NoError(t, err)
		assert.Equal(t, 120, all.Len())

		clamped, err := tx.Search(ctx, crm.TypeTag, "tag", repository.SearchOptions{Count: 1000, TenantID: &f.tenant})
		require.NoError(t, err)
		assert.Equal(t, 50, clamped.Len())

		tail, err := tx.Read(ctx, crm.TypeTag, query.FindOptions{Limit: 25, Offset: 110})
		require.NoError(t, err)
		assert.Equal(t, 10, tail.Len())
		return nil
	})
}

func TestSearchIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := identity.New()
	f.run(t, func(tx *repository.Tx) error {
		for _, data := range []map[string]any{
			{"name": "Acme Corp", "domain": "acme.test"},
			{"name": "Globex", "domain": "globex.test"},
			{"name": "ACME Holdings", "tenantId": other},
		} {
			if err := tx.Commit(ctx, f.newEntity(t, crm.TypeCompany, data)); err != nil {
				return err
			}
		}
		return nil
	})

	f.run(t, func(tx *repository.Tx) error {
		found, err := tx.Search(ctx, crm.TypeCompany, "acme", repository.SearchOptions{TenantID: &f.tenant})
		require.NoError(t, err)
		require.Equal(t, 1, found.Len())
		name, _ := found.Items()[0].String("name")
		assert.Equal(t, "Acme Corp", name)

		byDomain, err := tx.Search(ctx, crm.TypeCompany, "GLOBEX.T", repository.SearchOptions{TenantID: &f.tenant})
		require.NoError(t, err)
		assert.Equal(t, 1, byDomain.Len())

		n, err := tx.SearchCount(ctx, crm.TypeCompany, "", &other)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = tx.Search(ctx, crm.TypeCompany, "acme", repository.SearchOptions{})
		assert.ErrorIs(t, err, repository.ErrTenantRequired)
		return nil
	})
}

func TestSearchThroughRelation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := f.newEntity(t, crm.TypeCompany, map[string]any{"name": "Initech"})
	c := f.newEntity(t, crm.TypeContact, map[string]any{"firstName": "Peter", "lastName": "Gibbons", "company": company})
	loner := f.contact(t, "Milton", "")
	f.run(t, func(tx *repository.Tx) error {
		if err := tx.Commit(ctx, c); err != nil {
			return err
		}
		return tx.Commit(ctx, loner)
	})

	f.run(t, func(tx *repository.Tx) error {
		found, err := tx.Search(ctx, crm.TypeContact, "initech", repository.SearchOptions{TenantID: &f.tenant})
		require.NoError(t, err)
		assert.Equal(t, []identity.GUID{c.ID()}, found.IDs())

		ordered, err := tx.Read(ctx, crm.TypeContact, query.FindOptions{
			OrderBy: []query.Order{query.Desc("company.name")},
			Select:  query.Fields("firstName").With("company", query.Fields("name")),
		})
		require.NoError(t, err)
		require.Equal(t, 2, ordered.Len())
		assert.Equal(t, c.ID(), ordered.Items()[0].ID(), "NULL sorts first ascending, last descending")

		ref, err := ordered.Items()[0].Ref("company")
		require.NoError(t, err)
		require.NotNil(t, ref)
		name, _ := ref.String("name")
		assert.Equal(t, "Initech", name)

		none, err := ordered.Items()[1].Ref("company")
		require.NoError(t, err)
		assert.Nil(t, none)
		return nil
	})
}

func TestRelationFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vip := f.newEntity(t, crm.TypeTag, map[string]any{"name": "vip"})
	tagged := f.newEntity(t, crm.TypeContact, map[string]any{"firstName": "Tagged", "tags": []*model.Entity{vip}})
	withNote := f.newEntity(t, crm.TypeContact, map[string]any{
		"firstName": "Noted",
		"notes":     []*model.Entity{f.newEntity(t, crm.TypeNote, map[string]any{"body": "call back"})},
	})
	plain := f.contact(t, "Plain", "")
	f.run(t, func(tx *repository.Tx) error {
		for _, e := range []*model.Entity{tagged, withNote, plain} {
			if err := tx.Commit(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})

	tests := []struct {
		name  string
		where query.Where
		want  []identity.GUID
	}{
		{"some tag", query.Some("tags", query.Eq("name", "vip")), []identity.GUID{tagged.ID()}},
		{"no tag", query.None("tags", nil), []identity.GUID{withNote.ID(), plain.ID()}},
		{"some note", query.Some("notes", query.ContainsFold("body", "CALL")), []identity.GUID{withNote.ID()}},
		{"no notes", query.None("notes", nil), []identity.GUID{tagged.ID(), plain.ID()}},
		{"dotted collection path", query.Eq("tags.name", "vip"), []identity.GUID{tagged.ID()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.run(t, func(tx *repository.Tx) error {
				got, err := tx.Read(ctx, crm.TypeContact, query.FindOptions{Where: tt.where, Limit: -1})
				require.NoError(t, err)
				assert.ElementsMatch(t, tt.want, got.IDs())
				return nil
			})
		})
	}
}

func TestValidationRejectsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing := f.newEntity(t, crm.TypeContact, map[string]any{"lastName": "Nameless"})
	err := f.engine.RunInTransaction(ctx, func(tx *repository.Tx) error { return tx.Commit(ctx, missing) })
	require.True(t, model.IsValidation(err))
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"firstName"}, ve.Fields)
	assert.Equal(t, "missing required fields: firstName", model.PublicMessage(err))

	badChild := f.newEntity(t, crm.TypeNote, map[string]any{})
	parent := f.newEntity(t, crm.TypeContact, map[string]any{"firstName": "Valid", "notes": []*model.Entity{badChild}})
	err = f.engine.RunInTransaction(ctx, func(tx *repository.Tx) error { return tx.Commit(ctx, parent) })
	require.True(t, model.IsValidation(err))

	assert.Empty(t, f.store.Statements())
	assert.True(t, parent.IsNew())
}

func TestTemplateAssignmentHook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	both := f.newEntity(t, crm.TypeTemplateAssignment, map[string]any{
		"templateId": identity.New(), "userId": identity.New(), "roleId": identity.New(),
	})
	err := f.engine.RunInTestTransaction(ctx, func(tx *repository.Tx) error { return tx.Commit(ctx, both) })
	assert.ErrorIs(t, err, crm.ErrAssignmentTarget)
	assert.Equal(t, crm.ErrAssignmentTarget.Error(), model.PublicMessage(err))

	fixed := crm.TemplateAssignment{Entity: both}
	require.NoError(t, fixed.AssignToRole(identity.New()))
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, both) })
	assert.Len(t, f.store.Rows("template_assignments"), 1)
}

func TestUniqueViolationAbortsTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.contact(t, "One", "dup@example.com")
	second := f.contact(t, "Two", "dup@example.com")

	var commitErr, laterErr error
	err := f.engine.RunInTransaction(ctx, func(tx *repository.Tx) error {
		require.NoError(t, tx.Commit(ctx, first))
		commitErr = tx.Commit(ctx, second)
		_, laterErr = tx.Count(ctx, crm.TypeContact, query.FindOptions{})
		return commitErr
	})
	require.Error(t, err)

	var ue *model.UniqueConstraintError
	require.True(t, errors.As(commitErr, &ue))
	assert.Equal(t, crm.TypeContact, ue.Entity)
	assert.Equal(t, []string{"email"}, ue.Fields)
	assert.Equal(t, "that email is already in use", model.PublicMessage(commitErr))
	assert.ErrorIs(t, laterErr, repository.ErrTxAborted)

	assert.Empty(t, f.store.Rows("contacts"), "nothing from the failed transaction is visible")
}

func TestTestTransactionAlwaysRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "Ephemeral", "")
	require.NoError(t, f.engine.RunInTestTransaction(ctx, func(tx *repository.Tx) error {
		require.NoError(t, tx.Commit(ctx, c))
		got, err := tx.GetByID(ctx, crm.TypeContact, c.ID(), nil)
		require.NoError(t, err)
		assert.NotNil(t, got, "visible inside the transaction")
		return nil
	}))
	assert.Empty(t, f.store.Rows("contacts"))
}

func TestRunInTransactionRollsBackOnPanic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "Panicky", "")
	assert.Panics(t, func() {
		_ = f.engine.RunInTransaction(ctx, func(tx *repository.Tx) error {
			require.NoError(t, tx.Commit(ctx, c))
			panic("boom")
		})
	})
	assert.Empty(t, f.store.Rows("contacts"))
}

func TestCompletedTransactionRejectsCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, err := f.engine.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Complete(ctx))

	assert.ErrorIs(t, tx.Complete(ctx), repository.ErrTxDone)
	_, err = tx.Read(ctx, crm.TypeTag, query.FindOptions{})
	assert.ErrorIs(t, err, repository.ErrTxDone)
}

func TestReadOnlyAndDeletedEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "Frozen", "")
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, c) })

	c.MarkReadOnly()
	assert.True(t, model.IsReadOnly(c.Set("title", "x")))
	err := f.engine.RunInTestTransaction(ctx, func(tx *repository.Tx) error { return tx.Commit(ctx, c) })
	assert.True(t, model.IsReadOnly(err))
	err = f.engine.RunInTestTransaction(ctx, func(tx *repository.Tx) error { return tx.Delete(ctx, c) })
	assert.True(t, model.IsReadOnly(err))

	d := f.contact(t, "Gone", "")
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, d) })
	f.run(t, func(tx *repository.Tx) error { return tx.Delete(ctx, d) })
	err = f.engine.RunInTestTransaction(ctx, func(tx *repository.Tx) error { return tx.Commit(ctx, d) })
	assert.True(t, model.IsDeleted(err))
	assert.Equal(t, "this record has been deleted", model.PublicMessage(err))
}

func TestEncryptedFieldFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "Secret", "secret@example.com")
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, c) })

	f.run(t, func(tx *repository.Tx) error {
		got, found, err := f.repos.ContactByEmail(ctx, tx, f.tenant, "secret@example.com")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, c.ID(), got.ID())

		_, found, err = f.repos.ContactByEmail(ctx, tx, identity.New(), "secret@example.com")
		require.NoError(t, err)
		assert.False(t, found, "other tenants do not see the contact")
		return nil
	})

	err := f.engine.RunInTestTransaction(ctx, func(tx *repository.Tx) error {
		_, err := tx.Read(ctx, crm.TypeContact, query.FindOptions{Where: query.ContainsFold("email", "secret")})
		return err
	})
	assert.ErrorIs(t, err, repository.ErrEncryptedFilter)
}

func TestReadUniqueRequiresUniqueFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.engine.RunInTestTransaction(ctx, func(tx *repository.Tx) error {
		_, err := tx.ReadUnique(ctx, crm.TypeContact, query.FindOptions{Where: query.Eq("lastName", "Tester")})
		return err
	})
	assert.ErrorIs(t, err, repository.ErrNotUniqueCapable)
}

func TestLazyLoading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note := f.newEntity(t, crm.TypeNote, map[string]any{"body": "hello"})
	c := f.newEntity(t, crm.TypeContact, map[string]any{"firstName": "Lazy", "notes": []*model.Entity{note}})
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, c) })

	f.run(t, func(tx *repository.Tx) error {
		ref, err := f.engine.Reference(crm.TypeContact, c.ID())
		require.NoError(t, err)

		_, err = ref.Get("firstName")
		assert.True(t, model.IsNotLoaded(err))

		require.NoError(t, ref.SafeLoad(ctx, tx, "firstName", "notes"))
		name, err := ref.String("firstName")
		require.NoError(t, err)
		assert.Equal(t, "Lazy", name)

		notes, err := ref.Collection("notes")
		require.NoError(t, err)
		assert.Equal(t, []identity.GUID{note.ID()}, notes.IDs())

		owner, err := notes.Items()[0].Ref("contact")
		require.NoError(t, err)
		assert.Same(t, ref, owner)

		missing, err := f.engine.Reference(crm.TypeContact, identity.New())
		require.NoError(t, err)
		assert.ErrorIs(t, tx.LoadFields(ctx, missing, "firstName"), model.ErrNotFound)
		return nil
	})
}

func TestInverseSyncAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := f.newEntity(t, crm.TypeCompany, map[string]any{"name": "Umbrella"})
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, company) })

	f.run(t, func(tx *repository.Tx) error {
		loaded, err := tx.GetByID(ctx, crm.TypeCompany, company.ID(), query.Fields("name").With("contacts", nil))
		if err != nil {
			return err
		}
		contacts, err := loaded.Collection("contacts")
		require.NoError(t, err)
		assert.Equal(t, 0, contacts.Len())

		c := f.newEntity(t, crm.TypeContact, map[string]any{"firstName": "Alice", "company": loaded})
		if err := tx.Commit(ctx, c); err != nil {
			return err
		}
		assert.True(t, contacts.HasID(c.ID()), "the loaded inverse collection sees the new member")
		assert.False(t, loaded.IsDirty())
		return nil
	})
}

func TestMoveMemberBetweenCollections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acme := f.newEntity(t, crm.TypeCompany, map[string]any{"name": "Acme"})
	c := f.newEntity(t, crm.TypeContact, map[string]any{"firstName": "Wile", "company": acme})
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, c) })

	f.run(t, func(tx *repository.Tx) error {
		loaded, err := tx.GetByID(ctx, crm.TypeCompany, acme.ID(), query.Fields().With("contacts", nil))
		if err != nil {
			return err
		}
		contacts, err := loaded.Collection("contacts")
		require.NoError(t, err)
		require.Equal(t, 1, contacts.Len())
		contacts.RemoveID(c.ID())
		return tx.Commit(ctx, loaded)
	})

	got := f.get(t, crm.TypeContact, c.ID(), nil)
	fk, err := got.Get("companyId")
	require.NoError(t, err)
	assert.Nil(t, fk, "removing from a plain collection clears the foreign key")
	assert.NotNil(t, f.get(t, crm.TypeCompany, acme.ID(), nil))
}

func TestContactWithoutEmailCommits(t *testing.T) {
	f := newFixture(t)
	c := f.contact(t, "NoEmail", "")
	f.run(t, func(tx *repository.Tx) error { return c.Commit(context.Background(), tx) })

	rows := f.store.Rows("contacts")
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0]["email"])

	got := f.get(t, crm.TypeContact, c.ID(), nil)
	email, err := got.Get("email")
	require.NoError(t, err)
	assert.Nil(t, email)
}

func TestParallelLinksBetweenSamePair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.contact(t, "Ada", "")
	b := f.contact(t, "Charles", "")
	require.NoError(t, crm.Contact{Entity: a}.LinkTo(crm.Contact{Entity: b}, "colleague", time.Time{}))
	require.NoError(t, crm.Contact{Entity: a}.LinkTo(crm.Contact{Entity: b}, "friend", time.Time{}))
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, a) })

	rows := f.store.Rows("contact_links")
	require.Len(t, rows, 2)
	assert.NotEqual(t, rows[0]["link_id"], rows[1]["link_id"])

	kinds := func(rows []*model.JoinRow) []any {
		out := make([]any, len(rows))
		for i, jr := range rows {
			out[i] = jr.Get("kind")
		}
		return out
	}
	sel := query.Fields().With("linksOut", nil)
	edit := func(t *testing.T, fn func(out *model.ModelSet, peer *model.Entity)) {
		f.run(t, func(tx *repository.Tx) error {
			loaded, err := tx.GetByID(ctx, crm.TypeContact, a.ID(), sel)
			if err != nil {
				return err
			}
			out, err := loaded.Collection("linksOut")
			if err != nil {
				return err
			}
			require.Equal(t, 1, out.Len())
			fn(out, out.Items()[0])
			return tx.Commit(ctx, loaded)
		})
	}

	t.Run("both rows load under one member", func(t *testing.T) {
		edit(t, func(out *model.ModelSet, peer *model.Entity) {
			assert.Equal(t, b.ID(), peer.ID())
			assert.ElementsMatch(t, []any{"colleague", "friend"}, kinds(out.Joins(peer)))
		})
	})

	t.Run("dropping one link keeps the other", func(t *testing.T) {
		f.store.ResetStatements()
		edit(t, func(out *model.ModelSet, peer *model.Entity) {
			for _, jr := range out.Joins(peer) {
				if jr.Get("kind") == "friend" {
					require.True(t, out.RemoveJoin(peer, jr))
				}
			}
		})
		assert.Equal(t, 1, f.countOps("DELETE", "contact_links"))
		rows := f.store.Rows("contact_links")
		require.Len(t, rows, 1)
		assert.Equal(t, "colleague", rows[0]["kind"])
	})

	t.Run("a loaded pair gains another link", func(t *testing.T) {
		edit(t, func(out *model.ModelSet, peer *model.Entity) {
			out.AddWithJoin(peer, model.NewJoinRow(map[string]any{"kind": "mentor"}))
		})
		rows := f.store.Rows("contact_links")
		require.Len(t, rows, 2)
	})

	t.Run("removing the member deletes every link", func(t *testing.T) {
		edit(t, func(out *model.ModelSet, peer *model.Entity) {
			require.True(t, out.Remove(peer))
		})
		assert.Empty(t, f.store.Rows("contact_links"))
	})
}

func TestReplacedCollectionKeepsJoinRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	beta := f.newEntity(t, crm.TypeTag, map[string]any{"name": "beta"})
	c := f.contact(t, "Katherine", "")
	require.NoError(t, crm.Contact{Entity: c}.AddTag(crm.Tag{Entity: beta}, "alice"))
	f.run(t, func(tx *repository.Tx) error { return tx.Commit(ctx, c) })

	var loaded *model.Entity
	f.store.ResetStatements()
	f.run(t, func(tx *repository.Tx) error {
		var err error
		loaded, err = tx.GetByID(ctx, crm.TypeContact, c.ID(), query.Fields().With("tags", nil))
		if err != nil {
			return err
		}
		tags, err := loaded.Collection("tags")
		if err != nil {
			return err
		}
		kept := tags.Items()[0]
		if err := loaded.SetCollection("tags", model.NewModelSet(kept)); err != nil {
			return err
		}
		return tx.Commit(ctx, loaded)
	})
	assert.Empty(t, f.store.Statements())

	tags, err := loaded.Collection("tags")
	require.NoError(t, err)
	require.Equal(t, 1, tags.Len())
	jr := tags.Join(tags.Items()[0])
	assert.Equal(t, "alice", jr.Get("addedBy"))
	assert.True(t, jr.Persisted())
	assert.False(t, loaded.IsDirty())
}

func TestRejectedCommitLeavesMembersUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note := f.newEntity(t, crm.TypeNote, map[string]any{"body": "call back"})
	parent := f.newEntity(t, crm.TypeContact, map[string]any{"lastName": "Nameless", "notes": []*model.Entity{note}})

	err := f.engine.RunInTransaction(ctx, func(tx *repository.Tx) error { return tx.Commit(ctx, parent) })
	require.True(t, model.IsValidation(err))

	assert.Equal(t, []string{"body"}, note.DirtyFields())
	fk, err := note.Get("contactId")
	require.NoError(t, err)
	assert.Nil(t, fk)
	assert.Empty(t, f.store.Statements())
}
