package crm_test

import (
	"bytes"
	"context"
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
)

func setup(t *testing.T) (*repository.Engine, *crm.Repositories) {
	t.Helper()
	reg, err := crm.NewRegistry()
	require.NoError(t, err)
	cipher, err := schema.NewAESCipher(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	engine, err := repository.NewEngine(reg, memdriver.New(memdriver.WithSchema(reg)),
		repository.WithCipher(cipher),
		repository.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return engine, crm.NewRepositories()
}

func TestTypesRegister(t *testing.T) {
	reg, err := crm.NewRegistry()
	require.NoError(t, err)

	contact, ok := reg.Type(crm.TypeContact)
	require.True(t, ok)
	assert.True(t, contact.IsTenantScoped())

	tags, ok := contact.Relation("tags")
	require.True(t, ok)
	assert.Equal(t, schema.ManyToManyCompound, tags.Shape())

	tag, ok := reg.Type(crm.TypeTag)
	require.True(t, ok)
	inverse, ok := tag.Relation("contacts")
	require.True(t, ok)
	assert.Equal(t, tags.Join.LocalColumn, inverse.Join.RemoteColumn)
	assert.Equal(t, tags.Join.RemoteColumn, inverse.Join.LocalColumn)

	address, ok := contact.Relation("address")
	require.True(t, ok)
	assert.Equal(t, schema.ManyToOne, address.Shape())
	assert.True(t, address.Wrap)
}

func TestContactFullName(t *testing.T) {
	engine, repos := setup(t)
	tenant := identity.New()

	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"first and last", map[string]any{"firstName": "Ada", "lastName": "Lovelace"}, "Ada Lovelace"},
		{"first only", map[string]any{"firstName": "Ada"}, "Ada"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.data["tenantId"] = tenant
			c, err := repos.Contacts.New(engine, tt.data)
			require.NoError(t, err)
			got, err := c.FullName()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateAssignmentTargets(t *testing.T) {
	engine, repos := setup(t)
	ctx := context.Background()

	a, err := repos.Assignments.New(engine, map[string]any{"templateId": identity.New()})
	require.NoError(t, err)

	err = engine.RunInTestTransaction(ctx, func(tx *repository.Tx) error {
		return repos.Assignments.Commit(ctx, tx, a)
	})
	assert.ErrorIs(t, err, crm.ErrAssignmentTarget)
	assert.True(t, model.IsValidation(err))

	user := identity.New()
	require.NoError(t, a.AssignToUser(user))
	require.NoError(t, a.AssignToRole(identity.New()))
	got, err := a.Get("userId")
	require.NoError(t, err)
	assert.Nil(t, got, "assigning a role clears the user")

	require.NoError(t, engine.RunInTransaction(ctx, func(tx *repository.Tx) error {
		return repos.Assignments.Commit(ctx, tx, a)
	}))
}

func TestLookups(t *testing.T) {
	engine, repos := setup(t)
	ctx := context.Background()

	tenant, err := repos.Tenants.New(engine, map[string]any{"name": "Acme", "slug": "acme"})
	require.NoError(t, err)
	require.NoError(t, engine.RunInTransaction(ctx, func(tx *repository.Tx) error {
		if err := repos.Tenants.Commit(ctx, tx, tenant); err != nil {
			return err
		}
		c, err := repos.Contacts.New(engine, map[string]any{
			"tenantId": tenant.ID(), "firstName": "Ada", "email": "ada@acme.test",
		})
		if err != nil {
			return err
		}
		return repos.Contacts.Commit(ctx, tx, c)
	}))

	require.NoError(t, engine.RunInTransaction(ctx, func(tx *repository.Tx) error {
		got, found, err := repos.TenantBySlug(ctx, tx, "acme")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, tenant.ID(), got.ID())

		_, found, err = repos.TenantBySlug(ctx, tx, "globex")
		require.NoError(t, err)
		assert.False(t, found)

		c, found, err := repos.ContactByEmail(ctx, tx, tenant.ID(), "ada@acme.test")
		require.NoError(t, err)
		require.True(t, found)
		first, err := c.FirstName()
		require.NoError(t, err)
		assert.Equal(t, "Ada", first)

		_, found, err = repos.ContactByEmail(ctx, tx, identity.New(), "ada@acme.test")
		require.NoError(t, err)
		assert.False(t, found, "lookups stay inside the tenant")
		return nil
	}))
}

func TestOpenDeals(t *testing.T) {
	engine, repos := setup(t)
	ctx := context.Background()
	tenant := identity.New()

	company, err := repos.Companies.New(engine, map[string]any{"tenantId": tenant, "name": "Globex"})
	require.NoError(t, err)

	deals := []struct {
		title  string
		stage  string
		amount float64
	}{
		{"renewal", crm.StageProposal, 1200},
		{"expansion", crm.StageQualified, 5400},
		{"pilot", crm.StageWon, 9000},
		{"upsell", crm.StageLost, 300},
		{"audit", crm.StageLead, 800},
	}
	require.NoError(t, engine.RunInTransaction(ctx, func(tx *repository.Tx) error {
		if err := repos.Companies.Commit(ctx, tx, company); err != nil {
			return err
		}
		batch := make([]crm.Deal, 0, len(deals))
		for _, d := range deals {
			deal, err := repos.Deals.New(engine, map[string]any{
				"tenantId": tenant, "title": d.title, "stage": d.stage, "companyId": company.ID(),
			})
			if err != nil {
				return err
			}
			if err := deal.SetAmount(d.amount); err != nil {
				return err
			}
			batch = append(batch, deal)
		}
		return repos.Deals.CommitBatch(ctx, tx, batch)
	}))

	require.NoError(t, engine.RunInTransaction(ctx, func(tx *repository.Tx) error {
		open, err := repos.OpenDeals(ctx, tx, tenant, company.ID())
		require.NoError(t, err)
		var titles []string
		for _, d := range open {
			title, err := d.Title()
			require.NoError(t, err)
			titles = append(titles, title)
		}
		assert.Equal(t, []string{"expansion", "renewal", "audit"}, titles)

		amount, err := open[0].Amount()
		require.NoError(t, err)
		assert.InDelta(t, 5400, amount, 0.001)

		none, err := repos.OpenDeals(ctx, tx, identity.New(), company.ID())
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	}))
}

func TestContactsTagged(t *testing.T) {
	engine, repos := setup(t)
	ctx := context.Background()
	tenant := identity.New()

	newContact := func(first string) crm.Contact {
		c, err := repos.Contacts.New(engine, map[string]any{"tenantId": tenant, "firstName": first})
		require.NoError(t, err)
		return c
	}
	vip, err := repos.Tags.New(engine, map[string]any{"tenantId": tenant, "name": "vip"})
	require.NoError(t, err)

	ada, bob, cy := newContact("Ada"), newContact("Bob"), newContact("Cy")
	require.NoError(t, ada.AddTag(vip, "ops"))
	require.NoError(t, cy.AddTag(vip, ""))
	require.NoError(t, ada.LinkTo(bob, "referral", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	require.NoError(t, engine.RunInTransaction(ctx, func(tx *repository.Tx) error {
		return repos.Contacts.CommitBatch(ctx, tx, []crm.Contact{ada, bob, cy})
	}))

	require.NoError(t, engine.RunInTransaction(ctx, func(tx *repository.Tx) error {
		tagged, err := repos.ContactsTagged(ctx, tx, tenant, "vip", query.FindOptions{
			OrderBy: []query.Order{query.Asc("firstName")},
		})
		require.NoError(t, err)
		require.Len(t, tagged, 2)
		assert.Equal(t, ada.ID(), tagged[0].ID())
		assert.Equal(t, cy.ID(), tagged[1].ID())

		got, found, err := repos.Contacts.GetByID(ctx, tx, ada.ID(), &query.Select{Relations: map[string]*query.Select{"tags": nil}})
		require.NoError(t, err)
		require.True(t, found)
		tags, err := got.Tags()
		require.NoError(t, err)
		require.Equal(t, 1, tags.Len())
		assert.Equal(t, "ops", tags.Join(tags.Items()[0]).Get("addedBy"))
		return nil
	}))
}

func TestRepositoryWrapRejectsOtherTypes(t *testing.T) {
	engine, repos := setup(t)
	tag, err := engine.New(crm.TypeTag, map[string]any{"tenantId": identity.New(), "name": "x"})
	require.NoError(t, err)

	_, err = repos.Contacts.Wrap(tag)
	assert.Error(t, err)

	wrapped, err := repos.Tags.Wrap(tag)
	require.NoError(t, err)
	assert.Equal(t, crm.TypeTag, wrapped.TypeName())
}
