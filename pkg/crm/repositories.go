package crm

import (
	"context"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/model"
	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/repository"
)

// Repositories holds a typed repository per CRM type
type Repositories struct {
	Tenants     *repository.Repository[Tenant]
	Companies   *repository.Repository[Company]
	Contacts    *repository.Repository[Contact]
	Addresses   *repository.Repository[Address]
	Notes       *repository.Repository[Note]
	Tags        *repository.Repository[Tag]
	Deals       *repository.Repository[Deal]
	Assignments *repository.Repository[TemplateAssignment]
}

// NewRepositories creates the typed repositories
func NewRepositories() *Repositories {
	return &Repositories{
		Tenants:     repository.NewRepository(TypeTenant, func(e *model.Entity) Tenant { return Tenant{e} }),
		Companies:   repository.NewRepository(TypeCompany, func(e *model.Entity) Company { return Company{e} }),
		Contacts:    repository.NewRepository(TypeContact, func(e *model.Entity) Contact { return Contact{e} }),
		Addresses:   repository.NewRepository(TypeAddress, func(e *model.Entity) Address { return Address{e} }),
		Notes:       repository.NewRepository(TypeNote, func(e *model.Entity) Note { return Note{e} }),
		Tags:        repository.NewRepository(TypeTag, func(e *model.Entity) Tag { return Tag{e} }),
		Deals:       repository.NewRepository(TypeDeal, func(e *model.Entity) Deal { return Deal{e} }),
		Assignments: repository.NewRepository(TypeTemplateAssignment, func(e *model.Entity) TemplateAssignment { return TemplateAssignment{e} }),
	}
}

// ContactByEmail finds a contact by its encrypted email
func (r *Repositories) ContactByEmail(ctx context.Context, tx repository.Reader, tenantID identity.GUID, email string) (Contact, bool, error) {
	return r.Contacts.ReadUnique(ctx, tx, query.FindOptions{
		Where:    query.Eq("email", email),
		TenantID: &tenantID,
	})
}

// TenantBySlug finds a tenant by its unique slug
func (r *Repositories) TenantBySlug(ctx context.Context, tx repository.Reader, slug string) (Tenant, bool, error) {
	return r.Tenants.ReadUnique(ctx, tx, query.FindOptions{Where: query.Eq("slug", slug)})
}

// OpenDeals lists a company's deals that are neither won nor lost, largest first
func (r *Repositories) OpenDeals(ctx context.Context, tx repository.Reader, tenantID, companyID identity.GUID) ([]Deal, error) {
	return r.Deals.Read(ctx, tx, query.FindOptions{
		Where: query.All(
			query.Eq("companyId", companyID),
			query.NoneOf("stage", StageWon, StageLost),
		),
		OrderBy:  []query.Order{query.Desc("amount")},
		Limit:    -1,
		TenantID: &tenantID,
	})
}

// ContactsTagged lists the tenant's contacts carrying a tag with the given name
func (r *Repositories) ContactsTagged(ctx context.Context, tx repository.Reader, tenantID identity.GUID, tag string, opts query.FindOptions) ([]Contact, error) {
	opts.Where = query.All(opts.Where, query.Some("tags", query.Eq("name", tag)))
	opts.TenantID = &tenantID
	return r.Contacts.Read(ctx, tx, opts)
}
