// Package crm declares the CRM entity types on top of the persistence
// engine: their fields, the relationship wiring between them and the
// typed wrappers the application layer works with.
package crm

import (
	"errors"

	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/schema"
)

// Entity type names
const (
	TypeTenant             = "Tenant"
	TypeCompany            = "Company"
	TypeContact            = "Contact"
	TypeAddress            = "Address"
	TypeNote               = "Note"
	TypeTag                = "Tag"
	TypeDeal               = "Deal"
	TypeTemplateAssignment = "TemplateAssignment"
)

// Deal stages
const (
	StageLead      = "lead"
	StageQualified = "qualified"
	StageProposal  = "proposal"
	StageWon       = "won"
	StageLost      = "lost"
)

const (
	tenantIDField    = "tenantId"
	contactLinksJoin = "contact_links"
)

// ErrAssignmentTarget is returned when a template assignment names both or
// neither of a user and a role
var ErrAssignmentTarget = errors.New("exactly one of userId or roleId must be set")

var contactTagsJoin = schema.JoinSpec{
	Table:        "contact_tags",
	LocalColumn:  "contact_id",
	RemoteColumn: "tag_id",
	Properties:   []schema.Field{{Name: "addedBy", Column: "added_by", Type: schema.TypeString}},
}

// Types returns fresh descriptors for every CRM entity type
func Types() []*schema.EntityType {
	return []*schema.EntityType{
		{
			Name:  TypeTenant,
			Table: "tenants",
			Fields: []schema.Field{
				{Name: "name", Kind: schema.Required},
				{Name: "slug", Kind: schema.Required, Unique: true},
				{Name: "createdAt", Column: "created_at", Type: schema.TypeTime},
			},
			DefaultOrder: []query.Order{query.Asc("name")},
		},
		{
			Name:  TypeCompany,
			Table: "companies",
			Fields: []schema.Field{
				{Name: tenantIDField, Column: "tenant_id", Kind: schema.Required, Type: schema.TypeGUID},
				{Name: "name", Kind: schema.Required},
				{Name: "domain"},
				{Name: "industry"},
				{Name: "employees", Type: schema.TypeInt},
			},
			Relations: []schema.Relation{
				{Name: "contacts", Target: TypeContact, Inverse: "company", ForeignKey: "companyId", Many: true},
				{Name: "deals", Target: TypeDeal, Inverse: "company", ForeignKey: "companyId", Many: true},
			},
			TenantField:  tenantIDField,
			SearchFields: []string{"name", "domain"},
			DefaultOrder: []query.Order{query.Asc("name")},
		},
		{
			Name:  TypeContact,
			Table: "contacts",
			Fields: []schema.Field{
				{Name: tenantIDField, Column: "tenant_id", Kind: schema.Required, Type: schema.TypeGUID},
				{Name: "firstName", Column: "first_name", Kind: schema.Required},
				{Name: "lastName", Column: "last_name"},
				{Name: "email", Kind: schema.EncryptedUnique},
				{Name: "phone"},
				{Name: "title"},
				{Name: "companyId", Column: "company_id", Type: schema.TypeGUID},
				{Name: "addressId", Column: "address_id", Type: schema.TypeGUID},
				{Name: "createdAt", Column: "created_at", Type: schema.TypeTime},
			},
			Relations: []schema.Relation{
				{Name: "company", Target: TypeCompany, Inverse: "contacts", ForeignKey: "companyId", OwnsForeignKey: true},
				{Name: "address", Target: TypeAddress, ForeignKey: "addressId", OwnsForeignKey: true, Wrap: true},
				{Name: "notes", Target: TypeNote, Inverse: "contact", ForeignKey: "contactId", Many: true, Wrap: true},
				{Name: "tags", Target: TypeTag, Inverse: "contacts", Many: true, Join: joinSpec(contactTagsJoin, false)},
				{Name: "linksOut", Target: TypeContact, Inverse: "linksIn", Many: true, Join: contactLinks(false)},
				{Name: "linksIn", Target: TypeContact, Inverse: "linksOut", Many: true, Join: contactLinks(true)},
			},
			TenantField:  tenantIDField,
			SearchFields: []string{"firstName", "lastName", "company.name"},
			DefaultOrder: []query.Order{query.Asc("lastName"), query.Asc("firstName")},
		},
		{
			Name:  TypeAddress,
			Table: "addresses",
			Fields: []schema.Field{
				{Name: "street"},
				{Name: "city", Kind: schema.Required},
				{Name: "postalCode", Column: "postal_code"},
				{Name: "country"},
			},
		},
		{
			Name:  TypeNote,
			Table: "notes",
			Fields: []schema.Field{
				{Name: "body", Kind: schema.Required},
				{Name: "contactId", Column: "contact_id", Type: schema.TypeGUID},
				{Name: "createdAt", Column: "created_at", Type: schema.TypeTime},
			},
			Relations: []schema.Relation{
				{Name: "contact", Target: TypeContact, Inverse: "notes", ForeignKey: "contactId", OwnsForeignKey: true},
			},
			DefaultOrder: []query.Order{query.Desc("createdAt")},
		},
		{
			Name:  TypeTag,
			Table: "tags",
			Fields: []schema.Field{
				{Name: tenantIDField, Column: "tenant_id", Kind: schema.Required, Type: schema.TypeGUID},
				{Name: "name", Kind: schema.Required},
				{Name: "color"},
			},
			Relations: []schema.Relation{
				{Name: "contacts", Target: TypeContact, Inverse: "tags", Many: true, Join: joinSpec(contactTagsJoin, true)},
			},
			TenantField:  tenantIDField,
			SearchFields: []string{"name"},
			DefaultOrder: []query.Order{query.Asc("name")},
		},
		{
			Name:  TypeDeal,
			Table: "deals",
			Fields: []schema.Field{
				{Name: tenantIDField, Column: "tenant_id", Kind: schema.Required, Type: schema.TypeGUID},
				{Name: "title", Kind: schema.Required},
				{Name: "amount", Type: schema.TypeFloat},
				{Name: "stage"},
				{Name: "closeDate", Column: "close_date", Type: schema.TypeTime},
				{Name: "companyId", Column: "company_id", Type: schema.TypeGUID},
			},
			Relations: []schema.Relation{
				{Name: "company", Target: TypeCompany, Inverse: "deals", ForeignKey: "companyId", OwnsForeignKey: true},
			},
			TenantField:  tenantIDField,
			SearchFields: []string{"title", "company.name"},
			DefaultOrder: []query.Order{query.Desc("closeDate"), query.Asc("title")},
		},
		{
			Name:  TypeTemplateAssignment,
			Table: "template_assignments",
			Fields: []schema.Field{
				{Name: "templateId", Column: "template_id", Kind: schema.Required, Type: schema.TypeGUID},
				{Name: "userId", Column: "user_id", Type: schema.TypeGUID},
				{Name: "roleId", Column: "role_id", Type: schema.TypeGUID},
			},
			Validate: validateAssignment,
		},
	}
}

// Register adds every CRM type to reg and builds it
func Register(reg *schema.Registry) error {
	if err := reg.Register(Types()...); err != nil {
		return err
	}
	return reg.Build()
}

// NewRegistry returns a built registry holding the CRM types
func NewRegistry() (*schema.Registry, error) {
	reg := schema.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// joinSpec copies a join spec, swapping the member columns for the inverse side
func joinSpec(j schema.JoinSpec, inverse bool) *schema.JoinSpec {
	out := j
	out.Properties = append([]schema.Field(nil), j.Properties...)
	if inverse {
		out.LocalColumn, out.RemoteColumn = j.RemoteColumn, j.LocalColumn
	}
	return &out
}

// contactLinks is the self-referential contact graph. Each link row has its
// own identity so two contacts may be linked more than once.
func contactLinks(inverse bool) *schema.JoinSpec {
	return joinSpec(schema.JoinSpec{
		Table:        contactLinksJoin,
		LocalColumn:  "from_id",
		RemoteColumn: "to_id",
		IDColumn:     "link_id",
		Properties: []schema.Field{
			{Name: "kind"},
			{Name: "since", Type: schema.TypeTime},
		},
	}, inverse)
}

func validateAssignment(r schema.Reader) error {
	user, userErr := r.Get("userId")
	role, roleErr := r.Get("roleId")
	if userErr != nil || roleErr != nil {
		// Partially loaded; the pair is checked once both are known
		return nil
	}
	if (user == nil) == (role == nil) {
		return ErrAssignmentTarget
	}
	return nil
}
