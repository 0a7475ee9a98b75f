package crm

import (
	"time"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/model"
	"github.com/ammar0144/entity4go/pkg/repository"
)

// Tenant is an isolated customer account
type Tenant struct{ *model.Entity }

func (Tenant) TypeName() string         { return TypeTenant }
func (t Tenant) Model() *model.Entity   { return t.Entity }
func (t Tenant) Name() (string, error)  { return t.String("name") }
func (t Tenant) Slug() (string, error)  { return t.String("slug") }
func (t Tenant) SetName(v string) error { return t.Set("name", v) }

// Company is an organization contacts and deals belong to
type Company struct{ *model.Entity }

func (Company) TypeName() string           { return TypeCompany }
func (c Company) Model() *model.Entity     { return c.Entity }
func (c Company) Name() (string, error)    { return c.String("name") }
func (c Company) Domain() (string, error)  { return c.String("domain") }
func (c Company) SetName(v string) error   { return c.Set("name", v) }
func (c Company) SetDomain(v string) error { return c.Set("domain", v) }

// Contacts returns the loaded contacts of the company
func (c Company) Contacts() (*model.ModelSet, error) { return c.Collection("contacts") }

// Deals returns the loaded deals of the company
func (c Company) Deals() (*model.ModelSet, error) { return c.Collection("deals") }

// Contact is a person tracked by a tenant
type Contact struct{ *model.Entity }

func (Contact) TypeName() string              { return TypeContact }
func (c Contact) Model() *model.Entity        { return c.Entity }
func (c Contact) FirstName() (string, error)  { return c.String("firstName") }
func (c Contact) LastName() (string, error)   { return c.String("lastName") }
func (c Contact) Email() (string, error)      { return c.String("email") }
func (c Contact) SetFirstName(v string) error { return c.Set("firstName", v) }
func (c Contact) SetLastName(v string) error  { return c.Set("lastName", v) }
func (c Contact) SetEmail(v string) error     { return c.Set("email", v) }

// FullName joins the loaded first and last names
func (c Contact) FullName() (string, error) {
	first, err := c.FirstName()
	if err != nil {
		return "", err
	}
	last, err := c.LastName()
	if err != nil {
		return "", err
	}
	if last == "" {
		return first, nil
	}
	return first + " " + last, nil
}

// Company returns the contact's company; nil when unset
func (c Contact) Company() (*Company, error) {
	e, err := c.Ref("company")
	if err != nil || e == nil {
		return nil, err
	}
	return &Company{e}, nil
}

// SetCompany moves the contact to a company, or detaches it when nil
func (c Contact) SetCompany(company *Company) error {
	if company == nil {
		return c.SetRef("company", nil)
	}
	return c.SetRef("company", company.Entity)
}

// Address returns the contact's owned address; nil when unset
func (c Contact) Address() (*Address, error) {
	e, err := c.Ref("address")
	if err != nil || e == nil {
		return nil, err
	}
	return &Address{e}, nil
}

// SetAddress replaces the contact's address
func (c Contact) SetAddress(a Address) error { return c.SetRef("address", a.Entity) }

// Notes returns the loaded notes owned by the contact
func (c Contact) Notes() (*model.ModelSet, error) { return c.Collection("notes") }

// Tags returns the loaded tags of the contact
func (c Contact) Tags() (*model.ModelSet, error) { return c.Collection("tags") }

// AddTag tags the contact, recording who added the tag
func (c Contact) AddTag(tag Tag, addedBy string) error {
	tags, err := c.Tags()
	if err != nil {
		return err
	}
	tags.Add(tag.Entity)
	if addedBy != "" {
		tags.Join(tag.Entity).Set("addedBy", addedBy)
	}
	return nil
}

// LinkTo adds a directed link from the contact to other. Each call adds
// its own link row, so the same pair may be linked more than once.
func (c Contact) LinkTo(other Contact, kind string, since time.Time) error {
	links, err := c.Collection("linksOut")
	if err != nil {
		return err
	}
	props := map[string]any{"kind": kind}
	if !since.IsZero() {
		props["since"] = since
	}
	links.AddWithJoin(other.Entity, model.NewJoinRow(props))
	return nil
}

// Address is a postal address owned by a contact
type Address struct{ *model.Entity }

func (Address) TypeName() string         { return TypeAddress }
func (a Address) Model() *model.Entity   { return a.Entity }
func (a Address) City() (string, error)  { return a.String("city") }
func (a Address) SetCity(v string) error { return a.Set("city", v) }

// Note is a free-text note owned by a contact
type Note struct{ *model.Entity }

func (Note) TypeName() string         { return TypeNote }
func (n Note) Model() *model.Entity   { return n.Entity }
func (n Note) Body() (string, error)  { return n.String("body") }
func (n Note) SetBody(v string) error { return n.Set("body", v) }

// Tag labels contacts
type Tag struct{ *model.Entity }

func (Tag) TypeName() string         { return TypeTag }
func (t Tag) Model() *model.Entity   { return t.Entity }
func (t Tag) Name() (string, error)  { return t.String("name") }
func (t Tag) SetName(v string) error { return t.Set("name", v) }

// Deal is a sales opportunity with a company
type Deal struct{ *model.Entity }

func (Deal) TypeName() string            { return TypeDeal }
func (d Deal) Model() *model.Entity      { return d.Entity }
func (d Deal) Title() (string, error)    { return d.String("title") }
func (d Deal) Stage() (string, error)    { return d.String("stage") }
func (d Deal) SetStage(v string) error   { return d.Set("stage", v) }
func (d Deal) SetAmount(v float64) error { return d.Set("amount", v) }

// Amount returns the deal value; zero when unset
func (d Deal) Amount() (float64, error) {
	v, err := d.Get("amount")
	if err != nil || v == nil {
		return 0, err
	}
	return v.(float64), nil
}

// TemplateAssignment assigns a template to exactly one user or role
type TemplateAssignment struct{ *model.Entity }

func (TemplateAssignment) TypeName() string       { return TypeTemplateAssignment }
func (a TemplateAssignment) Model() *model.Entity { return a.Entity }

// AssignToUser targets a user, clearing any role
func (a TemplateAssignment) AssignToUser(id identity.GUID) error {
	if err := a.Set("roleId", nil); err != nil {
		return err
	}
	return a.Set("userId", id)
}

// AssignToRole targets a role, clearing any user
func (a TemplateAssignment) AssignToRole(id identity.GUID) error {
	if err := a.Set("userId", nil); err != nil {
		return err
	}
	return a.Set("roleId", id)
}

var (
	_ repository.Entity = Tenant{}
	_ repository.Entity = Company{}
	_ repository.Entity = Contact{}
	_ repository.Entity = Address{}
	_ repository.Entity = Note{}
	_ repository.Entity = Tag{}
	_ repository.Entity = Deal{}
	_ repository.Entity = TemplateAssignment{}
)
