package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/entity4go/pkg/crm"
	"github.com/ammar0144/entity4go/pkg/schema"
)

func TestCreateTableStatementsGolden(t *testing.T) {
	reg, err := crm.NewRegistry()
	require.NoError(t, err)

	stmts, err := CreateTableStatements(reg)
	require.NoError(t, err)
	require.Len(t, stmts, 10)

	golden(t).Assert(t, "crm_schema", []byte(strings.Join(stmts, ";\n\n")+";\n"))
}

func TestUniqueKeys(t *testing.T) {
	reg, err := crm.NewRegistry()
	require.NoError(t, err)

	keys := UniqueKeys(reg)
	assert.Equal(t, []string{"email"}, keys["contacts"]["uq_contacts_email"])
	assert.Equal(t, []string{"slug"}, keys["tenants"]["uq_tenants_slug"])
	// Both sides of the tag relation name the same key
	assert.Equal(t, map[string][]string{
		"uq_contact_tags_contact_id_tag_id": {"contact_id", "tag_id"},
	}, keys["contact_tags"])
	// Links carry their own identity, so the pair is not unique
	assert.NotContains(t, keys, "contact_links")
}

func TestCreateTableStatementsRejectsConflictingJoins(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(
		&schema.EntityType{
			Name:   "Left",
			Table:  "lefts",
			Fields: []schema.Field{{Name: "name"}},
			Relations: []schema.Relation{{
				Name: "rights", Target: "Right", Inverse: "lefts", Many: true,
				Join: &schema.JoinSpec{Table: "pairs", LocalColumn: "left_id", RemoteColumn: "right_id"},
			}},
		},
		&schema.EntityType{
			Name:   "Right",
			Table:  "rights",
			Fields: []schema.Field{{Name: "name"}},
			Relations: []schema.Relation{{
				Name: "lefts", Target: "Left", Inverse: "rights", Many: true,
				Join: &schema.JoinSpec{
					Table: "pairs", LocalColumn: "right_id", RemoteColumn: "left_id",
					Properties: []schema.Field{{Name: "weight", Type: schema.TypeInt}},
				},
			}},
		},
	))
	require.NoError(t, reg.Build())

	_, err := CreateTableStatements(reg)
	assert.ErrorContains(t, err, "pairs")
}
