package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ammar0144/entity4go/pkg/crm"
	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/schema"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(_ *RootOptions) *cobra.Command {
	var describe bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the CREATE TABLE statements of the CRM schema",
		Long: `Print the MySQL DDL for every entity table and join table of the
CRM schema. With --describe, print the entity types, their fields and the
shape of every relation instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := crm.NewRegistry()
			if err != nil {
				return err
			}
			if describe {
				return describeRegistry(cmd.OutOrStdout(), reg)
			}
			stmts, err := db.CreateTableStatements(reg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(stmts, ";\n\n")+";")
			return err
		},
	}

	cmd.Flags().BoolVarP(&describe, "describe", "d", false, "describe types and relations instead of printing DDL")

	return cmd
}

func describeRegistry(w io.Writer, reg *schema.Registry) error {
	types := reg.Types()
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })

	var b strings.Builder
	for _, t := range types {
		fmt.Fprintf(&b, "%s (%s)\n", t.Name, t.Table)
		for _, f := range t.Fields {
			fmt.Fprintf(&b, "  %-12s %-6s %s\n", f.Name, f.Type, f.Kind)
		}
		for i := range t.Relations {
			rel := &t.Relations[i]
			fmt.Fprintf(&b, "  %-12s -> %s %s\n", rel.Name, rel.Target, rel.Shape())
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
