package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ammar0144/entity4go/pkg/crm"
	"github.com/ammar0144/entity4go/pkg/db"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing CRM tables in the configured database",
		Long: `Create every CRM entity table, join table and unique key that does not
exist yet. Existing tables are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			manager, err := db.NewManager(&cfg.Database)
			if err != nil {
				return err
			}
			defer manager.Close()

			reg, err := crm.NewRegistry()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if cfg.Database.QueryTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Database.QueryTimeout)
				defer cancel()
			}
			if err := manager.Migrate(ctx, reg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d types into %s\n", len(reg.Types()), cfg.Database.Database)
			return nil
		},
	}
}
