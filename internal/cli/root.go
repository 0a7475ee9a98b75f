package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ammar0144/entity4go"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command of the entity4go CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "entity4go",
		Short:         "entity4go - CRM entity persistence",
		Long:          "Schema and connectivity tooling for the entity4go persistence engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "entity4go.yaml", "path to the YAML configuration")

	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))

	return cmd
}

// loadConfig reads and validates the configuration named by --config
func (o *RootOptions) loadConfig() (*entity4go.Config, error) {
	cfg, err := entity4go.LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", o.ConfigPath, err)
	}
	return cfg, nil
}
