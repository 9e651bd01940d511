package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/hearth/internal/engine"
	"github.com/phrazzld/hearth/internal/platform/postgres"
	"github.com/spf13/cobra"
)

// ErrNoPostgres is returned by migrate when the remote store is not Postgres.
var ErrNoPostgres = errors.New("migrate requires remote.driver=postgres and remote.url")

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [" + strings.Join(postgres.MigrationCommands, "|") + "]",
		Short: "Manage the remote Postgres schema",
		Long: `Apply or inspect migrations of the remote document store schema.

The command defaults to "up".

Example:
  HEARTH_REMOTE_DRIVER=postgres HEARTH_REMOTE_URL=postgres://... hearth migrate
  hearth migrate status --config hearth.yaml`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: postgres.MigrationCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}

			cfg, log, err := rootOpts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Remote.Driver != engine.DriverPostgres || cfg.Remote.URL == "" {
				return ErrNoPostgres
			}

			if err := postgres.Migrate(cmd.Context(), cfg.Remote.URL, command, log); err != nil {
				return fmt.Errorf("migrate %s: %w", command, err)
			}
			return nil
		},
	}
}
