// Package cli implements the hearth command line: serve, migrate and status.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/hearth/internal/config"
	"github.com/phrazzld/hearth/internal/platform/logger"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the hearth CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "hearth",
		Short: "Local-first sync engine for family tasks, goals and penalties",
		Long: `hearth keeps a family's tasks, goals, penalties and achievements in a
local store, applies every change immediately and synchronizes it with a
remote document store in the background.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a config file (default ./hearth.yaml if present)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// load reads configuration and sets up logging to logOut.
func (o *RootOptions) load(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFrom(o.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.Verbose {
		cfg.Server.LogLevel = "debug"
	}
	log, err := logger.SetupWriter(cfg.Server, logOut)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, log, nil
}
