package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/phrazzld/hearth/internal/platform/sqlite"
	"github.com/phrazzld/hearth/internal/syncer"
	"github.com/spf13/cobra"
)

// ErrNoCache is returned by status when no cache path is configured.
var ErrNoCache = errors.New("status requires cache.path; an in-memory cache is not persisted")

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	JSON bool
}

// NewStatusCommand creates the status command. It reads the persisted
// queue directly from the cache so it works while the engine is stopped.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show operations waiting to be synchronized",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Cache.Path == "" {
				return ErrNoCache
			}

			c, err := sqlite.Open(cfg.Cache.Path)
			if err != nil {
				return err
			}
			defer c.Close()

			ops, err := syncer.LoadPersisted(cmd.Context(), c)
			if err != nil {
				return fmt.Errorf("failed to read sync queue: %w", err)
			}
			if opts.JSON {
				return writeStatusJSON(cmd.OutOrStdout(), ops)
			}
			return writeStatusText(cmd.OutOrStdout(), ops)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print operations as JSON")
	return cmd
}

type statusReport struct {
	Queued     int                `json:"queued"`
	Operations []syncer.Operation `json:"operations"`
}

func writeStatusJSON(w io.Writer, ops []syncer.Operation) error {
	if ops == nil {
		ops = []syncer.Operation{}
	}
	for i := range ops {
		ops[i].State = nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(statusReport{Queued: len(ops), Operations: ops})
}

func writeStatusText(w io.Writer, ops []syncer.Operation) error {
	if len(ops) == 0 {
		_, err := fmt.Fprintln(w, "Nothing waiting to sync.")
		return err
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].EnqueuedAt.Before(ops[j].EnqueuedAt) })

	if _, err := fmt.Fprintf(w, "%d operation(s) waiting to sync:\n\n", len(ops)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tKIND\tACTOR\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
	for _, op := range ops {
		next := "now"
		if !op.NextAttemptAt.IsZero() {
			next = op.NextAttemptAt.UTC().Format(time.RFC3339)
		}
		actor := op.Actor
		if actor == "" {
			actor = "-"
		}
		lastErr := op.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", op.Key(), op.Kind, actor, op.Attempt, next, lastErr)
	}
	return tw.Flush()
}
