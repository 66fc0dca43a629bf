package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/dex/internal/identity"
	"github.com/ashureev/dex/internal/store"
)

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session>",
		Short: "Print a session's conversation",
		Long: `Print the stored turns of one session in the same "Human:" / "AI:" form
that is sent to the model as context.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid := identity.SanitizeSessionID(args[0])
			if sid == "" {
				return fmt.Errorf("invalid session id %q", args[0])
			}

			repo, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeStore(cmd, repo)

			turns, err := repo.Turns(cmd.Context(), sid)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}

			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), turns)
			}
			if len(turns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No history for this session.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), store.RenderContext(turns))
			return nil
		},
	}
}
