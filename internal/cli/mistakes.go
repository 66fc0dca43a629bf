package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ashureev/dex/internal/domain"
	"github.com/ashureev/dex/internal/identity"
)

func newMistakesCmd(opts *options) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "mistakes",
		Short: "List recorded mistakes",
		Long: `List mistakes from the ledger, oldest first.

Examples:
  dexctl mistakes
  dexctl mistakes --session <id>
  dexctl mistakes --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeStore(cmd, repo)

			ctx := cmd.Context()
			var mistakes []domain.Mistake
			if sessionID != "" {
				sid := identity.SanitizeSessionID(sessionID)
				if sid == "" {
					return fmt.Errorf("invalid session id %q", sessionID)
				}
				mistakes, err = repo.MistakesBySession(ctx, sid)
			} else {
				mistakes, err = repo.AllMistakes(ctx)
			}
			if err != nil {
				return fmt.Errorf("list mistakes: %w", err)
			}

			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), mistakes)
			}
			printMistakes(cmd.OutOrStdout(), mistakes)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "only show mistakes from this session")
	return cmd
}

func printMistakes(w io.Writer, mistakes []domain.Mistake) {
	if len(mistakes) == 0 {
		fmt.Fprintln(w, "No mistakes recorded.")
		return
	}
	for i, m := range mistakes {
		fmt.Fprintf(w, "%d. [%s] %s\n", i+1, m.Timestamp.UTC().Format(domain.TimestampLayout), m.SessionID)
		fmt.Fprintf(w, "   you wrote:  %s\n", m.UserInputSnippet)
		fmt.Fprintf(w, "   correction: %s\n", m.Correction)
		if m.MistakeType != "" {
			fmt.Fprintf(w, "   type:       %s\n", m.MistakeType)
		}
		if m.Explanation != "" {
			fmt.Fprintf(w, "   why:        %s\n", m.Explanation)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
