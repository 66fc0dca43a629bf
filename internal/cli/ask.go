package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashureev/dex/internal/agent"
	"github.com/ashureev/dex/internal/config"
	"github.com/ashureev/dex/internal/identity"
	"github.com/ashureev/dex/internal/llm"
)

func newAskCmd(opts *options) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Send one message through the tutor",
		Long: `Send one message through the orchestrator, exactly as the chat endpoint
would, and print the cleaned answer. Reuse --session to continue a
conversation; the session id is printed on stderr.

Examples:
  dexctl ask "Help me learn French, beginner level"
  dexctl ask --session <id> "show me my mistakes this session"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("query is required")
			}

			sid := uuid.NewString()
			if sessionID != "" {
				if sid = identity.SanitizeSessionID(sessionID); sid == "" {
					return fmt.Errorf("invalid session id %q", sessionID)
				}
			}

			cfg, gateway, err := opts.modelGateway(cmd)
			if err != nil {
				return err
			}

			repo, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeStore(cmd, repo)

			svc, err := agent.NewService(agent.Deps{
				Gateway:           gateway,
				Store:             repo,
				Model:             cfg.LLM.Model,
				ChatTemperature:   cfg.LLM.ChatTemperature,
				ReviewTemperature: cfg.LLM.ReviewTemperature,
			})
			if err != nil {
				return err
			}

			reply := svc.Handle(cmd.Context(), query, sid)
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sid)

			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"response": reply, "session_id": sid})
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue this session")
	return cmd
}

func (o *options) modelGateway(cmd *cobra.Command) (*config.Config, llm.Gateway, error) {
	if o.gateway != nil {
		return config.Default(), o.gateway, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	gateway, err := llm.NewGateway(cmd.Context(), cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("init model gateway: %w", err)
	}
	return cfg, gateway, nil
}
