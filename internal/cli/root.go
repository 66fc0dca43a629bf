// Package cli provides the dexctl operator command line.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/dex/internal/config"
	"github.com/ashureev/dex/internal/llm"
	"github.com/ashureev/dex/internal/store"
)

// Version is set at build time.
var Version = "0.1.0"

type options struct {
	dbPath  string
	jsonOut bool

	// gateway replaces the configured model provider when set.
	gateway llm.Gateway
}

// NewRootCmd builds the dexctl command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "dexctl",
		Short: "Inspect and talk to the Dex tutoring backend",
		Long: `dexctl reads the mistake ledger and conversation history that the Dex
server records, and can send one-off questions through the same orchestrator.

Examples:
  dexctl mistakes
  dexctl mistakes --session 2b6f0c1e-3c1a-4a57-8d3e-6f1b1c9f0d2a
  dexctl history 2b6f0c1e-3c1a-4a57-8d3e-6f1b1c9f0d2a
  dexctl ask "Help me learn French, beginner level"`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			_ = godotenv.Load()
			if opts.dbPath == "" {
				opts.dbPath = envOr("DB_PATH", config.Default().DBPath)
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (default $DB_PATH or ./data/dex.db)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of text")

	root.AddCommand(newMistakesCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newAskCmd(opts))

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (o *options) openStore() (*store.SQLiteStore, error) {
	repo, err := store.NewSQLite(o.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", o.dbPath, err)
	}
	return repo, nil
}

func closeStore(cmd *cobra.Command, repo *store.SQLiteStore) {
	if err := repo.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close database: %v\n", err)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
