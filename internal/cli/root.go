// Package cli defines the Cobra command tree for the companion CLI.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	config    string
	user      string
	companion string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "companion",
		Short: "Memory and context engine for a virtual companion",
		Long: `Companion keeps track of what a user tells their virtual companion:
what they plan, what they did, how they feel and what matters to them.

Each turn it builds a bounded prompt from that knowledge and asks the
configured generator for the reply, falling back to a context-aware
sentence when the generator is unavailable.

Run 'companion setup' to configure a generator, then 'companion chat'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "Config file (default ~/.config/companion/config.toml)")
	pf.StringVarP(&flags.user, "user", "u", envOr("COMPANION_USER", "me"), "User id")
	pf.StringVarP(&flags.companion, "companion", "c", envOr("COMPANION_ID", "lea"), "Companion id")

	root.AddCommand(
		newChatCmd(flags),
		newSayCmd(flags),
		newListenCmd(flags),
		newPromptCmd(flags),
		newAnalyzeCmd(),
		newMemoriesCmd(flags),
		newRememberCmd(flags),
		newForgetCmd(flags),
		newProfileCmd(flags),
		newTimelineCmd(flags),
		newSweepCmd(flags),
		newExportCmd(flags),
		newMCPCmd(flags),
		newStatusCmd(flags),
		newSetupCmd(flags),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute(v, c, d string) {
	version, commit, date = v, c, d
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "companion %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
