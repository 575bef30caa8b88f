package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/memvra/companion/internal/collector"
	"github.com/memvra/companion/internal/memory"
	"github.com/memvra/companion/internal/profile"
)

func newSweepCmd(flags *globalFlags) *cobra.Command {
	var (
		force bool
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Collect memories from the user's recent conversations",
		Long: `Scan the latest messages of every conversation the user takes part in and
remember the important ones. A sweep that ran less than the configured
interval ago is skipped unless --force is set.

Examples:
  companion sweep
  companion sweep --force
  companion sweep --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			run := a.collector.Sweep
			if force {
				run = a.collector.SweepNow
			}

			if !all {
				printSweep(out, flags.user, run(ctx, flags.user))
				return nil
			}

			users, err := a.knownUsers(ctx)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Fprintln(out, "No users known yet.")
				return nil
			}

			bar := progressbar.NewOptions(len(users),
				progressbar.OptionSetDescription("  Sweeping"),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionClearOnFinish(),
			)
			var total collector.Result
			for _, u := range users {
				res := run(ctx, u)
				total.Conversations += res.Conversations
				total.Scanned += res.Scanned
				total.Candidates += res.Candidates
				total.Stored += res.Stored
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			fmt.Fprintf(out, "Swept %d users: %d messages scanned, %d memories stored.\n",
				len(users), total.Scanned, total.Stored)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Ignore the minimum interval between sweeps")
	cmd.Flags().BoolVar(&all, "all", false, "Sweep every user with a stored profile or memories")
	return cmd
}

func printSweep(out io.Writer, userID string, res collector.Result) {
	if res.Skipped {
		fmt.Fprintf(out, "Sweep for %s skipped: the last one is too recent (use --force).\n", userID)
		return
	}
	fmt.Fprintf(out, "Swept %d conversations for %s: %d messages scanned, %d candidates, %d memories stored.\n",
		res.Conversations, userID, res.Scanned, res.Candidates, res.Stored)
}

// knownUsers lists the users with a stored profile or memory list.
func (a *app) knownUsers(ctx context.Context) ([]string, error) {
	var users []string
	for _, prefix := range []string{profile.Key(""), memory.Key("")} {
		keys, err := a.local.Keys(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if u := strings.TrimPrefix(k, prefix); u != "" {
				users = append(users, u)
			}
		}
	}
	slices.Sort(users)
	return slices.Compact(users), nil
}
