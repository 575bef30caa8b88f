package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	ctxpkg "github.com/memvra/companion/internal/context"
	"github.com/memvra/companion/internal/profile"
)

func newProfileCmd(flags *globalFlags) *cobra.Command {
	var (
		asJSON bool
		name   string
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show what the companion knows about the user's situation",
		Long: `Show the user's health, mood, living situation and latest important event.

Examples:
  companion profile
  companion profile --json
  companion profile --name Jeanne`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if name != "" {
				a.profiles.Update(ctx, flags.user, profile.Patch{FirstName: &name})
			}
			p := a.profiles.Get(ctx, flags.user)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}
			text := ctxpkg.NewFormatter().FormatProfile(p)
			if text == "" {
				fmt.Fprintf(out, "Nothing notable known about %s yet.\n", flags.user)
				return nil
			}
			fmt.Fprintln(out, text)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw profile as JSON")
	cmd.Flags().StringVar(&name, "name", "", "Set the user's first name")
	return cmd
}

func newTimelineCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show the user's planned, ongoing and finished activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			tl := a.timeline.Snapshot(cmd.Context(), flags.user)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(tl)
			}
			fmt.Fprintln(out, ctxpkg.NewFormatter().FormatActivities(tl))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw timeline as JSON")
	return cmd
}
