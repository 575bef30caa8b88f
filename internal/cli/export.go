package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/companion/internal/export"
)

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export what the companion knows about the user",
		Long: `Render the user's profile, activity timeline and memories as markdown or
JSON. Output goes to stdout unless --output is set.

Examples:
  companion export > jeanne.md
  companion export --format json --output jeanne.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, ok := export.Get(strings.ToLower(format))
			if !ok {
				return fmt.Errorf("unknown format %q; valid formats: %s",
					format, strings.Join(export.ValidFormats(), ", "))
			}

			a, err := openApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			result, err := exporter.Export(export.ExportData{
				UserID:     flags.user,
				Profile:    a.profiles.Get(ctx, flags.user),
				Timeline:   a.timeline.Snapshot(ctx, flags.user),
				Memories:   a.memories.Fetch(ctx, flags.user),
				ExportedAt: time.Now(),
			})
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), result)
				return nil
			}
			if err := os.WriteFile(output, []byte(result), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Output format: markdown or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}
