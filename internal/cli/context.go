package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPromptCmd(flags *globalFlags) *cobra.Command {
	var section string

	cmd := &cobra.Command{
		Use:     "prompt <message>",
		Aliases: []string{"context"},
		Short:   "Show the prompt a message would produce, without sending it",
		Long: `Assemble the generator prompt for a message as a dry run: nothing is
stored, no state changes and the generator is not called.

Sections: system, context, all

Examples:
  companion prompt "Non"
  companion prompt "[AUTO_START]" --section system`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.engine.Preview(cmd.Context(), flags.user, flags.companion, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch section {
			case "system":
				fmt.Fprintln(out, p.SystemText())
			case "context":
				fmt.Fprintln(out, p.Context)
			case "", "all":
				fmt.Fprintln(out, "=== System Prompt ===")
				fmt.Fprintln(out, p.SystemText())
				fmt.Fprintln(out, "=== Context ===")
				fmt.Fprintln(out, p.Context)
				fmt.Fprintln(out, "=== User Message ===")
				fmt.Fprintln(out, p.UserMessage)
				fmt.Fprintf(out, "\n--- %d tokens | %s ---\n", p.TokensUsed, strings.Join(p.Sources, ", "))
			default:
				return fmt.Errorf("unknown section %q (valid: system, context, all)", section)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&section, "section", "s", "all", "Section to print: system, context or all")
	return cmd
}
