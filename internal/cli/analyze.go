package cli

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvra/companion/internal/analysis"
)

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <message>",
		Short: "Print the signals and topic score detected in a message",
		Long: `Run the message analyzer and topic scorer on a message and print the
result as JSON. Nothing is stored.

Example:
  companion analyze "Je suis malade depuis hier"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Analysis analysis.Analysis   `json:"analysis"`
				Topic    analysis.TopicScore `json:"topic"`
			}{analysis.Analyze(text), analysis.Score(text)})
		},
	}
}
