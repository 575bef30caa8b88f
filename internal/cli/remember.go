package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/companion/internal/analysis"
	"github.com/memvra/companion/internal/memory"
)

func newRememberCmd(flags *globalFlags) *cobra.Command {
	var (
		topic      string
		importance int
	)

	cmd := &cobra.Command{
		Use:   "remember <statement>",
		Short: "Store something the companion should remember about the user",
		Long: `Manually save a memory for --user. Topic and importance are derived from
the statement unless given.

Examples:
  companion remember "Rendez-vous chez le médecin dans 3 jours"
  companion remember "Her granddaughter is called Rose" --topic "your granddaughter" --importance 7`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			statement := strings.Join(args, " ")

			a, err := openApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			score := analysis.Score(statement)
			if topic == "" {
				topic = score.Topic
			}
			if importance == 0 {
				importance = score.Score
			}

			stored, err := a.memories.Remember(cmd.Context(), flags.user, topic, statement, importance)
			if err != nil {
				return fmt.Errorf("store memory: %w", err)
			}

			out := cmd.OutOrStdout()
			if !stored {
				if a.memories.Knows(cmd.Context(), flags.user, topic) {
					fmt.Fprintf(out, "Already remembered recently: %s\n", topic)
				} else {
					fmt.Fprintf(out, "Not stored: %s is outranked by more important memories\n", topic)
				}
				return nil
			}
			for _, m := range a.memories.Fetch(cmd.Context(), flags.user) {
				if m.Topic == topic && m.Content == statement {
					printMemory(out, m, time.Now())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Topic label (auto-detected if not set)")
	cmd.Flags().IntVarP(&importance, "importance", "i", 0, "Importance from 1 to 10 (auto-detected if not set)")

	return cmd
}

func newMemoriesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "memories",
		Short: "List what the companion remembers about the user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			mems := memory.ByImportance(a.memories.Fetch(cmd.Context(), flags.user))
			out := cmd.OutOrStdout()
			if len(mems) == 0 {
				fmt.Fprintln(out, "No memories stored.")
				return nil
			}
			fmt.Fprintf(out, "Memories for %s (%d):\n\n", flags.user, len(mems))
			now := time.Now()
			for _, m := range mems {
				printMemory(out, m, now)
			}
			return nil
		},
	}
}
