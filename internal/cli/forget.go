package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/companion/internal/memory"
)

func newForgetCmd(flags *globalFlags) *cobra.Command {
	var memID string
	var all bool

	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Remove specific memories or reset all",
		Long: `Remove memories stored for --user.

Examples:
  companion forget --id 2f1c9a3e-...
  companion forget --all
  companion forget`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			in := bufio.NewReader(cmd.InOrStdin())

			switch {
			case all:
				if !confirmPrompt(in, out, fmt.Sprintf("This will delete ALL memories of %s. Continue?", flags.user)) {
					fmt.Fprintln(out, "Aborted.")
					return nil
				}
				n := 0
				for _, m := range a.memories.Fetch(ctx, flags.user) {
					ok, err := a.memories.Forget(ctx, flags.user, m.ID)
					if err != nil {
						return fmt.Errorf("delete memories: %w", err)
					}
					if ok {
						n++
					}
				}
				fmt.Fprintf(out, "Deleted %d memories.\n", n)

			case memID != "":
				ok, err := a.memories.Forget(ctx, flags.user, memID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("memory %s not found", memID)
				}
				fmt.Fprintf(out, "Deleted memory %s.\n", memID)

			default:
				return forgetInteractive(ctx, a.memories, flags.user, in, out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&memID, "id", "", "Delete a specific memory by ID")
	cmd.Flags().BoolVar(&all, "all", false, "Delete all memories (requires confirmation)")

	return cmd
}

func forgetInteractive(ctx context.Context, store *memory.Store, userID string, in *bufio.Reader, out io.Writer) error {
	mems := memory.ByImportance(store.Fetch(ctx, userID))
	if len(mems) == 0 {
		fmt.Fprintln(out, "No memories stored.")
		return nil
	}

	fmt.Fprintf(out, "Stored memories (%d):\n\n", len(mems))
	for i, m := range mems {
		preview := m.Content
		if r := []rune(preview); len(r) > 80 {
			preview = string(r[:77]) + "..."
		}
		fmt.Fprintf(out, "  [%2d] %-24s %s\n", i+1, "["+m.Topic+"]", preview)
		fmt.Fprintf(out, "       id: %s\n", m.ID)
	}

	fmt.Fprint(out, "\nEnter memory number to delete (or 'q' to quit): ")
	line := readLineBuf(in)

	if line == "q" || line == "" {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	var idx int
	if _, err := fmt.Sscan(line, &idx); err != nil || idx < 1 || idx > len(mems) {
		return fmt.Errorf("invalid selection: %s", line)
	}

	m := mems[idx-1]
	if _, err := store.Forget(ctx, userID, m.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted: %q\n", m.Content)
	return nil
}

func printMemory(out io.Writer, m memory.Memory, now time.Time) {
	fmt.Fprintf(out, "[%d] %s: %s\n", m.Importance, m.Topic, m.Content)
	fmt.Fprintf(out, "    id: %s | context: %s | created: %s", m.ID, m.Context, m.CreatedAt.Format("2006-01-02 15:04"))
	if m.Deferred(now) {
		fmt.Fprintf(out, " | not before: %s", m.RemindAfter.Format("2006-01-02"))
	}
	fmt.Fprintln(out)
}

func confirmPrompt(in *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line := strings.ToLower(readLineBuf(in))
	return line == "y" || line == "yes"
}

// readLineBuf reads a trimmed line from a bufio.Reader.
func readLineBuf(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
