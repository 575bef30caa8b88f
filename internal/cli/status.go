package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/companion/internal/memory"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage, providers and what is known about the user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var dbSize int64
			if fi, err := os.Stat(a.cfg.Storage.Path); err == nil {
				dbSize = fi.Size()
			}

			generator := "none (fallback replies)"
			if a.llm != nil {
				info := a.llm.Info()
				generator = fmt.Sprintf("%s (%s)", info.Provider, info.Name)
			}
			vectors := "off"
			if a.embed != nil && a.vectors.Enabled() {
				vectors = fmt.Sprintf("%s, %d dimensions", a.cfg.Embedding.Provider, a.cfg.Embedding.Dimension)
			}
			remoteTier := "off"
			if a.pool != nil {
				remoteTier = "connected"
			} else if a.cfg.Storage.PostgresDSN != "" {
				remoteTier = "unreachable"
			}

			mems := a.memories.Fetch(ctx, flags.user)
			convs, err := a.convs.ConversationsFor(ctx, flags.user)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\nUser:          %s (companion %s)\n", flags.user, flags.companion)
			fmt.Fprintf(out, "Memories:      %d (%d waiting for their date)\n", len(mems), len(memory.Deferred(mems, time.Now())))
			fmt.Fprintf(out, "Conversations: %d\n", len(convs))
			fmt.Fprintf(out, "Generator:     %s\n", generator)
			fmt.Fprintf(out, "Embeddings:    %s\n", vectors)
			fmt.Fprintf(out, "Remote store:  %s\n", remoteTier)
			fmt.Fprintf(out, "Database:      %s (%s)\n", a.cfg.Storage.Path, formatBytes(dbSize))
			fmt.Fprintln(out)
			return nil
		},
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
