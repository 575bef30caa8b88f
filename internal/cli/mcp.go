package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/memvra/companion/internal/mcp"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory and prompt tools over MCP (stdio)",
		Long: `Start a Model Context Protocol server on stdin/stdout so MCP clients can
analyze messages, read and write memories and preview prompts.

Logs go to stderr; stdout carries the protocol only. Edits to the [prompt]
settings in the config file apply without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()
			a.watchConfig(ctx, flags.config)

			srv := mcp.NewServer(mcp.Deps{
				Engine:   a.engine,
				Memories: a.memories,
				Profiles: a.profiles,
				Timeline: a.timeline,
			})
			return srv.Serve(ctx, version, os.Stdin, os.Stdout)
		},
	}
}
