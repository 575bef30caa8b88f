package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	ctxpkg "github.com/memvra/companion/internal/context"
)

func newChatCmd(flags *globalFlags) *cobra.Command {
	var noAutoStart bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk with the companion interactively",
		Long: `Start a conversation. The companion speaks first, picking up where the
last conversation ended. Type /quit or press Ctrl-D to leave. Edits to the
[prompt] settings in the config file apply without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()
			go a.timeline.Run(ctx, 0)
			a.watchConfig(ctx, flags.config)

			out := cmd.OutOrStdout()
			interactive := isTerminal(cmd.InOrStdin())

			if !noAutoStart {
				if err := printTurn(ctx, out, a, flags, ctxpkg.AutoStart); err != nil {
					return err
				}
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				if interactive {
					fmt.Fprint(out, "you> ")
				}
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				}
				if err := printTurn(ctx, out, a, flags, line); err != nil {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().BoolVar(&noAutoStart, "no-auto-start", false, "Wait for the user to speak first")
	return cmd
}

func newSayCmd(flags *globalFlags) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "say <message>",
		Short: "Send one message and print the reply",
		Long: `Send a single message as the user and print the companion's reply.

Examples:
  companion say "Ma cousine a eu un bébé !"
  companion say --user jeanne "Je pars au Mexique le mois prochain"
  companion say "[AUTO_START]"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			reply, err := a.engine.Say(cmd.Context(), flags.user, flags.companion, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if verbose {
				errOut := cmd.ErrOrStderr()
				fmt.Fprintf(errOut, "topic: %s (%d)\n", reply.Topic.Topic, reply.Topic.Score)
				fmt.Fprintf(errOut, "remembered: %t | fallback: %t | tokens: %d\n",
					reply.Remembered, reply.Fallback, reply.Prompt.TokensUsed)
				for _, s := range reply.Prompt.Sources {
					fmt.Fprintf(errOut, "  • %s\n", s)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show topic, sources and token usage on stderr")
	return cmd
}

func newListenCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Reply to messages other processes store in the conversation",
		Long: `Watch the conversation between --user and --companion and answer every
new user message until interrupted. Edits to the [prompt] settings in the
config file apply without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()
			go a.timeline.Run(ctx, 0)
			a.watchConfig(ctx, flags.config)

			fmt.Fprintf(cmd.ErrOrStderr(), "Listening to %s and %s. Press Ctrl-C to stop.\n", flags.user, flags.companion)
			return a.engine.Listen(ctx, flags.user, flags.companion)
		},
	}
}

// printTurn prefixes the reply with the companion's current name, which a
// config reload may change mid-conversation.
func printTurn(ctx context.Context, out io.Writer, a *app, flags *globalFlags, text string) error {
	reply, err := a.engine.Say(ctx, flags.user, flags.companion, text)
	if err != nil {
		return err
	}
	name := a.engine.Ambient().CompanionName
	if name == "" {
		name = "companion"
	}
	fmt.Fprintf(out, "%s> %s\n", strings.ToLower(name), reply.Text)
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
