package cli

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memvra/companion/internal/config"
)

func newSetupCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-time configuration",
		Long:  "Configure the reply generator, API keys, embeddings and the companion's name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Welcome! Let's configure your companion.")
			fmt.Fprintln(out)

			cfg, err := config.Load(flags.config)
			if err != nil {
				cfg = config.Default()
			}

			// Step 1: Choose the generator.
			fmt.Fprintln(out, "Which model should write the replies?")
			fmt.Fprintln(out, "  [1] Claude (Anthropic)")
			fmt.Fprintln(out, "  [2] OpenAI")
			fmt.Fprintln(out, "  [3] Ollama (local)")
			fmt.Fprintln(out, "  [4] Gemini (Google)")
			fmt.Fprintln(out, "  [5] None (fallback sentences only)")
			fmt.Fprint(out, "> ")

			switch readLineBuf(reader) {
			case "1":
				cfg.Generator.Provider = "claude"
				fmt.Fprint(out, "Enter your Anthropic API key (or press Enter to set ANTHROPIC_API_KEY later): ")
				if key := readLineBuf(reader); key != "" {
					cfg.Keys.Anthropic = key
				}
			case "2":
				cfg.Generator.Provider = "openai"
				fmt.Fprint(out, "Enter your OpenAI API key (or press Enter to set OPENAI_API_KEY later): ")
				if key := readLineBuf(reader); key != "" {
					cfg.Keys.OpenAI = key
				}
			case "3":
				cfg.Generator.Provider = "ollama"
			case "4":
				cfg.Generator.Provider = "gemini"
				fmt.Fprint(out, "Enter your Gemini API key (or press Enter to set GEMINI_API_KEY later): ")
				if key := readLineBuf(reader); key != "" {
					cfg.Keys.Gemini = key
				}
			case "5":
				cfg.Generator.Provider = providerNone
			default:
				fmt.Fprintln(out, "Unrecognized choice; defaulting to claude.")
				cfg.Generator.Provider = "claude"
			}

			fmt.Fprintln(out)

			// Step 2: Choose the embedding provider.
			fmt.Fprintln(out, "For memory relevance (semantic search), use:")
			fmt.Fprintln(out, "  [1] Local embeddings via Ollama (private, free, requires Ollama)")
			fmt.Fprintln(out, "  [2] OpenAI embeddings")
			fmt.Fprintln(out, "  [3] Gemini embeddings")
			fmt.Fprintln(out, "  [4] None (importance order only)")
			fmt.Fprint(out, "> ")

			switch readLineBuf(reader) {
			case "2":
				cfg.Embedding.Provider = "openai"
				cfg.Embedding.Dimension = 1536
				if cfg.Keys.OpenAI == "" {
					fmt.Fprint(out, "Enter your OpenAI API key: ")
					cfg.Keys.OpenAI = readLineBuf(reader)
				}
			case "3":
				cfg.Embedding.Provider = "gemini"
				cfg.Embedding.Dimension = 768
				if cfg.Keys.Gemini == "" {
					fmt.Fprint(out, "Enter your Gemini API key: ")
					cfg.Keys.Gemini = readLineBuf(reader)
				}
			case "4":
				cfg.Embedding.Provider = providerNone
			default:
				cfg.Embedding.Provider = "ollama"
			}
			if cfg.Generator.Provider == "ollama" || cfg.Embedding.Provider == "ollama" {
				fmt.Fprintf(out, "Ollama host (press Enter for %s): ", cfg.Ollama.Host)
				if host := readLineBuf(reader); host != "" {
					cfg.Ollama.Host = host
				}
			}

			fmt.Fprintln(out)

			// Step 3: Who is the companion?
			fmt.Fprintf(out, "Companion name (press Enter for %s): ", cfg.Prompt.CompanionName)
			if name := readLineBuf(reader); name != "" {
				cfg.Prompt.CompanionName = name
			}
			fmt.Fprint(out, "Where does the user live? (optional): ")
			if loc := readLineBuf(reader); loc != "" {
				cfg.Prompt.Location = loc
			}

			fmt.Fprintln(out)

			if err := config.Save(flags.config, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			path := flags.config
			if path == "" {
				path, _ = config.DefaultPath()
			}
			fmt.Fprintf(out, "Configuration saved to %s\n", path)
			fmt.Fprintln(out, "Run `companion chat` to get started.")
			return nil
		},
	}
}
