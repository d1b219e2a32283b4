// Package cli implements the playground command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/soyeahso/playground/internal/config"
	"github.com/soyeahso/playground/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	noColor  bool

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playground",
		Short: "Chat with many AI model providers from the terminal",
		Long: "Playground streams chats against OpenAI-compatible, Anthropic, Gemini, Ollama and Cohere APIs,\n" +
			"runs local tools the model asks for, and keeps forkable conversation history on disk.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "warn"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.playground/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newProvidersCmd())
	cmd.AddCommand(newKeysCmd())
	cmd.AddCommand(newConversationsCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newSendCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
