package cli

import (
	"fmt"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/soyeahso/playground/internal/provider"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored provider API keys",
		Long: "Manage API keys kept in local storage. Keys set in the config file\n" +
			"(providers.<id>.apiKey) take precedence over stored keys.",
	}

	cmd.AddCommand(newKeysSetCmd())
	cmd.AddCommand(newKeysUnsetCmd())
	cmd.AddCommand(newKeysListCmd())
	return cmd
}

// maskKey hides all but the edges of a key.
func maskKey(k string) string {
	if len(k) <= 8 {
		return strings.Repeat("*", len(k))
	}
	return k[:3] + "…" + k[len(k)-4:]
}

func readSecret(prompt string) (string, error) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	return line.PasswordPrompt(prompt)
}

func newKeysSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <provider> [key]",
		Short: "Store an API key (prompts when the key is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := provider.ParseID(args[0])
			if err != nil {
				return err
			}
			var key string
			if len(args) == 2 {
				key = args[1]
			} else {
				key, err = readSecret(fmt.Sprintf("%s API key: ", id))
				if err != nil {
					return err
				}
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return fmt.Errorf("empty key")
			}
			return withApp(cmd, func(a *app) error {
				if err := a.keys.SetKey(id, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored key for %s (%s)\n", id, maskKey(key))
				return nil
			})
		},
	}
}

func newKeysUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <provider>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := provider.ParseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				if err := a.keys.DeleteKey(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed key for %s\n", id)
				return nil
			})
		},
	}
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers with a stored key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				n := 0
				for _, id := range provider.All() {
					k, err := a.keys.GetKey(id)
					if err != nil {
						return err
					}
					if k == "" {
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  %-11s %s\n", id, maskKey(k))
					n++
				}
				if n == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "  (no stored keys)")
				}
				return nil
			})
		},
	}
}
