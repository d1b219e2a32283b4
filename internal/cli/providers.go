package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/playground/internal/config"
	"github.com/soyeahso/playground/internal/provider"
)

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show supported providers and their setup",
	}

	cmd.AddCommand(newProvidersListCmd())
	cmd.AddCommand(newProvidersInfoCmd())
	return cmd
}

// keyStatus describes where a provider's API key comes from.
func keyStatus(spec provider.Spec, cfg config.Config, stored string) string {
	switch {
	case configKeys(cfg)[spec.ID] != "":
		return "config"
	case stored != "":
		return "stored"
	case !spec.RequiresKey:
		return "not needed"
	default:
		return "missing"
	}
}

// capabilityList renders the capability flags that are set.
func capabilityList(c provider.Capabilities) string {
	var out []string
	if c.Chat {
		out = append(out, "chat")
	}
	if c.Streaming {
		out = append(out, "streaming")
	}
	if c.ToolCalling {
		out = append(out, "tools")
	}
	if c.Vision {
		out = append(out, "vision")
	}
	return strings.Join(out, ",")
}

func newProvidersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers, their models and key status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				def, _ := provider.ParseID(a.cfg.Defaults.Provider)
				for _, id := range a.providers.List() {
					spec, _ := provider.Lookup(id)
					stored, err := a.keys.GetKey(id)
					if err != nil {
						return err
					}
					marker := " "
					if id == def {
						marker = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %-11s %-34s %-22s key=%s\n",
						marker, id, modelFor(a.cfg, id), capabilityList(spec.Capabilities), keyStatus(spec, a.cfg, stored))
				}
				return nil
			})
		},
	}
}

func newProvidersInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <provider>",
		Short: "Show details about a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := provider.ParseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				spec, _ := provider.Lookup(id)
				stored, err := a.keys.GetKey(id)
				if err != nil {
					return err
				}
				base := spec.DefaultBaseURL
				entry := a.cfg.Providers[string(id)]
				if entry.BaseURL != "" {
					base = entry.BaseURL
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Provider:     %s (%s)\n", spec.Name, id)
				fmt.Fprintf(out, "Wire format:  %s\n", spec.Family)
				fmt.Fprintf(out, "Endpoint:     %s\n", base)
				fmt.Fprintf(out, "Model:        %s\n", modelFor(a.cfg, id))
				fmt.Fprintf(out, "Capabilities: %s\n", capabilityList(spec.Capabilities))
				fmt.Fprintf(out, "API key:      %s\n", keyStatus(spec, a.cfg, stored))
				if entry.RequestsPerMinute > 0 {
					fmt.Fprintf(out, "Rate limit:   %d req/min\n", entry.RequestsPerMinute)
				}
				return nil
			})
		},
	}
}
