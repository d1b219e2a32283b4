package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/soyeahso/playground/internal/config"
	"github.com/soyeahso/playground/internal/provider"
	"github.com/soyeahso/playground/internal/store"
	"github.com/soyeahso/playground/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show playground status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Playground %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			d := cfg.Defaults
			model := d.Model
			if id, err := provider.ParseID(d.Provider); err == nil && model == "" {
				model = modelFor(cfg, id)
			}
			fmt.Fprintf(out, "Chat:    provider=%s model=%s temperature=%g maxTokens=%d tools=%v\n",
				d.Provider, model, d.Temperature, d.MaxTokens, d.ToolsEnabled)
			fmt.Fprintf(out, "Engine:  maxToolRounds=%d stallTimeout=%s\n",
				cfg.Engine.MaxToolRounds, cfg.Engine.StallTimeout())

			storagePath := paths.StoragePath(cfg.Storage)
			fmt.Fprintf(out, "Storage: backend=%s path=%s\n", cfg.Storage.Backend, storagePath)
			if cfg.Storage.Backend == store.BackendSQLite {
				if _, err := os.Stat(storagePath); err == nil {
					if db, err := store.OpenSQLite(storagePath, log); err == nil {
						if v, err := db.SchemaVersion(); err == nil {
							fmt.Fprintf(out, "Schema:  v%d\n", v)
						}
						db.Close()
					}
				}
			}

			names := make([]string, 0, len(cfg.Providers))
			for name := range cfg.Providers {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				p := cfg.Providers[name]
				key := "no"
				if p.APIKey != "" {
					key = "yes"
				}
				fmt.Fprintf(out, "Provider: %s baseUrl=%s model=%s configKey=%s\n", name, p.BaseURL, p.Model, key)
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
