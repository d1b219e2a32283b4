package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/store"
)

// searcher is implemented by backends with full-text search.
type searcher interface {
	Search(ctx context.Context, query string, limit int) ([]store.SearchHit, error)
}

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "convs"},
		Short:   "List and manage saved conversations",
	}

	cmd.AddCommand(newConvListCmd())
	cmd.AddCommand(newConvShowCmd())
	cmd.AddCommand(newConvRenameCmd())
	cmd.AddCommand(newConvDeleteCmd())
	cmd.AddCommand(newConvForkCmd())
	cmd.AddCommand(newConvSearchCmd())
	cmd.AddCommand(newConvExportCmd())
	return cmd
}

// withApp opens the app for a short non-interactive command.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// resolveConversation finds a conversation by its 1-based position in
// convs or by a unique ID prefix. Short numbers are positions.
func resolveConversation(convs []domain.Conversation, ref string) (domain.Conversation, error) {
	ref = strings.TrimSpace(ref)
	if n, _, err := indexArg(ref); err == nil && len(ref) <= 4 && n <= len(convs) {
		return convs[n-1], nil
	}
	var found []domain.Conversation
	for _, c := range convs {
		if c.ID == ref {
			return c, nil
		}
		if ref != "" && strings.HasPrefix(c.ID, ref) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return domain.Conversation{}, fmt.Errorf("no conversation %q", ref)
	case 1:
		return found[0], nil
	default:
		return domain.Conversation{}, fmt.Errorf("conversation %q is ambiguous (%d matches)", ref, len(found))
	}
}

func newConvListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				p := newPrinter(cmd.OutOrStdout())
				convs := a.conv.List()
				if len(convs) == 0 {
					p.dim("no conversations")
					return nil
				}
				active := a.conv.Active()
				for i, c := range convs {
					p.conversation(i, c, c.ID == active)
				}
				return nil
			})
		},
	}
}

func newConvShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <n|id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				c, err := resolveConversation(a.conv.List(), args[0])
				if err != nil {
					return err
				}
				p := newPrinter(cmd.OutOrStdout())
				p.title("%s", c.Title)
				for i, m := range c.Messages {
					p.message(i, m)
				}
				return nil
			})
		},
	}
}

func newConvRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <n|id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				c, err := resolveConversation(a.conv.List(), args[0])
				if err != nil {
					return err
				}
				title := strings.Join(args[1:], " ")
				if err := a.conv.RenameConversation(c.ID, title); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", shortID(c.ID), title)
				return nil
			})
		},
	}
}

func newConvDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <n|id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				c, err := resolveConversation(a.conv.List(), args[0])
				if err != nil {
					return err
				}
				if err := a.conv.DeleteConversation(c.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", c.Title)
				return nil
			})
		},
	}
}

func newConvForkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fork <n|id> <message-number>",
		Short: "Copy a conversation up to and including a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				c, err := resolveConversation(a.conv.List(), args[0])
				if err != nil {
					return err
				}
				n, _, err := indexArg(args[1])
				if err != nil {
					return err
				}
				if n > len(c.Messages) {
					return fmt.Errorf("no message %d (conversation has %d)", n, len(c.Messages))
				}
				id, err := a.conv.Fork(c.ID, c.Messages[n-1].ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forked into %s\n", shortID(id))
				return nil
			})
		},
	}
}

func newConvSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over saved messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				s, ok := a.backend.(searcher)
				if !ok {
					return fmt.Errorf("search needs the sqlite storage backend (current: %s)", a.cfg.Storage.Backend)
				}
				hits, err := s.Search(cmd.Context(), strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				p := newPrinter(cmd.OutOrStdout())
				if len(hits) == 0 {
					p.dim("no matches")
					return nil
				}
				for _, h := range hits {
					p.title("%s  %s", shortID(h.ConversationID), h.Title)
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", h.Role, truncate(h.Snippet, 120))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of hits")
	return cmd
}

func newConvExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <n|id>",
		Short: "Print a conversation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				c, err := resolveConversation(a.conv.List(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(c)
			})
		},
	}
}
