package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/playground/internal/engine"
)

func newSendCmd() *cobra.Command {
	var (
		providerName string
		model        string
		system       string
		images       []string
		fresh        bool
		noTools      bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message and stream the reply",
		Long: "Send one message in the active conversation and stream the reply.\n" +
			"Use \"-\" as the message to read it from stdin.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := messageText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			settings, err := resolveSettings(a.cfg)
			if err != nil {
				return err
			}
			if err := applyOverrides(a, &settings, providerName, model); err != nil {
				return err
			}
			if system != "" {
				settings.System = system
			}
			if noTools {
				settings.ToolsEnabled = false
			}

			in := engine.Input{Text: text}
			for _, path := range images {
				part, err := readImage(path)
				if err != nil {
					return err
				}
				in.Images = append(in.Images, part)
			}

			var convID string
			if fresh {
				convID = a.conv.CreateConversation()
			} else {
				convID = a.currentConversation()
			}
			start := func() (*engine.Session, error) {
				return a.coord.Send(ctx, convID, in, settings)
			}

			if asJSON {
				sess, err := start()
				if err != nil {
					return err
				}
				return writeResult(cmd.OutOrStdout(), sess.Wait())
			}

			out := newPrinter(cmd.OutOrStdout())
			s := newStreamer(a, out)
			defer s.Close()
			res, err := s.run(convID, settings.Model, start)
			if err != nil {
				return err
			}
			if res.Status == engine.StatusFailed {
				return res.Err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "provider (overrides config)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model name (overrides config)")
	cmd.Flags().StringVar(&system, "system", "", "system prompt for this request")
	cmd.Flags().StringArrayVar(&images, "image", nil, "attach an image file (repeatable)")
	cmd.Flags().BoolVar(&fresh, "new", false, "send in a new conversation")
	cmd.Flags().BoolVar(&noTools, "no-tools", false, "disable tool calling")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session result as JSON instead of streaming")
	return cmd
}

// messageText joins args, reading stdin when the only arg is "-".
func messageText(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		args = []string{string(data)}
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", fmt.Errorf("empty message")
	}
	return text, nil
}

type resultJSON struct {
	engine.Result
	Error string `json:"error,omitempty"`
}

func writeResult(w io.Writer, res engine.Result) error {
	out := resultJSON{Result: res}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if res.Status == engine.StatusFailed {
		return res.Err
	}
	return nil
}
