package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/engine"
	"github.com/soyeahso/playground/internal/provider"
	"github.com/soyeahso/playground/internal/tools"
)

// maxImageBytes bounds attachments read from disk.
const maxImageBytes = 20 << 20

var errQuit = errors.New("quit")

func newChatCmd() *cobra.Command {
	var (
		providerName string
		model        string
		fresh        bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: "Start an interactive chat. Type a message to send it, or /help for commands.\n" +
			"Ctrl-C stops a streaming reply; Ctrl-D or /quit exits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lr := newLineReader(paths.History)
			defer lr.Close()

			a, err := openApp(cmd.Context(), lr.prompter(cmd.OutOrStdout()))
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

			r := &repl{app: a, in: lr, out: newPrinter(cmd.OutOrStdout()), settings: settings}
			r.stream = newStreamer(a, r.out)
			defer r.stream.Close()
			if fresh {
				a.conv.CreateConversation()
			}
			return r.loop(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "provider to chat with (overrides config)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model name (overrides config)")
	cmd.Flags().BoolVar(&fresh, "new", false, "start a new conversation instead of resuming the last one")
	return cmd
}

// applyOverrides applies --provider and --model flags to settings.
func applyOverrides(a *app, s *engine.Settings, providerName, model string) error {
	if providerName != "" {
		id, err := provider.ParseID(providerName)
		if err != nil {
			return err
		}
		s.Provider = id
		s.Model = modelFor(a.cfg, id)
	}
	if model != "" {
		s.Model = model
	}
	return nil
}

// lineReader wraps liner with a persistent history file.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader(historyFile string) *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	lr := &lineReader{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return lr
}

func (lr *lineReader) Prompt(prompt string) (string, error) {
	input, err := lr.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		lr.line.AppendHistory(input)
	}
	return input, nil
}

func (lr *lineReader) Password(prompt string) (string, error) {
	return lr.line.PasswordPrompt(prompt)
}

// prompter answers ask_human from the terminal.
func (lr *lineReader) prompter(out io.Writer) tools.HumanPrompter {
	return tools.PrompterFunc(func(ctx context.Context, question string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		infoColor.Fprintf(out, "\n? %s\n", question)
		return lr.line.Prompt("answer> ")
	})
}

func (lr *lineReader) Close() {
	if f, err := os.OpenFile(lr.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
		lr.line.WriteHistory(f)
		f.Close()
	}
	lr.line.Close()
}

type command struct {
	usage string
	help  string
	run   func(r *repl, arg string) error
}

// repl is the interactive chat loop.
type repl struct {
	app      *app
	in       *lineReader
	out      *printer
	stream   *streamer
	settings engine.Settings
	pending  []domain.ContentPart // images attached to the next message
}

func (r *repl) loop(ctx context.Context) error {
	r.banner()
	for {
		input, err := r.in.Prompt(r.promptText())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out.out)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			name, arg := splitCommand(input)
			cmd, ok := commands()[name]
			if !ok {
				r.out.errorf("unknown command %s (try /help)", name)
				continue
			}
			if err := cmd.run(r, arg); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				r.out.errorf("%v", err)
			}
			continue
		}

		if err := r.send(ctx, input); err != nil {
			r.out.errorf("%v", err)
		}
	}
}

func (r *repl) banner() {
	r.out.title("Playground chat: %s / %s", r.settings.Provider, r.settings.Model)
	r.out.dim("/help for commands, Ctrl-C stops a reply, Ctrl-D exits")
	id := r.app.currentConversation()
	if c, err := r.app.conv.Get(id); err == nil && len(c.Messages) > 0 {
		r.out.dim("resuming %q (%d messages)", c.Title, len(c.Messages))
	}
}

func (r *repl) promptText() string {
	if n := len(r.pending); n > 0 {
		return fmt.Sprintf("you [%d img]> ", n)
	}
	return "you> "
}

func (r *repl) send(ctx context.Context, text string) error {
	convID := r.app.currentConversation()
	in := engine.Input{Text: text, Images: r.pending}
	_, err := r.stream.run(convID, r.settings.Model, func() (*engine.Session, error) {
		return r.app.coord.Send(ctx, convID, in, r.settings)
	})
	if err == nil {
		r.pending = nil
	}
	return err
}

func (r *repl) conversation() (domain.Conversation, error) {
	return r.app.conv.Get(r.app.currentConversation())
}

// message resolves a 1-based message number in the active conversation.
func (r *repl) message(n int) (domain.Conversation, domain.Message, error) {
	c, err := r.conversation()
	if err != nil {
		return c, domain.Message{}, err
	}
	if n < 1 || n > len(c.Messages) {
		return c, domain.Message{}, fmt.Errorf("no message %d (conversation has %d)", n, len(c.Messages))
	}
	return c, c.Messages[n-1], nil
}

// splitCommand splits "/name rest of line" into "/name" and "rest of line".
func splitCommand(input string) (string, string) {
	name, rest, _ := strings.Cut(strings.TrimSpace(input), " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

// indexArg parses a leading 1-based index and returns the remaining text.
func indexArg(arg string) (int, string, error) {
	first, rest, _ := strings.Cut(strings.TrimSpace(arg), " ")
	if first == "" {
		return 0, "", errors.New("missing message number")
	}
	n, err := strconv.Atoi(first)
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf("invalid message number %q", first)
	}
	return n, strings.TrimSpace(rest), nil
}

// readImage loads an image file as a data URL content part.
func readImage(path string) (domain.ContentPart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ContentPart{}, err
	}
	if len(data) > maxImageBytes {
		return domain.ContentPart{}, fmt.Errorf("%s is larger than %d MiB", path, maxImageBytes>>20)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return domain.ContentPart{}, fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return domain.ContentPart{
		Type:     domain.PartImage,
		ImageURL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		MimeType: mime,
	}, nil
}

func commands() map[string]command {
	return map[string]command{
		"/help": {"/help", "show this help", func(r *repl, _ string) error {
			cmds := commands()
			names := make([]string, 0, len(cmds))
			for n := range cmds {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				fmt.Fprintf(r.out.out, "  %-26s %s\n", cmds[n].usage, cmds[n].help)
			}
			return nil
		}},
		"/quit": {"/quit", "exit", func(*repl, string) error { return errQuit }},
		"/exit": {"/exit", "exit", func(*repl, string) error { return errQuit }},

		"/new": {"/new", "start a new conversation", func(r *repl, _ string) error {
			r.app.conv.CreateConversation()
			r.out.info("new conversation")
			return nil
		}},
		"/list": {"/list", "list conversations", func(r *repl, _ string) error {
			active := r.app.conv.Active()
			for i, c := range r.app.conv.List() {
				r.out.conversation(i, c, c.ID == active)
			}
			return nil
		}},
		"/open": {"/open <n>", "switch to conversation n from /list", func(r *repl, arg string) error {
			n, _, err := indexArg(arg)
			if err != nil {
				return err
			}
			convs := r.app.conv.List()
			if n > len(convs) {
				return fmt.Errorf("no conversation %d", n)
			}
			if err := r.app.conv.SetActive(convs[n-1].ID); err != nil {
				return err
			}
			r.out.info("opened %q", convs[n-1].Title)
			return nil
		}},
		"/rename": {"/rename <title>", "rename the conversation", func(r *repl, arg string) error {
			if arg == "" {
				return errors.New("missing title")
			}
			return r.app.conv.RenameConversation(r.app.currentConversation(), arg)
		}},
		"/rm": {"/rm", "delete the conversation", func(r *repl, _ string) error {
			if err := r.app.conv.DeleteConversation(r.app.currentConversation()); err != nil {
				return err
			}
			if convs := r.app.conv.List(); len(convs) > 0 {
				return r.app.conv.SetActive(convs[0].ID)
			}
			return nil
		}},
		"/history": {"/history", "show the conversation", func(r *repl, _ string) error {
			c, err := r.conversation()
			if err != nil {
				return err
			}
			r.out.title("%s", c.Title)
			for i, m := range c.Messages {
				r.out.message(i, m)
			}
			return nil
		}},

		"/regen": {"/regen", "regenerate the last reply", func(r *repl, _ string) error {
			convID := r.app.currentConversation()
			_, err := r.stream.run(convID, r.settings.Model, func() (*engine.Session, error) {
				return r.app.coord.Regenerate(context.Background(), convID, r.settings)
			})
			return err
		}},
		"/retry": {"/retry", "resend the last user message", func(r *repl, _ string) error {
			convID := r.app.currentConversation()
			_, err := r.stream.run(convID, r.settings.Model, func() (*engine.Session, error) {
				return r.app.coord.Retry(context.Background(), convID, r.settings)
			})
			return err
		}},
		"/edit": {"/edit <n> <text>", "replace message n and rerun from it", func(r *repl, arg string) error {
			n, text, err := indexArg(arg)
			if err != nil {
				return err
			}
			if text == "" {
				return errors.New("missing text")
			}
			c, m, err := r.message(n)
			if err != nil {
				return err
			}
			_, err = r.stream.run(c.ID, r.settings.Model, func() (*engine.Session, error) {
				return r.app.coord.EditAndRerun(context.Background(), c.ID, m.ID, text, r.settings)
			})
			return err
		}},
		"/fork": {"/fork <n>", "copy the conversation up to message n", func(r *repl, arg string) error {
			n, _, err := indexArg(arg)
			if err != nil {
				return err
			}
			c, m, err := r.message(n)
			if err != nil {
				return err
			}
			id, err := r.app.conv.Fork(c.ID, m.ID)
			if err != nil {
				return err
			}
			f, _ := r.app.conv.Get(id)
			r.out.info("forked into %q", f.Title)
			return nil
		}},
		"/delete": {"/delete <n>", "delete message n", func(r *repl, arg string) error {
			n, _, err := indexArg(arg)
			if err != nil {
				return err
			}
			c, m, err := r.message(n)
			if err != nil {
				return err
			}
			return r.app.conv.DeleteMessage(c.ID, m.ID)
		}},
		"/star": {"/star <n>", "toggle the star on message n", func(r *repl, arg string) error {
			n, _, err := indexArg(arg)
			if err != nil {
				return err
			}
			c, m, err := r.message(n)
			if err != nil {
				return err
			}
			return r.app.conv.SetStarred(c.ID, m.ID, !m.Starred)
		}},
		"/thumbs": {"/thumbs <n> up|down|none", "rate message n", func(r *repl, arg string) error {
			n, rest, err := indexArg(arg)
			if err != nil {
				return err
			}
			var t domain.Thumbs
			switch rest {
			case "up":
				t = domain.ThumbsUp
			case "down":
				t = domain.ThumbsDown
			case "none", "":
				t = domain.ThumbsNone
			default:
				return fmt.Errorf("thumbs must be up, down or none")
			}
			c, m, err := r.message(n)
			if err != nil {
				return err
			}
			return r.app.conv.SetThumbs(c.ID, m.ID, t)
		}},
		"/react": {"/react <n> <emoji>", "toggle a reaction on message n", func(r *repl, arg string) error {
			n, emoji, err := indexArg(arg)
			if err != nil {
				return err
			}
			if emoji == "" {
				return errors.New("missing emoji")
			}
			c, m, err := r.message(n)
			if err != nil {
				return err
			}
			_, err = r.app.conv.ToggleReaction(c.ID, m.ID, emoji)
			return err
		}},
		"/image": {"/image <path>", "attach an image to the next message", func(r *repl, arg string) error {
			if arg == "" {
				r.pending = nil
				r.out.info("attachments cleared")
				return nil
			}
			part, err := readImage(arg)
			if err != nil {
				return err
			}
			r.pending = append(r.pending, part)
			return nil
		}},

		"/provider": {"/provider [id]", "show or switch the provider", func(r *repl, arg string) error {
			if arg == "" {
				for _, id := range r.app.providers.List() {
					marker := " "
					if id == r.settings.Provider {
						marker = "*"
					}
					fmt.Fprintf(r.out.out, "%s %s\n", marker, id)
				}
				return nil
			}
			return applyOverrides(r.app, &r.settings, arg, "")
		}},
		"/model": {"/model [name]", "show or set the model", func(r *repl, arg string) error {
			if arg != "" {
				r.settings.Model = arg
			}
			r.out.info("model: %s", r.settings.Model)
			return nil
		}},
		"/system": {"/system [prompt]", "set or clear the system prompt", func(r *repl, arg string) error {
			r.settings.System = arg
			return nil
		}},
		"/temp": {"/temp <0-2>", "set temperature", func(r *repl, arg string) error {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil || v < provider.MinTemperature || v > provider.MaxTemperature {
				return fmt.Errorf("temperature must be %g-%g", provider.MinTemperature, provider.MaxTemperature)
			}
			r.settings.Temperature = v
			return nil
		}},
		"/maxtokens": {"/maxtokens <n>", "set the reply token limit", func(r *repl, arg string) error {
			v, err := strconv.Atoi(arg)
			if err != nil || v < provider.MinMaxTokens || v > provider.MaxMaxTokens {
				return fmt.Errorf("max tokens must be %d-%d", provider.MinMaxTokens, provider.MaxMaxTokens)
			}
			r.settings.MaxTokens = v
			return nil
		}},
		"/topp": {"/topp <0-1>", "set nucleus sampling", func(r *repl, arg string) error {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil || v < provider.MinTopP || v > provider.MaxTopP {
				return fmt.Errorf("top-p must be %g-%g", provider.MinTopP, provider.MaxTopP)
			}
			r.settings.TopP = v
			return nil
		}},
		"/tools": {"/tools on|off", "enable or disable tool calling", func(r *repl, arg string) error {
			switch arg {
			case "on":
				r.settings.ToolsEnabled = true
			case "off":
				r.settings.ToolsEnabled = false
			case "":
				for _, name := range r.app.tools.Names() {
					fmt.Fprintf(r.out.out, "  %s\n", name)
				}
				return nil
			default:
				return errors.New("use /tools on or /tools off")
			}
			return nil
		}},
		"/settings": {"/settings", "show the current settings", func(r *repl, _ string) error {
			s := r.settings
			fmt.Fprintf(r.out.out, "provider=%s model=%s temperature=%g maxTokens=%d topP=%g tools=%v\n",
				s.Provider, s.Model, s.Temperature, s.MaxTokens, s.TopP, s.ToolsEnabled)
			if s.System != "" {
				fmt.Fprintf(r.out.out, "system: %s\n", s.System)
			}
			return nil
		}},
	}
}
