package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/soyeahso/playground/internal/artifact"
	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/engine"
)

var (
	titleColor     = color.New(color.FgHiCyan, color.Bold)
	userColor      = color.New(color.FgHiGreen, color.Bold)
	assistantColor = color.New(color.FgHiMagenta, color.Bold)
	infoColor      = color.New(color.FgHiYellow)
	errorColor     = color.New(color.FgHiRed)
	dimColor       = color.New(color.FgHiBlack)
	toolColor      = color.New(color.FgCyan)
)

// printer writes chat output. Colors are dropped when --no-color is set or
// the output is not a terminal.
type printer struct {
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	if noColor {
		color.NoColor = true
	}
	return &printer{out: out}
}

func (p *printer) title(format string, args ...any) {
	titleColor.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) info(format string, args ...any) {
	infoColor.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) errorf(format string, args ...any) {
	errorColor.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) dim(format string, args ...any) {
	dimColor.Fprintf(p.out, format+"\n", args...)
}

// delta streams assistant text as it arrives.
func (p *printer) delta(s string) {
	fmt.Fprint(p.out, s)
}

func (p *printer) assistantPrefix(model string) {
	assistantColor.Fprint(p.out, "assistant")
	if model != "" {
		dimColor.Fprintf(p.out, " (%s)", model)
	}
	fmt.Fprint(p.out, ": ")
}

func (p *printer) toolCall(name, result string) {
	toolColor.Fprintf(p.out, "\n  ⚙ %s → %s\n", name, truncate(result, 120))
}

func (p *printer) artifact(a *artifact.Artifact) {
	if a == nil {
		return
	}
	lang := a.Language
	if lang == "" {
		lang = "untagged"
	}
	infoColor.Fprintf(p.out, "  ◆ %s artifact (%s, %d lines)\n", a.Type, lang, strings.Count(a.Code, "\n")+1)
}

// result prints the outcome footer of a session.
func (p *printer) result(res engine.Result) {
	fmt.Fprintln(p.out)
	switch res.Status {
	case engine.StatusCompleted:
		p.artifact(res.Artifact)
		if res.Usage.Total() > 0 || res.Rounds > 1 {
			p.dim("  [rounds=%d tokens=%d+%d]", res.Rounds, res.Usage.InputTokens, res.Usage.OutputTokens)
		}
	case engine.StatusCancelled:
		p.info("  [stopped]")
	case engine.StatusFailed:
		f, ok := engine.AsFailure(res.Err)
		if !ok {
			p.errorf("  [Error] %v", res.Err)
			return
		}
		p.errorf("  [Error: %s] %s", f.Kind, f.Message)
		if f.Retryable() {
			p.info("  /retry to try again")
		}
	}
}

func (p *printer) message(i int, m domain.Message) {
	c := userColor
	if m.Role != domain.RoleUser {
		c = assistantColor
	}
	c.Fprintf(p.out, "[%d] %s", i+1, m.Role)
	if badges := messageBadges(m); badges != "" {
		dimColor.Fprintf(p.out, " %s", badges)
	}
	fmt.Fprintln(p.out, ":")
	fmt.Fprintln(p.out, m.Text())
	for _, tc := range m.ToolCalls {
		toolColor.Fprintf(p.out, "  ⚙ %s(%s) → %s\n", tc.Name, string(tc.Arguments), truncate(string(tc.Result), 120))
	}
	if n := imageCount(m); n > 0 {
		dimColor.Fprintf(p.out, "  [%d image(s)]\n", n)
	}
	fmt.Fprintln(p.out)
}

func (p *printer) conversation(i int, c domain.Conversation, active bool) {
	marker := " "
	if active {
		marker = "*"
	}
	fmt.Fprintf(p.out, "%s %2d  %-40s  ", marker, i+1, truncate(c.Title, 40))
	dimColor.Fprintf(p.out, "%d msgs  %s  %s\n", len(c.Messages), c.UpdatedAt.Local().Format(time.DateTime), shortID(c.ID))
}

// messageBadges renders annotations for a listing line.
func messageBadges(m domain.Message) string {
	var parts []string
	if m.Starred {
		parts = append(parts, "★")
	}
	switch m.Thumbs {
	case domain.ThumbsUp:
		parts = append(parts, "👍")
	case domain.ThumbsDown:
		parts = append(parts, "👎")
	}
	parts = append(parts, m.Reactions...)
	if m.Status != "" && m.Status != domain.StatusComplete {
		parts = append(parts, "("+string(m.Status)+")")
	}
	return strings.Join(parts, " ")
}

func imageCount(m domain.Message) int {
	n := 0
	for _, part := range m.Parts {
		if part.Type == domain.PartImage {
			n++
		}
	}
	return n
}

// truncate shortens s to at most n runes on a single line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
