// Package artifact classifies finished model output into renderable
// artifacts. Classification is a pure function of the text.
package artifact

import (
	"encoding/json"
	"strings"
)

// Type is the kind of renderable artifact.
type Type string

const (
	HTML    Type = "html"
	React   Type = "react"
	SVG     Type = "svg"
	Mermaid Type = "mermaid"
	Python  Type = "python"
	JSON    Type = "json"
	CSV     Type = "csv"
)

// Artifact is a classified code block.
type Artifact struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Type     Type   `json:"type"`
}

// tagTypes maps recognized fence language tags to artifact types.
var tagTypes = map[string]Type{
	"html":    HTML,
	"htm":     HTML,
	"jsx":     React,
	"tsx":     React,
	"react":   React,
	"svg":     SVG,
	"mermaid": Mermaid,
	"python":  Python,
	"py":      Python,
	"json":    JSON,
	"csv":     CSV,
}

// DefaultMermaidKeywords open a mermaid diagram when they start a line.
var DefaultMermaidKeywords = []string{"graph", "flowchart", "sequenceDiagram"}

// Options tunes content sniffing for untagged blocks.
type Options struct {
	// RequireJSONContainer only sniffs objects and arrays as JSON, so a bare
	// number or quoted string is not an artifact.
	RequireJSONContainer bool
	// MermaidKeywords overrides DefaultMermaidKeywords when non-empty.
	MermaidKeywords []string
}

// DefaultOptions returns the standard sniffing thresholds.
func DefaultOptions() Options {
	return Options{RequireJSONContainer: true, MermaidKeywords: DefaultMermaidKeywords}
}

// Classifier applies ordered rules to the first fenced code block.
type Classifier struct {
	opts Options
}

// NewClassifier creates a classifier.
func NewClassifier(opts Options) *Classifier {
	if len(opts.MermaidKeywords) == 0 {
		opts.MermaidKeywords = DefaultMermaidKeywords
	}
	return &Classifier{opts: opts}
}

// Classify uses DefaultOptions.
func Classify(text string) *Artifact {
	return NewClassifier(DefaultOptions()).Classify(text)
}

// Classify returns the artifact in text, or nil when the first fenced block
// is not recognized or there is no fenced block.
func (c *Classifier) Classify(text string) *Artifact {
	blk, ok := firstFence(text)
	if !ok {
		return nil
	}

	// An explicit tag always wins over sniffing.
	if t, ok := tagTypes[blk.lang]; ok {
		return &Artifact{Code: blk.code, Language: blk.lang, Type: t}
	}

	if t, ok := c.sniff(blk.code); ok {
		lang := blk.lang
		if lang == "" {
			lang = string(t)
		}
		return &Artifact{Code: blk.code, Language: lang, Type: t}
	}
	return nil
}

func (c *Classifier) sniff(code string) (Type, bool) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "", false
	}
	lower := strings.ToLower(trimmed)

	switch {
	case c.looksLikeJSON(trimmed):
		return JSON, true
	case strings.HasPrefix(lower, "<svg"):
		return SVG, true
	case strings.HasPrefix(lower, "<!doctype html"), strings.HasPrefix(lower, "<html"):
		return HTML, true
	case c.hasMermaidKeyword(trimmed):
		return Mermaid, true
	}
	return "", false
}

func (c *Classifier) looksLikeJSON(s string) bool {
	if c.opts.RequireJSONContainer && s[0] != '{' && s[0] != '[' {
		return false
	}
	return json.Valid([]byte(s))
}

// hasMermaidKeyword reports whether any line starts with a diagram keyword
// followed by whitespace or end of line.
func (c *Classifier) hasMermaidKeyword(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		for _, kw := range c.opts.MermaidKeywords {
			if !strings.HasPrefix(line, kw) {
				continue
			}
			rest := line[len(kw):]
			if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
				return true
			}
		}
	}
	return false
}

type fence struct {
	lang string
	code string
}

// firstFence finds the first closed ``` block. The opening fence may be
// indented; the info string's first word is the language.
func firstFence(text string) (fence, bool) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		open := strings.TrimLeft(line, " \t")
		if !strings.HasPrefix(open, "```") {
			continue
		}
		info := strings.TrimSpace(strings.TrimLeft(open, "`"))
		lang := ""
		if fields := strings.Fields(info); len(fields) > 0 {
			lang = strings.ToLower(fields[0])
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
				return fence{lang: lang, code: strings.Join(lines[i+1:j], "\n")}, true
			}
		}
		// Unclosed fence: nothing to classify.
		return fence{}, false
	}
	return fence{}, false
}
