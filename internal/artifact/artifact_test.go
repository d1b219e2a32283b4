package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHTMLByTag(t *testing.T) {
	a := Classify("```html\n<!DOCTYPE html><html></html>\n```")
	require.NotNil(t, a)
	assert.Equal(t, HTML, a.Type)
	assert.Equal(t, "html", a.Language)
	assert.Equal(t, "<!DOCTYPE html><html></html>", a.Code)
}

func TestClassifyNoFence(t *testing.T) {
	assert.Nil(t, Classify(""))
	assert.Nil(t, Classify("Just prose, {\"a\":1} inline."))
	assert.Nil(t, Classify("```html\n<p>never closed"))
}

func TestClassifyTags(t *testing.T) {
	tests := []struct {
		tag  string
		want Type
	}{
		{"html", HTML},
		{"HTM", HTML},
		{"jsx", React},
		{"tsx", React},
		{"react", React},
		{"svg", SVG},
		{"mermaid", Mermaid},
		{"python", Python},
		{"py", Python},
		{"json", JSON},
		{"csv", CSV},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			a := Classify("Here:\n```" + tt.tag + " title=demo\nbody\n```\n")
			require.NotNil(t, a)
			assert.Equal(t, tt.want, a.Type)
		})
	}
}

func TestTagWinsOverSniffing(t *testing.T) {
	a := Classify("```python\n{\"looks\": \"like json\"}\n```")
	require.NotNil(t, a)
	assert.Equal(t, Python, a.Type)
}

func TestSniffingOrder(t *testing.T) {
	tests := []struct {
		name string
		code string
		want Type
	}{
		{"json object", `{"a": [1, 2]}`, JSON},
		{"json array", `[1, 2, 3]`, JSON},
		{"svg", `<svg xmlns="http://www.w3.org/2000/svg"></svg>`, SVG},
		{"doctype", "<!doctype html>\n<html><body></body></html>", HTML},
		{"html tag", "<html lang=\"en\"></html>", HTML},
		{"mermaid graph", "graph TD\n  A --> B", Mermaid},
		{"mermaid flowchart later line", "%% comment\nflowchart LR\n  A --> B", Mermaid},
		{"sequence", "sequenceDiagram\n  Alice->>Bob: Hi", Mermaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Classify("```\n" + tt.code + "\n```")
			require.NotNil(t, a)
			assert.Equal(t, tt.want, a.Type)
			assert.Equal(t, string(tt.want), a.Language)
		})
	}
}

func TestSniffingMisses(t *testing.T) {
	for _, code := range []string{
		"print('hi')",
		"graphics are nice",
		"   ",
		"42",
		`"quoted"`,
	} {
		assert.Nil(t, Classify("```\n"+code+"\n```"), code)
	}
}

func TestUnrecognizedTagFallsBackToSniffing(t *testing.T) {
	a := Classify("```xml\n<svg></svg>\n```")
	require.NotNil(t, a)
	assert.Equal(t, SVG, a.Type)
	assert.Equal(t, "xml", a.Language)

	assert.Nil(t, Classify("```go\nfunc main() {}\n```"))
}

func TestOnlyFirstFenceConsidered(t *testing.T) {
	text := "```go\npackage main\n```\n\n```html\n<html></html>\n```"
	assert.Nil(t, Classify(text))
}

func TestRequireJSONContainerOption(t *testing.T) {
	loose := NewClassifier(Options{RequireJSONContainer: false})
	a := loose.Classify("```\n42\n```")
	require.NotNil(t, a)
	assert.Equal(t, JSON, a.Type)
}

func TestCustomMermaidKeywords(t *testing.T) {
	c := NewClassifier(Options{RequireJSONContainer: true, MermaidKeywords: []string{"gantt"}})
	assert.NotNil(t, c.Classify("```\ngantt\n  title Plan\n```"))
	assert.Nil(t, c.Classify("```\ngraph TD\n```"))
}

func TestClassifyDeterministic(t *testing.T) {
	text := "Result:\n```\n{\"k\": true}\n```\ntrailing"
	first := Classify(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(text))
	}
}
