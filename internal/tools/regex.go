package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const (
	regexTimeout    = time.Second
	maxRegexMatches = 100
)

// RegexMatch is one match reported by test_regex.
type RegexMatch struct {
	Match  string            `json:"match"`
	Index  int               `json:"index"`
	Groups []string          `json:"groups,omitempty"`
	Named  map[string]string `json:"named,omitempty"`
}

// RegexTester runs a JavaScript-flavored regular expression against text.
func RegexTester() Tool {
	return Tool{
		Name:        "test_regex",
		Description: "Test a JavaScript-style regular expression against text. Flags: g (all matches), i, m, s.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"},"flags":{"type":"string"},"text":{"type":"string"}},"required":["pattern","text"]}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Pattern string `json:"pattern"`
				Flags   string `json:"flags"`
				Text    string `json:"text"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Result{}, err
			}
			matches, err := MatchRegex(in.Pattern, in.Flags, in.Text)
			if err != nil {
				return Result{}, err
			}
			return Result{Type: "regex", Data: map[string]any{
				"pattern": in.Pattern,
				"flags":   in.Flags,
				"matches": matches,
				"count":   len(matches),
			}}, nil
		},
	}
}

// MatchRegex returns the first match, or every match when flags contain g.
func MatchRegex(pattern, flags, text string) ([]RegexMatch, error) {
	if pattern == "" {
		return nil, errors.New("pattern is required")
	}

	var opts regexp2.RegexOptions = regexp2.ECMAScript
	global := false
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			// ECMAScript mode cannot be combined with Singleline.
			opts = opts&^regexp2.ECMAScript | regexp2.Singleline
		case 'u', 'y':
		default:
			return nil, fmt.Errorf("unsupported flag %q", f)
		}
	}

	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	re.MatchTimeout = regexTimeout

	matches := []RegexMatch{}
	m, err := re.FindStringMatch(text)
	for m != nil && err == nil {
		matches = append(matches, toRegexMatch(m))
		if !global || len(matches) >= maxRegexMatches {
			break
		}
		m, err = re.FindNextMatch(m)
	}
	if err != nil {
		return nil, fmt.Errorf("matching: %w", err)
	}
	return matches, nil
}

func toRegexMatch(m *regexp2.Match) RegexMatch {
	rm := RegexMatch{Match: m.String(), Index: m.Index}
	for i, g := range m.Groups() {
		if i == 0 {
			continue
		}
		rm.Groups = append(rm.Groups, g.String())
		if !isNumeric(g.Name) {
			if rm.Named == nil {
				rm.Named = map[string]string{}
			}
			rm.Named[g.Name] = g.String()
		}
	}
	return rm
}

func isNumeric(s string) bool {
	return strings.Trim(s, "0123456789") == ""
}
