package engine

import (
	"strings"

	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/provider"
)

// buildContext converts stored history into request messages. Assistant
// turns are sent as text only: a stored failure suffix is stripped and tool
// records stay presentation-side, since their call IDs belong to an earlier
// request.
func buildContext(history []domain.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case domain.RoleSystem:
			if text := strings.TrimSpace(m.Text()); text != "" {
				out = append(out, provider.Message{Role: provider.RoleSystem, Content: text})
			}
		case domain.RoleUser:
			pm := provider.Message{Role: provider.RoleUser, Content: m.Text()}
			for _, p := range m.Parts {
				if p.Type == domain.PartImage && p.ImageURL != "" {
					pm.Images = append(pm.Images, provider.Image{URL: p.ImageURL, MimeType: p.MimeType})
				}
			}
			out = append(out, pm)
		case domain.RoleAssistant:
			text := domain.StripErrorSuffix(m.Text())
			if strings.TrimSpace(text) == "" {
				continue
			}
			out = append(out, provider.Message{Role: provider.RoleAssistant, Content: text})
		}
	}
	return out
}

// Settings selects the provider, model and sampling parameters for a turn.
type Settings struct {
	Provider     provider.ID
	Model        string
	System       string
	Temperature  float64
	MaxTokens    int
	TopP         float64
	ToolsEnabled bool
}

func (s Settings) request(msgs []provider.Message) provider.Request {
	return provider.Request{
		Model:       s.Model,
		System:      s.System,
		Messages:    msgs,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		TopP:        s.TopP,
	}
}
