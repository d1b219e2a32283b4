package provider

// Parameter bounds shared by every provider.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 256
	MaxMaxTokens   = 8192
	MinTopP        = 0.0
	MaxTopP        = 1.0
)

// Validate checks req against caps and the shared parameter bounds. It never
// touches the network.
func Validate(id ID, caps Capabilities, req Request) *Error {
	if !caps.Chat || !caps.Streaming {
		return ConfigurationError(id, "provider does not support streaming chat")
	}
	if req.Model == "" {
		return ConfigurationError(id, "model is required")
	}
	if req.Temperature < MinTemperature || req.Temperature > MaxTemperature {
		return ConfigurationError(id, "temperature %.2f out of range [%.0f, %.0f]", req.Temperature, MinTemperature, MaxTemperature)
	}
	if req.MaxTokens < MinMaxTokens || req.MaxTokens > MaxMaxTokens {
		return ConfigurationError(id, "maxTokens %d out of range [%d, %d]", req.MaxTokens, MinMaxTokens, MaxMaxTokens)
	}
	if req.TopP < MinTopP || req.TopP > MaxTopP {
		return ConfigurationError(id, "topP %.2f out of range [%.0f, %.0f]", req.TopP, MinTopP, MaxTopP)
	}
	if !caps.ToolCalling {
		if len(req.Tools) > 0 {
			return ConfigurationError(id, "provider does not support tool calling")
		}
		for _, m := range req.Messages {
			if m.Role == RoleTool || len(m.ToolCalls) > 0 {
				return ConfigurationError(id, "provider does not support tool messages")
			}
		}
	}
	if !caps.Vision {
		for _, m := range req.Messages {
			if len(m.Images) > 0 {
				return ConfigurationError(id, "provider does not support image input")
			}
		}
	}
	return nil
}
