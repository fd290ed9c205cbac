package llm

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/eztalk/eztalk-proxy/internal/domain"
)

type ImageURL struct {
	URL string `json:"url"`
}

// OpenAIPart is one element of an array-valued message content.
type OpenAIPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

func OpenAITextPart(text string) OpenAIPart {
	return OpenAIPart{Type: "text", Text: text}
}

func OpenAIImagePart(dataURI string) OpenAIPart {
	return OpenAIPart{Type: "image_url", ImageURL: &ImageURL{URL: dataURI}}
}

// OpenAIMessage is a chat message in upstream form. Content is either a
// string or a []OpenAIPart.
type OpenAIMessage struct {
	Role       string            `json:"role"`
	Name       string            `json:"name,omitempty"`
	Content    any               `json:"content"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []domain.ToolCall `json:"tool_calls,omitempty"`
}

// FinalizeContent collapses parts into the content value expected upstream:
// "" for no parts, a plain string for a single text part, else the array.
func FinalizeContent(parts []OpenAIPart) any {
	switch {
	case len(parts) == 0:
		return ""
	case len(parts) == 1 && parts[0].Type == "text":
		return parts[0].Text
	default:
		return parts
	}
}

type OpenAIBuilder struct {
	BaseURL string
	Path    string
}

// Build prepares a streaming chat completion call for an OpenAI-compatible
// upstream.
func (b OpenAIBuilder) Build(req *domain.ChatRequest, messages []OpenAIMessage) (*Request, error) {
	target, err := b.endpoint(req.APIAddress)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"model":    req.Model,
		"messages": withKatexInstruction(messages),
		"stream":   true,
	}

	var gc domain.GenerationConfig
	if req.GenerationConfig != nil {
		gc = *req.GenerationConfig
	}
	if v := firstFloat(gc.Temperature, req.Temperature); v != nil {
		payload["temperature"] = *v
	}
	if v := firstFloat(gc.TopP, req.TopP); v != nil {
		payload["top_p"] = *v
	}
	if v := firstInt(gc.MaxOutputTokens, req.MaxTokens); v != nil {
		payload["max_tokens"] = *v
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
	}
	if req.ToolChoice != nil {
		payload["tool_choice"] = req.ToolChoice
	}

	if strings.Contains(strings.ToLower(req.Model), "qwen") && req.QwenEnableSearch != nil {
		payload["enable_search"] = *req.QwenEnableSearch
	}
	for k, v := range req.CustomModelParameters {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}
	for k, v := range req.CustomExtraBody {
		payload[k] = v
	}

	return &Request{
		URL: target,
		Headers: map[string]string{
			"Authorization": "Bearer " + req.APIKey,
			"Content-Type":  "application/json",
			"Accept":        "text/event-stream",
		},
		Payload: payload,
	}, nil
}

// endpoint joins the base address and the completions path. An address
// ending in '#' is taken verbatim without the marker.
func (b OpenAIBuilder) endpoint(apiAddress string) (string, error) {
	address := strings.TrimSpace(apiAddress)
	if strings.HasSuffix(address, "#") {
		return strings.TrimSuffix(address, "#"), nil
	}
	if address == "" {
		address = b.BaseURL
	}

	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(address), "/") + "/")
	if err != nil {
		return "", fmt.Errorf("invalid api address %q: %w", apiAddress, err)
	}
	ref, err := url.Parse(strings.TrimLeft(b.Path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid completions path %q: %w", b.Path, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func withKatexInstruction(messages []OpenAIMessage) []OpenAIMessage {
	out := make([]OpenAIMessage, len(messages))
	copy(out, messages)

	for i, m := range out {
		if m.Role != domain.RoleSystem {
			continue
		}
		if content, ok := m.Content.(string); ok && !strings.Contains(content, KatexInstruction) {
			out[i].Content = strings.TrimSpace(content + "\n\n" + KatexInstruction)
		}
		return out
	}

	return append([]OpenAIMessage{{Role: domain.RoleSystem, Content: KatexInstruction}}, out...)
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstInt(vals ...*int) *int {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
