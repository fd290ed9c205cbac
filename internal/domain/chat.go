package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRequest = errors.New("invalid chat request")

const (
	PartText       = "text_content"
	PartFileURI    = "file_uri_content"
	PartInlineData = "inline_data_content"

	MessageSimpleText = "simple_text_message"
	MessageParts      = "parts_message"

	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"

	MaxThinkingBudget = 24576
)

// ContentPart is one element of a parts message. Which fields are
// meaningful depends on Type.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	URI        string `json:"uri,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	Base64Data string `json:"base64Data,omitempty"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

func InlineDataPart(mimeType, base64Data string) ContentPart {
	return ContentPart{Type: PartInlineData, MimeType: mimeType, Base64Data: base64Data}
}

func FileURIPart(mimeType, uri string) ContentPart {
	return ContentPart{Type: PartFileURI, MimeType: mimeType, URI: uri}
}

// Validate checks the discriminator. Required fields are checked for
// presence when the request is parsed; empty values are allowed.
func (p ContentPart) Validate() error {
	switch p.Type {
	case PartText, PartFileURI, PartInlineData:
		return nil
	default:
		return fmt.Errorf("unknown content part type %q", p.Type)
	}
}

type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type ToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// Message is either a simple text message or a parts message, selected by Type.
type Message struct {
	Type       string        `json:"type"`
	Role       string        `json:"role"`
	Name       string        `json:"name,omitempty"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
}

func (m Message) IsParts() bool {
	return m.Type == MessageParts
}

// Clone returns a copy that does not share the Parts or ToolCalls backing arrays.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = append([]ContentPart(nil), m.Parts...)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return out
}

// AsParts converts a simple text message into the equivalent parts message.
// Parts messages are returned unchanged.
func (m Message) AsParts() Message {
	if m.IsParts() {
		return m
	}
	out := m.Clone()
	out.Type = MessageParts
	out.Parts = []ContentPart{TextPart(m.Content)}
	out.Content = ""
	return out
}

// Texts returns the message text in order: the content of a simple message
// or the text of every text part.
func (m Message) Texts() []string {
	if !m.IsParts() {
		return []string{m.Content}
	}
	var out []string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out = append(out, p.Text)
		}
	}
	return out
}

func (m Message) Validate() error {
	switch m.Type {
	case MessageSimpleText:
	case MessageParts:
		for i, p := range m.Parts {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("part %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

type ThinkingConfig struct {
	IncludeThoughts *bool `json:"includeThoughts,omitempty"`
	ThinkingBudget  *int  `json:"thinkingBudget,omitempty"`
}

type GenerationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	MaxOutputTokens *int            `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

type ChatRequest struct {
	APIAddress                 string            `json:"apiAddress,omitempty"`
	Messages                   []Message         `json:"messages"`
	Provider                   string            `json:"provider"`
	Model                      string            `json:"model"`
	APIKey                     string            `json:"apiKey"`
	Temperature                *float64          `json:"temperature,omitempty"`
	TopP                       *float64          `json:"topP,omitempty"`
	MaxTokens                  *int              `json:"maxTokens,omitempty"`
	GenerationConfig           *GenerationConfig `json:"generationConfig,omitempty"`
	Tools                      []map[string]any  `json:"tools,omitempty"`
	ToolChoice                 any               `json:"toolChoice,omitempty"`
	UseWebSearch               bool              `json:"use_web_search,omitempty"`
	QwenEnableSearch           *bool             `json:"qwenEnableSearch,omitempty"`
	ForceCustomReasoningPrompt bool              `json:"forceCustomReasoningPrompt,omitempty"`
	CustomModelParameters      map[string]any    `json:"customModelParameters,omitempty"`
	CustomExtraBody            map[string]any    `json:"customExtraBody,omitempty"`
}

// ParseChatRequest decodes and validates the chat_request_json form field.
// Required fields must be present but may be empty: an empty apiKey is
// valid because the Gemini path can fall back to the server key.
func ParseChatRequest(raw []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	problems := append(missingRequired(raw), req.problems()...)
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return &req, nil
}

func (r *ChatRequest) Validate() error {
	if problems := r.problems(); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

func (r *ChatRequest) problems() []string {
	var problems []string

	for i, m := range r.Messages {
		if err := m.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("messages[%d]: %v", i, err))
		}
	}

	problems = checkRange(problems, "temperature", r.Temperature, 0, 2)
	problems = checkRange(problems, "topP", r.TopP, 0, 1)
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		problems = append(problems, "maxTokens must be greater than 0")
	}

	if gc := r.GenerationConfig; gc != nil {
		problems = checkRange(problems, "generationConfig.temperature", gc.Temperature, 0, 2)
		problems = checkRange(problems, "generationConfig.topP", gc.TopP, 0, 1)
		if gc.MaxOutputTokens != nil && *gc.MaxOutputTokens <= 0 {
			problems = append(problems, "generationConfig.maxOutputTokens must be greater than 0")
		}
		if tc := gc.ThinkingConfig; tc != nil && tc.ThinkingBudget != nil {
			if b := *tc.ThinkingBudget; b < 0 || b > MaxThinkingBudget {
				problems = append(problems, fmt.Sprintf("generationConfig.thinkingConfig.thinkingBudget must be between 0 and %d", MaxThinkingBudget))
			}
		}
	}

	switch r.ToolChoice.(type) {
	case nil, string, map[string]any:
	default:
		problems = append(problems, "toolChoice must be a string or an object")
	}
	return problems
}

type rawObject = map[string]json.RawMessage

// missingRequired walks the raw request and reports required fields that are
// absent or null. The request has already decoded into ChatRequest, so the
// shapes below are known to be valid.
func missingRequired(raw []byte) []string {
	var req rawObject
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	problems := missingFields(req, "", "provider", "model", "apiKey", "messages")

	var messages []rawObject
	_ = json.Unmarshal(req["messages"], &messages)
	for i, m := range messages {
		prefix := fmt.Sprintf("messages[%d].", i)
		problems = append(problems, missingFields(m, prefix, "role")...)

		switch discriminator(m) {
		case MessageSimpleText:
			problems = append(problems, missingFields(m, prefix, "content")...)
		case MessageParts:
			problems = append(problems, missingFields(m, prefix, "parts")...)

			var parts []rawObject
			_ = json.Unmarshal(m["parts"], &parts)
			for j, part := range parts {
				partPrefix := fmt.Sprintf("%sparts[%d].", prefix, j)
				switch discriminator(part) {
				case PartText:
					problems = append(problems, missingFields(part, partPrefix, "text")...)
				case PartFileURI:
					problems = append(problems, missingFields(part, partPrefix, "uri", "mimeType")...)
				case PartInlineData:
					problems = append(problems, missingFields(part, partPrefix, "base64Data", "mimeType")...)
				}
			}
		}
	}
	return problems
}

func missingFields(obj rawObject, prefix string, names ...string) []string {
	var missing []string
	for _, name := range names {
		v, ok := obj[name]
		if !ok || string(v) == "null" {
			missing = append(missing, prefix+name+" is required")
		}
	}
	return missing
}

func discriminator(obj rawObject) string {
	var t string
	_ = json.Unmarshal(obj["type"], &t)
	return t
}

func checkRange(problems []string, name string, v *float64, lo, hi float64) []string {
	if v != nil && (*v < lo || *v > hi) {
		return append(problems, fmt.Sprintf("%s must be between %g and %g", name, lo, hi))
	}
	return problems
}

// IsGeminiModel reports whether the request should be served by the Gemini
// REST path.
func (r *ChatRequest) IsGeminiModel() bool {
	return strings.Contains(strings.ToLower(r.Model), "gemini")
}

// NativeThinking reports whether the request configures Gemini thinking.
func (r *ChatRequest) NativeThinking() bool {
	return r.GenerationConfig != nil && r.GenerationConfig.ThinkingConfig != nil
}

// CloneMessages deep-copies the message list so handlers can rewrite it.
func (r *ChatRequest) CloneMessages() []Message {
	out := make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = m.Clone()
	}
	return out
}

// LastUserIndex returns the index of the last message with role user, or -1.
func LastUserIndex(messages []Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}
