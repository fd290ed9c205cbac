package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/eztalk/eztalk-proxy/internal/stream"
	"github.com/google/uuid"
)

var ErrNoContents = errors.New("no processable messages for gemini request")

type GeminiBuilder struct {
	BaseURL string
	// APIKey, when set, is used instead of the key sent by the client.
	APIKey string
	Logger *slog.Logger
}

func (b GeminiBuilder) key(req *domain.ChatRequest) string {
	if b.APIKey != "" {
		return b.APIKey
	}
	return req.APIKey
}

func (b GeminiBuilder) base() string {
	return strings.TrimRight(b.BaseURL, "/")
}

// Build prepares a streamGenerateContent call. System messages become the
// system instruction; every other message is sent as contents.
func (b GeminiBuilder) Build(req *domain.ChatRequest, messages []domain.Message) (*Request, error) {
	target := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse",
		b.base(), url.PathEscape(req.Model), url.QueryEscape(b.key(req)))

	var (
		contents    []map[string]any
		systemTexts []string
	)
	for i, msg := range messages {
		msg = msg.AsParts()
		if msg.Role == domain.RoleSystem {
			for _, text := range msg.Texts() {
				if strings.TrimSpace(text) != "" {
					systemTexts = append(systemTexts, text)
				}
			}
			continue
		}

		parts := b.convertParts(msg.Parts)
		if len(parts) == 0 {
			b.Logger.Warn("Message has no parts usable by gemini, skipped", "index", i, "role", msg.Role)
			continue
		}
		contents = append(contents, map[string]any{
			"role":  geminiRole(msg.Role),
			"parts": parts,
		})
	}
	if len(contents) == 0 {
		return nil, ErrNoContents
	}

	systemTexts = append(systemTexts, KatexInstruction)
	payload := map[string]any{
		"contents": contents,
		"system_instruction": map[string]any{
			"parts": []map[string]any{{"text": strings.Join(systemTexts, "\n\n")}},
		},
	}

	if gen := generationConfig(req); len(gen) > 0 {
		payload["generationConfig"] = gen
	}

	if tools := geminiTools(req); len(tools) > 0 {
		payload["tools"] = tools
		if tc := toolConfig(req.ToolChoice); tc != nil {
			payload["toolConfig"] = map[string]any{"functionCallingConfig": tc}
		}
	}

	return &Request{
		URL:     target,
		Headers: map[string]string{"Content-Type": "application/json"},
		Payload: payload,
	}, nil
}

func geminiRole(role string) string {
	switch role {
	case domain.RoleAssistant, "model":
		return "model"
	case domain.RoleTool, "function":
		return "function"
	default:
		return domain.RoleUser
	}
}

func (b GeminiBuilder) convertParts(parts []domain.ContentPart) []map[string]any {
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case domain.PartText:
			if p.Text != "" {
				out = append(out, map[string]any{"text": p.Text})
			}
		case domain.PartInlineData:
			out = append(out, map[string]any{
				"inlineData": map[string]any{"mimeType": p.MimeType, "data": p.Base64Data},
			})
		case domain.PartFileURI:
			if !b.acceptsFileURI(p.URI) {
				b.Logger.Warn("File URI not supported by gemini REST, part skipped", "uri", p.URI)
				continue
			}
			out = append(out, map[string]any{
				"fileData": map[string]any{"mimeType": p.MimeType, "fileUri": p.URI},
			})
		}
	}
	return out
}

// acceptsFileURI allows Cloud Storage objects and files uploaded through the
// Gemini File API.
func (b GeminiBuilder) acceptsFileURI(uri string) bool {
	if strings.HasPrefix(uri, "gs://") {
		return true
	}
	return strings.HasPrefix(uri, b.base()+"/v1beta/files/") ||
		strings.HasPrefix(uri, "https://generativelanguage.googleapis.com/v1beta/files/")
}

// supportsThinkingBudget reports whether the model accepts thinkingBudget.
func supportsThinkingBudget(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "flash") || strings.Contains(m, "gemini-2.5")
}

func generationConfig(req *domain.ChatRequest) map[string]any {
	gen := map[string]any{}

	var gc domain.GenerationConfig
	if req.GenerationConfig != nil {
		gc = *req.GenerationConfig
	}
	if v := firstFloat(gc.Temperature, req.Temperature); v != nil {
		gen["temperature"] = *v
	}
	if v := firstFloat(gc.TopP, req.TopP); v != nil {
		gen["topP"] = *v
	}
	if v := firstInt(gc.MaxOutputTokens, req.MaxTokens); v != nil {
		gen["maxOutputTokens"] = *v
	}

	if tc := gc.ThinkingConfig; tc != nil {
		thinking := map[string]any{}
		if tc.IncludeThoughts != nil {
			thinking["includeThoughts"] = *tc.IncludeThoughts
		}
		if tc.ThinkingBudget != nil && supportsThinkingBudget(req.Model) {
			thinking["thinkingBudget"] = *tc.ThinkingBudget
		}
		if len(thinking) > 0 {
			gen["thinkingConfig"] = thinking
		}
	}
	return gen
}

func geminiTools(req *domain.ChatRequest) []map[string]any {
	var tools []map[string]any
	if req.UseWebSearch {
		tools = append(tools, map[string]any{"googleSearch": map[string]any{}})
	}

	var declarations []map[string]any
	for _, tool := range req.Tools {
		if tool["type"] != "function" {
			continue
		}
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		if name == "" || desc == "" {
			continue
		}
		decl := map[string]any{"name": name, "description": desc}
		if params, ok := fn["parameters"]; ok && params != nil {
			decl["parameters"] = params
		}
		declarations = append(declarations, decl)
	}
	if len(declarations) > 0 {
		tools = append(tools, map[string]any{"functionDeclarations": declarations})
	}
	return tools
}

func toolConfig(choice any) map[string]any {
	switch c := choice.(type) {
	case string:
		switch mode := strings.ToUpper(c); mode {
		case "AUTO", "ANY", "NONE":
			return map[string]any{"mode": mode}
		case "REQUIRED":
			return map[string]any{"mode": "ANY"}
		}
	case map[string]any:
		if c["type"] != "function" {
			return nil
		}
		fn, _ := c["function"].(map[string]any)
		if name, _ := fn["name"].(string); name != "" {
			return map[string]any{"mode": "ANY", "allowedFunctionNames": []string{name}}
		}
	}
	return nil
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

type geminiPart struct {
	Text         string `json:"text"`
	Thought      bool   `json:"thought"`
	FunctionCall *struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCall"`
}

// ConvertGeminiChunk splits a streamGenerateContent payload into thought
// texts and an OpenAI-shaped chunk carrying the answer text, function calls
// and finish reason.
func ConvertGeminiChunk(payload []byte, id string) ([]string, stream.Chunk, error) {
	var gc geminiChunk
	if err := json.Unmarshal(payload, &gc); err != nil {
		return nil, stream.Chunk{}, err
	}

	var thoughts []string
	chunk := stream.Chunk{ID: id}
	for _, cand := range gc.Candidates {
		var (
			text  strings.Builder
			calls []map[string]any
		)
		for _, part := range cand.Content.Parts {
			switch {
			case part.Thought:
				if part.Text != "" {
					thoughts = append(thoughts, part.Text)
				}
			case part.FunctionCall != nil:
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return nil, stream.Chunk{}, fmt.Errorf("failed to encode function args: %w", err)
				}
				calls = append(calls, map[string]any{
					"index": len(calls),
					"id":    "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
					"type":  "function",
					"function": map[string]any{
						"name":      part.FunctionCall.Name,
						"arguments": string(args),
					},
				})
			default:
				text.WriteString(part.Text)
			}
		}

		if text.Len() == 0 && len(calls) == 0 && cand.FinishReason == "" {
			continue
		}
		chunk.Choices = append(chunk.Choices, stream.Choice{
			Delta: stream.Delta{
				Content:   text.String(),
				ToolCalls: calls,
			},
			FinishReason: cand.FinishReason,
		})
	}
	return thoughts, chunk, nil
}
