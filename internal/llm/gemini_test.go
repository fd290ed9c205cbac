package llm

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/eztalk/eztalk-proxy/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiBuilder(envKey string) GeminiBuilder {
	return GeminiBuilder{
		BaseURL: "https://generativelanguage.googleapis.com/",
		APIKey:  envKey,
		Logger:  log.Discard(),
	}
}

func payloadJSON(t *testing.T, r *Request) string {
	t.Helper()
	b, err := json.Marshal(r.Payload)
	require.NoError(t, err)
	return string(b)
}

func TestGeminiBuildURL(t *testing.T) {
	msgs := []domain.Message{{Type: domain.MessageSimpleText, Role: domain.RoleUser, Content: "hi"}}

	r, err := geminiBuilder("").Build(&domain.ChatRequest{Model: "gemini-2.5-pro", APIKey: "client-key"}, msgs)
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:streamGenerateContent?key=client-key&alt=sse", r.URL)

	r, err = geminiBuilder("env-key").Build(&domain.ChatRequest{Model: "gemini-2.5-pro", APIKey: "client-key"}, msgs)
	require.NoError(t, err)
	assert.Contains(t, r.URL, "key=env-key&")
}

func TestGeminiBuildContents(t *testing.T) {
	msgs := []domain.Message{
		{Type: domain.MessageSimpleText, Role: domain.RoleSystem, Content: "You are terse."},
		{Type: domain.MessageParts, Role: domain.RoleUser, Parts: []domain.ContentPart{
			domain.TextPart("look"),
			domain.TextPart(""),
			domain.InlineDataPart("image/png", "AAAA"),
			domain.FileURIPart("video/mp4", "gs://bucket/v.mp4"),
			domain.FileURIPart("video/mp4", "https://generativelanguage.googleapis.com/v1beta/files/abc"),
			domain.FileURIPart("video/mp4", "https://example.com/v.mp4"),
		}},
		{Type: domain.MessageSimpleText, Role: domain.RoleAssistant, Content: "ok"},
		{Type: domain.MessageSimpleText, Role: domain.RoleTool, Content: "42"},
		{Type: domain.MessageSimpleText, Role: domain.RoleAssistant, Content: ""},
	}

	r, err := geminiBuilder("").Build(&domain.ChatRequest{Model: "gemini-2.0-pro", APIKey: "k"}, msgs)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"contents": [
			{"role": "user", "parts": [
				{"text": "look"},
				{"inlineData": {"mimeType": "image/png", "data": "AAAA"}},
				{"fileData": {"mimeType": "video/mp4", "fileUri": "gs://bucket/v.mp4"}},
				{"fileData": {"mimeType": "video/mp4", "fileUri": "https://generativelanguage.googleapis.com/v1beta/files/abc"}}
			]},
			{"role": "model", "parts": [{"text": "ok"}]},
			{"role": "function", "parts": [{"text": "42"}]}
		],
		"system_instruction": {"parts": [{"text": "You are terse.\n\n` + KatexInstruction + `"}]}
	}`, payloadJSON(t, r))
}

func TestGeminiBuildNoContents(t *testing.T) {
	msgs := []domain.Message{{Type: domain.MessageSimpleText, Role: domain.RoleSystem, Content: "only system"}}

	_, err := geminiBuilder("").Build(&domain.ChatRequest{Model: "gemini-pro", APIKey: "k"}, msgs)
	assert.True(t, errors.Is(err, ErrNoContents))
}

func TestGeminiGenerationConfig(t *testing.T) {
	msgs := []domain.Message{{Type: domain.MessageSimpleText, Role: domain.RoleUser, Content: "hi"}}
	gc := &domain.GenerationConfig{
		TopP:           ptr(0.5),
		ThinkingConfig: &domain.ThinkingConfig{IncludeThoughts: ptr(true), ThinkingBudget: ptr(1024)},
	}

	r, err := geminiBuilder("").Build(&domain.ChatRequest{
		Model: "gemini-2.5-flash", APIKey: "k", Temperature: ptr(1.1), MaxTokens: ptr(50), GenerationConfig: gc,
	}, msgs)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"temperature":     1.1,
		"topP":            0.5,
		"maxOutputTokens": 50,
		"thinkingConfig":  map[string]any{"includeThoughts": true, "thinkingBudget": 1024},
	}, r.Payload["generationConfig"])

	r, err = geminiBuilder("").Build(&domain.ChatRequest{Model: "gemini-1.5-pro", APIKey: "k", GenerationConfig: gc}, msgs)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"includeThoughts": true},
		r.Payload["generationConfig"].(map[string]any)["thinkingConfig"])
}

func TestGeminiTools(t *testing.T) {
	msgs := []domain.Message{{Type: domain.MessageSimpleText, Role: domain.RoleUser, Content: "hi"}}
	tools := []map[string]any{
		{"type": "function", "function": map[string]any{
			"name": "get_weather", "description": "Weather", "parameters": map[string]any{"type": "object"},
		}},
		{"type": "function", "function": map[string]any{"name": "no_description"}},
		{"type": "retrieval"},
	}

	tests := []struct {
		name       string
		toolChoice any
		want       any
	}{
		{"auto", "auto", map[string]any{"mode": "AUTO"}},
		{"required", "required", map[string]any{"mode": "ANY"}},
		{"named function", map[string]any{"type": "function", "function": map[string]any{"name": "get_weather"}},
			map[string]any{"mode": "ANY", "allowedFunctionNames": []string{"get_weather"}}},
		{"unknown", "sometimes", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := geminiBuilder("").Build(&domain.ChatRequest{
				Model: "gemini-pro", APIKey: "k", Tools: tools, ToolChoice: tt.toolChoice, UseWebSearch: true,
			}, msgs)
			require.NoError(t, err)

			assert.Equal(t, []map[string]any{
				{"googleSearch": map[string]any{}},
				{"functionDeclarations": []map[string]any{{
					"name": "get_weather", "description": "Weather", "parameters": map[string]any{"type": "object"},
				}}},
			}, r.Payload["tools"])

			if tt.want == nil {
				assert.NotContains(t, r.Payload, "toolConfig")
				return
			}
			assert.Equal(t, map[string]any{"functionCallingConfig": tt.want}, r.Payload["toolConfig"])
		})
	}
}

func TestConvertGeminiChunk(t *testing.T) {
	payload := `{"candidates":[{"content":{"parts":[
		{"text":"pondering","thought":true},
		{"text":"Hello "},
		{"text":"world"},
		{"functionCall":{"name":"lookup","args":{"q":"x"}}}
	]},"finishReason":"STOP"}]}`

	thoughts, chunk, err := ConvertGeminiChunk([]byte(payload), "gemini-rid")
	require.NoError(t, err)
	assert.Equal(t, []string{"pondering"}, thoughts)
	assert.Equal(t, "gemini-rid", chunk.ID)
	require.Len(t, chunk.Choices, 1)

	choice := chunk.Choices[0]
	assert.Equal(t, "Hello world", choice.Delta.Content)
	assert.Equal(t, "STOP", choice.FinishReason)
	require.Len(t, choice.Delta.ToolCalls, 1)
	call := choice.Delta.ToolCalls[0]
	assert.Equal(t, "function", call["type"])
	assert.Equal(t, map[string]any{"name": "lookup", "arguments": `{"q":"x"}`}, call["function"])
}

func TestConvertGeminiChunkThoughtOnly(t *testing.T) {
	thoughts, chunk, err := ConvertGeminiChunk([]byte(`{"candidates":[{"content":{"parts":[{"text":"hmm","thought":true}]}}]}`), "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"hmm"}, thoughts)
	assert.Empty(t, chunk.Choices)

	_, chunk, err = ConvertGeminiChunk([]byte(`{"candidates":[{"content":{},"finishReason":"MAX_TOKENS"}]}`), "id")
	require.NoError(t, err)
	require.Len(t, chunk.Choices, 1)
	assert.Equal(t, "MAX_TOKENS", chunk.Choices[0].FinishReason)

	_, _, err = ConvertGeminiChunk([]byte(`not json`), "id")
	require.Error(t, err)
}
