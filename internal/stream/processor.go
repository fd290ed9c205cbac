package stream

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/eztalk/eztalk-proxy/internal/domain"
)

// Chunk is the OpenAI chat.completion.chunk shape. Gemini responses are
// converted into it before processing.
type Chunk struct {
	ID      string   `json:"id,omitempty"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type Delta struct {
	Content          string           `json:"content,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []map[string]any `json:"tool_calls,omitempty"`
}

func ParseChunk(payload []byte) (Chunk, error) {
	var c Chunk
	err := json.Unmarshal(payload, &c)
	return c, err
}

// Processor turns upstream chunks into client events for a single request.
// It is not safe for concurrent use.
type Processor struct {
	flushThreshold int
	separator      string

	content             strings.Builder
	preamble            strings.Builder
	separatorSeen       bool
	hadReasoning        bool
	reasoningFinishSent bool
	finishSent          bool
}

func NewProcessor(flushThreshold int) *Processor {
	return &Processor{flushThreshold: flushThreshold}
}

// SplitOnSeparator makes content written before sep count as reasoning.
// Content is held back until sep shows up; if it never does, the held text
// is released as ordinary content.
func (p *Processor) SplitOnSeparator(sep string) {
	p.separator = sep
}

// FinishSent reports whether a finish event has already been emitted.
func (p *Processor) FinishSent() bool {
	return p.finishSent
}

func (p *Processor) Reasoning(text string) []domain.StreamEvent {
	if text == "" {
		return nil
	}
	p.hadReasoning = true
	return []domain.StreamEvent{domain.ReasoningEvent(text)}
}

func (p *Processor) Process(chunk Chunk) []domain.StreamEvent {
	var events []domain.StreamEvent

	for _, choice := range chunk.Choices {
		delta := choice.Delta

		events = append(events, p.Reasoning(delta.ReasoningContent)...)

		content := delta.Content
		if content != "" && p.separator != "" && !p.separatorSeen {
			var reasoning string
			reasoning, content = p.splitPreamble(content)
			events = append(events, p.Reasoning(reasoning)...)
		}

		if content != "" {
			p.content.WriteString(content)
			events = p.finishReasoning(events)
			if utf8.RuneCountInString(p.content.String()) >= p.flushThreshold {
				events = p.flushContent(events)
			}
		}

		if len(delta.ToolCalls) > 0 || choice.FinishReason != "" {
			events = p.flushContent(events)
			events = p.finishReasoning(events)

			if len(delta.ToolCalls) > 0 {
				events = append(events, domain.ToolCallsEvent(delta.ToolCalls))
			}
			if choice.FinishReason != "" {
				events = append(events, domain.FinishEvent(choice.FinishReason))
				p.finishSent = true
			}
		}
	}

	return events
}

// Fail reports err to the client. Buffered output is flushed first. A
// cancelled client gets nothing.
func (p *Processor) Fail(err error) []domain.StreamEvent {
	message, status, silent := Classify(err)
	if silent {
		return nil
	}

	events := p.finishReasoning(nil)
	events = p.flushContent(events)
	events = append(events, domain.ErrorEvent(message, status))
	if !p.finishSent {
		events = append(events, domain.FinishEvent(domain.FinishErrorInStream))
		p.finishSent = true
	}
	return events
}

// Close emits whatever is still pending and a terminal finish event unless
// one was already sent.
func (p *Processor) Close(upstreamOK bool) []domain.StreamEvent {
	events := p.finishReasoning(nil)
	events = p.flushContent(events)

	if !p.finishSent {
		reason := domain.FinishStreamEnd
		if !upstreamOK {
			reason = domain.FinishUpstreamFailed
		}
		events = append(events, domain.FinishEvent(reason))
		p.finishSent = true
	}
	return events
}

func (p *Processor) finishReasoning(events []domain.StreamEvent) []domain.StreamEvent {
	if p.hadReasoning && !p.reasoningFinishSent {
		p.reasoningFinishSent = true
		return append(events, domain.ReasoningFinishEvent())
	}
	return events
}

// splitPreamble buffers text until the separator is seen and then returns
// the reasoning before it and the content after it.
func (p *Processor) splitPreamble(text string) (reasoning, content string) {
	p.preamble.WriteString(text)
	before, after, found := strings.Cut(p.preamble.String(), p.separator)
	if !found {
		return "", ""
	}
	p.separatorSeen = true
	p.preamble.Reset()
	return strings.TrimSpace(before), strings.TrimLeft(after, "\r\n")
}

func (p *Processor) flushContent(events []domain.StreamEvent) []domain.StreamEvent {
	if p.preamble.Len() > 0 {
		p.content.WriteString(p.preamble.String())
		p.preamble.Reset()
	}
	if p.content.Len() == 0 {
		return events
	}
	text := p.content.String()
	p.content.Reset()
	return append(events, domain.ContentEvent(text))
}

// CustomSeparator decides whether the legacy reasoning separator applies to
// a request and explains why.
func CustomSeparator(req *domain.ChatRequest, googlePath, nativeThinking bool) (bool, string) {
	switch {
	case req.ForceCustomReasoningPrompt:
		return true, "forced by request"
	case googlePath && nativeThinking:
		return false, "google native thinking active"
	case strings.Contains(strings.ToLower(req.Model), "deepseek") || strings.EqualFold(req.Provider, "mke"):
		return false, "deepseek/mke use reasoning_content"
	default:
		return false, "off by default"
	}
}
