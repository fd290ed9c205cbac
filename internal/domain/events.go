package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	EventStatusUpdate     = "status_update"
	EventWebSearchResults = "web_search_results"
	EventReasoning        = "reasoning"
	EventReasoningFinish  = "reasoning_finish"
	EventContent          = "content"
	EventToolCallsChunk   = "tool_calls_chunk"
	EventError            = "error"
	EventFinish           = "finish"

	FinishStreamEnd      = "stream_end"
	FinishUpstreamFailed = "upstream_error_or_connection_failed"
	FinishErrorInStream  = "error_in_stream"
	FinishRequestError   = "request_error"

	timestampLayout = "2006-01-02T15:04:05.000000Z"
)

// Now is the clock used for event timestamps.
var Now = func() time.Time { return time.Now().UTC() }

func Timestamp() string {
	return Now().UTC().Format(timestampLayout)
}

type SearchResult struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Href    string `json:"href"`
	Snippet string `json:"snippet"`
}

// StreamEvent is one line of the response stream.
type StreamEvent struct {
	Type             string         `json:"type"`
	Stage            string         `json:"stage,omitempty"`
	Results          []SearchResult `json:"results,omitempty"`
	Text             string         `json:"text,omitempty"`
	Data             any            `json:"data,omitempty"`
	ID               string         `json:"id,omitempty"`
	Name             string         `json:"name,omitempty"`
	ArgumentsObj     map[string]any `json:"argumentsObj,omitempty"`
	IsReasoningStep  *bool          `json:"isReasoningStep,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	Message          string         `json:"message,omitempty"`
	UpstreamStatus   int            `json:"upstreamStatus,omitempty"`
	Timestamp        string         `json:"timestamp,omitempty"`
	WebSearchResults []SearchResult `json:"webSearchResults,omitempty"`
}

// MarshalLine encodes the event as a single JSON line terminated by '\n'.
func (e StreamEvent) MarshalLine() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func StatusEvent(stage string) StreamEvent {
	return StreamEvent{Type: EventStatusUpdate, Stage: stage}
}

func SearchResultsEvent(results []SearchResult) StreamEvent {
	return StreamEvent{Type: EventWebSearchResults, Results: results}
}

func ReasoningEvent(text string) StreamEvent {
	return StreamEvent{Type: EventReasoning, Text: text, Timestamp: Timestamp()}
}

func ReasoningFinishEvent() StreamEvent {
	return StreamEvent{Type: EventReasoningFinish, Timestamp: Timestamp()}
}

func ContentEvent(text string) StreamEvent {
	return StreamEvent{Type: EventContent, Text: text, Timestamp: Timestamp()}
}

func ToolCallsEvent(data any) StreamEvent {
	return StreamEvent{Type: EventToolCallsChunk, Data: data, Timestamp: Timestamp()}
}

func ErrorEvent(message string, upstreamStatus int) StreamEvent {
	return StreamEvent{Type: EventError, Message: message, UpstreamStatus: upstreamStatus, Timestamp: Timestamp()}
}

func FinishEvent(reason string) StreamEvent {
	return StreamEvent{Type: EventFinish, Reason: reason, Timestamp: Timestamp()}
}
