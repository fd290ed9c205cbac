package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// KatexInstruction asks the model to format math for the client's renderer.
const KatexInstruction = "Please format all mathematical expressions and equations using KaTeX syntax. For inline math, use `$expression$`. For block math, use `$$expression$$`."

// Request is a prepared upstream call.
type Request struct {
	URL     string
	Headers map[string]string
	Payload map[string]any
}

func (r *Request) NewHTTPRequest(ctx context.Context) (*http.Request, error) {
	body, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// RedactedURL drops the query string, which may carry an API key.
func (r *Request) RedactedURL() string {
	u, _, _ := strings.Cut(r.URL, "?")
	return u
}
