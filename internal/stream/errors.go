package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"unicode/utf8"
)

const maxUnexpectedErrorLen = 200

// UpstreamError is returned when the upstream answers with a non-2xx status.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Classify maps a streaming failure to the message shown to the client and
// the upstream status, if any. silent is true for client cancellations,
// which are not reported.
func Classify(err error) (message string, status int, silent bool) {
	var upstream *UpstreamError
	var netErr net.Error
	var urlErr *url.Error

	switch {
	case errors.Is(err, ErrIdleTimeout), errors.Is(err, context.DeadlineExceeded):
		return "Request to LLM API timed out.", 0, false
	case errors.Is(err, context.Canceled):
		return "", 0, true
	case errors.As(err, &upstream):
		return fmt.Sprintf("Upstream API error (status %d): %s", upstream.StatusCode, truncate(upstream.Body, maxUnexpectedErrorLen)), upstream.StatusCode, false
	case errors.As(err, &netErr) && netErr.Timeout():
		return "Request to LLM API timed out.", 0, false
	case errors.As(err, &urlErr), errors.As(err, &netErr), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Sprintf("Network error: %v", err), 0, false
	default:
		return "Unexpected error: " + truncate(err.Error(), maxUnexpectedErrorLen), 0, false
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
