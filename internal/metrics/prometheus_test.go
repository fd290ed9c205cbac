package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", StatusClass(200))
	assert.Equal(t, "4xx", StatusClass(404))
	assert.Equal(t, "5xx", StatusClass(503))
	assert.Equal(t, "other", StatusClass(0))
	assert.Equal(t, "other", StatusClass(700))
}

func TestRecorders(t *testing.T) {
	m := NewMetrics()

	m.RecordChatStarted("gemini")
	m.RecordChatStarted("openai")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveStreams))
	m.RecordChatFinished("gemini", "stream_end", 1.5)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatRequests.WithLabelValues("openai")))

	m.RecordUpstreamStatus("openai", 429)
	m.RecordUpstreamStatus("openai", 401)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpstreamStatuses.WithLabelValues("openai", "4xx")))

	m.RecordStreamEvent("content")
	m.RecordWebSearch("ok")
	m.RecordUpload("extracted")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamEvents.WithLabelValues("content")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebSearches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues("extracted")))
}

func TestNewMetricsUsesPrivateRegistry(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics()
	b := NewMetrics()
	a.RecordWebSearch("ok")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.WebSearches.WithLabelValues("ok")))
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest("POST", "/chat", "200", 0.2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `eztalk_http_requests_total{endpoint="/chat",method="POST",status_code="200"} 1`)
}
