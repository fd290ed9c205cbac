package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/eztalk/eztalk-proxy/internal/log"
	"github.com/eztalk/eztalk-proxy/internal/metrics"
	"github.com/eztalk/eztalk-proxy/internal/proxy"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	req   *domain.ChatRequest
	files []domain.UploadedFile
	rid   string
}

func (s *recordingService) Chat(_ context.Context, rid string, req *domain.ChatRequest, files []domain.UploadedFile, out *proxy.EventWriter) {
	s.rid, s.req, s.files = rid, req, files
	out.Write(domain.ContentEvent("hello"), domain.FinishEvent(domain.FinishStreamEnd))
}

type upload struct {
	name, contentType string
	data              []byte
}

func multipartBody(t *testing.T, requestJSON string, uploads ...upload) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if requestJSON != "" {
		require.NoError(t, mw.WriteField(requestField, requestJSON))
	}
	for _, u := range uploads {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+filesField+`"; filename="`+u.name+`"`)
		h.Set("Content-Type", u.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func newTestRouter(svc ChatService, maxSize int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewChatHandler(svc, maxSize, metrics.NewMetrics(), log.Discard())
	r := gin.New()
	r.POST("/chat", h.Chat)
	return r
}

func doChat(r *gin.Engine, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

const validRequest = `{"provider":"openai","model":"gpt-4o","apiKey":"k","messages":[{"type":"simple_text_message","role":"user","content":"hi"}]}`

func TestChatStreamsEvents(t *testing.T) {
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 1, 1))))

	svc := &recordingService{}
	body, ct := multipartBody(t, validRequest,
		upload{"photo", "application/octet-stream", img.Bytes()},
		upload{"notes.txt", "text/plain; charset=utf-8", []byte("notes")},
	)
	rec := doChat(newTestRouter(svc, 1<<20), body, ct)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"content"`)
	assert.Contains(t, lines[1], `"reason":"stream_end"`)

	require.NotNil(t, svc.req)
	assert.Equal(t, "gpt-4o", svc.req.Model)
	assert.NotEmpty(t, svc.rid)
	require.Len(t, svc.files, 2)
	assert.Equal(t, "image/png", svc.files[0].ContentType)
	assert.Equal(t, "text/plain", svc.files[1].ContentType)
	assert.Equal(t, int64(5), svc.files[1].Size)
}

func TestChatAcceptsEmptyAPIKeyForGemini(t *testing.T) {
	svc := &recordingService{}
	body, ct := multipartBody(t, `{"provider":"google","model":"gemini-2.5-flash","apiKey":"","messages":[{"type":"simple_text_message","role":"user","content":"hi"}]}`)
	rec := doChat(newTestRouter(svc, 1<<20), body, ct)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, svc.req)
	assert.Empty(t, svc.req.APIKey)
	assert.True(t, svc.req.IsGeminiModel())
}

func TestChatRejects(t *testing.T) {
	tests := []struct {
		name        string
		requestJSON string
		status      int
		message     string
	}{
		{"missing request field", "", http.StatusBadRequest, "chat_request_json is required"},
		{"malformed json", `{"model":`, http.StatusBadRequest, "Invalid chat request data: "},
		{"failed validation", `{"messages":[]}`, http.StatusBadRequest, "provider is required"},
		{"missing api key", `{"provider":"google","model":"gemini-2.5-flash","messages":[]}`, http.StatusBadRequest, "apiKey is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &recordingService{}
			body, ct := multipartBody(t, tt.requestJSON)
			rec := doChat(newTestRouter(svc, 1<<20), body, ct)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

			var resp domain.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "proxy_error", resp.Error.Type)
			assert.Equal(t, tt.status, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.message)
			assert.Nil(t, svc.req)
		})
	}
}

func TestChatRejectsNonMultipart(t *testing.T) {
	rec := doChat(newTestRouter(&recordingService{}, 1<<20), bytes.NewBufferString(validRequest), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatBodyTooLarge(t *testing.T) {
	body, ct := multipartBody(t, validRequest, upload{"big.txt", "text/plain", bytes.Repeat([]byte("a"), 4096)})
	rec := doChat(newTestRouter(&recordingService{}, 64), body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
