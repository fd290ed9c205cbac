package llm

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eztalk/eztalk-proxy/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAPIUpload(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload/v1beta/files":
			assert.Equal(t, "multipart", r.Header.Get("X-Goog-Upload-Protocol"))
			mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, "multipart/related", mediaType)

			mr := multipart.NewReader(r.Body, params["boundary"])
			meta, err := mr.NextPart()
			if !assert.NoError(t, err) {
				return
			}
			metaBody, _ := io.ReadAll(meta)
			assert.JSONEq(t, `{"file":{"display_name":"clip.mp4"}}`, string(metaBody))

			data, err := mr.NextPart()
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, "video/mp4", data.Header.Get("Content-Type"))
			dataBody, _ := io.ReadAll(data)
			assert.Equal(t, "VIDEO", string(dataBody))

			_, _ = w.Write([]byte(`{"file":{"name":"files/abc","uri":"https://files/abc","state":"PROCESSING"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1beta/files/abc":
			state := "PROCESSING"
			if polls.Add(1) >= 2 {
				state = "ACTIVE"
			}
			_, _ = w.Write([]byte(`{"name":"files/abc","uri":"https://files/abc","state":"` + state + `"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	api := NewFileAPI(srv.URL+"/", srv.Client(), 5*time.Millisecond, log.Discard())
	uri, err := api.Upload(context.Background(), "secret", "clip.mp4", "video/mp4", []byte("VIDEO"))
	require.NoError(t, err)
	assert.Equal(t, "https://files/abc", uri)
	assert.Equal(t, int32(2), polls.Load())
}

func TestFileAPIUploadFailedState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"file":{"name":"files/x","state":"PROCESSING"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"name":"files/x","state":"FAILED"}`))
	}))
	defer srv.Close()

	api := NewFileAPI(srv.URL, srv.Client(), time.Millisecond, log.Discard())
	_, err := api.Upload(context.Background(), "k", "a", "video/mp4", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state FAILED")
}

func TestFileAPIUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	api := NewFileAPI(srv.URL, srv.Client(), time.Millisecond, log.Discard())
	_, err := api.Upload(context.Background(), "k", "a", "video/mp4", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
