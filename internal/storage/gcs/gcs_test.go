package gcs

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	gcstorage "cloud.google.com/go/storage"
	"github.com/eztalk/eztalk-proxy/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestObjectName(t *testing.T) {
	name := ObjectName("rid-9", "my holiday video (final).mp4")
	assert.Regexp(t, regexp.MustCompile(`^uploads/rid-9/my_holiday_video__final__[0-9a-f]{8}\.mp4$`), name)

	long := ObjectName("", strings.Repeat("a", 80)+".mov")
	assert.Regexp(t, regexp.MustCompile(`^uploads/unknown_req/a{50}_[0-9a-f]{8}\.mov$`), long)
}

func TestNewGCSStorageRequiresBucket(t *testing.T) {
	_, err := NewGCSStorage(nil, "")
	require.Error(t, err)
}

func TestGCSStorageSaveAndDelete(t *testing.T) {
	var uploaded, deleted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/b/media-bucket/o"):
			uploaded.Add(1)
			_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if !assert.NoError(t, err) {
				return
			}
			mr := multipart.NewReader(r.Body, params["boundary"])
			metaPart, err := mr.NextPart()
			if !assert.NoError(t, err) {
				return
			}
			var meta map[string]any
			_ = json.NewDecoder(metaPart).Decode(&meta)
			dataPart, err := mr.NextPart()
			if !assert.NoError(t, err) {
				return
			}
			body, _ := io.ReadAll(dataPart)
			assert.Equal(t, "VIDEO", string(body))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"bucket":      "media-bucket",
				"name":        meta["name"],
				"size":        "5",
				"contentType": meta["contentType"],
			})
		case r.Method == http.MethodDelete:
			deleted.Add(1)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client, err := gcstorage.NewClient(ctx,
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	defer client.Close()

	s, err := NewGCSStorage(client, "media-bucket")
	require.NoError(t, err)

	info, err := s.Save(ctx, strings.NewReader("VIDEO"), storage.SaveOptions{
		Prefix:       "rid",
		ContentType:  "video/mp4",
		OriginalName: "clip.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.True(t, strings.HasPrefix(info.URL, "gs://media-bucket/uploads/rid/clip_"))
	assert.Equal(t, "gs://media-bucket/"+info.ID, info.URL)
	assert.Equal(t, int32(1), uploaded.Load())

	require.NoError(t, s.Delete(ctx, info.ID))
	assert.Equal(t, int32(1), deleted.Load())
}
