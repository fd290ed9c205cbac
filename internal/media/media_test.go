package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodedConfig(t *testing.T, b64 string) (image.Config, string) {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	return cfg, format
}

func TestEncodeImageKeepsSmallImages(t *testing.T) {
	data := makePNG(t, 64, 32)

	enc, err := EncodeImage(data, "image/png")
	require.NoError(t, err)
	assert.False(t, enc.Resized)
	assert.Equal(t, "image/png", enc.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), enc.Base64)
}

func TestEncodeImageDownscalesLargePNG(t *testing.T) {
	data := makePNG(t, 3000, 1500)

	enc, err := EncodeImage(data, "image/png")
	require.NoError(t, err)
	assert.True(t, enc.Resized)
	assert.Equal(t, "image/png", enc.MimeType)

	cfg, format := decodedConfig(t, enc.Base64)
	assert.Equal(t, "png", format)
	assert.Equal(t, 2048, cfg.Width)
	assert.Equal(t, 1024, cfg.Height)
}

func TestEncodeImageDownscalesTallJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1000, 4096))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	enc, err := EncodeImage(buf.Bytes(), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", enc.MimeType)

	cfg, _ := decodedConfig(t, enc.Base64)
	assert.Equal(t, 500, cfg.Width)
	assert.Equal(t, 2048, cfg.Height)
}

func TestEncodeImageFallsBackOnGarbage(t *testing.T) {
	data := []byte("definitely not an image")

	enc, err := EncodeImage(data, "image/webp")
	require.Error(t, err)
	assert.Equal(t, "image/webp", enc.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), enc.Base64)
}

func TestSniff(t *testing.T) {
	pngData := makePNG(t, 4, 4)

	tests := []struct {
		name        string
		contentType string
		data        []byte
		want        string
	}{
		{"client type wins", "Image/JPEG; charset=binary", pngData, "image/jpeg"},
		{"octet stream is sniffed", "application/octet-stream", pngData, "image/png"},
		{"missing type is sniffed", "", pngData, "image/png"},
		{"unknown bytes keep generic type", "application/octet-stream", []byte("hello"), "application/octet-stream"},
		{"unknown bytes without type", "", []byte("hello"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.contentType, tt.data))
		})
	}
}

func TestDataURI(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,AAAA", Encoded{MimeType: "image/png", Base64: "AAAA"}.DataURI())
}

func TestTypeTables(t *testing.T) {
	assert.True(t, OpenAIImageTypes["image/gif"])
	assert.False(t, OpenAIImageTypes["image/heic"])
	assert.True(t, GeminiUploadTypes["video/webm"])
	assert.True(t, GeminiDocumentTypes["text/md"])
	assert.True(t, IsAudioOrVideo("audio/mpeg"))
	assert.False(t, IsAudioOrVideo("image/png"))
}
