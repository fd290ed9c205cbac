package media

import "strings"

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// OpenAIImageTypes are sent as image_url parts to OpenAI-compatible upstreams.
var OpenAIImageTypes = set("image/jpeg", "image/png", "image/gif", "image/webp")

// GeminiUploadTypes are the upload types Gemini accepts as media. The
// OpenAI-compatible path also forwards these as multimodal content.
var GeminiUploadTypes = set(
	"image/png", "image/jpeg", "image/webp", "image/heic", "image/heif",
	"video/mp4", "application/mp4", "video/mpeg", "video/quicktime",
	"video/x-msvideo", "video/x-flv", "video/x-matroska", "video/webm",
	"video/x-ms-wmv", "video/3gpp", "video/x-m4v",
	"audio/wav", "audio/x-wav", "audio/mpeg", "audio/aac", "audio/ogg",
	"audio/opus", "audio/flac", "audio/midi", "audio/amr", "audio/aiff",
	"audio/x-m4a",
	"text/plain", "application/pdf",
)

var GeminiImageTypes = set("image/png", "image/jpeg", "image/webp", "image/heic", "image/heif")

var GeminiDocumentTypes = set(
	"application/pdf",
	"application/x-javascript", "text/javascript",
	"application/x-python", "text/x-python",
	"text/plain", "text/html", "text/css", "text/md", "text/markdown",
	"text/csv", "text/xml", "text/rtf",
)

var GeminiVideoTypes = set(
	"video/mp4", "video/mpeg", "video/quicktime", "video/x-msvideo", "video/x-flv",
	"video/x-matroska", "video/webm", "video/x-ms-wmv", "video/3gpp", "video/x-m4v",
)

var GeminiAudioTypes = set(
	"audio/wav", "audio/mpeg", "audio/aac", "audio/ogg", "audio/opus", "audio/flac", "audio/3gpp",
)

func IsAudioOrVideo(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "video/")
}
