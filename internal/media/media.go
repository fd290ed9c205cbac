package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"

	// Registers the webp decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

const (
	MaxImageDimension = 2048
	OctetStream       = "application/octet-stream"
)

// Encoded is a base64 payload ready to be placed into an upstream request.
type Encoded struct {
	MimeType string
	Base64   string
	Resized  bool
}

func (e Encoded) DataURI() string {
	return DataURI(e.MimeType, e.Base64)
}

func DataURI(mimeType, b64 string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, b64)
}

// NormalizeContentType lowercases a Content-Type header value and strips
// its parameters.
func NormalizeContentType(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(header); err == nil {
		return strings.ToLower(mt)
	}
	mt, _, _ := strings.Cut(header, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// Sniff returns the effective MIME type of an upload. The client supplied
// type wins unless it is missing or generic, in which case the payload's
// magic bytes decide.
func Sniff(contentType string, data []byte) string {
	ct := NormalizeContentType(contentType)
	if ct != "" && ct != OctetStream {
		return ct
	}

	head := data
	if len(head) > 8192 {
		head = head[:8192]
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return ct
	}
	return kind.MIME.Value
}

func Encode(data []byte, mimeType string) Encoded {
	return Encoded{
		MimeType: mimeType,
		Base64:   base64.StdEncoding.EncodeToString(data),
	}
}

// EncodeImage downscales images whose width or height exceeds
// MaxImageDimension, keeping the aspect ratio, and base64 encodes the
// result. JPEG, PNG and GIF keep their format; anything else is written as
// JPEG. On failure the original bytes are returned encoded along with the
// error.
func EncodeImage(data []byte, mimeType string) (Encoded, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Encode(data, mimeType), fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= MaxImageDimension && cfg.Height <= MaxImageDimension {
		return Encode(data, mimeType), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Encode(data, mimeType), fmt.Errorf("failed to decode %s image: %w", format, err)
	}

	resized := imaging.Fit(img, MaxImageDimension, MaxImageDimension, imaging.Lanczos)

	outFormat, outMime := imaging.JPEG, "image/jpeg"
	switch format {
	case "png":
		outFormat, outMime = imaging.PNG, "image/png"
	case "gif":
		outFormat, outMime = imaging.GIF, "image/gif"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, outFormat, imaging.JPEGQuality(90)); err != nil {
		return Encode(data, mimeType), fmt.Errorf("failed to encode resized image: %w", err)
	}

	enc := Encode(buf.Bytes(), outMime)
	enc.Resized = true
	return enc, nil
}
