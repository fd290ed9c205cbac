package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	MimePDF    = "application/pdf"
	MimeDocx   = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeMsword = "application/msword"

	mswordNotice = "[notice: .doc content extraction may be incomplete or failed]"
)

var (
	ErrUnsupportedMIME = errors.New("unsupported mime type for text extraction")
	ErrNoText          = errors.New("no text could be extracted")
)

// ExtractableMIMETypes lists the upload types whose text can be pulled into
// the prompt.
var ExtractableMIMETypes = map[string]bool{
	"text/plain":       true,
	"text/html":        true,
	"text/csv":         true,
	"text/markdown":    true,
	"application/json": true,
	"text/xml":         true,
	"text/rtf":         true,

	MimePDF:    true,
	MimeDocx:   true,
	MimeMsword: true,

	"audio/flac":  true,
	"audio/wav":   true,
	"audio/x-wav": true,

	"application/x-javascript": true,
	"text/javascript":          true,
	"text/css":                 true,
	"application/x-python":     true,
	"text/x-python":            true,
}

// gb2312 is a subset of gbk, so a failed gbk decode rules it out as well.
// latin-1 maps every byte and therefore always succeeds.
var textEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"gbk", simplifiedchinese.GBK},
	{"latin-1", charmap.ISO8859_1},
}

type Extractor struct {
	maxChars int
	logger   *slog.Logger
}

func NewExtractor(maxChars int, logger *slog.Logger) *Extractor {
	return &Extractor{
		maxChars: maxChars,
		logger:   logger,
	}
}

func IsExtractable(mimeType string) bool {
	return ExtractableMIMETypes[strings.ToLower(mimeType)]
}

// Extract returns the prompt-ready text of a document read from r. The
// result is trimmed and capped at the configured number of characters.
func (e *Extractor) Extract(r io.Reader, mimeType, name string) (string, error) {
	mimeType = strings.ToLower(mimeType)
	if mimeType == "" {
		return "", fmt.Errorf("%w: no mime type for %q", ErrUnsupportedMIME, name)
	}
	if !ExtractableMIMETypes[mimeType] {
		return "", fmt.Errorf("%w: %q for %q", ErrUnsupportedMIME, mimeType, name)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %q: %w", name, err)
	}

	var text string
	switch {
	case mimeType == MimePDF:
		text, err = e.pdfText(data, name)
	case mimeType == MimeDocx:
		text, err = DocxText(data)
	case mimeType == MimeMsword:
		e.logger.Warn("Text extraction for .doc files is best effort", "file", name)
		text, err = PlainText(data)
		if err != nil || text == "" {
			text, err = mswordNotice, nil
		}
	default:
		text, err = PlainText(data)
	}
	if err != nil {
		return "", fmt.Errorf("failed to extract %q: %w", name, err)
	}
	if text == "" {
		return "", fmt.Errorf("%w: %q", ErrNoText, name)
	}

	if n := utf8.RuneCountInString(text); n > e.maxChars {
		e.logger.Info("Extracted text truncated", "file", name, "chars", n, "max", e.maxChars)
		text = Truncate(text, e.maxChars)
	}

	e.logger.Info("Extracted document text", "file", name, "mime", mimeType, "chars", utf8.RuneCountInString(text))
	return strings.TrimSpace(text), nil
}

// ExtractDocx returns the full text of a docx upload. Unlike Extract it does
// not truncate: the text is sent to Gemini as its own part.
func (e *Extractor) ExtractDocx(data []byte, name string) (string, error) {
	text, err := DocxText(data)
	if err != nil {
		return "", fmt.Errorf("failed to extract %q: %w", name, err)
	}
	if text == "" {
		return "", fmt.Errorf("%w: %q", ErrNoText, name)
	}
	e.logger.Info("Extracted document text", "file", name, "mime", MimeDocx, "chars", utf8.RuneCountInString(text))
	return text, nil
}

func Truncate(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + fmt.Sprintf("\n[content truncated, original length exceeds %d characters]", maxChars)
}

// PlainText decodes data as utf-8, falling back to gbk and then latin-1.
func PlainText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return strings.TrimSpace(string(data)), nil
	}
	for _, te := range textEncodings {
		decoded, err := te.enc.NewDecoder().Bytes(data)
		if err != nil || bytes.ContainsRune(decoded, utf8.RuneError) {
			continue
		}
		return strings.TrimSpace(string(decoded)), nil
	}
	return "", errors.New("could not decode text with any known encoding")
}

func (e *Extractor) pdfText(data []byte, name string) (string, error) {
	// The pdf reader tries the empty password on encrypted files.
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := pageText(page)
		if err != nil {
			e.logger.Warn("Failed to extract pdf page", "file", name, "page", i, "error", err)
			continue
		}
		sb.WriteString(pageText)
	}

	return strings.TrimSpace(sb.String()), nil
}

// pageText guards against panics the pdf package raises on malformed
// content streams.
func pageText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}
