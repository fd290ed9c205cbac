package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const (
	FileStateProcessing = "PROCESSING"
	FileStateActive     = "ACTIVE"

	DefaultPollInterval = 5 * time.Second
)

// GeminiFile is the File API resource.
type GeminiFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
}

// FileAPI uploads large media to the Gemini File API.
type FileAPI struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewFileAPI(baseURL string, client *http.Client, pollInterval time.Duration, logger *slog.Logger) *FileAPI {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &FileAPI{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Upload sends data and waits until the file leaves the PROCESSING state.
// It returns the file URI once the file is ACTIVE.
func (f *FileAPI) Upload(ctx context.Context, apiKey, displayName, mimeType string, data []byte) (string, error) {
	file, err := f.create(ctx, apiKey, displayName, mimeType, data)
	if err != nil {
		return "", err
	}
	f.logger.Info("Uploaded file to Gemini File API, waiting for processing", "name", file.Name, "uri", file.URI)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for file.State == FileStateProcessing {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		file, err = f.get(ctx, apiKey, file.Name)
		if err != nil {
			return "", err
		}
		f.logger.Info("Gemini file state", "name", file.Name, "state", file.State)
	}

	if file.State != FileStateActive {
		return "", fmt.Errorf("file %s failed to process, state %s", file.Name, file.State)
	}
	return file.URI, nil
}

func (f *FileAPI) create(ctx context.Context, apiKey, displayName, mimeType string, data []byte) (*GeminiFile, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	meta, err := json.Marshal(map[string]any{"file": map[string]string{"display_name": displayName}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode file metadata: %w", err)
	}
	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=utf-8"}})
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata part: %w", err)
	}
	if _, err := metaPart.Write(meta); err != nil {
		return nil, fmt.Errorf("failed to write metadata part: %w", err)
	}

	dataPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {mimeType}})
	if err != nil {
		return nil, fmt.Errorf("failed to create data part: %w", err)
	}
	if _, err := dataPart.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write data part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/upload/v1beta/files?key=%s", f.baseURL, url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())
	req.Header.Set("X-Goog-Upload-Protocol", "multipart")

	var created struct {
		File GeminiFile `json:"file"`
	}
	if err := f.do(req, &created); err != nil {
		return nil, fmt.Errorf("file upload failed: %w", err)
	}
	return &created.File, nil
}

func (f *FileAPI) get(ctx context.Context, apiKey, name string) (*GeminiFile, error) {
	endpoint := fmt.Sprintf("%s/v1beta/%s?key=%s", f.baseURL, name, url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create file status request: %w", err)
	}

	var file GeminiFile
	if err := f.do(req, &file); err != nil {
		return nil, fmt.Errorf("file status request failed: %w", err)
	}
	return &file, nil
}

func (f *FileAPI) do(req *http.Request, out any) error {
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
