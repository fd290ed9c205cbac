package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/eztalk/eztalk-proxy/internal/auth"
	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/eztalk/eztalk-proxy/internal/media"
	"github.com/eztalk/eztalk-proxy/internal/metrics"
	"github.com/eztalk/eztalk-proxy/internal/proxy"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestField = "chat_request_json"
	filesField   = "uploaded_documents"
)

type ChatService interface {
	Chat(ctx context.Context, rid string, req *domain.ChatRequest, files []domain.UploadedFile, out *proxy.EventWriter)
}

type ChatHandler struct {
	service ChatService
	maxSize int64
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewChatHandler(service ChatService, maxSize int64, m *metrics.Metrics, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		maxSize: maxSize,
		metrics: m,
		logger:  logger,
	}
}

func (h *ChatHandler) Chat(c *gin.Context) {
	rid := uuid.New().String()
	logger := h.logger.With("rid", rid)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("Request body too large", "limit", h.maxSize)
			abortWithError(c, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		logger.Warn("Failed to parse multipart form", "error", err)
		abortWithError(c, http.StatusBadRequest, "Invalid multipart form data")
		return
	}
	defer form.RemoveAll()

	raw := form.Value[requestField]
	if len(raw) == 0 || raw[0] == "" {
		abortWithError(c, http.StatusBadRequest, requestField+" is required")
		return
	}

	req, err := domain.ParseChatRequest([]byte(raw[0]))
	if err != nil {
		logger.Error("Failed to parse or validate chat request", "error", err)
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Invalid chat request data: %v", err))
		return
	}

	files, err := readUploads(form.File[filesField])
	if err != nil {
		logger.Error("Failed to read uploaded files", "error", err)
		abortWithError(c, http.StatusBadRequest, "Failed to read uploaded files")
		return
	}

	attrs := []any{"provider", req.Provider, "model", req.Model, "uploads", len(files)}
	if authCtx, ok := auth.GetAuthContext(c); ok {
		attrs = append(attrs, "subject", authCtx.Subject)
	}
	logger.Info("Received chat request", attrs...)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	out := proxy.NewEventWriter(c.Writer, h.metrics, logger)
	h.service.Chat(c.Request.Context(), rid, req, files, out)
}

func readUploads(headers []*multipart.FileHeader) ([]domain.UploadedFile, error) {
	files := make([]domain.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		data, err := readFile(fh)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", fh.Filename, err)
		}
		files = append(files, domain.UploadedFile{
			Filename:    fh.Filename,
			ContentType: media.Sniff(fh.Header.Get("Content-Type"), data),
			Size:        int64(len(data)),
			Data:        data,
		})
	}
	return files, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}
