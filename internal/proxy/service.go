package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eztalk/eztalk-proxy/internal/document"
	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/eztalk/eztalk-proxy/internal/llm"
	"github.com/eztalk/eztalk-proxy/internal/metrics"
	"github.com/eztalk/eztalk-proxy/internal/search"
	"github.com/eztalk/eztalk-proxy/internal/storage"
	"github.com/eztalk/eztalk-proxy/internal/stream"
)

const (
	pathOpenAI = "openai"
	pathGemini = "gemini"

	// maxErrorBody bounds how much of a failed upstream response is read.
	maxErrorBody = 64 * 1024
)

type Searcher interface {
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

// FileUploader hands large media to the Gemini File API.
type FileUploader interface {
	Upload(ctx context.Context, apiKey, displayName, mimeType string, data []byte) (string, error)
}

type Options struct {
	OpenAIBaseURL        string
	OpenAICompatiblePath string
	GoogleBaseURL        string
	GoogleAPIKey         string

	ReadTimeout           time.Duration
	MaxSSELineLength      int
	ContentFlushThreshold int

	// ThinkingSeparator splits reasoning from the answer when a request
	// forces the custom reasoning prompt.
	ThinkingSeparator string

	// MaxInlineMediaSize is the largest video sent inline to Gemini.
	MaxInlineMediaSize int64
}

type Service struct {
	opts      Options
	client    *http.Client
	staging   storage.Storage
	media     storage.Storage
	extractor *document.Extractor
	searcher  Searcher
	files     FileUploader
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService wires the chat pipeline. media may be nil, in which case large
// Gemini videos go through the File API.
func NewService(
	opts Options,
	client *http.Client,
	staging storage.Storage,
	media storage.Storage,
	extractor *document.Extractor,
	searcher Searcher,
	files FileUploader,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		opts:      opts,
		client:    client,
		staging:   staging,
		media:     media,
		extractor: extractor,
		searcher:  searcher,
		files:     files,
		metrics:   m,
		logger:    logger,
	}
}

// Chat answers one chat request, writing the event stream to out. It always
// ends the stream with a finish event unless the client went away.
func (s *Service) Chat(ctx context.Context, rid string, req *domain.ChatRequest, files []domain.UploadedFile, out *EventWriter) {
	path := pathOpenAI
	if req.IsGeminiModel() {
		path = pathGemini
	}
	logger := s.logger.With("rid", rid, "path", path, "provider", req.Provider, "model", req.Model)

	start := time.Now()
	s.metrics.RecordChatStarted(path)
	defer func() {
		s.metrics.RecordChatFinished(path, out.FinishReason(), time.Since(start).Seconds())
	}()

	logger.Info("Dispatching chat request", "messages", len(req.Messages), "uploads", len(files))
	if path == pathGemini {
		s.geminiChat(ctx, logger, rid, req, files, out)
		return
	}
	s.openAIChat(ctx, logger, rid, req, files, out)
}

// streamUpstream posts the request and feeds every SSE payload to handle.
// It reports whether the upstream answered with a 2xx status.
func (s *Service) streamUpstream(
	ctx context.Context,
	logger *slog.Logger,
	path string,
	upReq *llm.Request,
	proc *stream.Processor,
	out *EventWriter,
	handle func(payload []byte) ([]domain.StreamEvent, error),
) bool {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := upReq.NewHTTPRequest(ctx)
	if err != nil {
		out.Write(proc.Fail(err)...)
		return false
	}

	logger.Info("Calling upstream", "url", upReq.RedactedURL())
	resp, err := s.client.Do(httpReq)
	if err != nil {
		logger.Error("Upstream request failed", "error", err)
		out.Write(proc.Fail(err)...)
		return false
	}
	defer resp.Body.Close()

	s.metrics.RecordUpstreamStatus(path, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.Error("Upstream returned error status", "status", resp.StatusCode, "body", string(body))
		out.Write(proc.Fail(&stream.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		})...)
		return false
	}

	var body io.Reader = resp.Body
	if s.opts.ReadTimeout > 0 {
		idle := stream.NewIdleTimeoutReader(resp.Body, s.opts.ReadTimeout, cancel)
		defer idle.Stop()
		body = idle
	}

	reader := stream.NewReader(body, s.opts.MaxSSELineLength, logger)
	for {
		payload, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return true
		}
		if err != nil {
			logger.Error("Upstream stream failed", "error", err)
			out.Write(proc.Fail(err)...)
			return true
		}

		events, err := handle(payload)
		if err != nil {
			logger.Warn("Skipping corrupted SSE payload", "error", err, "start", preview(payload, 100))
			continue
		}
		out.Write(events...)
	}
}

// webSearch runs the search for query and emits its progress events. It
// returns the context text to inject, or "" when there is nothing to add.
func (s *Service) webSearch(ctx context.Context, logger *slog.Logger, query string, out *EventWriter) string {
	out.Write(domain.StatusEvent("Searching web..."))

	results, err := s.searcher.Search(ctx, query)
	switch {
	case errors.Is(err, search.ErrSearchDisabled):
		logger.Warn("Web search requested but not configured")
		s.metrics.RecordWebSearch("disabled")
		return ""
	case err != nil:
		logger.Error("Web search failed, proceeding without search context", "error", err)
		s.metrics.RecordWebSearch("error")
		out.Write(domain.StatusEvent("Web search failed, answering directly..."))
		return ""
	case len(results) == 0:
		s.metrics.RecordWebSearch("empty")
		return ""
	}

	s.metrics.RecordWebSearch("ok")
	out.Write(domain.SearchResultsEvent(results))
	return search.ContextMessage(query, results)
}

// newProcessor builds the per-request stream processor, switching on the
// reasoning separator when the request calls for it.
func (s *Service) newProcessor(logger *slog.Logger, req *domain.ChatRequest, googlePath, nativeThinking bool) *stream.Processor {
	proc := stream.NewProcessor(s.opts.ContentFlushThreshold)
	apply, reason := stream.CustomSeparator(req, googlePath, nativeThinking)
	if apply && s.opts.ThinkingSeparator != "" {
		proc.SplitOnSeparator(s.opts.ThinkingSeparator)
	}
	logger.Info("Custom separator decision", "custom_separator", apply, "separator_reason", reason)
	return proc
}

func preview(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
