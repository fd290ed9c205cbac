package proxy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eztalk/eztalk-proxy/internal/document"
	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/eztalk/eztalk-proxy/internal/llm"
	"github.com/eztalk/eztalk-proxy/internal/media"
	"github.com/eztalk/eztalk-proxy/internal/storage"
)

func (s *Service) geminiChat(ctx context.Context, logger *slog.Logger, rid string, req *domain.ChatRequest, files []domain.UploadedFile, out *EventWriter) {
	messages := req.CloneMessages()
	query := geminiQuery(messages)

	if parts := s.geminiUploadParts(ctx, logger, rid, req, files); len(parts) > 0 {
		messages = appendToLastUser(messages, parts)
	}

	if req.UseWebSearch && query != "" {
		if searchContext := s.webSearch(ctx, logger, query, out); searchContext != "" {
			messages = prependToLastUser(messages, domain.TextPart(searchContext))
			logger.Info("Injected web search context into the last user message")
			out.Write(domain.StatusEvent("Answering..."))
		}
	}

	builder := llm.GeminiBuilder{BaseURL: s.opts.GoogleBaseURL, APIKey: s.opts.GoogleAPIKey, Logger: logger}
	upReq, err := builder.Build(req, messages)
	if err != nil {
		logger.Error("Failed to prepare gemini request", "error", err)
		out.Write(
			domain.ErrorEvent(fmt.Sprintf("Request preparation error: %v", err), 0),
			domain.FinishEvent(domain.FinishRequestError),
		)
		return
	}

	proc := s.newProcessor(logger, req, true, req.NativeThinking())
	upstreamOK := false
	defer func() {
		logger.Info("Stream cleanup", "upstream_ok", upstreamOK)
		out.Write(proc.Close(upstreamOK)...)
	}()

	chunkID := "gemini-" + rid
	upstreamOK = s.streamUpstream(ctx, logger, pathGemini, upReq, proc, out, func(payload []byte) ([]domain.StreamEvent, error) {
		thoughts, chunk, err := llm.ConvertGeminiChunk(payload, chunkID)
		if err != nil {
			return nil, err
		}
		var events []domain.StreamEvent
		for _, t := range thoughts {
			events = append(events, proc.Reasoning(t)...)
		}
		return append(events, proc.Process(chunk)...), nil
	})
}

// geminiQuery is the last text the user typed, taken before uploads or
// search context are added to the message.
func geminiQuery(messages []domain.Message) string {
	idx := domain.LastUserIndex(messages)
	if idx < 0 {
		return ""
	}
	texts := messages[idx].Texts()
	if len(texts) == 0 {
		return ""
	}
	return strings.TrimSpace(texts[len(texts)-1])
}

func (s *Service) geminiUploadParts(ctx context.Context, logger *slog.Logger, rid string, req *domain.ChatRequest, files []domain.UploadedFile) []domain.ContentPart {
	var parts []domain.ContentPart
	for _, f := range files {
		name, mimeType := f.DisplayName(), f.ContentType

		switch {
		case media.GeminiImageTypes[mimeType], media.GeminiDocumentTypes[mimeType], media.GeminiAudioTypes[mimeType]:
			logger.Info("Inlining upload for gemini", "file", name, "mime", mimeType)
			parts = append(parts, inlinePart(f))
			s.metrics.RecordUpload("inline")

		case mimeType == document.MimeDocx:
			text, err := s.extractor.ExtractDocx(f.Data, name)
			if err != nil {
				logger.Error("Failed to extract text from DOCX", "file", name, "error", err)
				s.metrics.RecordUpload("failed")
				continue
			}
			parts = append(parts, domain.TextPart(fmt.Sprintf(
				"\n\n--- START OF DOCUMENT: %s ---\n\n%s\n\n--- END OF DOCUMENT: %s ---\n", name, text, name)))
			s.metrics.RecordUpload("extracted")

		case media.GeminiVideoTypes[mimeType]:
			if f.Size <= s.opts.MaxInlineMediaSize {
				parts = append(parts, inlinePart(f))
				s.metrics.RecordUpload("inline")
				continue
			}
			part, err := s.uploadLargeMedia(ctx, logger, rid, req, f)
			if err != nil {
				logger.Error("Large video upload failed, skipped", "file", name, "size", f.Size, "error", err)
				s.metrics.RecordUpload("failed")
				continue
			}
			parts = append(parts, part)

		default:
			logger.Warn("Skipping unsupported file type for gemini", "file", name, "mime", mimeType)
			s.metrics.RecordUpload("skipped")
		}
	}
	return parts
}

func inlinePart(f domain.UploadedFile) domain.ContentPart {
	enc := media.Encode(f.Data, f.ContentType)
	return domain.InlineDataPart(enc.MimeType, enc.Base64)
}

// uploadLargeMedia stores a video that is too big to inline and returns a
// file URI part for it: a gs:// object when Cloud Storage is configured,
// otherwise a Gemini File API file.
func (s *Service) uploadLargeMedia(ctx context.Context, logger *slog.Logger, rid string, req *domain.ChatRequest, f domain.UploadedFile) (domain.ContentPart, error) {
	if s.media != nil {
		logger.Info("Uploading large video to cloud storage", "file", f.DisplayName(), "size", f.Size)
		info, err := s.media.Save(ctx, bytes.NewReader(f.Data), storage.SaveOptions{
			Prefix:       rid,
			ContentType:  f.ContentType,
			OriginalName: f.DisplayName(),
		})
		if err != nil {
			return domain.ContentPart{}, err
		}
		s.metrics.RecordUpload("gcs")
		return domain.FileURIPart(f.ContentType, info.URL), nil
	}

	apiKey := s.opts.GoogleAPIKey
	if apiKey == "" {
		apiKey = req.APIKey
	}
	logger.Info("Uploading large video to Gemini File API", "file", f.DisplayName(), "size", f.Size)
	uri, err := s.files.Upload(ctx, apiKey, f.DisplayName(), f.ContentType, f.Data)
	if err != nil {
		return domain.ContentPart{}, err
	}
	s.metrics.RecordUpload("file_api")
	return domain.FileURIPart(f.ContentType, uri), nil
}

// appendToLastUser adds parts to the last user message, converting a simple
// message to parts first, or appends a new user message when there is none.
func appendToLastUser(messages []domain.Message, parts []domain.ContentPart) []domain.Message {
	idx := domain.LastUserIndex(messages)
	if idx < 0 {
		return append(messages, domain.Message{Type: domain.MessageParts, Role: domain.RoleUser, Parts: parts})
	}

	msg := messages[idx]
	if !msg.IsParts() {
		var initial []domain.ContentPart
		if msg.Content != "" {
			initial = append(initial, domain.TextPart(msg.Content))
		}
		msg.Type, msg.Content, msg.Parts = domain.MessageParts, "", initial
	}
	msg.Parts = append(msg.Parts, parts...)
	messages[idx] = msg
	return messages
}

func prependToLastUser(messages []domain.Message, part domain.ContentPart) []domain.Message {
	idx := domain.LastUserIndex(messages)
	if idx < 0 {
		return messages
	}
	msg := messages[idx].AsParts()
	msg.Parts = append([]domain.ContentPart{part}, msg.Parts...)
	messages[idx] = msg
	return messages
}
