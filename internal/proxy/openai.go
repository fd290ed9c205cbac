package proxy

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"

	"github.com/eztalk/eztalk-proxy/internal/document"
	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/eztalk/eztalk-proxy/internal/llm"
	"github.com/eztalk/eztalk-proxy/internal/media"
	"github.com/eztalk/eztalk-proxy/internal/storage"
	"github.com/eztalk/eztalk-proxy/internal/stream"
	"golang.org/x/sync/errgroup"
)

func (s *Service) openAIChat(ctx context.Context, logger *slog.Logger, rid string, req *domain.ChatRequest, files []domain.UploadedFile, out *EventWriter) {
	proc := s.newProcessor(logger, req, false, false)
	upstreamOK := false
	defer func() {
		logger.Info("Stream cleanup", "upstream_ok", upstreamOK)
		out.Write(proc.Close(upstreamOK)...)
	}()

	multimodal, texts := s.splitOpenAIUploads(ctx, logger, rid, files)

	var docContext string
	if len(texts) > 0 {
		docContext = "--- Document Content ---\n" + strings.Join(texts, "\n\n") + "\n--- End Document ---\n\n"
	}
	mediaParts := s.encodeMedia(ctx, logger, multimodal)

	messages, query := openAIMessages(req.Messages, docContext, mediaParts)

	if req.UseWebSearch && query != "" {
		if searchContext := s.webSearch(ctx, logger, query, out); searchContext != "" {
			messages = withSearchContext(messages, searchContext)
			logger.Info("Injected web search context")
			out.Write(domain.StatusEvent("Answering..."))
		}
	}

	builder := llm.OpenAIBuilder{BaseURL: s.opts.OpenAIBaseURL, Path: s.opts.OpenAICompatiblePath}
	upReq, err := builder.Build(req, messages)
	if err != nil {
		logger.Error("Failed to prepare upstream request", "error", err)
		out.Write(proc.Fail(err)...)
		return
	}

	upstreamOK = s.streamUpstream(ctx, logger, pathOpenAI, upReq, proc, out, func(payload []byte) ([]domain.StreamEvent, error) {
		chunk, err := stream.ParseChunk(payload)
		if err != nil {
			return nil, err
		}
		return proc.Process(chunk), nil
	})
}

// forwardsAsMedia reports whether an upload goes to an OpenAI-compatible
// upstream as a data URI instead of extracted text.
func forwardsAsMedia(mimeType string) bool {
	return media.OpenAIImageTypes[mimeType] ||
		(media.GeminiUploadTypes[mimeType] && media.IsAudioOrVideo(mimeType))
}

// splitOpenAIUploads keeps media uploads in memory and turns everything else
// into document text via a staged file.
func (s *Service) splitOpenAIUploads(ctx context.Context, logger *slog.Logger, rid string, files []domain.UploadedFile) ([]domain.UploadedFile, []string) {
	var (
		multimodal []domain.UploadedFile
		texts      []string
	)
	for _, f := range files {
		if forwardsAsMedia(f.ContentType) {
			logger.Info("Staged multimodal upload", "file", f.DisplayName(), "mime", f.ContentType, "size", f.Size)
			s.metrics.RecordUpload("multimodal")
			multimodal = append(multimodal, f)
			continue
		}

		text, err := s.extractStaged(ctx, logger, rid, f)
		if err != nil {
			if errors.Is(err, document.ErrUnsupportedMIME) || errors.Is(err, document.ErrNoText) {
				logger.Warn("No text extracted from upload", "file", f.DisplayName(), "mime", f.ContentType, "error", err)
				s.metrics.RecordUpload("skipped")
			} else {
				logger.Error("Failed to extract text from upload", "file", f.DisplayName(), "error", err)
				s.metrics.RecordUpload("failed")
			}
			continue
		}
		logger.Info("Extracted text from upload", "file", f.DisplayName(), "chars", len([]rune(text)))
		s.metrics.RecordUpload("extracted")
		texts = append(texts, text)
	}
	return multimodal, texts
}

// extractStaged writes the upload to staging storage, extracts its text and
// always removes the staged copy.
func (s *Service) extractStaged(ctx context.Context, logger *slog.Logger, rid string, f domain.UploadedFile) (string, error) {
	info, err := s.staging.Save(ctx, bytes.NewReader(f.Data), storage.SaveOptions{
		Prefix:       rid,
		ContentType:  f.ContentType,
		OriginalName: f.DisplayName(),
	})
	if err != nil {
		return "", err
	}
	defer func() {
		if err := s.staging.Delete(context.WithoutCancel(ctx), info.ID); err != nil {
			logger.Warn("Failed to remove staged upload", "id", info.ID, "error", err)
		}
	}()

	rc, _, err := s.staging.Open(ctx, info.ID)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return s.extractor.Extract(rc, f.ContentType, f.DisplayName())
}

// encodeMedia base64 encodes uploads in parallel, downscaling images. It
// returns nil when ctx ends before every upload is encoded.
func (s *Service) encodeMedia(ctx context.Context, logger *slog.Logger, files []domain.UploadedFile) []llm.OpenAIPart {
	if len(files) == 0 {
		return nil
	}

	parts := make([]llm.OpenAIPart, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var enc media.Encoded
			if media.OpenAIImageTypes[f.ContentType] {
				var err error
				enc, err = media.EncodeImage(f.Data, f.ContentType)
				if err != nil {
					logger.Warn("Image resize failed, sending original", "file", f.DisplayName(), "error", err)
				} else if enc.Resized {
					logger.Info("Downscaled image", "file", f.DisplayName(), "mime", enc.MimeType)
				}
			} else {
				enc = media.Encode(f.Data, f.ContentType)
			}
			parts[i] = llm.OpenAIImagePart(enc.DataURI())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("Media encoding interrupted", "files", len(files), "error", err)
		return nil
	}
	return parts
}

// openAIMessages converts the conversation into upstream form. Document text
// and new media go into the last message when it is from the user; the
// returned query is that message's text.
func openAIMessages(messages []domain.Message, docContext string, mediaParts []llm.OpenAIPart) ([]llm.OpenAIMessage, string) {
	var query string
	out := make([]llm.OpenAIMessage, 0, len(messages))

	for i, msg := range messages {
		var parts []llm.OpenAIPart
		if msg.IsParts() {
			for _, p := range msg.Parts {
				switch {
				case p.Type == domain.PartText && p.Text != "":
					parts = append(parts, llm.OpenAITextPart(p.Text))
				case p.Type == domain.PartInlineData:
					parts = append(parts, llm.OpenAIImagePart(media.DataURI(p.MimeType, p.Base64Data)))
				}
			}
		} else if msg.Content != "" {
			parts = append(parts, llm.OpenAITextPart(msg.Content))
		}

		if i == len(messages)-1 && msg.Role == domain.RoleUser {
			var texts []string
			for _, p := range parts {
				if p.Type == "text" {
					texts = append(texts, p.Text)
				}
			}
			query = strings.TrimSpace(strings.Join(texts, " "))

			if docContext != "" {
				parts = prependText(parts, docContext)
			}
			parts = append(parts, mediaParts...)
		}

		out = append(out, llm.OpenAIMessage{
			Role:       msg.Role,
			Name:       msg.Name,
			Content:    llm.FinalizeContent(parts),
			ToolCallID: msg.ToolCallID,
			ToolCalls:  msg.ToolCalls,
		})
	}
	return out, query
}

func prependText(parts []llm.OpenAIPart, text string) []llm.OpenAIPart {
	for i, p := range parts {
		if p.Type == "text" {
			parts[i].Text = text + p.Text
			return parts
		}
	}
	return append([]llm.OpenAIPart{llm.OpenAITextPart(text)}, parts...)
}

// withSearchContext prefixes the first system message with the search
// context, or inserts one when there is none.
func withSearchContext(messages []llm.OpenAIMessage, searchContext string) []llm.OpenAIMessage {
	for i, m := range messages {
		if m.Role != domain.RoleSystem {
			continue
		}
		if content, ok := m.Content.(string); ok {
			messages[i].Content = searchContext + "\n\n" + content
		}
		return messages
	}
	return append([]llm.OpenAIMessage{{Role: domain.RoleSystem, Content: searchContext}}, messages...)
}
