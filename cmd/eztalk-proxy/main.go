package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/eztalk/eztalk-proxy/internal/auth"
	"github.com/eztalk/eztalk-proxy/internal/config"
	"github.com/eztalk/eztalk-proxy/internal/document"
	httphandler "github.com/eztalk/eztalk-proxy/internal/http"
	"github.com/eztalk/eztalk-proxy/internal/llm"
	"github.com/eztalk/eztalk-proxy/internal/log"
	"github.com/eztalk/eztalk-proxy/internal/metrics"
	"github.com/eztalk/eztalk-proxy/internal/proxy"
	"github.com/eztalk/eztalk-proxy/internal/search"
	"github.com/eztalk/eztalk-proxy/internal/storage"
	"github.com/eztalk/eztalk-proxy/internal/storage/gcs"
	"github.com/eztalk/eztalk-proxy/internal/storage/local"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if os.Geteuid() == 0 {
		logger.Warn("Running as root, use a dedicated unprivileged user in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	staging, err := local.NewLocalStorage(cfg.TempUploadDir)
	if err != nil {
		logger.Error("Failed to initialize upload staging", "dir", cfg.TempUploadDir, "error", err)
		os.Exit(1)
	}

	var largeMedia storage.Storage
	if cfg.GeminiEnableGCSUpload {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to create cloud storage client", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		largeMedia, err = gcs.NewGCSStorage(client, cfg.GCS.BucketName)
		if err != nil {
			logger.Error("Failed to initialize cloud storage", "error", err)
			os.Exit(1)
		}
		logger.Info("Large media uploads go to cloud storage", "bucket", cfg.GCS.BucketName, "project", cfg.GCS.ProjectID)
	}

	searcher, err := search.NewClient(ctx, search.Options{
		APIKey:           cfg.GoogleAPIKey,
		EngineID:         cfg.GoogleCSEID,
		ResultCount:      cfg.SearchResultCount,
		SnippetMaxLength: cfg.SearchSnippetMaxLength,
		CacheSize:        cfg.SearchCacheSize,
		CacheTTL:         cfg.SearchCacheTTL,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize web search", "error", err)
		os.Exit(1)
	}

	httpClient := newUpstreamClient(cfg)
	appMetrics := metrics.NewMetrics()

	service := proxy.NewService(
		proxy.Options{
			OpenAIBaseURL:         cfg.OpenAIBaseURL,
			OpenAICompatiblePath:  cfg.OpenAICompatiblePath,
			GoogleBaseURL:         cfg.GoogleBaseURL,
			GoogleAPIKey:          cfg.GoogleAPIKey,
			ReadTimeout:           cfg.ReadTimeout(),
			MaxSSELineLength:      cfg.MaxSSELineLength,
			ContentFlushThreshold: cfg.ContentFlushThreshold,
			ThinkingSeparator:     cfg.ThinkingProcessSeparator,
			MaxInlineMediaSize:    cfg.MaxDocumentUploadSize(),
		},
		httpClient,
		staging,
		largeMedia,
		document.NewExtractor(cfg.MaxDocumentCharsForPrompt, logger),
		searcher,
		llm.NewFileAPI(cfg.GoogleBaseURL, httpClient, llm.DefaultPollInterval, logger),
		appMetrics,
		logger,
	)

	routerOpts := httphandler.RouterOptions{
		Version:      cfg.AppVersion,
		MaxBodySize:  cfg.MaxRequestSize(),
		RateLimitRPS: cfg.RateLimitRPS,
	}
	if cfg.AuthEnabled() {
		jwks := auth.NewJWKSClient(cfg.Auth.JWKSUrl, cfg.Auth.JWKSCacheTTL, nil, logger)
		routerOpts.Verifier = auth.NewVerifier(jwks, cfg.Auth)
		logger.Info("Bearer auth enabled on /chat", "issuer", cfg.Auth.Issuer)
	}
	router := httphandler.NewRouter(service, routerOpts, appMetrics, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("Starting eztalk proxy", "addr", cfg.Addr(), "version", cfg.AppVersion, "log_level", cfg.LogLevel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	httpClient.CloseIdleConnections()

	logger.Info("Server exited")
}

// newUpstreamClient has no overall timeout: responses stream for as long as
// the upstream keeps sending, and stalls are caught by the read watchdog.
func newUpstreamClient(cfg *config.Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxConnections,
		MaxIdleConnsPerHost:   cfg.MaxConnections,
		MaxConnsPerHost:       cfg.MaxConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.APITimeout(),
	}
	return &http.Client{Transport: transport}
}
