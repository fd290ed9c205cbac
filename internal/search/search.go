package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

var ErrSearchDisabled = errors.New("web search is not configured")

// maxResultsPerCall is the Custom Search API limit for num.
const maxResultsPerCall = 10

type Options struct {
	APIKey           string
	EngineID         string
	ResultCount      int
	SnippetMaxLength int
	CacheSize        int
	CacheTTL         time.Duration
}

type Client struct {
	opts    Options
	service *customsearch.Service
	cache   *expirable.LRU[string, []domain.SearchResult]
	logger  *slog.Logger
}

// NewClient builds a Custom Search client. Without an API key or engine id
// the client is created disabled and every Search returns ErrSearchDisabled.
func NewClient(ctx context.Context, opts Options, logger *slog.Logger, clientOpts ...option.ClientOption) (*Client, error) {
	c := &Client{
		opts:   opts,
		logger: logger,
	}
	if !c.Enabled() {
		logger.Warn("Web search disabled, GOOGLE_API_KEY or GOOGLE_CSE_ID not set")
		return c, nil
	}

	clientOpts = append([]option.ClientOption{option.WithAPIKey(opts.APIKey)}, clientOpts...)
	svc, err := customsearch.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search service: %w", err)
	}
	c.service = svc

	if opts.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, []domain.SearchResult](opts.CacheSize, nil, opts.CacheTTL)
	}

	return c, nil
}

func (c *Client) Enabled() bool {
	return c.opts.APIKey != "" && c.opts.EngineID != ""
}

// Search runs a web search for query. An empty query yields no results.
func (c *Client) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	if !c.Enabled() {
		return nil, ErrSearchDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(query); ok {
			c.logger.Debug("Web search served from cache", "query", clip(query, 100), "results", len(cached))
			return cached, nil
		}
	}

	num := min(c.opts.ResultCount, maxResultsPerCall)
	c.logger.Info("Performing web search", "query", clip(query, 100), "num", num)

	resp, err := c.service.Cse.List().
		Cx(c.opts.EngineID).
		Q(query).
		Num(int64(num)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("custom search request failed: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(resp.Items))
	for i, item := range resp.Items {
		results = append(results, domain.SearchResult{
			Index:   i + 1,
			Title:   orNA(strings.TrimSpace(item.Title)),
			Href:    orNA(item.Link),
			Snippet: c.snippet(item.Snippet),
		})
	}

	if c.cache != nil {
		c.cache.Add(query, results)
	}
	c.logger.Info("Web search completed", "results", len(results))
	return results, nil
}

// snippet flattens and clips a result snippet. An empty snippet stays empty.
func (c *Client) snippet(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if utf8.RuneCountInString(s) > c.opts.SnippetMaxLength {
		return string([]rune(s)[:c.opts.SnippetMaxLength]) + "..."
	}
	return s
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
