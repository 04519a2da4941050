package readability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	goreadability "github.com/go-shiori/go-readability"

	"github.com/danielmmetz/hn-reader/cache"
	"github.com/danielmmetz/hn-reader/fetch"
)

const (
	fetchTimeout = 30 * time.Second
	maxBodySize  = 1 << 20 // 1 MiB
	UserAgent    = "HNReader/1.0"

	ArticleTTL = time.Hour
)

// NewHTTPClient returns a dedicated client for article fetching with transport-level controls.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: fetchTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   5,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Article holds extracted reader-mode content.
type Article struct {
	Title   string `json:"title"`
	Byline  string `json:"byline"`
	Content string `json:"content"` // cleaned HTML
	Excerpt string `json:"excerpt"`
}

// ArticleKey is the cache key an extracted article is stored under.
func ArticleKey(storyID int) string { return "article_" + strconv.Itoa(storyID) }

// Extractor fetches story URLs and extracts reader-mode content, caching the result.
type Extractor struct {
	fetcher *fetch.Fetcher
	cache   *cache.Cache
}

// NewExtractor returns an Extractor. The fetcher should carry UserAgent and
// a client from NewHTTPClient.
func NewExtractor(fetcher *fetch.Fetcher, c *cache.Cache) *Extractor {
	return &Extractor{fetcher: fetcher, cache: c}
}

// Extract returns the article for storyID at rawURL. Failures are not cached.
func (e *Extractor) Extract(ctx context.Context, storyID int, rawURL string) (*Article, error) {
	var cached Article
	if e.cache.Get(ctx, ArticleKey(storyID), &cached) {
		return &cached, nil
	}

	article, err := e.extract(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, ArticleKey(storyID), article, ArticleTTL)
	return article, nil
}

func (e *Extractor) extract(ctx context.Context, rawURL string) (*Article, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	resp, err := e.fetcher.Get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	// Limit response body
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBodySize)
	}

	article, err := goreadability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("readability extract: %w", err)
	}

	if article.Content == "" {
		return nil, fmt.Errorf("no content extracted")
	}

	return &Article{
		Title:   article.Title,
		Byline:  article.Byline,
		Content: article.Content,
		Excerpt: article.Excerpt,
	}, nil
}
