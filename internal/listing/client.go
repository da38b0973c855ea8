// Package listing addresses the paginated question listing over a Fetcher.
package listing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// DefaultBaseURL is the public question listing.
const DefaultBaseURL = "https://stackoverflow.com/questions"

// DefaultUserAgent is sent with every listing request.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Config describes how listing pages are addressed.
type Config struct {
	BaseURL   string
	PageSize  int
	UserAgent string
	// Sort, when set, is sent as the "tab" query parameter.
	Sort string
}

// Client implements crawler.PageSource.
type Client struct {
	base      *url.URL
	pageSize  int
	userAgent string
	sort      string
	fetcher   crawler.Fetcher
}

var _ crawler.PageSource = (*Client)(nil)

// New validates cfg and binds it to fetcher.
func New(cfg Config, fetcher crawler.Fetcher) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize < 1 {
		return nil, fmt.Errorf("page size must be >= 1, got %d", cfg.PageSize)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", cfg.BaseURL)
	}
	return &Client{
		base:      base,
		pageSize:  cfg.PageSize,
		userAgent: cfg.UserAgent,
		sort:      cfg.Sort,
		fetcher:   fetcher,
	}, nil
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int {
	return c.pageSize
}

// FetchListing retrieves the first listing page used for metadata.
func (c *Client) FetchListing(ctx context.Context) (crawler.FetchResponse, error) {
	return c.fetch(ctx, c.ListingURL())
}

// FetchPage retrieves page at the configured page size.
func (c *Client) FetchPage(ctx context.Context, page int) (crawler.FetchResponse, error) {
	if page < 1 {
		return crawler.FetchResponse{}, fmt.Errorf("page must be >= 1, got %d", page)
	}
	return c.fetch(ctx, c.PageURL(page))
}

// ListingURL returns the base listing URL with only the sort applied.
func (c *Client) ListingURL() string {
	u := *c.base
	q := u.Query()
	if c.sort != "" {
		q.Set("tab", c.sort)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// PageURL returns the URL for page.
func (c *Client) PageURL(page int) string {
	u := *c.base
	q := u.Query()
	if c.sort != "" {
		q.Set("tab", c.sort)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("pagesize", strconv.Itoa(c.pageSize))
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) fetch(ctx context.Context, target string) (crawler.FetchResponse, error) {
	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL: target,
		Headers: http.Header{
			"User-Agent": {c.userAgent},
			"Accept":     {"text/html,application/xhtml+xml"},
		},
	})
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	return resp, nil
}
