// Package extract turns listing page HTML into question records.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// ErrMissingMetadata is returned when the listing total cannot be located.
var ErrMissingMetadata = errors.New("listing metadata not found")

// Clock supplies the fallback publication timestamp.
type Clock interface {
	Now() time.Time
}

// Extractor implements crawler.Extractor with precompiled selectors.
type Extractor struct {
	policy Policy
	clock  Clock

	container   cascadia.Selector
	question    cascadia.Selector
	title       cascadia.Selector
	link        cascadia.Selector
	viewCount   cascadia.Selector
	publishedAt cascadia.Selector
	totalCount  cascadia.Selector
}

var _ crawler.Extractor = (*Extractor)(nil)

// New compiles every selector in policy. Unset fields fall back to DefaultPolicy;
// optional selectors left empty disable that field.
func New(policy Policy, clock Clock) (*Extractor, error) {
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	policy = policy.withDefaults()
	if policy.LinkIDSegment < 0 {
		return nil, fmt.Errorf("link id segment must be >= 0, got %d", policy.LinkIDSegment)
	}
	e := &Extractor{policy: policy, clock: clock}

	required := []struct {
		name string
		raw  string
		dst  *cascadia.Selector
	}{
		{"container", policy.Container, &e.container},
		{"question", policy.Question, &e.question},
		{"title", policy.Title, &e.title},
		{"link", policy.Link, &e.link},
		{"total_count", policy.TotalCount, &e.totalCount},
		{"view_count", policy.ViewCount, &e.viewCount},
		{"published_at", policy.PublishedAt, &e.publishedAt},
	}
	for _, sel := range required {
		if sel.raw == "" {
			continue
		}
		compiled, err := cascadia.Compile(sel.raw)
		if err != nil {
			return nil, fmt.Errorf("compile %s selector %q: %w", sel.name, sel.raw, err)
		}
		*sel.dst = compiled
	}
	return e, nil
}

// Policy returns the effective policy after defaults.
func (e *Extractor) Policy() Policy {
	return e.policy
}

// Records extracts every question block inside the container. Blocks without
// a title are skipped; a missing container yields no records.
func (e *Extractor) Records(page int, body []byte) []crawler.Record {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	container := doc.FindMatcher(e.container).First()
	if container.Length() == 0 {
		return nil
	}
	now := e.clock.Now()
	var out []crawler.Record
	container.FindMatcher(e.question).Each(func(_ int, block *goquery.Selection) {
		title := normalizeSpace(block.FindMatcher(e.title).First().Text())
		if title == "" {
			return
		}
		href, _ := block.FindMatcher(e.link).First().Attr("href")
		out = append(out, crawler.Record{
			ExternalID:  idFromHref(href, e.policy.LinkIDSegment),
			Title:       title,
			SourcePage:  page,
			PublishedAt: e.publishedAtFor(block, now),
			ViewCount:   e.viewCountFor(block),
		})
	})
	return out
}

// TotalCount reads the total item count from the listing metadata element.
func (e *Extractor) TotalCount(body []byte) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse listing: %w", err)
	}
	container := doc.FindMatcher(e.container).First()
	if container.Length() == 0 {
		return 0, fmt.Errorf("%w: container %q missing", ErrMissingMetadata, e.policy.Container)
	}
	node := container.FindMatcher(e.totalCount).First()
	if node.Length() == 0 {
		// Some layouts keep the metadata outside the container.
		node = doc.FindMatcher(e.totalCount).First()
	}
	if node.Length() == 0 {
		return 0, fmt.Errorf("%w: %q missing", ErrMissingMetadata, e.policy.TotalCount)
	}
	raw := valueOf(node, e.policy.TotalCountAttr)
	n, err := strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: total count %q is not a non-negative integer", ErrMissingMetadata, raw)
	}
	return n, nil
}

func (e *Extractor) viewCountFor(block *goquery.Selection) int64 {
	if e.viewCount == nil {
		return 0
	}
	node := block.FindMatcher(e.viewCount).First()
	if node.Length() == 0 {
		return 0
	}
	n, ok := ParseCount(valueOf(node, e.policy.ViewCountAttr))
	if !ok {
		return 0
	}
	return n
}

func (e *Extractor) publishedAtFor(block *goquery.Selection, now time.Time) time.Time {
	if e.publishedAt == nil {
		return now
	}
	node := block.FindMatcher(e.publishedAt).First()
	if node.Length() == 0 {
		return now
	}
	ts, err := time.Parse(e.policy.PublishedAtLayout, valueOf(node, e.policy.PublishedAtAttr))
	if err != nil {
		return now
	}
	return ts.UTC()
}

func valueOf(node *goquery.Selection, attr string) string {
	if attr == "" {
		return strings.TrimSpace(node.Text())
	}
	v, _ := node.Attr(attr)
	return strings.TrimSpace(v)
}

// idFromHref returns the integer at path segment idx, or 0 when absent or not numeric.
func idFromHref(href string, idx int) int64 {
	if href == "" {
		return 0
	}
	path := href
	if u, err := url.Parse(href); err == nil {
		path = u.Path
	}
	segments := strings.Split(path, "/")
	if idx >= len(segments) {
		return 0
	}
	id, err := strconv.ParseInt(segments[idx], 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
