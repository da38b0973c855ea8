package extract

import "time"

// Policy describes where the fields of a question live in a listing page.
// Every selector is a CSS selector; attribute fields name the HTML attribute
// to read, or are empty to read the element text.
type Policy struct {
	Container string `mapstructure:"container"`
	Question  string `mapstructure:"question"`
	Title     string `mapstructure:"title"`
	Link      string `mapstructure:"link"`
	// LinkIDSegment is the index of the id in the link path split on '/'.
	LinkIDSegment int `mapstructure:"link_id_segment"`

	ViewCount     string `mapstructure:"view_count"`
	ViewCountAttr string `mapstructure:"view_count_attr"`

	PublishedAt       string `mapstructure:"published_at"`
	PublishedAtAttr   string `mapstructure:"published_at_attr"`
	PublishedAtLayout string `mapstructure:"published_at_layout"`

	TotalCount     string `mapstructure:"total_count"`
	TotalCountAttr string `mapstructure:"total_count_attr"`
}

// DefaultPolicy matches the public question listing markup.
func DefaultPolicy() Policy {
	return Policy{
		Container:         "div#questions",
		Question:          "div.s-post-summary.js-post-summary",
		Title:             "h3.s-post-summary--content-title a span[itemprop='name']",
		Link:              "h3.s-post-summary--content-title a.s-link",
		LinkIDSegment:     2,
		ViewCount:         "div.s-post-summary--stats-item[title$='views']",
		ViewCountAttr:     "title",
		PublishedAt:       "span.relativetime",
		PublishedAtAttr:   "title",
		PublishedAtLayout: "2006-01-02 15:04:05Z",
		TotalCount:        "meta[itemprop='numberOfItems']",
		TotalCountAttr:    "content",
	}
}

// withDefaults fills unset fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Container == "" {
		p.Container = def.Container
	}
	if p.Question == "" {
		p.Question = def.Question
	}
	if p.Title == "" {
		p.Title = def.Title
	}
	if p.Link == "" {
		p.Link = def.Link
	}
	if p.LinkIDSegment == 0 {
		p.LinkIDSegment = def.LinkIDSegment
	}
	if p.PublishedAtLayout == "" {
		p.PublishedAtLayout = time.RFC3339
	}
	if p.TotalCount == "" {
		p.TotalCount = def.TotalCount
		p.TotalCountAttr = def.TotalCountAttr
	}
	return p
}
