package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CrawlStatus is the lifecycle state of a crawl job
type CrawlStatus string

const (
	CrawlStatusActive    CrawlStatus = "active"
	CrawlStatusCompleted CrawlStatus = "completed"
	CrawlStatusFailed    CrawlStatus = "failed"
	CrawlStatusCanceled  CrawlStatus = "canceled"
)

// IsTerminal reports whether no further events are expected for the job.
func (s CrawlStatus) IsTerminal() bool {
	return s == CrawlStatusCompleted || s == CrawlStatusFailed || s == CrawlStatusCanceled
}

// CrawlJob is one logical site crawl tracked while it is active.
type CrawlJob struct {
	ID        string      `json:"id"`
	Status    CrawlStatus `json:"status"`
	MaxDepth  int         `json:"max_depth,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	PagesSeen int         `json:"pages_seen"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Page is a single crawled document. SourceURL is its identity within a crawl job.
type Page struct {
	SourceURL string            `json:"source_url"`
	Text      string            `json:"text"`
	Language  string            `json:"language,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Title returns the page title from crawler metadata, if any.
func (p Page) Title() string {
	if p.Metadata == nil {
		return ""
	}
	if t := p.Metadata["title"]; t != "" {
		return t
	}
	return p.Metadata["og:title"]
}

// UnmarshalJSON accepts the field spellings crawlers commonly emit
// (url/source_url/sourceURL, markdown/content/text) and coerces metadata
// values to strings.
func (p *Page) UnmarshalJSON(data []byte) error {
	var raw struct {
		URL          string         `json:"url"`
		SourceURL    string         `json:"source_url"`
		SourceURLAlt string         `json:"sourceURL"`
		Markdown     string         `json:"markdown"`
		Content      string         `json:"content"`
		Text         string         `json:"text"`
		Language     string         `json:"language"`
		Metadata     map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.SourceURL = firstNonEmpty(raw.SourceURL, raw.URL, raw.SourceURLAlt)
	p.Text = firstNonEmpty(raw.Markdown, raw.Content, raw.Text)
	p.Language = raw.Language
	p.Metadata = nil

	if len(raw.Metadata) > 0 {
		p.Metadata = make(map[string]string, len(raw.Metadata))
		for k, v := range raw.Metadata {
			switch val := v.(type) {
			case nil:
			case string:
				p.Metadata[k] = val
			default:
				b, err := json.Marshal(val)
				if err != nil {
					p.Metadata[k] = fmt.Sprint(val)
					continue
				}
				p.Metadata[k] = string(b)
			}
		}
	}

	if p.SourceURL == "" {
		p.SourceURL = firstNonEmpty(p.Metadata["sourceURL"], p.Metadata["source_url"], p.Metadata["url"])
	}
	if p.Language == "" {
		p.Language = p.Metadata["language"]
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// EventType is a crawl lifecycle event type
type EventType string

const (
	EventStarted   EventType = "started"
	EventPage      EventType = "page"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// ParseEventType normalizes an inbound type. Crawlers prefix types with
// "crawl." so both "page" and "crawl.page" resolve to EventPage. Unknown
// types are returned as-is.
func ParseEventType(s string) EventType {
	t := strings.ToLower(strings.TrimSpace(s))
	t = strings.TrimPrefix(t, "crawl.")
	return EventType(t)
}

// IsKnown reports whether the controller acts on this type.
func (t EventType) IsKnown() bool {
	switch t {
	case EventStarted, EventPage, EventCompleted, EventFailed:
		return true
	}
	return false
}

// WebhookEvent is the inbound crawl lifecycle payload.
type WebhookEvent struct {
	Type    EventType       `json:"type"`
	CrawlID string          `json:"crawl_id"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (e *WebhookEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    string          `json:"type"`
		CrawlID string          `json:"crawl_id"`
		ID      string          `json:"id"`
		JobID   string          `json:"jobId"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Type = ParseEventType(raw.Type)
	e.CrawlID = firstNonEmpty(raw.CrawlID, raw.ID, raw.JobID)
	e.Data = raw.Data
	e.Error = raw.Error
	return nil
}

// Pages decodes the event data as a single page or a list of pages. A
// wrapper object of the form {"pages": [...]} is also accepted.
func (e *WebhookEvent) Pages() ([]Page, error) {
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	if data[0] == '[' {
		var pages []Page
		if err := json.Unmarshal(data, &pages); err != nil {
			return nil, fmt.Errorf("invalid page list: %w", err)
		}
		return pages, nil
	}

	var wrapper struct {
		Pages []Page `json:"pages"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Pages != nil {
		return wrapper.Pages, nil
	}

	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("invalid page: %w", err)
	}
	return []Page{page}, nil
}

// CrawlOptions is the optional data of a started event.
type CrawlOptions struct {
	MaxDepth int `json:"max_depth"`
	Limit    int `json:"limit"`
}

// Options decodes started-event data. Missing or malformed data yields zero options.
func (e *WebhookEvent) Options() CrawlOptions {
	var opts CrawlOptions
	if len(bytes.TrimSpace(e.Data)) == 0 {
		return opts
	}
	var raw struct {
		MaxDepth      int `json:"max_depth"`
		MaxDepthCamel int `json:"maxDepth"`
		Limit         int `json:"limit"`
	}
	if err := json.Unmarshal(e.Data, &raw); err != nil {
		return opts
	}
	opts.MaxDepth = raw.MaxDepth
	if opts.MaxDepth == 0 {
		opts.MaxDepth = raw.MaxDepthCamel
	}
	opts.Limit = raw.Limit
	return opts
}

// WebhookStatus is the status reported back to the crawler.
type WebhookStatus string

const (
	WebhookStatusProcessing   WebhookStatus = "processing"
	WebhookStatusAcknowledged WebhookStatus = "acknowledged"
	WebhookStatusCompleted    WebhookStatus = "completed"
	WebhookStatusError        WebhookStatus = "error"
)

// WebhookResponse is the controller's reply to one lifecycle event.
type WebhookResponse struct {
	Status         WebhookStatus `json:"status"`
	PagesProcessed *int          `json:"pages_processed,omitempty"`
	PagesSkipped   *int          `json:"pages_skipped,omitempty"`
	PagesNew       *int          `json:"pages_new,omitempty"`
	PagesTotal     *int          `json:"pages_total,omitempty"`
	PagesFiltered  *int          `json:"pages_filtered,omitempty"`
	Message        string        `json:"message,omitempty"`
}
