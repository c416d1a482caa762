package models

import "time"

// KnowledgeEventType is an outbound event published after ingestion work.
type KnowledgeEventType string

const (
	KnowledgeEventDocumentIngested KnowledgeEventType = "document.ingested"
	KnowledgeEventCrawlCompleted   KnowledgeEventType = "crawl.completed"
	KnowledgeEventCrawlFailed      KnowledgeEventType = "crawl.failed"
)

// KnowledgeEvent is published to the output topic.
type KnowledgeEvent struct {
	Type          KnowledgeEventType `json:"type"`
	CrawlID       string             `json:"crawl_id"`
	SourceURL     string             `json:"source_url,omitempty"`
	Entities      int                `json:"entities,omitempty"`
	Relationships int                `json:"relationships,omitempty"`
	PagesSkipped  int                `json:"pages_skipped,omitempty"`
	PagesNew      int                `json:"pages_new,omitempty"`
	Error         string             `json:"error,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}
