package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	TraceParent string

	Event *models.WebhookEvent
}

// ParseCrawlEvent decodes the value as a crawl lifecycle event. The event
// type may come from the body or, failing that, the event_type header; the
// crawl ID falls back to the message key.
func (m *IncomingMessage) ParseCrawlEvent() error {
	var event models.WebhookEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return err
	}
	if event.Type == "" {
		event.Type = models.ParseEventType(m.Headers["event_type"])
	}
	if event.CrawlID == "" {
		event.CrawlID = m.Key
	}
	if event.Type == "" {
		return errors.New("crawl event has no type")
	}
	m.Event = &event
	return nil
}
