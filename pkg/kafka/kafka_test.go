package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
)

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestPublishKnowledgeEvent(t *testing.T) {
	writer := &fakeWriter{}
	p := &Producer{writer: writer, logger: silentLogger(), topic: "knowledge-events"}

	err := p.PublishKnowledgeEvent(context.Background(), &models.KnowledgeEvent{
		Type:      models.KnowledgeEventDocumentIngested,
		CrawlID:   "job-1",
		SourceURL: "https://a.example",
		Entities:  3,
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "knowledge-events", msg.Topic)
	assert.Equal(t, "job-1", string(msg.Key))

	var decoded models.KnowledgeEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, models.KnowledgeEventDocumentIngested, decoded.Type)
	assert.Equal(t, 3, decoded.Entities)
	assert.False(t, decoded.Timestamp.IsZero())

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "document.ingested", headers["event_type"])
	assert.Equal(t, SchemaVersion, headers["schema_version"])
}

func TestPublishKnowledgeEventsError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}, logger: silentLogger(), topic: "t"}
	err := p.PublishKnowledgeEvents(context.Background(), []*models.KnowledgeEvent{{Type: models.KnowledgeEventCrawlFailed}})
	assert.EqualError(t, err, "broker down")

	assert.NoError(t, p.PublishKnowledgeEvents(context.Background(), nil))
}

func TestCompressionCodec(t *testing.T) {
	assert.Equal(t, kafka.Snappy, compressionCodec(""))
	assert.Equal(t, kafka.Gzip, compressionCodec("gzip"))
	assert.Equal(t, kafka.Compression(0), compressionCodec("none"))
}

func TestParseCrawlEvent(t *testing.T) {
	m := &IncomingMessage{
		Key:     "job-9",
		Value:   []byte(`{"data":{"url":"https://a.example","markdown":"hi"}}`),
		Headers: map[string]string{"event_type": "crawl.page"},
	}
	require.NoError(t, m.ParseCrawlEvent())
	assert.Equal(t, models.EventPage, m.Event.Type)
	assert.Equal(t, "job-9", m.Event.CrawlID)

	m = &IncomingMessage{Value: []byte(`{"data":{}}`), Headers: map[string]string{}}
	assert.Error(t, m.ParseCrawlEvent())

	m = &IncomingMessage{Value: []byte(`not json`)}
	assert.Error(t, m.ParseCrawlEvent())
}

func TestConsumerProcessMessage(t *testing.T) {
	reader := &fakeReader{}
	var handled []*IncomingMessage
	var crawlIDs []string
	handlerErr := error(nil)

	c := &Consumer{reader: reader, topic: "crawl-events", logger: silentLogger(), handler: func(ctx context.Context, msg *IncomingMessage) error {
		handled = append(handled, msg)
		crawlIDs = append(crawlIDs, appctx.GetCrawlID(ctx))
		return handlerErr
	}}

	valid := kafka.Message{Topic: "crawl-events", Key: []byte("job-1"), Value: []byte(`{"type":"completed","crawl_id":"job-1"}`)}
	c.processMessage(context.Background(), valid)
	require.Len(t, handled, 1)
	assert.Equal(t, "job-1", crawlIDs[0])
	assert.Len(t, reader.committed, 1)

	c.processMessage(context.Background(), kafka.Message{Value: []byte("garbage")})
	assert.Len(t, handled, 1)
	assert.Len(t, reader.committed, 2)

	handlerErr = errors.New("graph down")
	c.processMessage(context.Background(), valid)
	assert.Len(t, handled, 2)
	assert.Len(t, reader.committed, 2)
}

func TestConsumerStartStop(t *testing.T) {
	c := &Consumer{reader: &fakeReader{}, topic: "crawl-events", logger: silentLogger()}
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())
	assert.True(t, c.Health())
}
