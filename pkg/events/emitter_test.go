package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakePublisher struct {
	events []*models.KnowledgeEvent
	err    error
}

func (p *fakePublisher) PublishKnowledgeEvent(_ context.Context, event *models.KnowledgeEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func TestEmitter(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, silentLogger())
	ctx := context.Background()

	require.NoError(t, e.EmitDocumentIngested(ctx, "job-1", "https://a.example", 4, 2))
	require.NoError(t, e.EmitCrawlCompleted(ctx, "job-1", 2, 1))
	require.NoError(t, e.EmitCrawlFailed(ctx, "job-2", "robots.txt"))

	require.Len(t, pub.events, 3)
	assert.Equal(t, models.KnowledgeEventDocumentIngested, pub.events[0].Type)
	assert.Equal(t, 4, pub.events[0].Entities)
	assert.Equal(t, 2, pub.events[1].PagesSkipped)
	assert.Equal(t, "robots.txt", pub.events[2].Error)
}

func TestEmitterDisabled(t *testing.T) {
	e := NewEmitter(nil, silentLogger())
	assert.False(t, e.Enabled())
	assert.NoError(t, e.EmitCrawlFailed(context.Background(), "job", "x"))

	var nilEmitter *Emitter
	assert.NoError(t, nilEmitter.EmitCrawlCompleted(context.Background(), "job", 0, 0))
}

func TestEmitterPublishError(t *testing.T) {
	e := NewEmitter(&fakePublisher{err: errors.New("down")}, silentLogger())
	assert.Error(t, e.EmitDocumentIngested(context.Background(), "job", "u", 0, 0))
}
