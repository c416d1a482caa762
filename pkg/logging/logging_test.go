package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

func TestWrapCopiesContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := Wrap(zap.New(core))

	ctx := appctx.SetCrawlID(context.Background(), "J1")
	ctx = appctx.SetSourceURL(ctx, "https://a.example")

	logger.WithContext(ctx).WithField("pages", 3).Info("batch done")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "batch done", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "J1", fields["crawl_id"])
	assert.Equal(t, "https://a.example", fields["source_url"])
	assert.EqualValues(t, 3, fields["pages"])
}

func TestWrapKeepsExplicitFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := Wrap(zap.New(core))

	ctx := appctx.SetCrawlID(context.Background(), "J1")
	logger.WithContext(ctx).WithField("crawl_id", "J2").Warn("override")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "J2", logs.All()[0].ContextMap()["crawl_id"])
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	logger, zl, err := New(Config{Level: "debug", Service: "fern-api"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NotNil(t, zl)
}
