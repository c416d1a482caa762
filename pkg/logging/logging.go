// Package logging builds the process logger: ectologger on top of zap, with
// request, crawl and trace identifiers copied from the log context.
package logging

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type Config struct {
	Level  string
	Pretty bool
	// Service is attached to every entry.
	Service string
}

// New returns the service logger and the zap logger behind it, which the
// caller syncs on shutdown.
func New(config Config) (ectologger.Logger, *zap.Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	zc := zap.NewProductionConfig()
	if config.Pretty {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = !config.Pretty

	zl, err := zc.Build()
	if err != nil {
		return nil, nil, err
	}
	if config.Service != "" {
		zl = zl.With(zap.String("service", config.Service))
	}
	return Wrap(zl), zl, nil
}

// Wrap adapts an existing zap logger.
func Wrap(zl *zap.Logger) ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zl, enrich)
}

func enrich(msg ectologger.EctoLogMessage) ectologger.EctoLogMessage {
	if msg.Ctx == nil {
		return msg
	}
	// sub-loggers share their field map, so copy before adding
	fields := appctx.Fields(msg.Ctx)
	if traceID := tracing.GetTraceID(msg.Ctx); traceID != "" {
		fields["trace_id"] = traceID
	}
	for k, v := range msg.Fields {
		fields[k] = v
	}
	msg.Fields = fields
	return msg
}
