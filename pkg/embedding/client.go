// Package embedding turns text into dense vectors through an Ollama server.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"
	"github.com/ollama/ollama/api"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultModel   = "nomic-embed-text"

	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
)

// ErrEmptyText is returned when there is nothing to embed.
var ErrEmptyText = errors.New("text to embed is empty")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds embedding client configuration
type Config struct {
	// URL is the Ollama base URL. Empty falls back to OLLAMA_HOST.
	URL        string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxChars   int
	MaxRetries int
}

// Client embeds text with the Ollama /api/embed endpoint.
type Client struct {
	ollama         *api.Client
	config         Config
	logger         ectologger.Logger
	initialBackoff time.Duration
}

// NewClient creates a new embedding client
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	var ollama *api.Client
	if cfg.URL == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		ollama = client
	} else {
		base, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid embedding url %q: %w", cfg.URL, err)
		}
		ollama = api.NewClient(base, &http.Client{Timeout: cfg.Timeout})
	}

	return &Client{
		ollama:         ollama,
		config:         cfg,
		logger:         logger,
		initialBackoff: defaultInitialBackoff,
	}, nil
}

// Embed returns the embedding of text, truncated to MaxChars runes.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracing.StartSpan(ctx, "embedding.Client.Embed")
	defer span.End()

	text = Truncate(text, c.config.MaxChars)
	if text == "" {
		return nil, ErrEmptyText
	}

	req := &api.EmbedRequest{Model: c.config.Model, Input: text}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vector, err := c.embed(ctx, req)
		if err == nil {
			return vector, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			tracing.RecordError(span, err)
			return nil, err
		}
		c.logger.WithContext(ctx).WithError(err).Warnf("Embedding attempt %d failed, retrying", attempt+1)
	}

	tracing.RecordError(span, lastErr)
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) embed(ctx context.Context, req *api.EmbedRequest) ([]float32, error) {
	start := time.Now()
	resp, err := c.ollama.Embed(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	c.logger.WithContext(ctx).Debugf("Embedded with %s in %s", resp.Model, time.Since(start))

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, errors.New("embedding response contained no vector")
	}
	vector := resp.Embeddings[0]
	if c.config.Dimensions > 0 && len(vector) != c.config.Dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vector), c.config.Dimensions)
	}
	return vector, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Truncate cuts text to at most max runes; max <= 0 means no limit.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max])
}
