// Package llm wraps the generative text service used for relationship extraction.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
	initialBackoff   = 1 * time.Second
)

// ErrAPIKeyRequired is returned when an API key is needed but not provided.
var ErrAPIKeyRequired = errors.New("API key required")

// Generator produces a completion for a system instruction and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type Config struct {
	APIKey     string
	Model      string
	MaxTokens  int
	MaxRetries int
	// BaseURL overrides the API endpoint, e.g. for a gateway.
	BaseURL string
}

// AnthropicClient calls the Messages API with exponential backoff on
// rate limits, server errors and network timeouts.
type AnthropicClient struct {
	client         anthropic.Client
	model          anthropic.Model
	maxTokens      int64
	maxRetries     int
	initialBackoff time.Duration
	logger         ectologger.Logger
}

func NewAnthropicClient(config Config, logger ectologger.Logger) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY", ErrAPIKeyRequired)
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	// retries are handled here so backoff is context-aware and logged
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicClient{
		client:         anthropic.NewClient(opts...),
		model:          anthropic.Model(config.Model),
		maxTokens:      int64(config.MaxTokens),
		maxRetries:     config.MaxRetries,
		initialBackoff: initialBackoff,
		logger:         logger,
	}, nil
}

func (c *AnthropicClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "llm.AnthropicClient.Generate")
	defer span.End()

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			c.logger.WithContext(ctx).WithError(lastErr).WithFields(map[string]interface{}{
				"attempt": attempt,
				"backoff": backoff.String(),
			}).Warn("retrying generative text request")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			var text strings.Builder
			for _, block := range message.Content {
				if block.Type == "text" {
					text.WriteString(block.Text)
				}
			}
			if text.Len() == 0 {
				return "", fmt.Errorf("unexpected response format: no text content blocks")
			}
			return text.String(), nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			tracing.RecordError(span, err)
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	tracing.RecordError(span, lastErr)
	return "", fmt.Errorf("failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return false
}
