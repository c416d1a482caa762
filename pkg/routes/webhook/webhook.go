package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Handler applies crawl lifecycle events.
type Handler interface {
	Handle(ctx context.Context, event models.WebhookEvent) (*models.WebhookResponse, error)
}

// Register registers crawl webhook routes
func Register(g *echo.Group) {
	g.POST("/webhooks/crawl", receiveCrawlEvent)
}

// receiveCrawlEvent answers before any extraction finishes; failures are
// reported in the webhook response shape the crawler expects.
func receiveCrawlEvent(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "webhook.receiveCrawlEvent")
	defer span.End()

	var event models.WebhookEvent
	if err := c.Bind(&event); err != nil {
		return respondError(c, httperror.WrapError(http.StatusBadRequest, err))
	}

	ctx, handler, err := ectoinject.GetContext[Handler](ctx)
	if err != nil {
		return err
	}

	resp, err := handler.Handle(ctx, event)
	if err != nil {
		tracing.RecordError(span, err)
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func respondError(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	message := "failed to handle crawl event"

	var httperr *httperror.HTTPError
	if errors.As(err, &httperr) {
		code = httperr.Code
		message = httperr.Message
	}
	return c.JSON(code, models.WebhookResponse{
		Status:  models.WebhookStatusError,
		Message: message,
	})
}
