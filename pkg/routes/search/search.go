package search

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	hybrid "github.com/Ramsey-B/fern/pkg/search"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// Searcher runs hybrid queries.
type Searcher interface {
	Search(ctx context.Context, query string, opts hybrid.Options) (*models.SearchResponse, error)
}

// Register registers search routes
func Register(g *echo.Group) {
	g.POST("/search", search)
}

func search(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "search.search")
	defer span.End()

	req, err := utils.BindRequest[models.SearchRequest](c)
	if err != nil {
		return err
	}

	ctx, searcher, err := ectoinject.GetContext[Searcher](ctx)
	if err != nil {
		return err
	}

	resp, err := searcher.Search(ctx, req.Query, hybrid.Options{
		VectorLimit: req.VectorLimit,
		GraphDepth:  req.GraphDepth,
		Limit:       req.Limit,
		Rerank:      req.Rerank,
	})
	if errors.Is(err, hybrid.ErrEmptyQuery) {
		return httperror.WrapError(http.StatusBadRequest, err)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
