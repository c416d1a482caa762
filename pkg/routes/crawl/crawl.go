package crawl

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/ingestion"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Jobs reports crawl jobs still being tracked.
type Jobs interface {
	Job(ctx context.Context, id string) (ingestion.JobStatus, bool)
	Jobs() []models.CrawlJob
}

// Register registers crawl job routes
func Register(g *echo.Group) {
	g.GET("/crawls", listCrawls)
	g.GET("/crawls/:id", getCrawl)
}

func listCrawls(c echo.Context) error {
	_, jobs, err := ectoinject.GetContext[Jobs](c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"crawls": jobs.Jobs()})
}

func getCrawl(c echo.Context) error {
	ctx, jobs, err := ectoinject.GetContext[Jobs](c.Request().Context())
	if err != nil {
		return err
	}

	id := c.Param("id")
	status, ok := jobs.Job(ctx, id)
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "crawl %s is not active", id)
	}
	return c.JSON(http.StatusOK, status)
}
