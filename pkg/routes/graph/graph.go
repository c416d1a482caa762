package graph

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// Reader exposes read access to the knowledge graph.
type Reader interface {
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	SearchEntities(ctx context.Context, text string, limit int) ([]models.Entity, error)
	Neighborhood(ctx context.Context, entityID string, depth int) (*graph.Neighborhood, error)
}

// Register registers graph routes
func Register(g *echo.Group) {
	g.GET("/graph/entities", searchEntities)
	g.GET("/graph/entities/:id", getEntity)
	g.GET("/graph/neighborhood/:id", getNeighborhood)
}

func searchEntities(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit, err := utils.QueryInt(c, "limit", 0)
	if err != nil {
		return err
	}

	ctx, reader, err := ectoinject.GetContext[Reader](c.Request().Context())
	if err != nil {
		return err
	}

	entities, err := reader.SearchEntities(ctx, q, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"entities": entities})
}

func getEntity(c echo.Context) error {
	ctx, reader, err := ectoinject.GetContext[Reader](c.Request().Context())
	if err != nil {
		return err
	}

	entity, err := reader.GetEntity(ctx, c.Param("id"))
	if errors.Is(err, graph.ErrEntityNotFound) {
		return httperror.WrapError(http.StatusNotFound, err)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

func getNeighborhood(c echo.Context) error {
	depth, err := utils.QueryInt(c, "depth", 0)
	if err != nil {
		return err
	}
	if depth != 0 {
		if err := utils.ValidateValue(depth, "min=1,max=6"); err != nil {
			return httperror.WrapError(http.StatusBadRequest, err)
		}
	}

	ctx, reader, err := ectoinject.GetContext[Reader](c.Request().Context())
	if err != nil {
		return err
	}

	hood, err := reader.Neighborhood(ctx, c.Param("id"), depth)
	if errors.Is(err, graph.ErrEntityNotFound) {
		return httperror.WrapError(http.StatusNotFound, err)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hood)
}
