// Package routes mounts the HTTP API and builds the DI container its
// handlers resolve their services from.
package routes

import (
	"context"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/routes/crawl"
	"github.com/Ramsey-B/fern/pkg/routes/graph"
	"github.com/Ramsey-B/fern/pkg/routes/search"
	"github.com/Ramsey-B/fern/pkg/routes/webhook"
)

// Dependencies are the services handlers look up per request. Nil fields
// are left unregistered and the matching routes answer with an error.
type Dependencies struct {
	Webhook webhook.Handler
	Search  search.Searcher
	Graph   graph.Reader
	Crawls  crawl.Jobs
}

// NewContainer registers deps as singletons in a new container with the given id.
func NewContainer(id string, deps Dependencies, logger ectologger.Logger) (ectocontainer.DIContainer, error) {
	config := ectoinject.DefaultContainerConfig
	config.ID = id
	config.LoggerConfig = &ectocontainer.DIContainerLoggerConfig{
		Prefix:   "di",
		LogLevel: "warn",
		Enabled:  logger != nil,
		LogFunc: func(ctx context.Context, level, msg string) {
			if level == "warn" {
				logger.WithContext(ctx).Warn(msg)
				return
			}
			logger.WithContext(ctx).Debug(msg)
		},
	}

	container, err := ectoinject.NewDIContainer(config)
	if err != nil {
		return nil, err
	}

	if deps.Webhook != nil {
		if err := ectoinject.RegisterInstance[webhook.Handler](container, deps.Webhook); err != nil {
			return nil, err
		}
	}
	if deps.Search != nil {
		if err := ectoinject.RegisterInstance[search.Searcher](container, deps.Search); err != nil {
			return nil, err
		}
	}
	if deps.Graph != nil {
		if err := ectoinject.RegisterInstance[graph.Reader](container, deps.Graph); err != nil {
			return nil, err
		}
	}
	if deps.Crawls != nil {
		if err := ectoinject.RegisterInstance[crawl.Jobs](container, deps.Crawls); err != nil {
			return nil, err
		}
	}
	return container, nil
}

// Register mounts every API route on g.
func Register(g *echo.Group) {
	webhook.Register(g)
	search.Register(g)
	graph.Register(g)
	crawl.Register(g)
}
