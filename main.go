package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/dedup"
	"github.com/Ramsey-B/fern/pkg/embedding"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/extractor"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/ingestion"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/language"
	"github.com/Ramsey-B/fern/pkg/llm"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/relationships"
	"github.com/Ramsey-B/fern/pkg/routes"
	"github.com/Ramsey-B/fern/pkg/search"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
	"github.com/Ramsey-B/fern/pkg/vector"
	"github.com/Ramsey-B/fern/pkg/worker"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, zl, err := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.PrettyLogs, Service: cfg.AppName})
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, cfg)
	if err != nil {
		return err
	}

	app, err := build(cfg, logger)
	if err != nil {
		return err
	}

	if err := app.startup.Start(ctx); err != nil {
		return err
	}
	app.health.SetReady(true)

	e, err := newServer(cfg, logger, app)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("%s listening on %s", cfg.AppName, server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
		}
	}

	app.health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server")
	}
	// workers drain queued pages before their stores close
	if err := app.startup.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to stop dependencies")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	return nil
}

func initTracing(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter = exporters.NoopExporter{}
	if cfg.OTLPEnabled {
		otlp, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Headers:  cfg.OTLPHeaders,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = otlp
	}
	return tracing.Init(cfg.AppName, exporter), nil
}

// application holds what the HTTP server and shutdown need after wiring.
type application struct {
	startup    *startup.Startup
	health     *health.Checker
	controller *ingestion.Controller
	engine     *search.Engine
	graph      *graph.Store
	containers string
}

func build(cfg *config.Config, logger ectologger.Logger) (*application, error) {
	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	// dedup ledger; an unreachable cache degrades to double processing
	redisClient := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	tracker := dedup.NewTracker(redisClient, dedup.Config{KeyPrefix: cfg.DedupKeyPrefix, TTL: cfg.DedupTTL}, logger)
	boot.AddDependency(&startup.Dependency{
		Name: "redis",
		StartFunc: func(ctx context.Context) error {
			if err := redisClient.Connect(ctx); err != nil {
				logger.WithError(err).Warn("Redis unavailable, dedup will degrade")
			}
			return nil
		},
		StopFunc: func(context.Context) error { return redisClient.Close() },
	})

	// knowledge graph
	graphClient, err := graph.NewClient(graph.Config{
		Host:     cfg.GraphDBHost,
		Port:     cfg.GraphDBPort,
		Username: cfg.GraphDBUser,
		Password: cfg.GraphDBPassword,
	}, logger)
	if err != nil {
		return nil, err
	}
	graphStore := graph.NewStore(graphClient, graph.StoreConfig{
		DefaultDepth: cfg.GraphDefaultDepth,
		MaxDepth:     cfg.GraphMaxDepth,
		SearchLimit:  cfg.GraphSearchLimit,
	}, logger)
	boot.AddDependency(&startup.Dependency{
		Name: "graph",
		StartFunc: func(ctx context.Context) error {
			if err := graphClient.VerifyConnectivity(ctx); err != nil {
				logger.WithError(err).Warn("Graph database unavailable, graph writes and traversal will degrade")
				return nil
			}
			if err := graphStore.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("Failed to ensure graph indexes")
			}
			return nil
		},
		StopFunc: graphClient.Close,
	})

	// vector store
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN(), database.PoolConfig{
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}
	vectors := vector.NewStore(db, vector.Config{Dimensions: cfg.EmbeddingDimensions}, logger)
	boot.AddDependency(&startup.Dependency{
		Name: "postgres",
		StartFunc: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("failed to reach postgres: %w", err)
			}
			migrations := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				Force:               cfg.DatabaseMigrationForce,
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			})
			return migrations.MigratePostgres(db.DB.DB, cfg.DatabaseName)
		},
		StopFunc: func(context.Context) error { return db.Close() },
	})

	embedder, err := embedding.NewClient(embedding.Config{
		URL:        cfg.EmbeddingURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		Timeout:    cfg.EmbeddingTimeout,
		MaxChars:   cfg.EmbeddingMaxChars,
		MaxRetries: cfg.EmbeddingMaxRetries,
	}, logger)
	if err != nil {
		return nil, err
	}

	entities := extractor.New(extractor.NewProseRecognizer(""), extractor.Config{
		DefaultConfidence: cfg.EntityDefaultConfidence,
		KeepNumeric:       cfg.EntityKeepNumeric,
	}, logger)

	var relExtractor pipeline.RelationshipExtractor
	generator, err := llm.NewAnthropicClient(llm.Config{
		APIKey:     cfg.AnthropicAPIKey,
		Model:      cfg.LLMModel,
		MaxTokens:  cfg.LLMMaxTokens,
		MaxRetries: cfg.LLMMaxRetries,
	}, logger)
	switch {
	case errors.Is(err, llm.ErrAPIKeyRequired):
		logger.Warn("No generative text credentials, relationship extraction is disabled")
	case err != nil:
		return nil, err
	default:
		relExtractor = relationships.New(generator, relationships.Config{
			MaxTextRunes:  cfg.RelationshipMaxTextChars,
			MaxEntities:   cfg.RelationshipMaxEntities,
			MinConfidence: cfg.RelationshipMinConfidence,
		}, logger)
	}

	// outbound knowledge events
	var publisher events.Publisher
	if cfg.KafkaProducerEnabled {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		publisher = producer
		boot.AddDependency(&startup.Dependency{
			Name:     "kafka-producer",
			StopFunc: func(context.Context) error { return producer.Close() },
		})
	}
	emitter := events.NewEmitter(publisher, logger)

	processor := pipeline.NewProcessor(logger, entities, relExtractor, graphStore, vectors, embedder, emitter, pipeline.Config{
		BatchConcurrency: cfg.WorkerCount,
		PageTimeout:      cfg.PipelineTimeout,
	})

	pool := worker.NewPool(worker.Config{
		Workers:   cfg.WorkerCount,
		QueueSize: cfg.WorkerQueueSize,
	}, logger)
	boot.AddDependency(&startup.Dependency{
		Name:      "workers",
		Requires:  []string{"redis", "graph", "postgres"},
		StartFunc: pool.Start,
		StopFunc:  pool.Stop,
	})

	var filter ingestion.LanguageFilter
	if cfg.EnableLanguageFiltering {
		filter = language.NewFilter(language.Config{
			Enabled:       true,
			Allowed:       cfg.AllowedLanguages,
			Mode:          language.ParseMode(cfg.LanguageFilterMode),
			MinTextLength: cfg.LanguageMinTextLength,
		}, language.NewLinguaDetector(false), logger)
	}

	controller := ingestion.NewController(logger, tracker, processor, pool, filter, emitter, ingestion.NewRegistry(), ingestion.Config{
		StreamingEnabled: cfg.EnableStreamingProcessing,
	})

	if cfg.KafkaConsumerEnabled {
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaInputTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger, controller.HandleMessage)
		boot.AddDependency(&startup.Dependency{
			Name:      "kafka-consumer",
			Requires:  []string{"workers"},
			StartFunc: consumer.Start,
			StopFunc:  func(context.Context) error { return consumer.Stop() },
		})
	}

	engine := search.NewEngine(logger, entities, embedder, vectors, graphStore, search.Config{
		VectorLimit:   cfg.SearchVectorLimit,
		DefaultLimit:  cfg.SearchDefaultLimit,
		DefaultDepth:  cfg.GraphDefaultDepth,
		MaxDepth:      cfg.GraphMaxDepth,
		BranchTimeout: cfg.SearchBranchTimeout,
		VectorWeight:  cfg.SearchVectorWeight,
		GraphWeight:   cfg.SearchGraphWeight,
		BothBonus:     cfg.SearchBothBonus,
		ProbeLimit:    cfg.GraphSearchLimit,
	})

	checker := health.NewChecker(version).
		Require("postgres", vectors.Ping).
		Optional("redis", tracker.Ping).
		Optional("graph", graphClient.VerifyConnectivity)

	return &application{
		startup:    boot,
		health:     checker,
		controller: controller,
		engine:     engine,
		graph:      graphStore,
		containers: cfg.AppName,
	}, nil
}

func newServer(cfg *config.Config, logger ectologger.Logger, app *application) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	if _, err := routes.NewContainer(app.containers, routes.Dependencies{
		Webhook: app.controller,
		Search:  app.engine,
		Graph:   app.graph,
		Crawls:  app.controller,
	}, logger); err != nil {
		return nil, fmt.Errorf("failed to register route dependencies: %w", err)
	}

	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit(cfg.MaxBodySize))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Container(app.containers))

	app.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	routes.Register(e.Group("/api/v1"))
	return e, nil
}
