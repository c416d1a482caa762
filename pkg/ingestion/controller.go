// Package ingestion is the crawl lifecycle state machine. It admits pages,
// applies the per-crawl dedup ledger and dispatches extraction work so each
// page is processed once across the streaming and batch delivery paths.
package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/language"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/worker"
)

// Ledger is the per-crawl record of processed URLs. Errors mean the ledger
// is unreachable; the controller then processes rather than skips.
type Ledger interface {
	Mark(ctx context.Context, jobID, url string) (bool, error)
	Unmark(ctx context.Context, jobID, url string) error
	Size(ctx context.Context, jobID string) (int, error)
	Reset(ctx context.Context, jobID string) error
	ClaimTerminal(ctx context.Context, jobID string) (bool, error)
	Terminated(ctx context.Context, jobID string) (bool, error)
}

type PageProcessor interface {
	ProcessPage(ctx context.Context, crawlID string, page models.Page) (*pipeline.Result, error)
	ProcessBatch(ctx context.Context, crawlID string, pages []models.Page) (*pipeline.BatchResult, error)
}

// Scheduler runs work off the request path.
type Scheduler interface {
	Go(ctx context.Context, name string, task worker.Task) error
}

type LanguageFilter interface {
	Check(page models.Page) language.Decision
}

type Emitter interface {
	EmitCrawlCompleted(ctx context.Context, crawlID string, skipped, newPages int) error
	EmitCrawlFailed(ctx context.Context, crawlID, reason string) error
}

type Config struct {
	// StreamingEnabled processes page events as they arrive. When false,
	// page events are only counted and pages are processed on completion.
	StreamingEnabled bool
}

// JobStatus is an active job with its current ledger size.
type JobStatus struct {
	models.CrawlJob
	DedupEntries int `json:"dedup_entries"`
}

type Controller struct {
	logger    ectologger.Logger
	ledger    Ledger
	processor PageProcessor
	scheduler Scheduler
	filter    LanguageFilter
	emitter   Emitter
	registry  *Registry
	config    Config
}

// NewController creates the ingestion controller. filter and emitter may
// be nil; a nil scheduler runs work inline.
func NewController(
	logger ectologger.Logger,
	ledger Ledger,
	processor PageProcessor,
	scheduler Scheduler,
	filter LanguageFilter,
	emitter Emitter,
	registry *Registry,
	config Config,
) *Controller {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Controller{
		logger:    logger,
		ledger:    ledger,
		processor: processor,
		scheduler: scheduler,
		filter:    filter,
		emitter:   emitter,
		registry:  registry,
		config:    config,
	}
}

// Handle applies one lifecycle event. Unknown event types are acknowledged
// so the crawler can introduce new ones.
func (c *Controller) Handle(ctx context.Context, event models.WebhookEvent) (*models.WebhookResponse, error) {
	ctx = appctx.SetCrawlID(ctx, event.CrawlID)
	ctx, span := tracing.StartSpan(ctx, "ingestion.Controller.Handle")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"crawl_id":   event.CrawlID,
		"event_type": string(event.Type),
	})

	if !event.Type.IsKnown() {
		metrics.RecordWebhookEvent("unknown", "ignored")
		log.Info("Ignoring unknown crawl event type")
		return &models.WebhookResponse{
			Status:  models.WebhookStatusAcknowledged,
			Message: fmt.Sprintf("ignored event type %q", event.Type),
		}, nil
	}
	if strings.TrimSpace(event.CrawlID) == "" {
		metrics.RecordWebhookEvent(string(event.Type), "rejected")
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "crawl_id is required")
	}

	var (
		resp *models.WebhookResponse
		err  error
	)
	switch event.Type {
	case models.EventStarted:
		resp = c.handleStarted(ctx, event, log)
	case models.EventPage:
		resp, err = c.handlePage(ctx, event, log)
	case models.EventCompleted:
		resp, err = c.handleCompleted(ctx, event, log)
	case models.EventFailed:
		resp = c.handleFailed(ctx, event, log)
	}

	status := "ok"
	if err != nil {
		status = "error"
		tracing.RecordError(span, err)
	}
	metrics.RecordWebhookEvent(string(event.Type), status)
	return resp, err
}

func (c *Controller) handleStarted(ctx context.Context, event models.WebhookEvent, log ectologger.Logger) *models.WebhookResponse {
	job := c.registry.Start(event.CrawlID, event.Options())
	log.WithFields(map[string]any{
		"max_depth": job.MaxDepth,
		"limit":     job.Limit,
	}).Info("Crawl started")
	return &models.WebhookResponse{Status: models.WebhookStatusAcknowledged}
}

func (c *Controller) handlePage(ctx context.Context, event models.WebhookEvent, log ectologger.Logger) (*models.WebhookResponse, error) {
	pages, err := event.Pages()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// a redelivered page for a finished crawl would re-open its ledger
	if done, _ := c.ledger.Terminated(ctx, event.CrawlID); done {
		metrics.RecordPages("late", len(pages))
		log.WithField("pages", len(pages)).Info("Ignoring page event for finished crawl")
		return &models.WebhookResponse{
			Status:  models.WebhookStatusAcknowledged,
			Message: "crawl already finished",
		}, nil
	}

	c.registry.Touch(event.CrawlID, len(pages))
	admitted, filtered := c.admit(ctx, pages, log)

	if !c.config.StreamingEnabled {
		metrics.RecordPages("deferred", len(admitted))
		return &models.WebhookResponse{
			Status:        models.WebhookStatusAcknowledged,
			PagesFiltered: optionalCount(filtered),
			Message:       "streaming disabled, pages are processed on completion",
		}, nil
	}

	scheduled := 0
	for _, page := range admitted {
		ok, err := c.schedulePage(ctx, event.CrawlID, page, log)
		if err != nil {
			return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "ingestion is shutting down")
		}
		if ok {
			scheduled++
		}
	}

	if scheduled == 0 {
		return &models.WebhookResponse{
			Status:        models.WebhookStatusAcknowledged,
			PagesFiltered: optionalCount(filtered),
			Message:       "no new pages",
		}, nil
	}
	return &models.WebhookResponse{
		Status:        models.WebhookStatusProcessing,
		PagesFiltered: optionalCount(filtered),
	}, nil
}

// schedulePage marks the page before handing it to the scheduler, so two
// racing deliveries of one URL schedule it once.
func (c *Controller) schedulePage(ctx context.Context, crawlID string, page models.Page, log ectologger.Logger) (bool, error) {
	newly, err := c.ledger.Mark(ctx, crawlID, page.SourceURL)
	if err != nil {
		newly = true
	}
	if !newly {
		metrics.RecordPages("duplicate", 1)
		log.WithField("source_url", page.SourceURL).Debug("Page already processed for crawl")
		return false, nil
	}

	err = c.run(ctx, "page:"+page.SourceURL, func(ctx context.Context) error {
		_, err := c.processor.ProcessPage(ctx, crawlID, page)
		return err
	})
	if err != nil {
		_ = c.ledger.Unmark(ctx, crawlID, page.SourceURL)
		log.WithError(err).WithField("source_url", page.SourceURL).Warn("Failed to schedule page")
		return false, err
	}
	metrics.RecordPages("streamed", 1)
	return true, nil
}

func (c *Controller) handleCompleted(ctx context.Context, event models.WebhookEvent, log ectologger.Logger) (*models.WebhookResponse, error) {
	pages, err := event.Pages()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	claimed, err := c.ledger.ClaimTerminal(ctx, event.CrawlID)
	if err != nil {
		claimed = true
	}
	if !claimed {
		log.Info("Ignoring duplicate terminal event")
		return &models.WebhookResponse{
			Status:  models.WebhookStatusCompleted,
			Message: "crawl already finished",
		}, nil
	}

	admitted, filtered := c.admit(ctx, pages, log)
	var fresh []models.Page
	skipped := 0
	for _, page := range admitted {
		newly, err := c.ledger.Mark(ctx, event.CrawlID, page.SourceURL)
		if err != nil {
			newly = true
		}
		if !newly {
			skipped++
			continue
		}
		fresh = append(fresh, page)
	}
	metrics.RecordPages("skipped", skipped)
	metrics.RecordPages("batch", len(fresh))

	c.registry.Finish(event.CrawlID, models.CrawlStatusCompleted)
	c.dispatchBatch(ctx, event.CrawlID, fresh, skipped, log)

	log.WithFields(map[string]any{
		"pages_total":    len(pages),
		"pages_skipped":  skipped,
		"pages_new":      len(fresh),
		"pages_filtered": filtered,
	}).Info("Crawl completed")

	return &models.WebhookResponse{
		Status:         models.WebhookStatusCompleted,
		PagesProcessed: optionalCount(skipped + len(fresh)),
		PagesSkipped:   optionalCount(skipped),
		PagesNew:       optionalCount(len(fresh)),
		PagesTotal:     optionalCount(len(pages)),
		PagesFiltered:  optionalCount(filtered),
	}, nil
}

// dispatchBatch processes the pages the streaming path never saw as one
// background unit, then clears the ledger. It runs inline when the
// scheduler no longer accepts work.
func (c *Controller) dispatchBatch(ctx context.Context, crawlID string, pages []models.Page, skipped int, log ectologger.Logger) {
	finish := func(ctx context.Context) error {
		var err error
		if len(pages) > 0 {
			_, err = c.processor.ProcessBatch(ctx, crawlID, pages)
		}
		c.clearLedger(ctx, crawlID)
		if c.emitter != nil {
			_ = c.emitter.EmitCrawlCompleted(ctx, crawlID, skipped, len(pages))
		}
		return err
	}

	if len(pages) == 0 {
		_ = finish(ctx)
		return
	}
	if err := c.run(ctx, "batch:"+crawlID, finish); err != nil {
		log.WithError(err).Warn("Scheduler unavailable, processing completion batch inline")
		_ = finish(appctx.Detach(ctx))
	}
}

func (c *Controller) handleFailed(ctx context.Context, event models.WebhookEvent, log ectologger.Logger) *models.WebhookResponse {
	claimed, err := c.ledger.ClaimTerminal(ctx, event.CrawlID)
	if err != nil {
		claimed = true
	}
	c.clearLedger(ctx, event.CrawlID)
	c.registry.Finish(event.CrawlID, models.CrawlStatusFailed)

	if claimed && c.emitter != nil {
		_ = c.emitter.EmitCrawlFailed(ctx, event.CrawlID, event.Error)
	}
	log.WithField("reason", event.Error).Info("Crawl failed, tracking cleared")
	return &models.WebhookResponse{
		Status:  models.WebhookStatusAcknowledged,
		Message: "crawl failed, tracking cleared",
	}
}

// admit drops pages without a URL, repeated URLs within one payload and
// pages the language filter rejects.
func (c *Controller) admit(ctx context.Context, pages []models.Page, log ectologger.Logger) ([]models.Page, int) {
	admitted := make([]models.Page, 0, len(pages))
	seen := make(map[string]bool, len(pages))
	filtered := 0

	for _, page := range pages {
		if strings.TrimSpace(page.SourceURL) == "" {
			metrics.RecordPages("invalid", 1)
			log.Warn("Dropping page without a source URL")
			continue
		}
		if seen[page.SourceURL] {
			continue
		}
		seen[page.SourceURL] = true

		if c.filter != nil {
			decision := c.filter.Check(page)
			if !decision.Admitted {
				filtered++
				metrics.RecordPages("filtered", 1)
				log.WithFields(map[string]any{
					"source_url": page.SourceURL,
					"language":   decision.Language,
					"reason":     string(decision.Reason),
				}).Info("Page filtered by language")
				continue
			}
			if page.Language == "" {
				page.Language = decision.Language
			}
		}
		admitted = append(admitted, page)
	}
	return admitted, filtered
}

func (c *Controller) clearLedger(ctx context.Context, crawlID string) {
	if err := c.ledger.Reset(ctx, crawlID); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("crawl_id", crawlID).Warn("Failed to clear dedup ledger")
	}
}

func (c *Controller) run(ctx context.Context, name string, task worker.Task) error {
	if c.scheduler == nil {
		return task(appctx.Detach(ctx))
	}
	return c.scheduler.Go(ctx, name, task)
}

// Job reports an active crawl job and its ledger size.
func (c *Controller) Job(ctx context.Context, id string) (JobStatus, bool) {
	job, ok := c.registry.Get(id)
	if !ok {
		return JobStatus{}, false
	}
	size, err := c.ledger.Size(ctx, id)
	if err != nil {
		size = 0
	}
	return JobStatus{CrawlJob: job, DedupEntries: size}, true
}

// Jobs lists active crawl jobs.
func (c *Controller) Jobs() []models.CrawlJob {
	return c.registry.Active()
}

// HandleMessage is the Kafka entry point. Events the controller rejects
// as invalid are logged and committed; other failures are returned so the
// message is redelivered.
func (c *Controller) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	if msg.Event == nil {
		if err := msg.ParseCrawlEvent(); err != nil {
			return err
		}
	}
	_, err := c.Handle(ctx, *msg.Event)
	if err != nil && httperror.IsHTTPError(err) && httperror.GetStatusCode(err) < http.StatusInternalServerError {
		c.logger.WithContext(ctx).WithError(err).WithField("offset", msg.Offset).Warn("Discarding invalid crawl event")
		return nil
	}
	return err
}

func optionalCount(n int) *int {
	return &n
}
