package ingestion

import (
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Registry tracks crawl jobs that have not reached a terminal event.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*models.CrawlJob
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*models.CrawlJob),
		now:  time.Now,
	}
}

// Start records an active job. A repeated start keeps the original
// start time and page count but takes the new limits.
func (r *Registry) Start(id string, opts models.CrawlOptions) models.CrawlJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.getOrCreate(id)
	job.MaxDepth = opts.MaxDepth
	job.Limit = opts.Limit
	return *job
}

// Touch counts pages seen for a job, registering it if its start event
// was never received.
func (r *Registry) Touch(id string, pages int) models.CrawlJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.getOrCreate(id)
	job.PagesSeen += pages
	job.UpdatedAt = r.now()
	return *job
}

// Finish removes the job and returns its final state.
func (r *Registry) Finish(id string, status models.CrawlStatus) (models.CrawlJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.CrawlJob{ID: id, Status: status}, false
	}
	delete(r.jobs, id)
	job.Status = status
	job.UpdatedAt = r.now()
	return *job, true
}

func (r *Registry) Get(id string) (models.CrawlJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.CrawlJob{}, false
	}
	return *job, true
}

// Active lists tracked jobs, oldest first.
func (r *Registry) Active() []models.CrawlJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.CrawlJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) getOrCreate(id string) *models.CrawlJob {
	job, ok := r.jobs[id]
	if !ok {
		now := r.now()
		job = &models.CrawlJob{
			ID:        id,
			Status:    models.CrawlStatusActive,
			StartedAt: now,
			UpdatedAt: now,
		}
		r.jobs[id] = job
	}
	return job
}
