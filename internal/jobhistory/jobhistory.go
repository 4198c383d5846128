// Package jobhistory implements C10: an in-memory index of batch jobs that
// appends each job's snapshot to the append-only store when it reaches a
// terminal state, with retention-window eviction after that. The index is
// never reloaded from the store.
package jobhistory

import (
	"context"
	"sync"
	"time"

	"github.com/sttcore/streamcore/internal/store"
)

// FileResult is one (file, provider) outcome within a BatchJob.
type FileResult struct {
	JobID             string    `json:"jobId"`
	Path              string    `json:"path"`
	Provider          string    `json:"provider"`
	Lang              string    `json:"lang"`
	DurationSec       float64   `json:"durationSec"`
	ProcessingTimeMs  float64   `json:"processingTimeMs"`
	RTF               float64   `json:"rtf"`
	CER               *float64  `json:"cer,omitempty"`
	WER               *float64  `json:"wer,omitempty"`
	LatencyMs         float64   `json:"latencyMs"`
	Text              string    `json:"text"`
	RefText           string    `json:"refText,omitempty"`
	Degraded          bool      `json:"degraded"`
	CreatedAt         time.Time `json:"createdAt"`
	NormalizationUsed string    `json:"normalizationUsed,omitempty"`
}

// FileError is one per-file/per-provider failure recorded on a BatchJob.
type FileError struct {
	Path     string `json:"path"`
	Provider string `json:"provider,omitempty"`
	Message  string `json:"message"`
}

// JobStatus is the lifecycle state of a BatchJob.
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
)

// BatchJob is C9's unit of work and C10's indexed entity. Its mutex guards
// Done/Failed/Results/Errors/Status/EndedAt, since C9's file and provider
// worker pools append to the same job concurrently.
type BatchJob struct {
	mu        sync.Mutex
	ID        string       `json:"id"`
	Providers []string     `json:"providers"`
	Lang      string       `json:"lang"`
	Total     int          `json:"total"`
	Done      int          `json:"done"`
	Failed    int          `json:"failed"`
	Results   []FileResult `json:"results"`
	Errors    []FileError  `json:"errors"`
	Status    JobStatus    `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	EndedAt   time.Time    `json:"endedAt,omitempty"`
}

// Terminal reports whether the job has reached done+failed == total.
func (j *BatchJob) Terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Done+j.Failed >= j.Total
}

// AddResult records a successful FileResult against the job.
func (j *BatchJob) AddResult(fr FileResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Results = append(j.Results, fr)
	j.Done++
}

// AddError records a per-file/per-provider failure against the job.
func (j *BatchJob) AddError(fe FileError) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Errors = append(j.Errors, fe)
	j.Failed++
}

// Snapshot returns a lock-free copy of the job's current counters and
// slices, safe to read from a caller that doesn't hold j.mu (e.g. status
// polling, JSON encoding).
func (j *BatchJob) Snapshot() BatchJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return BatchJob{
		ID:        j.ID,
		Providers: j.Providers,
		Lang:      j.Lang,
		Total:     j.Total,
		Done:      j.Done,
		Failed:    j.Failed,
		Results:   append([]FileResult(nil), j.Results...),
		Errors:    append([]FileError(nil), j.Errors...),
		Status:    j.Status,
		CreatedAt: j.CreatedAt,
		EndedAt:   j.EndedAt,
	}
}

// History indexes BatchJobs in memory, persisting a snapshot to store on
// every terminal transition, and evicts terminal jobs from memory after
// retention elapses (results remain queryable from the store afterward).
type History struct {
	mu        sync.RWMutex
	jobs      map[string]*BatchJob
	store     store.Store
	retention time.Duration
}

// New creates a History backed by s, evicting terminal jobs from memory
// after retention (default 10 minutes if retention <= 0, per §4.5).
func New(s store.Store, retention time.Duration) *History {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &History{jobs: make(map[string]*BatchJob), store: s, retention: retention}
}

// Register adds a new running job to the in-memory index.
func (h *History) Register(job *BatchJob) {
	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs[job.ID] = job
}

// Get returns the job with the given id, or (nil, false) if it is not in
// memory (it may still be queryable from the store directly).
func (h *History) Get(id string) (*BatchJob, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	j, ok := h.jobs[id]
	return j, ok
}

// List returns every job currently in memory. Per §4.8, this is always a
// live view: once a job is evicted (via Evict or the background prune
// timer), it no longer appears here even though its FileResults remain in
// the store.
func (h *History) List() []*BatchJob {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*BatchJob, 0, len(h.jobs))
	for _, j := range h.jobs {
		out = append(out, j)
	}
	return out
}

// MarkTerminal transitions job to done/failed==total, persists the
// snapshot, and schedules eviction after the retention window.
func (h *History) MarkTerminal(ctx context.Context, id string) error {
	h.mu.Lock()
	job, ok := h.jobs[id]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	job.mu.Lock()
	job.Status = JobStatusDone
	job.EndedAt = time.Now()
	job.mu.Unlock()

	if h.store != nil {
		if err := h.store.Append(ctx, "batch_job", job); err != nil {
			return err
		}
	}

	time.AfterFunc(h.retention, func() { h.Evict(id) })
	return nil
}

// Evict removes id from the in-memory index immediately.
func (h *History) Evict(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.jobs, id)
}
