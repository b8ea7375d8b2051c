package models

import "sync"

// MaxBatchURLs caps the size of one batch.
const MaxBatchURLs = 100

// BatchRequest is the payload for POST /api/v1/batch/optimize.
type BatchRequest struct {
	// URLs is the list of target pages to optimize. Required.
	URLs []string `json:"urls" binding:"required,min=1,max=100"`

	// Options contains shared options applied to all URLs.
	Options BatchOptions `json:"options"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// BatchOptions are the shared settings applied to every URL in a batch.
type BatchOptions struct {
	Timeout   int               `json:"timeout,omitempty" binding:"omitempty,min=1,max=120"`
	Stealth   bool              `json:"stealth,omitempty"`
	FetchMode string            `json:"fetch_mode,omitempty" binding:"omitempty,oneof=auto browser http"`
	Viewport  *Viewport         `json:"viewport,omitempty"`
	Settings  *SettingsOverride `json:"settings,omitempty"`
}

// Request builds the single-page request for url.
func (o BatchOptions) Request(url string) *OptimizeRequest {
	r := &OptimizeRequest{
		URL:       url,
		Timeout:   o.Timeout,
		Stealth:   o.Stealth,
		FetchMode: o.FetchMode,
		Viewport:  o.Viewport,
		Settings:  o.Settings,
	}
	r.Defaults()
	return r
}

// BatchResponse is the immediate response for POST /api/v1/batch/optimize.
type BatchResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Total  int          `json:"total"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// BatchStatusResponse is the response for GET /api/v1/batch/:id.
type BatchStatusResponse struct {
	ID        string              `json:"id"`
	Status    string              `json:"status"`
	Completed int                 `json:"completed"`
	Total     int                 `json:"total"`
	Results   []*OptimizeResponse `json:"results,omitempty"`
}

// Batch job states.
const (
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchPartial    = "partial"
	BatchFailed     = "failed"
)

// BatchJob tracks an in-progress batch optimize operation. It is safe for
// concurrent use.
type BatchJob struct {
	ID        string
	Total     int
	CreatedAt int64 // unix timestamp

	mu        sync.Mutex
	status    string
	completed int
	failed    int
	results   []*OptimizeResponse
}

// NewBatchJob creates a processing job with room for total results.
func NewBatchJob(id string, total int, createdAt int64) *BatchJob {
	return &BatchJob{
		ID:        id,
		Total:     total,
		CreatedAt: createdAt,
		status:    BatchProcessing,
		results:   make([]*OptimizeResponse, total),
	}
}

// Record stores the result for URL index i.
func (j *BatchJob) Record(i int, resp *OptimizeResponse) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[i] = resp
	if resp.Success {
		j.completed++
	} else {
		j.failed++
	}
}

// Finish derives the terminal status from the recorded results.
func (j *BatchJob) Finish() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case j.failed == j.Total:
		j.status = BatchFailed
	case j.failed > 0:
		j.status = BatchPartial
	default:
		j.status = BatchCompleted
	}
	return j.status
}

// Status returns a point-in-time view of the job.
func (j *BatchJob) Status() BatchStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	return BatchStatusResponse{
		ID:        j.ID,
		Status:    j.status,
		Completed: j.completed + j.failed,
		Total:     j.Total,
		Results:   append([]*OptimizeResponse(nil), j.results...),
	}
}
