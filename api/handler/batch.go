package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagelift/models"
	"github.com/use-agent/pagelift/webhook"
	"golang.org/x/sync/errgroup"
)

// Batches holds in-flight and completed batch jobs.
type Batches struct {
	ctx      context.Context
	pipeline *Pipeline
	notifier *webhook.Notifier // optional
	limit    int

	jobs sync.Map // id → *models.BatchJob
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewBatches creates a job store. Jobs run under ctx and at most limit
// pages are optimized concurrently per job.
func NewBatches(ctx context.Context, p *Pipeline, n *webhook.Notifier, limit int) *Batches {
	if limit <= 0 {
		limit = 5
	}
	return &Batches{ctx: ctx, pipeline: p, notifier: n, limit: limit, now: time.Now}
}

// Post returns a handler for POST /api/v1/batch/optimize.
// It validates the request, creates a batch job and optimizes the URLs in
// the background.
func (b *Batches) Post() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.BatchResponse{
				Status: models.BatchFailed,
				Error:  &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
			})
			return
		}
		if len(req.URLs) > models.MaxBatchURLs {
			c.JSON(http.StatusBadRequest, models.BatchResponse{
				Status: models.BatchFailed,
				Error:  &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: "maximum 100 URLs per batch"},
			})
			return
		}

		job := models.NewBatchJob("batch-"+randomID(), len(req.URLs), b.now().Unix())
		b.jobs.Store(job.ID, job)

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.run(job, req)
		}()

		c.JSON(http.StatusOK, models.BatchResponse{
			ID:     job.ID,
			Status: models.BatchProcessing,
			Total:  job.Total,
		})
	}
}

// Get returns a handler for GET /api/v1/batch/:id.
func (b *Batches) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := b.jobs.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, models.BatchResponse{
				ID:     c.Param("id"),
				Status: models.BatchFailed,
				Error:  &models.ErrorDetail{Code: models.ErrCodeNotFound, Message: "batch job not found"},
			})
			return
		}
		c.JSON(http.StatusOK, val.(*models.BatchJob).Status())
	}
}

// run optimizes every URL of job with bounded concurrency and then fires
// the completion webhook, if any.
func (b *Batches) run(job *models.BatchJob, req models.BatchRequest) {
	var g errgroup.Group
	g.SetLimit(b.limit)
	for i, u := range req.URLs {
		g.Go(func() error {
			job.Record(i, b.one(req.Options.Request(u)))
			return nil
		})
	}
	_ = g.Wait()

	status := job.Finish()
	st := job.Status()
	slog.Info("batch job finished",
		"id", job.ID,
		"status", status,
		"completed", st.Completed,
		"total", job.Total,
	)

	if req.WebhookURL != "" && b.notifier != nil {
		b.notifier.DeliverAsync(req.WebhookURL, req.WebhookSecret, &webhook.Event{
			Type:      webhook.EventBatchCompleted,
			JobID:     job.ID,
			Timestamp: b.now().Unix(),
			Data:      st,
		})
	}
}

// one optimizes a single batch entry and folds failures into the response.
func (b *Batches) one(req *models.OptimizeRequest) *models.OptimizeResponse {
	start := time.Now()
	resp, err := b.pipeline.Run(b.ctx, req)
	if err != nil {
		return &models.OptimizeResponse{
			Success:  false,
			FinalURL: req.URL,
			Error:    toOptimizeError(err).ToDetail(),
			Timing:   models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
		}
	}
	return resp
}

// Prune drops jobs created before now-maxAge and returns how many went.
func (b *Batches) Prune(maxAge time.Duration) int {
	cutoff := b.now().Add(-maxAge).Unix()
	n := 0
	b.jobs.Range(func(key, value any) bool {
		if value.(*models.BatchJob).CreatedAt < cutoff {
			b.jobs.Delete(key)
			n++
		}
		return true
	})
	return n
}

// CleanupLoop prunes jobs older than maxAge every interval until ctx ends.
func (b *Batches) CleanupLoop(ctx context.Context, every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Prune(maxAge); n > 0 {
				slog.Debug("batch jobs expired", "count", n)
			}
		}
	}
}

// Wait blocks until every started job has finished.
func (b *Batches) Wait() { b.wg.Wait() }

// randomID generates a short random hex string for job IDs.
func randomID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
