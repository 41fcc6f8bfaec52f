package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/Dev-aquilas225/stock-sub001/internal/jobs"
)

// KeyCleaner prunes idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob removes expired idempotency keys.
type CleanupJob struct {
	store   KeyCleaner
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewCleanupJob wires the job.
func NewCleanupJob(store KeyCleaner, metrics *jobmetrics.Metrics, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{store: store, metrics: metrics, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode cleanup payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.metrics.Track("idempotency_cleanup")
	removed, err := j.store.Cleanup(ctx, payload.Retention())
	if err != nil {
		j.logger.Error("cleanup idempotency keys", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("cleaned idempotency keys", slog.String("job", "idempotency_cleanup"), slog.Int64("removed", removed))
	return tracker.End(nil)
}
