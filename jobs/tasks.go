// Package jobs holds the background tasks: periodic rate refresh from the
// external feed and report snapshot warmup for open tills.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRatesRefresh pulls feed quotes and applies them to the registry.
	TaskRatesRefresh = "rates:refresh"
	// TaskReportWarmup pre-computes snapshots for every open till.
	TaskReportWarmup = "report:warmup"
)

// NewRatesRefreshTask constructs the rate refresh task.
func NewRatesRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskRatesRefresh, nil)
}

// ReportWarmupPayload optionally narrows warmup to one till.
type ReportWarmupPayload struct {
	TillID int64 `json:"tillId,omitempty"`
}

// NewReportWarmupTask constructs the snapshot warmup task.
func NewReportWarmupTask(payload ReportWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportWarmup, data), nil
}

// RateRefresher is the slice of the ratefeed service the job drives.
type RateRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// RatesRefreshJob handles TaskRatesRefresh.
type RatesRefreshJob struct {
	rates  RateRefresher
	logger *slog.Logger
}

// NewRatesRefreshJob constructs the job.
func NewRatesRefreshJob(rates RateRefresher, logger *slog.Logger) *RatesRefreshJob {
	return &RatesRefreshJob{rates: rates, logger: logger}
}

// Handle processes one refresh. The feed service already degrades to stored
// quotes, so an error here means the refresh itself is broken and retryable.
func (j *RatesRefreshJob) Handle(ctx context.Context, _ *asynq.Task) error {
	applied, err := j.rates.Refresh(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("rates refresh job done", slog.Int("applied", applied))
	return nil
}

// SnapshotWarmer is the slice of the report service the job drives.
type SnapshotWarmer interface {
	Warm(ctx context.Context, tillID int64) error
	WarmupOpen(ctx context.Context) (int, error)
}

// ReportWarmupJob handles TaskReportWarmup.
type ReportWarmupJob struct {
	reports SnapshotWarmer
	logger  *slog.Logger
}

// NewReportWarmupJob constructs the job.
func NewReportWarmupJob(reports SnapshotWarmer, logger *slog.Logger) *ReportWarmupJob {
	return &ReportWarmupJob{reports: reports, logger: logger}
}

// Handle warms either one till or every open till.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReportWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.TillID > 0 {
		if err := j.reports.Warm(ctx, payload.TillID); err != nil {
			return err
		}
		j.logger.Info("snapshot warmed", slog.Int64("till_id", payload.TillID))
		return nil
	}
	warmed, err := j.reports.WarmupOpen(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("snapshot warmup done", slog.Int("warmed", warmed))
	return nil
}
