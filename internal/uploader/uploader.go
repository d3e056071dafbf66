// Package uploader drains pending point rows to the cloud bulk topic
// with at-least-once semantics, and reclaims uploaded rows.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbms-io/supervisor-sub000/internal/actor"
	"github.com/openbms-io/supervisor-sub000/internal/metrics"
	"github.com/openbms-io/supervisor-sub000/internal/models"
	"github.com/openbms-io/supervisor-sub000/internal/store"
)

// BulkPublisher is the outbound capability the uploader needs.
type BulkPublisher interface {
	PublishPointBulk(payload models.BulkPointsPayload) error
}

// Uploader is the UPLOADER actor: a periodic drain loop plus an
// immediate trigger path used after writes. Cleanup ticks are posted to
// the CLEANER actor rather than executed inline, so a slow delete never
// stalls a drain.
type Uploader struct {
	points    store.PointRepository
	publisher BulkPublisher
	runtime   *actor.Runtime
	logger    *slog.Logger

	interval        time.Duration
	cleanupInterval time.Duration
	batchSize       int

	trigger chan struct{}
}

// New creates an uploader.
func New(points store.PointRepository, publisher BulkPublisher, runtime *actor.Runtime, interval, cleanupInterval time.Duration, batchSize int, logger *slog.Logger) *Uploader {
	return &Uploader{
		points:          points,
		publisher:       publisher,
		runtime:         runtime,
		logger:          logger,
		interval:        interval,
		cleanupInterval: cleanupInterval,
		batchSize:       batchSize,
		trigger:         make(chan struct{}, 1),
	}
}

// Handle reacts to immediate upload triggers from the writer.
func (u *Uploader) Handle(_ context.Context, msg actor.Message) error {
	if msg.Type != models.ImmediateUploadTriggerType {
		return nil
	}
	select {
	case u.trigger <- struct{}{}:
	default:
		// A trigger is already pending; the next drain covers both.
	}
	return nil
}

// Run drives the upload and cleanup tickers until cancellation.
func (u *Uploader) Run(ctx context.Context) {
	upload := time.NewTicker(u.interval)
	defer upload.Stop()
	cleanup := time.NewTicker(u.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-upload.C:
			u.drain(ctx)
		case <-u.trigger:
			u.drain(ctx)
		case <-cleanup.C:
			if err := u.runtime.Send(actor.NameUploader, actor.NameCleaner,
				models.CleanupRequestType, models.CleanupRequest{}); err != nil {
				u.logger.Error("failed to post cleanup request", slog.String("error", err.Error()))
			}
		}
	}
}

// drain uploads batches until the pending set is exhausted, checking
// for cancellation between batches.
func (u *Uploader) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := u.UploadBatch(ctx)
		if err != nil {
			u.logger.Warn("upload batch failed", slog.String("error", err.Error()))
			return
		}
		if n < u.batchSize {
			return
		}
	}
}

// UploadBatch publishes one batch of pending rows and marks them
// uploaded. Publish failure leaves the rows pending; the next cycle
// re-publishes them.
func (u *Uploader) UploadBatch(ctx context.Context) (int, error) {
	pending, err := u.points.GetPending(ctx, u.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending points: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	payload := models.BulkPointsPayload{Points: make([]models.PointPayload, 0, len(pending))}
	for _, p := range pending {
		payload.Points = append(payload.Points, p.ToPayload())
	}

	if err := u.publisher.PublishPointBulk(payload); err != nil {
		return 0, fmt.Errorf("failed to publish point batch: %w", err)
	}

	if err := u.points.MarkUploaded(ctx, pending); err != nil {
		// The batch is published but still flagged pending; the next
		// cycle re-publishes it. At-least-once, the platform dedupes.
		return 0, fmt.Errorf("failed to mark points uploaded: %w", err)
	}

	metrics.PointsUploadedTotal.Add(float64(len(pending)))
	u.logger.Debug("uploaded point batch", slog.Int("points", len(pending)))
	return len(pending), nil
}

// CleanupNow deletes rows already uploaded. Deletion failures leave
// tolerable garbage for the next tick.
func (u *Uploader) CleanupNow(ctx context.Context) {
	deleted, err := u.points.DeleteUploaded(ctx)
	if err != nil {
		u.logger.Warn("cleanup failed", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		metrics.PointsDeletedTotal.Add(float64(deleted))
		u.logger.Debug("reclaimed uploaded rows", slog.Int64("deleted", deleted))
	}
}
