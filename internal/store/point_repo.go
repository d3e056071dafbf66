package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openbms-io/supervisor-sub000/internal/metrics"
	"github.com/openbms-io/supervisor-sub000/internal/models"
	"github.com/openbms-io/supervisor-sub000/internal/pkg/ulid"
)

// PointRepository defines point reading persistence operations.
type PointRepository interface {
	Insert(ctx context.Context, point *models.ControllerPoint) error
	BulkInsert(ctx context.Context, points []*models.ControllerPoint) error
	GetByController(ctx context.Context, controllerID string) ([]*models.ControllerPoint, error)
	GetPending(ctx context.Context, limit int) ([]*models.ControllerPoint, error)
	MarkUploaded(ctx context.Context, points []*models.ControllerPoint) error
	DeleteUploaded(ctx context.Context) (int64, error)
}

type pointRepo struct {
	db     *sql.DB
	retry  retryPolicy
	logger *slog.Logger
}

// NewPointRepository creates a new point repository.
func NewPointRepository(db *DB, retryAttempts int, retryBackoff time.Duration, logger *slog.Logger) PointRepository {
	return &pointRepo{
		db:     db.Handle(),
		retry:  newRetryPolicy(retryAttempts, retryBackoff, logger),
		logger: logger,
	}
}

const pointColumns = `id, iot_device_point_id, controller_id, bacnet_object_type, point_instance_id,
	controller_ip_address, controller_port, controller_device_id, present_value, units,
	created_at, created_at_unix_milli, is_uploaded, updated_at,
	status_flags, event_state, out_of_service, reliability, error_info,
	min_pres_value, max_pres_value, resolution, priority_array, relinquish_default,
	cov_increment, time_delay, time_delay_normal, notification_class,
	high_limit, low_limit, deadband, limit_enable, event_enable, acked_transitions,
	notify_type, event_time_stamps, event_message_texts, event_message_texts_config,
	event_detection_enable, event_algorithm_inhibit, event_algorithm_inhibit_ref`

const pointPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

// insertArgs flattens a point into insert bind values. Times are bound as
// RFC3339Nano UTC strings.
func insertArgs(p *models.ControllerPoint) []any {
	return []any{
		p.ID, p.IotDevicePointID, p.ControllerID, string(p.ObjectType), p.ObjectInstance,
		p.ControllerIP, p.ControllerPort, p.ControllerDeviceInstance, p.PresentValue, p.Units,
		p.CreatedAt.UTC().Format(time.RFC3339Nano), p.CreatedAtUnixMilli, p.IsUploaded,
		p.UpdatedAt.UTC().Format(time.RFC3339Nano),
		p.StatusFlags, p.EventState, p.OutOfService, p.Reliability, p.ErrorInfo,
		p.MinPresValue, p.MaxPresValue, p.Resolution, p.PriorityArray, p.RelinquishDefault,
		p.CovIncrement, p.TimeDelay, p.TimeDelayNormal, p.NotificationClass,
		p.HighLimit, p.LowLimit, p.Deadband, p.LimitEnable, p.EventEnable, p.AckedTransitions,
		p.NotifyType, p.EventTimeStamps, p.EventMessageTexts, p.EventMessageTextsConfig,
		p.EventDetectionEnable, p.EventAlgorithmInhibit, p.EventAlgorithmInhibitRef,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoint(row rowScanner) (*models.ControllerPoint, error) {
	var (
		p          models.ControllerPoint
		objectType string
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&p.ID, &p.IotDevicePointID, &p.ControllerID, &objectType, &p.ObjectInstance,
		&p.ControllerIP, &p.ControllerPort, &p.ControllerDeviceInstance, &p.PresentValue, &p.Units,
		&createdAt, &p.CreatedAtUnixMilli, &p.IsUploaded, &updatedAt,
		&p.StatusFlags, &p.EventState, &p.OutOfService, &p.Reliability, &p.ErrorInfo,
		&p.MinPresValue, &p.MaxPresValue, &p.Resolution, &p.PriorityArray, &p.RelinquishDefault,
		&p.CovIncrement, &p.TimeDelay, &p.TimeDelayNormal, &p.NotificationClass,
		&p.HighLimit, &p.LowLimit, &p.Deadband, &p.LimitEnable, &p.EventEnable, &p.AckedTransitions,
		&p.NotifyType, &p.EventTimeStamps, &p.EventMessageTexts, &p.EventMessageTextsConfig,
		&p.EventDetectionEnable, &p.EventAlgorithmInhibit, &p.EventAlgorithmInhibitRef,
	)
	if err != nil {
		return nil, err
	}
	p.ObjectType = models.ObjectType(objectType)
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &p, nil
}

// prepareForInsert assigns an id and timestamps where missing.
func prepareForInsert(p *models.ControllerPoint) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = ulid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.CreatedAtUnixMilli == 0 {
		p.CreatedAtUnixMilli = p.CreatedAt.UTC().UnixMilli()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
}

// Insert persists a single point row.
func (r *pointRepo) Insert(ctx context.Context, point *models.ControllerPoint) error {
	prepareForInsert(point)
	query := fmt.Sprintf("INSERT INTO controller_points (%s) VALUES (%s)", pointColumns, pointPlaceholders)

	return r.retry.run(ctx, "insert", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, query, insertArgs(point)...)
		return err
	})
}

// BulkInsert persists all rows in one transaction. A single bad row rolls
// the whole batch back so the caller can fall back to per-row inserts.
func (r *pointRepo) BulkInsert(ctx context.Context, points []*models.ControllerPoint) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		prepareForInsert(p)
	}
	query := fmt.Sprintf("INSERT INTO controller_points (%s) VALUES (%s)", pointColumns, pointPlaceholders)

	return r.retry.run(ctx, "bulk_insert", func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range points {
			if _, err := stmt.ExecContext(ctx, insertArgs(p)...); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetByController retrieves all rows for one controller in creation order.
func (r *pointRepo) GetByController(ctx context.Context, controllerID string) ([]*models.ControllerPoint, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM controller_points WHERE controller_id = ? ORDER BY id", pointColumns)

	var points []*models.ControllerPoint
	err := r.retry.run(ctx, "get_by_controller", func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, query, controllerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		points = points[:0]
		for rows.Next() {
			p, err := scanPoint(rows)
			if err != nil {
				return err
			}
			points = append(points, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// GetPending retrieves rows awaiting upload in creation order. ULID ids
// sort lexicographically by creation time, so ordering by id is ordering
// by creation.
func (r *pointRepo) GetPending(ctx context.Context, limit int) ([]*models.ControllerPoint, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM controller_points WHERE is_uploaded = 0 ORDER BY id LIMIT ?", pointColumns)

	var points []*models.ControllerPoint
	err := r.retry.run(ctx, "get_pending", func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		points = points[:0]
		for rows.Next() {
			p, err := scanPoint(rows)
			if err != nil {
				return err
			}
			points = append(points, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// MarkUploaded flips is_uploaded for the given rows. Rows without an id
// are skipped, preserved as observed upstream behavior; the skip count is
// surfaced as a metric so the fleet can tell whether it ever fires.
func (r *pointRepo) MarkUploaded(ctx context.Context, points []*models.ControllerPoint) error {
	ids := make([]any, 0, len(points))
	for _, p := range points {
		if p.ID == "" {
			metrics.UploadMissingIDTotal.Inc()
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := fmt.Sprintf(
		"UPDATE controller_points SET is_uploaded = 1, updated_at = ? WHERE id IN (%s)", placeholders)
	args := append([]any{time.Now().UTC().Format(time.RFC3339Nano)}, ids...)

	err := r.retry.run(ctx, "mark_uploaded", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return err
	}

	for _, p := range points {
		if p.ID != "" {
			p.IsUploaded = true
		}
	}
	return nil
}

// DeleteUploaded removes rows already uploaded and returns the count.
func (r *pointRepo) DeleteUploaded(ctx context.Context) (int64, error) {
	var deleted int64
	err := r.retry.run(ctx, "delete_uploaded", func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, "DELETE FROM controller_points WHERE is_uploaded = 1")
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Compile-time check to ensure pointRepo implements PointRepository.
var _ PointRepository = (*pointRepo)(nil)
