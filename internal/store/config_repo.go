package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbms-io/supervisor-sub000/internal/models"
)

// ConfigRepository persists BACnet configuration snapshots. The latest
// snapshot is the source of truth for controllers and monitored points.
type ConfigRepository interface {
	SaveSnapshot(ctx context.Context, controllers []models.ControllerConfig) error
	Latest(ctx context.Context) ([]models.ControllerConfig, error)
	LatestRaw(ctx context.Context) (json.RawMessage, error)
}

type configRepo struct {
	db     *sql.DB
	retry  retryPolicy
	logger *slog.Logger
}

// NewConfigRepository creates a new configuration snapshot repository.
func NewConfigRepository(db *DB, retryAttempts int, retryBackoff time.Duration, logger *slog.Logger) ConfigRepository {
	return &configRepo{
		db:     db.Handle(),
		retry:  newRetryPolicy(retryAttempts, retryBackoff, logger),
		logger: logger,
	}
}

// SaveSnapshot appends a new configuration snapshot.
func (r *configRepo) SaveSnapshot(ctx context.Context, controllers []models.ControllerConfig) error {
	data, err := json.Marshal(controllers)
	if err != nil {
		return fmt.Errorf("failed to serialize config snapshot: %w", err)
	}

	return r.retry.run(ctx, "config_save", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx,
			"INSERT INTO bacnet_config (snapshot, created_at) VALUES (?, ?)",
			string(data), time.Now().UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// Latest returns the most recent snapshot, or nil when none exists.
func (r *configRepo) Latest(ctx context.Context) ([]models.ControllerConfig, error) {
	raw, err := r.LatestRaw(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var controllers []models.ControllerConfig
	if err := json.Unmarshal(raw, &controllers); err != nil {
		return nil, fmt.Errorf("failed to parse config snapshot: %w", err)
	}
	return controllers, nil
}

// LatestRaw returns the most recent snapshot body without parsing it.
// Used by the get_config command, which echoes the snapshot verbatim.
func (r *configRepo) LatestRaw(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := r.retry.run(ctx, "config_latest", func(ctx context.Context) error {
		var snapshot string
		err := r.db.QueryRowContext(ctx,
			"SELECT snapshot FROM bacnet_config ORDER BY id DESC LIMIT 1",
		).Scan(&snapshot)
		if errors.Is(err, sql.ErrNoRows) {
			raw = nil
			return nil
		}
		if err != nil {
			return err
		}
		raw = json.RawMessage(snapshot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Compile-time check to ensure configRepo implements ConfigRepository.
var _ ConfigRepository = (*configRepo)(nil)
