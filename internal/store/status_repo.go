package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/openbms-io/supervisor-sub000/internal/models"
)

// StatusRepository persists the single device-status snapshot row.
// Many writers, last writer wins; only the heartbeat reads.
type StatusRepository interface {
	Upsert(ctx context.Context, status *models.DeviceStatus) error
	Get(ctx context.Context, iotDeviceID string) (*models.DeviceStatus, error)
}

type statusRepo struct {
	db     *sql.DB
	retry  retryPolicy
	logger *slog.Logger
}

// NewStatusRepository creates a new status repository.
func NewStatusRepository(db *DB, retryAttempts int, retryBackoff time.Duration, logger *slog.Logger) StatusRepository {
	return &statusRepo{
		db:     db.Handle(),
		retry:  newRetryPolicy(retryAttempts, retryBackoff, logger),
		logger: logger,
	}
}

// Upsert merges the status snapshot. Every column is coalesced, so a
// writer only overwrites the fields it actually sets; nil fields keep
// the stored value. Writers stay in their own lanes (the monitor sets
// monitoring_status, the MQTT actor sets mqtt_connection_status) and
// the last write per field wins.
func (r *statusRepo) Upsert(ctx context.Context, status *models.DeviceStatus) error {
	status.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO iot_device_status (
			iot_device_id, cpu_usage_percent, memory_usage_percent, disk_usage_percent,
			temperature_celsius, uptime_seconds, load_average,
			monitoring_status, mqtt_connection_status, bacnet_connection_status,
			bacnet_devices_connected, bacnet_points_monitored, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(iot_device_id) DO UPDATE SET
			cpu_usage_percent = COALESCE(excluded.cpu_usage_percent, cpu_usage_percent),
			memory_usage_percent = COALESCE(excluded.memory_usage_percent, memory_usage_percent),
			disk_usage_percent = COALESCE(excluded.disk_usage_percent, disk_usage_percent),
			temperature_celsius = COALESCE(excluded.temperature_celsius, temperature_celsius),
			uptime_seconds = COALESCE(excluded.uptime_seconds, uptime_seconds),
			load_average = COALESCE(excluded.load_average, load_average),
			monitoring_status = COALESCE(excluded.monitoring_status, monitoring_status),
			mqtt_connection_status = COALESCE(excluded.mqtt_connection_status, mqtt_connection_status),
			bacnet_connection_status = COALESCE(excluded.bacnet_connection_status, bacnet_connection_status),
			bacnet_devices_connected = COALESCE(excluded.bacnet_devices_connected, bacnet_devices_connected),
			bacnet_points_monitored = COALESCE(excluded.bacnet_points_monitored, bacnet_points_monitored),
			updated_at = excluded.updated_at`

	return r.retry.run(ctx, "status_upsert", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, query,
			status.IotDeviceID,
			status.CPUUsagePercent,
			status.MemoryUsagePercent,
			status.DiskUsagePercent,
			status.TemperatureCelsius,
			status.UptimeSeconds,
			status.LoadAverage,
			status.MonitoringStatus,
			status.MQTTConnectionStatus,
			status.BacnetConnectionStatus,
			status.BacnetDevicesConnected,
			status.BacnetPointsMonitored,
			status.UpdatedAt.Format(time.RFC3339Nano),
		)
		return err
	})
}

// Get retrieves the snapshot row, or nil when none exists yet.
func (r *statusRepo) Get(ctx context.Context, iotDeviceID string) (*models.DeviceStatus, error) {
	query := `
		SELECT iot_device_id, cpu_usage_percent, memory_usage_percent, disk_usage_percent,
		       temperature_celsius, uptime_seconds, load_average,
		       monitoring_status, mqtt_connection_status, bacnet_connection_status,
		       bacnet_devices_connected, bacnet_points_monitored, updated_at
		FROM iot_device_status WHERE iot_device_id = ?`

	var status *models.DeviceStatus
	err := r.retry.run(ctx, "status_get", func(ctx context.Context) error {
		var (
			s         models.DeviceStatus
			updatedAt string
		)
		err := r.db.QueryRowContext(ctx, query, iotDeviceID).Scan(
			&s.IotDeviceID,
			&s.CPUUsagePercent,
			&s.MemoryUsagePercent,
			&s.DiskUsagePercent,
			&s.TemperatureCelsius,
			&s.UptimeSeconds,
			&s.LoadAverage,
			&s.MonitoringStatus,
			&s.MQTTConnectionStatus,
			&s.BacnetConnectionStatus,
			&s.BacnetDevicesConnected,
			&s.BacnetPointsMonitored,
			&updatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			status = nil
			return nil
		}
		if err != nil {
			return err
		}
		if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return err
		}
		status = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Compile-time check to ensure statusRepo implements StatusRepository.
var _ StatusRepository = (*statusRepo)(nil)
