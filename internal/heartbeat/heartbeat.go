// Package heartbeat emits retained status snapshots on a cadence and on
// explicit triggers.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/openbms-io/supervisor-sub000/internal/actor"
	"github.com/openbms-io/supervisor-sub000/internal/metrics"
	"github.com/openbms-io/supervisor-sub000/internal/models"
	"github.com/openbms-io/supervisor-sub000/internal/store"
)

// StatusPublisher is the outbound capability the heartbeat needs.
type StatusPublisher interface {
	PublishHeartbeat(payload models.HeartbeatStatusPayload) error
}

// Identity enriches every heartbeat payload at publish time.
type Identity struct {
	OrganizationID string
	SiteID         string
	IotDeviceID    string
}

// Heartbeat is the HEARTBEAT actor.
type Heartbeat struct {
	status    store.StatusRepository
	publisher StatusPublisher
	identity  Identity
	interval  time.Duration
	logger    *slog.Logger

	trigger chan struct{}
}

// New creates a heartbeat emitter.
func New(status store.StatusRepository, publisher StatusPublisher, identity Identity, interval time.Duration, logger *slog.Logger) *Heartbeat {
	return &Heartbeat{
		status:    status,
		publisher: publisher,
		identity:  identity,
		interval:  interval,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}
}

// Handle reacts to force-heartbeat requests.
func (h *Heartbeat) Handle(_ context.Context, msg actor.Message) error {
	if msg.Type != models.ForceHeartbeatRequestType {
		return nil
	}
	select {
	case h.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Run emits heartbeats until cancellation.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// First beat immediately so the retained topic is populated at boot.
	h.EmitOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.EmitOnce(ctx)
		case <-h.trigger:
			h.EmitOnce(ctx)
		}
	}
}

// EmitOnce builds and publishes one heartbeat. A missing status row
// produces an all-null payload ("no data yet"); a read error produces
// ERROR connection statuses with null metrics.
func (h *Heartbeat) EmitOnce(ctx context.Context) {
	payload := h.BuildPayload(ctx)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	payload.Timestamp = &now
	payload.OrganizationID = &h.identity.OrganizationID
	payload.SiteID = &h.identity.SiteID
	payload.IotDeviceID = &h.identity.IotDeviceID

	if err := h.publisher.PublishHeartbeat(payload); err != nil {
		h.logger.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
		return
	}
	metrics.HeartbeatsPublishedTotal.Inc()
}

// BuildPayload maps the status row into the wire payload.
func (h *Heartbeat) BuildPayload(ctx context.Context) models.HeartbeatStatusPayload {
	status, err := h.status.Get(ctx, h.identity.IotDeviceID)
	if err != nil {
		h.logger.Warn("failed to read device status", slog.String("error", err.Error()))
		errStatus := models.ConnectionError
		return models.HeartbeatStatusPayload{
			MQTTConnectionStatus:   &errStatus,
			BacnetConnectionStatus: &errStatus,
		}
	}
	if status == nil {
		return models.HeartbeatStatusPayload{}
	}
	return models.HeartbeatStatusPayload{
		CPUUsagePercent:        status.CPUUsagePercent,
		MemoryUsagePercent:     status.MemoryUsagePercent,
		DiskUsagePercent:       status.DiskUsagePercent,
		TemperatureCelsius:     status.TemperatureCelsius,
		UptimeSeconds:          status.UptimeSeconds,
		LoadAverage:            status.LoadAverage,
		MonitoringStatus:       status.MonitoringStatus,
		MQTTConnectionStatus:   status.MQTTConnectionStatus,
		BacnetConnectionStatus: status.BacnetConnectionStatus,
		BacnetDevicesConnected: status.BacnetDevicesConnected,
		BacnetPointsMonitored:  status.BacnetPointsMonitored,
	}
}
