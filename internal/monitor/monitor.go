// Package monitor implements the polling cycle that collects point
// readings from BACnet controllers into the local store.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openbms-io/supervisor-sub000/internal/actor"
	"github.com/openbms-io/supervisor-sub000/internal/bacnet"
	"github.com/openbms-io/supervisor-sub000/internal/metrics"
	"github.com/openbms-io/supervisor-sub000/internal/models"
	"github.com/openbms-io/supervisor-sub000/internal/store"
)

// Monitor owns the monitoring state machine and the per-cycle bulk-read
// logic. It is registered as the BACNET actor.
type Monitor struct {
	pool     *bacnet.Pool
	configs  store.ConfigRepository
	points   store.PointRepository
	status   store.StatusRepository
	runtime  *actor.Runtime
	logger   *slog.Logger
	deviceID string
	interval time.Duration

	mu    sync.Mutex
	state models.MonitoringStatus
}

// New creates a monitor in the INITIALIZING state.
func New(
	pool *bacnet.Pool,
	configs store.ConfigRepository,
	points store.PointRepository,
	status store.StatusRepository,
	runtime *actor.Runtime,
	deviceID string,
	interval time.Duration,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		pool:     pool,
		configs:  configs,
		points:   points,
		status:   status,
		runtime:  runtime,
		logger:   logger,
		deviceID: deviceID,
		interval: interval,
		state:    models.MonitoringInitializing,
	}
}

// State returns the current monitoring state.
func (m *Monitor) State() models.MonitoringStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// setState transitions the state machine, upserts the status snapshot
// and forces a heartbeat so the platform sees the change promptly.
func (m *Monitor) setState(ctx context.Context, next models.MonitoringStatus) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()
	if prev == next {
		return
	}

	m.logger.Info("monitoring state changed",
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)

	s := next
	if err := m.status.Upsert(ctx, &models.DeviceStatus{
		IotDeviceID:      m.deviceID,
		MonitoringStatus: &s,
	}); err != nil {
		m.logger.Error("failed to upsert monitoring status", slog.String("error", err.Error()))
	}
	if err := m.runtime.Send(actor.NameBacnet, actor.NameHeartbeat,
		models.ForceHeartbeatRequestType, models.ForceHeartbeatRequest{}); err != nil {
		m.logger.Error("failed to request heartbeat", slog.String("error", err.Error()))
	}
}

// Handle dispatches actor messages: start/stop requests flip the state
// machine and produce a response for the MQTT actor to publish.
func (m *Monitor) Handle(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case models.StartMonitoringRequestType:
		req, ok := msg.Payload.(models.StartMonitoringRequest)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", msg.Payload, msg.Type)
		}
		m.setState(ctx, models.MonitoringActive)
		return m.runtime.Send(actor.NameBacnet, actor.NameMQTT, models.StartMonitoringResponseType,
			models.StartMonitoringResponse{Success: true, CommandID: req.CommandID})

	case models.StopMonitoringRequestType:
		req, ok := msg.Payload.(models.StopMonitoringRequest)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", msg.Payload, msg.Type)
		}
		m.setState(ctx, models.MonitoringStopped)
		return m.runtime.Send(actor.NameBacnet, actor.NameMQTT, models.StopMonitoringResponseType,
			models.StopMonitoringResponse{Success: true, CommandID: req.CommandID})

	default:
		// Broadcasts carry types for other actors; ignore quietly.
		return nil
	}
}

// Run drives the cycle ticker until cancellation. Cycles only execute
// in the ACTIVE state.
func (m *Monitor) Run(ctx context.Context) {
	m.setState(ctx, models.MonitoringActive)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.State() != models.MonitoringActive {
				continue
			}
			if err := m.MonitorAllDevices(ctx); err != nil {
				m.logger.Error("monitoring cycle failed", slog.String("error", err.Error()))
				m.setState(ctx, models.MonitoringError)
			}
		}
	}
}

// MonitorAllDevices is the per-cycle entry point: one bulk read per
// controller, per-point fallback for holes, one bulk insert per
// controller. A single bad point never drops the controller's batch.
func (m *Monitor) MonitorAllDevices(ctx context.Context) error {
	metrics.MonitorCyclesTotal.Inc()

	controllers, err := m.configs.Latest(ctx)
	if err != nil {
		return fmt.Errorf("failed to load controller configuration: %w", err)
	}
	if len(controllers) == 0 {
		m.logger.Debug("no controllers configured, skipping cycle")
		return nil
	}

	m.logUtilization("cycle start")

	devicesReachable := 0
	pointsMonitored := 0
	for _, controller := range controllers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		collected := m.monitorController(ctx, controller)
		pointsMonitored += len(controller.ObjectList)
		if collected > 0 {
			devicesReachable++
		}
	}

	m.logUtilization("cycle end")
	m.updateCounts(ctx, devicesReachable, pointsMonitored)
	return nil
}

// monitorController reads one controller's points and persists the
// rows. Returns the number of rows collected.
func (m *Monitor) monitorController(ctx context.Context, controller models.ControllerConfig) int {
	logger := m.logger.With(slog.String("controller", controller.ControllerID))

	requests := make([]bacnet.ReadRequest, 0, len(controller.ObjectList))
	for _, desc := range controller.ObjectList {
		props := models.AvailableDeviceProperties(desc.Properties)
		if len(props) == 1 {
			logger.Warn("only presentValue requestable for point",
				slog.String("point", desc.PointID))
		}
		requests = append(requests, bacnet.ReadRequest{
			ObjectType: desc.ObjectType,
			ObjectID:   desc.InstanceID,
			Properties: props,
		})
	}
	if len(requests) == 0 {
		return 0
	}

	reader, err := m.pool.ForOperation(bacnet.OpRead)
	if err != nil {
		logger.Error("no reader available, skipping controller", slog.String("error", err.Error()))
		return 0
	}

	descriptors := make(map[string]models.PointDescriptor, len(controller.ObjectList))
	for _, desc := range controller.ObjectList {
		descriptors[bacnet.ObjectKey(desc.ObjectType, desc.InstanceID)] = desc
	}

	var rows []*models.ControllerPoint
	var fallbacks []models.PointDescriptor

	results, err := reader.ReadMultipleProperties(controller.IPAddress, requests)
	if err != nil {
		metrics.BulkReadsTotal.WithLabelValues("failure").Inc()
		logger.Warn("bulk read failed, falling back to per-point reads",
			slog.String("error", err.Error()))
		fallbacks = controller.ObjectList
	} else {
		metrics.BulkReadsTotal.WithLabelValues("success").Inc()
		for key, props := range results {
			desc, known := descriptors[key]
			if !known {
				logger.Warn("bulk response contained unrequested object", slog.String("object", key))
				continue
			}
			if len(props) == 0 {
				fallbacks = append(fallbacks, desc)
				continue
			}
			rows = append(rows, buildPoint(controller, desc, props))
		}
	}

	for _, desc := range fallbacks {
		if row := m.fallbackRead(reader, controller, desc, logger); row != nil {
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		return 0
	}
	m.persistRows(ctx, rows, logger)
	metrics.PointsCollectedTotal.Add(float64(len(rows)))
	return len(rows)
}

// fallbackRead retries one point individually: full property read first,
// then presentValue alone. A second failure drops the point for this
// cycle.
func (m *Monitor) fallbackRead(reader *bacnet.Reader, controller models.ControllerConfig, desc models.PointDescriptor, logger *slog.Logger) *models.ControllerPoint {
	metrics.FallbackReadsTotal.Inc()

	props, err := reader.ReadProperties(
		controller.IPAddress, desc.ObjectType, desc.InstanceID,
		models.AvailableDeviceProperties(desc.Properties))
	if err == nil {
		return buildPoint(controller, desc, props)
	}

	value, err2 := reader.ReadPresentValue(controller.IPAddress, desc.ObjectType, desc.InstanceID)
	if err2 != nil {
		logger.Warn("point dropped for this cycle",
			slog.String("point", desc.PointID),
			slog.String("read_error", err.Error()),
			slog.String("present_value_error", err2.Error()),
		)
		return nil
	}
	return buildPoint(controller, desc, map[string]any{"presentValue": value})
}

// persistRows bulk-inserts the controller's batch; on failure each row
// is retried individually so one bad row cannot discard the rest.
func (m *Monitor) persistRows(ctx context.Context, rows []*models.ControllerPoint, logger *slog.Logger) {
	err := m.points.BulkInsert(ctx, rows)
	if err == nil {
		return
	}
	metrics.BulkInsertFallbacksTotal.Inc()
	logger.Warn("bulk insert failed, retrying rows individually", slog.String("error", err.Error()))

	for _, row := range rows {
		if err := m.points.Insert(ctx, row); err != nil {
			logger.Error("failed to insert point row",
				slog.String("point", row.IotDevicePointID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *Monitor) logUtilization(stage string) {
	util := m.pool.Utilization()
	attrs := make([]any, 0, len(util)+1)
	attrs = append(attrs, slog.String("stage", stage))
	for id, rs := range util {
		attrs = append(attrs, slog.Group(id,
			slog.Int("active_operations", rs.ActiveOperations),
			slog.Bool("is_busy", rs.IsBusy),
			slog.String("endpoint", fmt.Sprintf("%s:%d", rs.IP, rs.Port)),
			slog.String("strategy", string(rs.Strategy)),
		))
	}
	m.logger.Debug("pool utilization", attrs...)
}

// updateCounts refreshes the reachability counters and the BACnet
// connection status in the device snapshot.
func (m *Monitor) updateCounts(ctx context.Context, devices, points int) {
	connStatus := models.ConnectionConnected
	if devices == 0 {
		connStatus = models.ConnectionDisconnected
	}
	if err := m.status.Upsert(ctx, &models.DeviceStatus{
		IotDeviceID:            m.deviceID,
		BacnetConnectionStatus: &connStatus,
		BacnetDevicesConnected: &devices,
		BacnetPointsMonitored:  &points,
	}); err != nil {
		m.logger.Error("failed to update device counts", slog.String("error", err.Error()))
	}
}
