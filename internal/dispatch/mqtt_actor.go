package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openbms-io/supervisor-sub000/internal/actor"
	"github.com/openbms-io/supervisor-sub000/internal/models"
	"github.com/openbms-io/supervisor-sub000/internal/store"
)

// MQTTActor owns the command/response plane: it answers get_config and
// reboot itself, publishes responses produced by other actors, and
// records transport status transitions in the device snapshot.
type MQTTActor struct {
	dispatcher *Dispatcher
	configs    store.ConfigRepository
	status     store.StatusRepository
	deviceID   string
	shutdown   func()
	logger     *slog.Logger
}

// NewMQTTActor creates the actor. shutdown is invoked after a reboot
// response is published; the process manager restarts the agent.
func NewMQTTActor(
	dispatcher *Dispatcher,
	configs store.ConfigRepository,
	status store.StatusRepository,
	deviceID string,
	shutdown func(),
	logger *slog.Logger,
) *MQTTActor {
	return &MQTTActor{
		dispatcher: dispatcher,
		configs:    configs,
		status:     status,
		deviceID:   deviceID,
		shutdown:   shutdown,
		logger:     logger,
	}
}

// Handle dispatches on message type. Responses from other actors are
// published on their per-command topics; own commands are executed.
func (a *MQTTActor) Handle(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case models.GetConfigRequestType:
		req, ok := msg.Payload.(models.GetConfigRequest)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", msg.Payload, msg.Type)
		}
		return a.handleGetConfig(ctx, req)

	case models.RebootRequestType:
		req, ok := msg.Payload.(models.RebootRequest)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", msg.Payload, msg.Type)
		}
		return a.handleReboot(req)

	case models.SetValueResponseType:
		return a.dispatcher.PublishResponse("set_value_to_point", msg.Payload)

	case models.StartMonitoringResponseType:
		return a.dispatcher.PublishResponse("start_monitoring", msg.Payload)

	case models.StopMonitoringResponseType:
		return a.dispatcher.PublishResponse("stop_monitoring", msg.Payload)

	case models.ConnectionStatusUpdateType:
		update, ok := msg.Payload.(models.ConnectionStatusUpdate)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", msg.Payload, msg.Type)
		}
		return a.status.Upsert(ctx, &models.DeviceStatus{
			IotDeviceID:            a.deviceID,
			MQTTConnectionStatus:   update.MQTT,
			BacnetConnectionStatus: update.Bacnet,
		})

	case models.SystemMetricsUpdateType:
		update, ok := msg.Payload.(models.SystemMetricsUpdate)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", msg.Payload, msg.Type)
		}
		return a.status.Upsert(ctx, &models.DeviceStatus{
			IotDeviceID:        a.deviceID,
			CPUUsagePercent:    update.CPUUsagePercent,
			MemoryUsagePercent: update.MemoryUsagePercent,
			DiskUsagePercent:   update.DiskUsagePercent,
			TemperatureCelsius: update.TemperatureCelsius,
			UptimeSeconds:      update.UptimeSeconds,
			LoadAverage:        update.LoadAverage,
		})

	case models.UnknownCommandType:
		if cmd, ok := msg.Payload.(models.UnknownCommand); ok {
			a.logger.Warn("unknown command ignored", slog.String("topic", cmd.Topic))
		}
		return nil

	default:
		return nil
	}
}

// handleGetConfig echoes the latest persisted configuration snapshot.
func (a *MQTTActor) handleGetConfig(ctx context.Context, req models.GetConfigRequest) error {
	raw, err := a.configs.LatestRaw(ctx)
	if err != nil {
		a.logger.Error("failed to load configuration snapshot", slog.String("error", err.Error()))
		return a.dispatcher.PublishResponse("get_config", models.GetConfigResponse{
			Success:   false,
			Message:   err.Error(),
			CommandID: req.CommandID,
		})
	}
	return a.dispatcher.PublishResponse("get_config", models.GetConfigResponse{
		Success:   true,
		CommandID: req.CommandID,
		Config:    raw,
	})
}

// handleReboot acknowledges, then signals shutdown. The acknowledgement
// must reach the broker before the process exits.
func (a *MQTTActor) handleReboot(req models.RebootRequest) error {
	err := a.dispatcher.PublishResponse("reboot", models.RebootResponse{
		Success:   true,
		Message:   "rebooting",
		CommandID: req.CommandID,
	})
	if err != nil {
		return err
	}
	a.logger.Info("reboot requested, shutting down", slog.String("command_id", req.CommandID))
	if a.shutdown != nil {
		a.shutdown()
	}
	return nil
}
