// Package writer handles verified point writes requested over MQTT.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/openbms-io/supervisor-sub000/internal/actor"
	"github.com/openbms-io/supervisor-sub000/internal/bacnet"
	"github.com/openbms-io/supervisor-sub000/internal/models"
	"github.com/openbms-io/supervisor-sub000/internal/pkg/errors"
	"github.com/openbms-io/supervisor-sub000/internal/store"
)

// Writer processes one SET_VALUE_TO_POINT_REQUEST at a time. It is
// registered as the BACNET_WRITER actor; the inbox serializes requests.
type Writer struct {
	pool    *bacnet.Pool
	configs store.ConfigRepository
	points  store.PointRepository
	runtime *actor.Runtime
	logger  *slog.Logger
}

// New creates a writer.
func New(pool *bacnet.Pool, configs store.ConfigRepository, points store.PointRepository, runtime *actor.Runtime, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		configs: configs,
		points:  points,
		runtime: runtime,
		logger:  logger,
	}
}

// Handle dispatches actor messages to the write path.
func (w *Writer) Handle(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case models.SetValueRequestType:
		req, ok := msg.Payload.(models.SetValueRequest)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", msg.Payload, msg.Type)
		}
		resp := w.SetValue(ctx, req)
		if err := w.runtime.Send(actor.NameBacnetWriter, actor.NameMQTT,
			models.SetValueResponseType, resp); err != nil {
			return err
		}
		if resp.Success {
			return w.runtime.Send(actor.NameBacnetWriter, actor.NameUploader,
				models.ImmediateUploadTriggerType, models.ImmediateUploadTrigger{})
		}
		return nil
	default:
		return nil
	}
}

// SetValue performs the verified write and returns the command response.
// On success a synthetic point row records the written value so the
// upload pipeline carries it to the cloud; on failure no row is written.
func (w *Writer) SetValue(ctx context.Context, req models.SetValueRequest) models.SetValueResponse {
	fail := func(err error) models.SetValueResponse {
		cmdErr := errors.AsCommandError(err)
		w.logger.Warn("point write failed",
			slog.String("command_id", req.CommandID),
			slog.String("controller", req.ControllerID),
			slog.String("code", cmdErr.Code),
			slog.String("error", cmdErr.Message),
		)
		return models.SetValueResponse{Success: false, Message: cmdErr.Message, CommandID: req.CommandID}
	}

	controller, desc, err := w.lookupTarget(ctx, req)
	if err != nil {
		return fail(err)
	}

	reader, err := w.pool.ForOperation(bacnet.OpWrite)
	if err != nil {
		return fail(err)
	}

	priority := uint(bacnet.DefaultWritePriority)
	if req.Priority != nil {
		priority = *req.Priority
	}

	if err := reader.WriteWithPriority(
		controller.IPAddress, desc.ObjectType, desc.InstanceID, req.PresentValue, priority,
	); err != nil {
		return fail(errors.ErrWriteFailed.WithMessage(err.Error()))
	}

	now := time.Now().UTC()
	row := &models.ControllerPoint{
		IotDevicePointID:         models.IotDevicePointID(controller.ControllerID, desc.PointID).String(),
		ControllerID:             controller.ControllerID,
		ObjectType:               desc.ObjectType,
		ObjectInstance:           desc.InstanceID,
		ControllerIP:             controller.IPAddress,
		ControllerPort:           controller.Port,
		ControllerDeviceInstance: controller.DeviceInstance,
		PresentValue:             strconv.FormatFloat(req.PresentValue, 'f', -1, 64),
		CreatedAt:                now,
		CreatedAtUnixMilli:       now.UnixMilli(),
	}
	if err := w.points.Insert(ctx, row); err != nil {
		// The controller accepted the write; losing the row only delays
		// the cloud seeing the new value until the next monitor cycle.
		w.logger.Error("failed to record written value",
			slog.String("command_id", req.CommandID),
			slog.String("error", err.Error()),
		)
	}

	w.logger.Info("point write verified",
		slog.String("command_id", req.CommandID),
		slog.String("controller", controller.ControllerID),
		slog.String("point", desc.PointID),
		slog.Float64("value", req.PresentValue),
		slog.Int("priority", int(priority)),
	)
	return models.SetValueResponse{Success: true, CommandID: req.CommandID}
}

// lookupTarget resolves the controller and object from the latest
// configuration snapshot by (controller_id, point_instance_id).
func (w *Writer) lookupTarget(ctx context.Context, req models.SetValueRequest) (models.ControllerConfig, models.PointDescriptor, error) {
	controllers, err := w.configs.Latest(ctx)
	if err != nil {
		return models.ControllerConfig{}, models.PointDescriptor{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	for _, controller := range controllers {
		if controller.ControllerID != req.ControllerID {
			continue
		}
		for _, desc := range controller.ObjectList {
			if desc.InstanceID != req.PointInstanceID {
				continue
			}
			if req.ObjectType != "" && desc.ObjectType != models.ObjectType(req.ObjectType) {
				continue
			}
			return controller, desc, nil
		}
		return models.ControllerConfig{}, models.PointDescriptor{},
			errors.NewNotFoundError(fmt.Sprintf("point %d on controller %s", req.PointInstanceID, req.ControllerID))
	}
	return models.ControllerConfig{}, models.PointDescriptor{},
		errors.NewNotFoundError(fmt.Sprintf("controller %s", req.ControllerID))
}
