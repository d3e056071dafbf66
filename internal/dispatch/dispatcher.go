// Package dispatch routes inbound command topics to actor inboxes and
// provides the outbound publish helpers for responses, heartbeats and
// bulk point data.
package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/openbms-io/supervisor-sub000/internal/actor"
	"github.com/openbms-io/supervisor-sub000/internal/metrics"
	"github.com/openbms-io/supervisor-sub000/internal/models"
	"github.com/openbms-io/supervisor-sub000/internal/mqtt"
	"github.com/openbms-io/supervisor-sub000/internal/pkg/errors"
)

// Subscriber is the inbound capability the dispatcher needs from the
// transport: install the message callback and subscribe to topics.
type Subscriber interface {
	SetOnMessage(handler mqtt.MessageHandler)
	Subscribe(topic string, qos byte) error
}

// Dispatcher owns the compiled topic set and the command router. It
// holds a narrow Publisher capability rather than the client itself;
// the MQTT actor owns the client.
type Dispatcher struct {
	topics    *mqtt.TopicSet
	publisher mqtt.Publisher
	runtime   *actor.Runtime
	validate  *validator.Validate
	logger    *slog.Logger

	routes map[string]routeFunc
}

type routeFunc func(d *Dispatcher, topic string, payload []byte)

// New compiles the topic set for the given identifiers and builds the
// router table.
func New(ids mqtt.Identifiers, publisher mqtt.Publisher, runtime *actor.Runtime, logger *slog.Logger) (*Dispatcher, error) {
	topics, err := mqtt.CompileTopics(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to compile topic schema: %w", err)
	}

	d := &Dispatcher{
		topics:    topics,
		publisher: publisher,
		runtime:   runtime,
		validate:  validator.New(),
		logger:    logger,
	}
	d.routes = d.buildRoutes()
	return d, nil
}

// Topics exposes the compiled topic set.
func (d *Dispatcher) Topics() *mqtt.TopicSet { return d.topics }

// buildRoutes maps each command request topic to its typed handler.
func (d *Dispatcher) buildRoutes() map[string]routeFunc {
	routes := make(map[string]routeFunc)
	bind := func(command string, fn routeFunc) {
		if t, ok := d.topics.CommandRequest(command); ok {
			routes[t.Topic] = fn
		}
	}
	bind("get_config", routeCommand[models.GetConfigRequest]("get_config", actor.NameMQTT))
	bind("reboot", routeCommand[models.RebootRequest]("reboot", actor.NameMQTT))
	bind("set_value_to_point", routeCommand[models.SetValueRequest]("set_value_to_point", actor.NameBacnetWriter))
	bind("start_monitoring", routeCommand[models.StartMonitoringRequest]("start_monitoring", actor.NameBacnet))
	bind("stop_monitoring", routeCommand[models.StopMonitoringRequest]("stop_monitoring", actor.NameBacnet))
	return routes
}

// routeCommand parses and validates the payload type P, then posts it to
// the receiving actor. Malformed bodies never reach an inbox half-parsed;
// the sender gets a failure response on the command's response topic.
func routeCommand[P models.Payload](command string, receiver actor.Name) routeFunc {
	return func(d *Dispatcher, topic string, payload []byte) {
		metrics.CommandsReceivedTotal.WithLabelValues(command).Inc()

		var body P
		if err := json.Unmarshal(payload, &body); err != nil {
			d.logger.Warn("malformed command payload",
				slog.String("command", command),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			d.rejectCommand(command, payload,
				errors.ErrValidation.WithMessage("Malformed command payload: "+err.Error()))
			return
		}
		if err := d.validate.Struct(body); err != nil {
			d.logger.Warn("invalid command payload",
				slog.String("command", command),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			cmdErr := errors.ErrValidation.WithMessage(err.Error())
			if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
				fe := fieldErrs[0]
				cmdErr = errors.NewValidationError(fe.Field(),
					fmt.Sprintf("field %s failed on the %s rule", fe.Field(), fe.Tag()))
			}
			d.rejectCommand(command, payload, cmdErr)
			return
		}
		if err := d.runtime.Send(actor.NameMQTT, receiver, body.MessageType(), body); err != nil {
			d.logger.Error("failed to route command",
				slog.String("command", command),
				slog.String("receiver", string(receiver)),
				slog.String("error", err.Error()),
			)
			d.rejectCommand(command, payload, errors.AsCommandError(err))
		}
	}
}

// rejectCommand answers a command whose body never parsed or validated.
// The commandId is recovered from the raw payload on a best-effort basis
// so the platform can still correlate the failure.
func (d *Dispatcher) rejectCommand(command string, payload []byte, cmdErr *errors.CommandError) {
	var ref struct {
		CommandID string `json:"commandId"`
	}
	_ = json.Unmarshal(payload, &ref)

	resp := models.CommandFailure{
		Success:   false,
		Message:   cmdErr.Message,
		CommandID: ref.CommandID,
	}
	if err := d.PublishResponse(command, resp); err != nil {
		d.logger.Error("failed to publish command rejection",
			slog.String("command", command),
			slog.String("error", err.Error()),
		)
	}
}

// Route is the transport's on-message callback. Unknown topics are
// logged, never errored.
func (d *Dispatcher) Route(topic string, payload []byte) {
	fn, ok := d.routes[topic]
	if !ok {
		metrics.CommandsReceivedTotal.WithLabelValues("unknown").Inc()
		d.logger.Warn("message on unrecognized topic", slog.String("topic", topic))
		if err := d.runtime.Send(actor.NameMQTT, actor.NameMQTT, models.UnknownCommandType,
			models.UnknownCommand{Topic: topic, Raw: json.RawMessage(payload)}); err != nil {
			d.logger.Error("failed to post unknown command", slog.String("error", err.Error()))
		}
		return
	}
	fn(d, topic, payload)
}

// AttachToClient installs the router as the transport's on-message
// callback.
func (d *Dispatcher) AttachToClient(sub Subscriber) {
	sub.SetOnMessage(d.Route)
}

// SubscribeAll subscribes to every command request topic.
func (d *Dispatcher) SubscribeAll(sub Subscriber) error {
	for _, t := range d.topics.CommandRequests() {
		if err := sub.Subscribe(t.Topic, t.QoS); err != nil {
			return err
		}
	}
	return nil
}

// PublishResponse publishes a command response on its per-command
// response topic at QoS 1.
func (d *Dispatcher) PublishResponse(command string, payload any) error {
	t, ok := d.topics.CommandResponse(command)
	if !ok {
		return fmt.Errorf("no response topic for command %s", command)
	}
	return d.publisher.Publish(t.Topic, t.QoS, t.Retain, payload)
}

// PublishHeartbeat publishes the status snapshot retained, so the
// platform always sees the last known state.
func (d *Dispatcher) PublishHeartbeat(payload models.HeartbeatStatusPayload) error {
	t := d.topics.Heartbeat()
	return d.publisher.Publish(t.Topic, t.QoS, true, payload)
}

// PublishPointBulk publishes serialized point rows on the bulk data
// topic at QoS 0.
func (d *Dispatcher) PublishPointBulk(payload models.BulkPointsPayload) error {
	t := d.topics.PointBulk()
	return d.publisher.Publish(t.Topic, t.QoS, t.Retain, payload)
}
