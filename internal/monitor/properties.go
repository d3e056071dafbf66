package monitor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/openbms-io/supervisor-sub000/internal/bacnet"
	"github.com/openbms-io/supervisor-sub000/internal/models"
)

// buildPoint assembles a point row from one object's coerced property
// map. Only properties present in the map populate columns; everything
// else stays NULL.
func buildPoint(controller models.ControllerConfig, desc models.PointDescriptor, props map[string]any) *models.ControllerPoint {
	p := &models.ControllerPoint{
		IotDevicePointID:         models.IotDevicePointID(controller.ControllerID, desc.PointID).String(),
		ControllerID:             controller.ControllerID,
		ObjectType:               desc.ObjectType,
		ObjectInstance:           desc.InstanceID,
		ControllerIP:             controller.IPAddress,
		ControllerPort:           controller.Port,
		ControllerDeviceInstance: controller.DeviceInstance,
		CreatedAt:                time.Now().UTC(),
	}
	p.CreatedAtUnixMilli = p.CreatedAt.UnixMilli()

	if v, ok := props["presentValue"]; ok {
		p.PresentValue = bacnet.Stringify(v)
	}
	p.Units = stringProp(props, "units")
	p.StatusFlags = stringProp(props, "statusFlags")
	p.EventState = stringProp(props, "eventState")
	p.OutOfService = boolProp(props, "outOfService")
	p.Reliability = stringProp(props, "reliability")
	p.MinPresValue = floatProp(props, "minPresValue")
	p.MaxPresValue = floatProp(props, "maxPresValue")
	p.Resolution = floatProp(props, "resolution")
	p.PriorityArray = jsonProp(props, "priorityArray")
	p.RelinquishDefault = stringProp(props, "relinquishDefault")
	p.CovIncrement = floatProp(props, "covIncrement")
	p.TimeDelay = intProp(props, "timeDelay")
	p.TimeDelayNormal = intProp(props, "timeDelayNormal")
	p.NotificationClass = intProp(props, "notificationClass")
	p.HighLimit = floatProp(props, "highLimit")
	p.LowLimit = floatProp(props, "lowLimit")
	p.Deadband = floatProp(props, "deadband")
	p.LimitEnable = jsonProp(props, "limitEnable")
	p.EventEnable = jsonProp(props, "eventEnable")
	p.AckedTransitions = jsonProp(props, "ackedTransitions")
	p.NotifyType = stringProp(props, "notifyType")
	p.EventTimeStamps = jsonProp(props, "eventTimeStamps")
	p.EventMessageTexts = jsonProp(props, "eventMessageTexts")
	p.EventMessageTextsConfig = jsonProp(props, "eventMessageTextsConfig")
	p.EventDetectionEnable = boolProp(props, "eventDetectionEnable")
	p.EventAlgorithmInhibit = boolProp(props, "eventAlgorithmInhibit")
	p.EventAlgorithmInhibitRef = jsonProp(props, "eventAlgorithmInhibitRef")
	return p
}

func stringProp(props map[string]any, name string) *string {
	v, ok := props[name]
	if !ok || v == nil {
		return nil
	}
	s := bacnet.Stringify(v)
	return &s
}

func floatProp(props map[string]any, name string) *float64 {
	v, ok := props[name]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case float64:
		return &val
	case float32:
		f := float64(val)
		return &f
	case int64:
		f := float64(val)
		return &f
	case uint64:
		f := float64(val)
		return &f
	case uint32:
		f := float64(val)
		return &f
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return &f
		}
	}
	return nil
}

func intProp(props map[string]any, name string) *int64 {
	v, ok := props[name]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case int64:
		return &val
	case int:
		n := int64(val)
		return &n
	case uint32:
		n := int64(val)
		return &n
	case uint64:
		n := int64(val)
		return &n
	case float64:
		n := int64(val)
		return &n
	case string:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

func boolProp(props map[string]any, name string) *bool {
	v, ok := props[name]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case bool:
		return &val
	case int64:
		b := val != 0
		return &b
	case uint64:
		b := val != 0
		return &b
	case float64:
		b := val != 0
		return &b
	}
	return nil
}

// jsonProp serializes a structured property into its stored JSON string
// form. Scalars that cannot be marshaled fall back to their string form
// wrapped as a JSON string.
func jsonProp(props map[string]any, name string) *string {
	v, ok := props[name]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprint(v))
	}
	s := string(data)
	return &s
}
