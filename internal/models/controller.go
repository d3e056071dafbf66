package models

import (
	"fmt"

	"github.com/google/uuid"
)

// ObjectType is the agent's canonical BACnet object type vocabulary.
// Wire values use lowerCamelCase; the protocol wrapper translates the
// library's hyphenated vocabulary into these.
type ObjectType string

const (
	ObjectAnalogInput      ObjectType = "analogInput"
	ObjectAnalogOutput     ObjectType = "analogOutput"
	ObjectAnalogValue      ObjectType = "analogValue"
	ObjectBinaryInput      ObjectType = "binaryInput"
	ObjectBinaryOutput     ObjectType = "binaryOutput"
	ObjectBinaryValue      ObjectType = "binaryValue"
	ObjectMultiStateInput  ObjectType = "multiStateInput"
	ObjectMultiStateOutput ObjectType = "multiStateOutput"
	ObjectMultiStateValue  ObjectType = "multiStateValue"
	ObjectDevice           ObjectType = "device"
)

// pointNamespace is the fixed UUIDv5 namespace for iot-device-point ids.
// Changing it would re-key every point across the fleet.
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// IotDevicePointID derives the stable point identity from the controller
// and point ids. It is a pure function: the same inputs always produce the
// same UUID, across restarts and across agents.
func IotDevicePointID(controllerID, pointID string) uuid.UUID {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s-%s", controllerID, pointID)))
}

// PointDescriptor describes one monitored BACnet object from the latest
// configuration snapshot. Properties maps property name to its last-known
// value; a nil value means the property was never observed.
type PointDescriptor struct {
	PointID    string         `json:"point_id"`
	ObjectType ObjectType     `json:"object_type"`
	InstanceID uint32         `json:"instance_id"`
	Properties map[string]any `json:"properties"`
}

// ControllerConfig describes one BACnet controller from the latest
// configuration snapshot.
type ControllerConfig struct {
	ControllerID   string            `json:"controller_id"`
	IPAddress      string            `json:"ip_address"`
	Port           int               `json:"port"`
	DeviceInstance uint32            `json:"device_instance"`
	ObjectList     []PointDescriptor `json:"object_list"`
}

// optionalProperties is the fixed set of health/config properties that may
// be requested alongside presentValue when the descriptor has observed
// them with a non-null value.
var optionalProperties = []string{
	"units",
	"statusFlags",
	"eventState",
	"outOfService",
	"reliability",
	"minPresValue",
	"maxPresValue",
	"resolution",
	"priorityArray",
	"relinquishDefault",
	"covIncrement",
	"timeDelay",
	"timeDelayNormal",
	"notificationClass",
	"highLimit",
	"lowLimit",
	"deadband",
	"limitEnable",
	"eventEnable",
	"ackedTransitions",
	"notifyType",
	"eventTimeStamps",
	"eventMessageTexts",
	"eventMessageTextsConfig",
	"eventDetectionEnable",
	"eventAlgorithmInhibit",
	"eventAlgorithmInhibitRef",
}

// AvailableDeviceProperties returns the property names to request for a
// point. presentValue is always included; an optional property is added
// only when the descriptor carries it with a non-null last-known value.
func AvailableDeviceProperties(observed map[string]any) []string {
	props := []string{"presentValue"}
	for _, name := range optionalProperties {
		v, ok := observed[name]
		if ok && v != nil {
			props = append(props, name)
		}
	}
	return props
}

// ReaderConfig describes one local BACnet endpoint.
type ReaderConfig struct {
	ID             string `json:"id" mapstructure:"id"`
	IPAddress      string `json:"ip_address" mapstructure:"ip_address"`
	SubnetPrefix   int    `json:"subnet_prefix" mapstructure:"subnet_prefix"`
	DeviceInstance uint32 `json:"device_instance" mapstructure:"device_instance"`
	Port           int    `json:"port" mapstructure:"port"`
	BBMDAddress    string `json:"bbmd_address,omitempty" mapstructure:"bbmd_address"`
	IsActive       bool   `json:"is_active" mapstructure:"is_active"`
}
