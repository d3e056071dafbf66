package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// topicSchemaJSON is the declarative topic document. Placeholders are
// substituted at compile time; topics whose optional identifiers are
// absent are suppressed rather than erroring.
const topicSchemaJSON = `{
  "topics": [
    {"name": "command.get_config.request",          "template": "{organization_id}/{site_id}/{iot_device_id}/command/get_config/request",          "qos": 1},
    {"name": "command.get_config.response",         "template": "{organization_id}/{site_id}/{iot_device_id}/command/get_config/response",         "qos": 1},
    {"name": "command.reboot.request",              "template": "{organization_id}/{site_id}/{iot_device_id}/command/reboot/request",              "qos": 1},
    {"name": "command.reboot.response",             "template": "{organization_id}/{site_id}/{iot_device_id}/command/reboot/response",             "qos": 1},
    {"name": "command.set_value_to_point.request",  "template": "{organization_id}/{site_id}/{iot_device_id}/command/set_value_to_point/request",  "qos": 1},
    {"name": "command.set_value_to_point.response", "template": "{organization_id}/{site_id}/{iot_device_id}/command/set_value_to_point/response", "qos": 1},
    {"name": "command.start_monitoring.request",    "template": "{organization_id}/{site_id}/{iot_device_id}/command/start_monitoring/request",    "qos": 1},
    {"name": "command.start_monitoring.response",   "template": "{organization_id}/{site_id}/{iot_device_id}/command/start_monitoring/response",   "qos": 1},
    {"name": "command.stop_monitoring.request",     "template": "{organization_id}/{site_id}/{iot_device_id}/command/stop_monitoring/request",     "qos": 1},
    {"name": "command.stop_monitoring.response",    "template": "{organization_id}/{site_id}/{iot_device_id}/command/stop_monitoring/response",    "qos": 1},
    {"name": "status.heartbeat",                    "template": "{organization_id}/{site_id}/{iot_device_id}/status/heartbeat",                    "qos": 1, "retain": true},
    {"name": "data.point_bulk",                     "template": "{organization_id}/{site_id}/{iot_device_id}/data/points/bulk",                    "qos": 0},
    {"name": "data.point",                          "template": "{organization_id}/{site_id}/{iot_device_id}/data/{controller_device_id}/{iot_device_point_id}", "qos": 0, "optional": true},
    {"name": "alert_management.acknowledge",        "template": "{organization_id}/{site_id}/{iot_device_id}/alert_management/acknowledge",        "qos": 1},
    {"name": "alert_management.resolve",            "template": "{organization_id}/{site_id}/{iot_device_id}/alert_management/resolve",            "qos": 1}
  ]
}`

// Identifiers are the per-device values substituted into the schema.
// The first three are required; the point pair only feeds the
// single-point data topic.
type Identifiers struct {
	OrganizationID     string
	SiteID             string
	IotDeviceID        string
	ControllerDeviceID string
	IotDevicePointID   string
}

// Topic is one compiled topic with its publish parameters.
type Topic struct {
	Name   string
	Topic  string
	QoS    byte
	Retain bool
}

type schemaEntry struct {
	Name     string `json:"name"`
	Template string `json:"template"`
	QoS      byte   `json:"qos"`
	Retain   bool   `json:"retain"`
	Optional bool   `json:"optional"`
}

// TopicSet holds every topic compiled for one device.
type TopicSet struct {
	byName map[string]Topic
}

// CommandNames lists the supported command verbs in schema order.
var CommandNames = []string{"get_config", "reboot", "set_value_to_point", "start_monitoring", "stop_monitoring"}

// CompileTopics substitutes identifiers into the declarative schema.
// A missing required identifier is a hard error; topics referencing a
// missing optional identifier are omitted from the set.
func CompileTopics(ids Identifiers) (*TopicSet, error) {
	if ids.OrganizationID == "" || ids.SiteID == "" || ids.IotDeviceID == "" {
		return nil, fmt.Errorf("organization_id, site_id and iot_device_id are required")
	}

	var doc struct {
		Topics []schemaEntry `json:"topics"`
	}
	if err := json.Unmarshal([]byte(topicSchemaJSON), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse topic schema: %w", err)
	}

	replacements := map[string]string{
		"{organization_id}":      ids.OrganizationID,
		"{site_id}":              ids.SiteID,
		"{iot_device_id}":        ids.IotDeviceID,
		"{controller_device_id}": ids.ControllerDeviceID,
		"{iot_device_point_id}":  ids.IotDevicePointID,
	}

	set := &TopicSet{byName: make(map[string]Topic, len(doc.Topics))}
	for _, entry := range doc.Topics {
		topic := entry.Template
		unresolved := false
		for placeholder, value := range replacements {
			if !strings.Contains(topic, placeholder) {
				continue
			}
			if value == "" {
				unresolved = true
				break
			}
			topic = strings.ReplaceAll(topic, placeholder, value)
		}
		if unresolved {
			if entry.Optional {
				continue
			}
			return nil, fmt.Errorf("topic %s is missing a required identifier", entry.Name)
		}
		set.byName[entry.Name] = Topic{Name: entry.Name, Topic: topic, QoS: entry.QoS, Retain: entry.Retain}
	}
	return set, nil
}

// Lookup returns a compiled topic by schema name.
func (s *TopicSet) Lookup(name string) (Topic, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// CommandRequest returns the request topic for one command verb.
func (s *TopicSet) CommandRequest(command string) (Topic, bool) {
	return s.Lookup(fmt.Sprintf("command.%s.request", command))
}

// CommandResponse returns the response topic for one command verb.
func (s *TopicSet) CommandResponse(command string) (Topic, bool) {
	return s.Lookup(fmt.Sprintf("command.%s.response", command))
}

// CommandRequests returns every command request topic in schema order.
func (s *TopicSet) CommandRequests() []Topic {
	out := make([]Topic, 0, len(CommandNames))
	for _, name := range CommandNames {
		if t, ok := s.CommandRequest(name); ok {
			out = append(out, t)
		}
	}
	return out
}

// Heartbeat returns the retained status topic.
func (s *TopicSet) Heartbeat() Topic {
	t, _ := s.Lookup("status.heartbeat")
	return t
}

// PointBulk returns the per-device bulk data topic.
func (s *TopicSet) PointBulk() Topic {
	t, _ := s.Lookup("data.point_bulk")
	return t
}

// Point returns the single-point data topic if the optional identifiers
// were supplied at compile time.
func (s *TopicSet) Point() (Topic, bool) {
	return s.Lookup("data.point")
}
