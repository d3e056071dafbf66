package models

import "encoding/json"

// MessageType tags the payload variant carried by an actor message.
type MessageType string

const (
	GetConfigRequestType        MessageType = "GET_CONFIG_REQUEST"
	GetConfigResponseType       MessageType = "GET_CONFIG_RESPONSE"
	RebootRequestType           MessageType = "REBOOT_REQUEST"
	RebootResponseType          MessageType = "REBOOT_RESPONSE"
	SetValueRequestType         MessageType = "SET_VALUE_TO_POINT_REQUEST"
	SetValueResponseType        MessageType = "SET_VALUE_TO_POINT_RESPONSE"
	ImmediateUploadTriggerType  MessageType = "IMMEDIATE_UPLOAD_TRIGGER"
	CleanupRequestType          MessageType = "CLEANUP_REQUEST"
	HeartbeatStatusType         MessageType = "HEARTBEAT_STATUS"
	StartMonitoringRequestType  MessageType = "START_MONITORING_REQUEST"
	StartMonitoringResponseType MessageType = "START_MONITORING_RESPONSE"
	StopMonitoringRequestType   MessageType = "STOP_MONITORING_REQUEST"
	StopMonitoringResponseType  MessageType = "STOP_MONITORING_RESPONSE"
	ForceHeartbeatRequestType   MessageType = "FORCE_HEARTBEAT_REQUEST"
	ConnectionStatusUpdateType  MessageType = "CONNECTION_STATUS_UPDATE"
	SystemMetricsUpdateType     MessageType = "SYSTEM_METRICS_UPDATE"
	UnknownCommandType          MessageType = "UNKNOWN_COMMAND"
)

// Payload is the closed union of message bodies. Every variant serializes
// to JSON for MQTT emission.
type Payload interface {
	MessageType() MessageType
}

// GetConfigRequest asks the agent to upload its current configuration.
type GetConfigRequest struct {
	CommandID string `json:"commandId" validate:"required"`
}

func (GetConfigRequest) MessageType() MessageType { return GetConfigRequestType }

// GetConfigResponse carries the latest persisted configuration snapshot.
type GetConfigResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	CommandID string          `json:"commandId"`
	Config    json.RawMessage `json:"config,omitempty"`
}

func (GetConfigResponse) MessageType() MessageType { return GetConfigResponseType }

// RebootRequest asks the agent process to restart.
type RebootRequest struct {
	CommandID string `json:"commandId" validate:"required"`
}

func (RebootRequest) MessageType() MessageType { return RebootRequestType }

// RebootResponse acknowledges a reboot before the process exits.
type RebootResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	CommandID string `json:"commandId"`
}

func (RebootResponse) MessageType() MessageType { return RebootResponseType }

// CommandFailure is the response body for a command that never reached
// its actor. CommandID is empty when the raw payload did not carry one.
type CommandFailure struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	CommandID string `json:"commandId"`
}

// SetValueRequest asks the writer to set a point's present value.
type SetValueRequest struct {
	CommandID       string  `json:"commandId" validate:"required"`
	ControllerID    string  `json:"controllerId" validate:"required"`
	PointInstanceID uint32  `json:"pointInstanceId"`
	ObjectType      string  `json:"objectType,omitempty"`
	PresentValue    float64 `json:"presentValue"`
	Priority        *uint   `json:"priority,omitempty" validate:"omitempty,min=1,max=16"`
}

func (SetValueRequest) MessageType() MessageType { return SetValueRequestType }

// SetValueResponse reports the outcome of a verified point write.
type SetValueResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	CommandID string `json:"commandId"`
}

func (SetValueResponse) MessageType() MessageType { return SetValueResponseType }

// ImmediateUploadTrigger shortens upload latency after a write.
type ImmediateUploadTrigger struct{}

func (ImmediateUploadTrigger) MessageType() MessageType { return ImmediateUploadTriggerType }

// CleanupRequest asks the cleaner to reclaim uploaded point rows.
type CleanupRequest struct{}

func (CleanupRequest) MessageType() MessageType { return CleanupRequestType }

// HeartbeatStatusPayload is the heartbeat body. Identity and timestamp
// fields are enriched at publish time.
type HeartbeatStatusPayload struct {
	Timestamp              *string           `json:"timestamp,omitempty"`
	OrganizationID         *string           `json:"organization_id,omitempty"`
	SiteID                 *string           `json:"site_id,omitempty"`
	IotDeviceID            *string           `json:"iot_device_id,omitempty"`
	CPUUsagePercent        *float64          `json:"cpu_usage_percent"`
	MemoryUsagePercent     *float64          `json:"memory_usage_percent"`
	DiskUsagePercent       *float64          `json:"disk_usage_percent"`
	TemperatureCelsius     *float64          `json:"temperature_celsius"`
	UptimeSeconds          *int64            `json:"uptime_seconds"`
	LoadAverage            *float64          `json:"load_average"`
	MonitoringStatus       *MonitoringStatus `json:"monitoring_status"`
	MQTTConnectionStatus   *ConnectionStatus `json:"mqtt_connection_status"`
	BacnetConnectionStatus *ConnectionStatus `json:"bacnet_connection_status"`
	BacnetDevicesConnected *int              `json:"bacnet_devices_connected"`
	BacnetPointsMonitored  *int              `json:"bacnet_points_monitored"`
}

func (HeartbeatStatusPayload) MessageType() MessageType { return HeartbeatStatusType }

// StartMonitoringRequest switches the monitor to ACTIVE.
type StartMonitoringRequest struct {
	CommandID    string   `json:"commandId" validate:"required"`
	CommandType  string   `json:"commandType,omitempty"`
	PresentValue *float64 `json:"presentValue,omitempty"`
}

func (StartMonitoringRequest) MessageType() MessageType { return StartMonitoringRequestType }

// StartMonitoringResponse acknowledges a start command.
type StartMonitoringResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	CommandID string `json:"commandId"`
}

func (StartMonitoringResponse) MessageType() MessageType { return StartMonitoringResponseType }

// StopMonitoringRequest switches the monitor to STOPPED.
type StopMonitoringRequest struct {
	CommandID   string `json:"commandId" validate:"required"`
	CommandType string `json:"commandType,omitempty"`
}

func (StopMonitoringRequest) MessageType() MessageType { return StopMonitoringRequestType }

// StopMonitoringResponse acknowledges a stop command.
type StopMonitoringResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	CommandID string `json:"commandId"`
}

func (StopMonitoringResponse) MessageType() MessageType { return StopMonitoringResponseType }

// ForceHeartbeatRequest makes the heartbeat emit immediately.
type ForceHeartbeatRequest struct{}

func (ForceHeartbeatRequest) MessageType() MessageType { return ForceHeartbeatRequestType }

// ConnectionStatusUpdate reports a transport status change to the status
// snapshot. Nil fields are left untouched.
type ConnectionStatusUpdate struct {
	MQTT   *ConnectionStatus `json:"mqtt_connection_status,omitempty"`
	Bacnet *ConnectionStatus `json:"bacnet_connection_status,omitempty"`
}

func (ConnectionStatusUpdate) MessageType() MessageType { return ConnectionStatusUpdateType }

// SystemMetricsUpdate carries host metrics from an external collector.
type SystemMetricsUpdate struct {
	CPUUsagePercent    *float64 `json:"cpu_usage_percent,omitempty"`
	MemoryUsagePercent *float64 `json:"memory_usage_percent,omitempty"`
	DiskUsagePercent   *float64 `json:"disk_usage_percent,omitempty"`
	TemperatureCelsius *float64 `json:"temperature_celsius,omitempty"`
	UptimeSeconds      *int64   `json:"uptime_seconds,omitempty"`
	LoadAverage        *float64 `json:"load_average,omitempty"`
}

func (SystemMetricsUpdate) MessageType() MessageType { return SystemMetricsUpdateType }

// UnknownCommand is produced for topics or bodies the dispatcher cannot
// route. It is logged, never executed.
type UnknownCommand struct {
	Topic string          `json:"topic"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

func (UnknownCommand) MessageType() MessageType { return UnknownCommandType }
