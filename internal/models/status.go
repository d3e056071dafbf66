package models

import "time"

// MonitoringStatus reflects the monitor actor's state machine.
type MonitoringStatus string

const (
	MonitoringInitializing MonitoringStatus = "INITIALIZING"
	MonitoringActive       MonitoringStatus = "ACTIVE"
	MonitoringStopped      MonitoringStatus = "STOPPED"
	MonitoringError        MonitoringStatus = "ERROR"
)

// ConnectionStatus reflects transport health for MQTT and BACnet.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "CONNECTED"
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionError        ConnectionStatus = "ERROR"
)

// DeviceStatus is the single status snapshot row per IoT device.
// Many actors write it (last writer wins); only the heartbeat reads it.
type DeviceStatus struct {
	IotDeviceID            string            `json:"iot_device_id"`
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
	UpdatedAt              time.Time         `json:"updated_at"`
}
