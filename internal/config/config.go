// Package config provides configuration loading for the agent.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openbms-io/supervisor-sub000/internal/models"
)

// Config holds all configuration for the agent process.
type Config struct {
	Identity  IdentityConfig        `mapstructure:"identity"`
	MQTT      MQTTConfig            `mapstructure:"mqtt"`
	Store     StoreConfig           `mapstructure:"store"`
	Monitor   MonitorConfig         `mapstructure:"monitor"`
	Uploader  UploaderConfig        `mapstructure:"uploader"`
	Heartbeat HeartbeatConfig       `mapstructure:"heartbeat"`
	Diag      DiagConfig            `mapstructure:"diag"`
	Readers   []models.ReaderConfig `mapstructure:"readers"`
}

// IdentityConfig is the organization/site/device triple this agent acts as.
type IdentityConfig struct {
	OrganizationID     string `mapstructure:"organization_id"`
	SiteID             string `mapstructure:"site_id"`
	IotDeviceID        string `mapstructure:"iot_device_id"`
	ControllerDeviceID string `mapstructure:"controller_device_id"`
	IotDevicePointID   string `mapstructure:"iot_device_point_id"`
	CredentialsPath    string `mapstructure:"credentials_path"`
}

// MQTTConfig holds broker connection parameters.
type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	Port           int           `mapstructure:"port"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	CACertPath     string        `mapstructure:"ca_cert_path"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	OversizeBytes  int           `mapstructure:"oversize_bytes"`
}

// BrokerURL returns the broker URL with the right scheme for TLS.
func (c MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if c.TLSEnabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker, c.Port)
}

// StoreConfig holds local database settings.
type StoreConfig struct {
	Path          string        `mapstructure:"path"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// MonitorConfig holds monitoring loop settings.
type MonitorConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
}

// UploaderConfig holds upload pipeline settings.
type UploaderConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
}

// HeartbeatConfig holds heartbeat cadence settings.
type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DiagConfig holds the local diagnostics HTTP server settings.
type DiagConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Credentials are loaded from a separate JSON file written by setup.
type Credentials struct {
	ClientID  string `json:"client_id"`
	SecretKey string `json:"secret_key"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/bms-supervisor")

	v.SetEnvPrefix("BMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Explicitly bind identity environment variables (nested struct issue
	// with viper)
	v.BindEnv("identity.organization_id", "BMS_IDENTITY_ORGANIZATION_ID")
	v.BindEnv("identity.site_id", "BMS_IDENTITY_SITE_ID")
	v.BindEnv("identity.iot_device_id", "BMS_IDENTITY_IOT_DEVICE_ID")
	v.BindEnv("mqtt.broker", "BMS_MQTT_BROKER")
	v.BindEnv("mqtt.username", "BMS_MQTT_USERNAME")
	v.BindEnv("mqtt.password", "BMS_MQTT_PASSWORD")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate refuses configurations the agent must not boot with.
func (c *Config) Validate() error {
	if c.Identity.OrganizationID == "" || c.Identity.SiteID == "" || c.Identity.IotDeviceID == "" {
		return fmt.Errorf("identity organization_id, site_id and iot_device_id are required")
	}

	active, err := FilterReaders(c.Readers)
	if err != nil {
		return err
	}
	c.Readers = active
	return nil
}

// FilterReaders drops inactive entries and rejects duplicate (ip, port)
// pairs. Duplicate active endpoints are a configuration error and refuse
// startup.
func FilterReaders(readers []models.ReaderConfig) ([]models.ReaderConfig, error) {
	seen := make(map[string]string)
	var active []models.ReaderConfig
	for _, r := range readers {
		if !r.IsActive {
			continue
		}
		key := fmt.Sprintf("%s:%d", r.IPAddress, r.Port)
		if first, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate reader endpoint %s: %q conflicts with %q", key, r.ID, first)
		}
		seen[key] = r.ID
		active = append(active, r)
	}
	return active, nil
}

// LoadCredentials reads the credentials JSON file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if creds.ClientID == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("credentials file is missing client_id or secret_key")
	}
	return &creds, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// MQTT defaults
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.keep_alive", "60s")
	v.SetDefault("mqtt.reconnect_delay", "5s")
	v.SetDefault("mqtt.connect_timeout", "10s")
	v.SetDefault("mqtt.tls_enabled", false)
	v.SetDefault("mqtt.oversize_bytes", 10*1024)

	// Store defaults
	v.SetDefault("store.path", "supervisor.db")
	v.SetDefault("store.busy_timeout", "30s")
	v.SetDefault("store.retry_attempts", 3)
	v.SetDefault("store.retry_backoff", "100ms")

	// Loop cadence defaults
	v.SetDefault("monitor.cycle_interval", "30s")
	v.SetDefault("uploader.interval", "15s")
	v.SetDefault("uploader.cleanup_interval", "5m")
	v.SetDefault("uploader.batch_size", 200)
	v.SetDefault("heartbeat.interval", "60s")

	// Diagnostics defaults
	v.SetDefault("diag.enabled", true)
	v.SetDefault("diag.host", "127.0.0.1")
	v.SetDefault("diag.port", 9190)

	// Identity defaults
	v.SetDefault("identity.credentials_path", "credentials.json")
}
