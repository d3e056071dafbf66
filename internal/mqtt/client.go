// Package mqtt wraps the paho client behind the small publish/subscribe
// surface the agent needs, plus the compiled per-device topic set.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/openbms-io/supervisor-sub000/internal/config"
	"github.com/openbms-io/supervisor-sub000/internal/metrics"
)

// MessageHandler receives inbound messages from subscribed topics.
type MessageHandler func(topic string, payload []byte)

// ConnectionHandler receives connection state transitions.
type ConnectionHandler func(connected bool, err error)

// Publisher is the narrow outbound capability handed to components that
// publish but must not own the client.
type Publisher interface {
	Publish(topic string, qos byte, retain bool, payload any) error
}

// Client is the single long-lived broker connection for the process.
type Client struct {
	cfg    config.MQTTConfig
	logger *slog.Logger

	paho         paho.Client
	onMessage    MessageHandler
	onConnection ConnectionHandler
}

// NewClient builds the client without connecting. TLS fails closed: if
// enabled and the CA file cannot be loaded, construction errors.
func NewClient(cfg config.MQTTConfig, logger *slog.Logger) (*Client, error) {
	c := &Client{cfg: cfg, logger: logger}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.ReconnectDelay)
	opts.SetMaxReconnectInterval(cfg.ReconnectDelay)
	opts.SetCleanSession(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.TLSEnabled {
		tlsCfg, err := tlsConfig(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("mqtt connected", slog.String("broker", cfg.BrokerURL()))
		if c.onConnection != nil {
			c.onConnection(true, nil)
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
		metrics.MQTTReconnectsTotal.Inc()
		if c.onConnection != nil {
			c.onConnection(false, err)
		}
	})

	c.paho = paho.NewClient(opts)
	return c, nil
}

// tlsConfig loads the CA bundle. Enabling TLS without a usable CA file
// is a startup error, never a silent fallback to plaintext.
func tlsConfig(caPath string) (*tls.Config, error) {
	if caPath == "" {
		return nil, fmt.Errorf("tls enabled but ca_cert_path is not set")
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ca certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ca certificate %s contains no valid certificates", caPath)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// SetOnMessage installs the inbound message handler. Must be called
// before Subscribe.
func (c *Client) SetOnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// SetOnConnection installs the connection state handler.
func (c *Client) SetOnConnection(handler ConnectionHandler) {
	c.onConnection = handler
}

// Connect establishes the broker session and blocks until it succeeds
// or the connect timeout elapses. Reconnection after that is handled
// internally by the client.
func (c *Client) Connect() error {
	token := c.paho.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("timed out connecting to %s", c.cfg.BrokerURL())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.BrokerURL(), err)
	}
	return nil
}

// Disconnect closes the session, allowing a short drain for in-flight
// messages.
func (c *Client) Disconnect() {
	if c.paho.IsConnected() {
		c.paho.Disconnect(250)
	}
}

// IsConnected reports the current session state.
func (c *Client) IsConnected() bool {
	return c.paho.IsConnected()
}

// Subscribe registers interest in a topic at the given QoS. Messages
// are routed through the handler installed with SetOnMessage.
func (c *Client) Subscribe(topic string, qos byte) error {
	token := c.paho.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		if c.onMessage != nil {
			c.onMessage(msg.Topic(), msg.Payload())
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	c.logger.Debug("subscribed", slog.String("topic", topic), slog.Int("qos", int(qos)))
	return nil
}

// Publish serializes the payload as compact JSON and publishes it.
// Oversize payloads are counted but still sent; the broker is the
// authority on what it will accept.
func (c *Client) Publish(topic string, qos byte, retain bool, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize payload for %s: %w", topic, err)
	}

	metrics.MQTTPublishBytes.Observe(float64(len(data)))
	if c.cfg.OversizeBytes > 0 && len(data) > c.cfg.OversizeBytes {
		metrics.MQTTOversizePublishesTotal.Inc()
		c.logger.Warn("oversize mqtt payload",
			slog.String("topic", topic),
			slog.Int("bytes", len(data)),
			slog.Int("threshold", c.cfg.OversizeBytes),
		)
	}

	token := c.paho.Publish(topic, qos, retain, data)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Compile-time check to ensure Client implements Publisher.
var _ Publisher = (*Client)(nil)
