package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"nvct-backend/internal/config"
	"nvct-backend/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// StatusStreamName JetStream stream holding status events
const StatusStreamName = "NVCT_EVENTS"

// NATSClient NATS client
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATSClient connects to NATS. When cfg.JetStream is set the status stream
// is created if missing and publishes go through JetStream.
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("nvct-backend"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logrus.WithError(err).Warn("⚠️ [NATS] disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Infof("🔌 [NATS] reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	client := &NATSClient{conn: conn, prefix: cfg.SubjectPrefix}

	if cfg.JetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		client.js = js
		if err := client.ensureStream(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	logrus.Infof("✅ [NATS] connected to %s (jetstream=%v)", conn.ConnectedUrl(), cfg.JetStream)
	return client, nil
}

// ensureStream makes sure the status stream exists
func (c *NATSClient) ensureStream() error {
	if _, err := c.js.StreamInfo(StatusStreamName); err == nil {
		logrus.Debugf("[NATS] stream %s already exists", StatusStreamName)
		return nil
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      StatusStreamName,
		Subjects:  []string{c.prefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", StatusStreamName, err)
	}
	logrus.Infof("✅ [NATS] stream %s created", StatusStreamName)
	return nil
}

// Subject joins parts under the configured prefix
func (c *NATSClient) Subject(parts ...string) string {
	subject := c.prefix
	for _, p := range parts {
		subject += "." + p
	}
	return subject
}

// PublishJSON marshals v and publishes it
func (c *NATSClient) PublishJSON(subject string, v interface{}, header nats.Header) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: header}

	if c.js != nil {
		if _, err := c.js.PublishMsg(msg); err != nil {
			return fmt.Errorf("failed to publish %s: %w", subject, err)
		}
		return nil
	}
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe plain core subscription; JetStream-persisted subjects are delivered too
func (c *NATSClient) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	logrus.Infof("✅ [NATS] subscribed to %s", subject)
	return sub, nil
}

// IsConnected connection state
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains subscriptions and closes the connection
func (c *NATSClient) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
	metrics.NATSConnectionStatus.Set(0)
}
