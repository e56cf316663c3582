package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"nvct-backend/internal/clients"
	"nvct-backend/internal/metrics"
	"nvct-backend/internal/services"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

var errNotConnected = errors.New("nats connection is down")

// OriginHeader identifies the instance that published a status event
const OriginHeader = "Nvct-Origin"

// NATSStatusPublisher publishes status events to <prefix>.status.<network>.<kind>
type NATSStatusPublisher struct {
	client *clients.NATSClient
	origin string
}

var _ services.EventPublisher = (*NATSStatusPublisher)(nil)

func NewNATSStatusPublisher(client *clients.NATSClient, origin string) *NATSStatusPublisher {
	return &NATSStatusPublisher{client: client, origin: origin}
}

func (p *NATSStatusPublisher) Publish(_ context.Context, event services.StatusEvent) error {
	subject := p.client.Subject(statusSubject(event)...)
	header := nats.Header{}
	header.Set(OriginHeader, p.origin)

	if err := p.client.PublishJSON(subject, event, header); err != nil {
		metrics.NATSMessagesPublished.WithLabelValues(subjectKind(event.Kind), "error").Inc()
		return err
	}
	metrics.NATSMessagesPublished.WithLabelValues(subjectKind(event.Kind), "success").Inc()
	return nil
}

// statusSubject subject tokens after the prefix
func statusSubject(event services.StatusEvent) []string {
	network := string(event.Network)
	if network == "" {
		network = "global"
	}
	parts := []string{"status", network}
	for _, token := range strings.Split(event.Kind, ".") {
		if token = sanitizeToken(token); token != "" {
			parts = append(parts, token)
		}
	}
	return parts
}

// subjectKind first segment of an event kind, used as a low-cardinality label
func subjectKind(kind string) string {
	if i := strings.IndexByte(kind, '.'); i > 0 {
		return kind[:i]
	}
	if kind == "" {
		return "unknown"
	}
	return kind
}

// sanitizeToken strips characters NATS treats as subject syntax
func sanitizeToken(token string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, token)
}

// ForwardRemoteEvents relays status events published by other instances to
// target, typically the local WebSocket hub. Events carrying our own origin
// are skipped.
func ForwardRemoteEvents(client *clients.NATSClient, origin string, target services.EventPublisher) (*nats.Subscription, error) {
	return client.Subscribe(client.Subject("status", ">"), func(msg *nats.Msg) {
		if msg.Header.Get(OriginHeader) == origin {
			return
		}
		var event services.StatusEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logrus.WithError(err).Warnf("⚠️ [NATS] malformed status event on %s", msg.Subject)
			return
		}
		if err := target.Publish(context.Background(), event); err != nil {
			logrus.WithError(err).Warn("⚠️ [NATS] failed to relay remote status event")
		}
	})
}

// notification message consumed by the mail/SMS relay
type notification struct {
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// NATSNotifier hands security codes to an external delivery relay over NATS
type NATSNotifier struct {
	client *clients.NATSClient
}

var _ services.Notifier = (*NATSNotifier)(nil)

func NewNATSNotifier(client *clients.NATSClient) *NATSNotifier {
	return &NATSNotifier{client: client}
}

func (n *NATSNotifier) Deliver(_ context.Context, recipient, subject, body string) error {
	if !n.client.IsConnected() {
		return errNotConnected
	}
	msg := notification{
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		SentAt:    time.Now().UTC(),
	}
	if err := n.client.PublishJSON(n.client.Subject("notifications"), msg, nil); err != nil {
		metrics.NATSMessagesPublished.WithLabelValues("notification", "error").Inc()
		return err
	}
	metrics.NATSMessagesPublished.WithLabelValues("notification", "success").Inc()
	return nil
}
