package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Notifier delivers an out-of-band message to a recipient
type Notifier interface {
	Deliver(ctx context.Context, recipient, subject, body string) error
}

// LogNotifier writes notifications to the log. Meant for development setups where
// the operator reads security codes from the server output.
type LogNotifier struct{}

func (LogNotifier) Deliver(_ context.Context, recipient, subject, body string) error {
	logrus.WithFields(logrus.Fields{
		"recipient": recipient,
		"subject":   subject,
	}).Warnf("📨 [Notify] %s", body)
	return nil
}

// NotificationRouter picks a Notifier by channel name
type NotificationRouter struct {
	mu             sync.RWMutex
	channels       map[string]Notifier
	defaultChannel string
}

// NewNotificationRouter creates a router; an empty channel name resolves to defaultChannel
func NewNotificationRouter(defaultChannel string) *NotificationRouter {
	return &NotificationRouter{
		channels:       make(map[string]Notifier),
		defaultChannel: strings.ToLower(defaultChannel),
	}
}

// Register adds or replaces a channel
func (r *NotificationRouter) Register(channel string, notifier Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[strings.ToLower(channel)] = notifier
}

// Channel resolves the notifier for channel
func (r *NotificationRouter) Channel(channel string) (Notifier, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := strings.ToLower(strings.TrimSpace(channel))
	if name == "" {
		name = r.defaultChannel
	}
	notifier, ok := r.channels[name]
	if !ok {
		return nil, name, fmt.Errorf("%w: unknown channel %q", ErrDeliveryFailed, name)
	}
	return notifier, name, nil
}
