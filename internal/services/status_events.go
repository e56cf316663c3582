package services

import (
	"context"
	"time"

	"nvct-backend/internal/models"

	"github.com/sirupsen/logrus"
)

// Status event kinds
const (
	EventMultisigSubmitted  = "multisig.submitted"
	EventMultisigConfirmed  = "multisig.confirmed"
	EventMultisigExecuted   = "multisig.executed"
	EventMultisigReverted   = "multisig.reverted"
	EventSettlementUpdated  = "settlement.updated"
	EventTokenOperation     = "token.operation"
	EventOperationCreated   = "operation.created"
	EventOperationCodeSent  = "operation.code_issued"
	EventOperationConfirmed = "operation.confirmed"
	EventOperationRejected  = "operation.rejected"
	EventNetworkSwitched    = "network.switched"
)

// StatusEvent state change pushed to subscribers
type StatusEvent struct {
	Kind      string         `json:"kind"`
	Network   models.Network `json:"network"`
	Reference string         `json:"reference"` // multisig id, settlement id, operation id or token tx hash
	Status    string         `json:"status,omitempty"`
	TxHash    string         `json:"tx_hash,omitempty"`
	Data      interface{}    `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventPublisher fan-out target for status events
type EventPublisher interface {
	Publish(ctx context.Context, event StatusEvent) error
}

// MultiPublisher publishes to every target; a failing target never blocks the others
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event StatusEvent) error {
	var firstErr error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// publish stamps and sends an event, logging instead of failing the caller.
// State changes are already persisted when events go out.
func publish(ctx context.Context, publisher EventPublisher, event StatusEvent) {
	if publisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"kind":      event.Kind,
			"reference": event.Reference,
		}).Warn("⚠️ [Events] failed to publish status event")
	}
}
