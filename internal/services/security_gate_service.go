package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"nvct-backend/internal/metrics"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OperationHandler performs a gated operation once it is allowed to run
type OperationHandler func(ctx context.Context, nc models.NetworkContext, payload json.RawMessage) (interface{}, error)

// SecurityGateConfig gate behavior
type SecurityGateConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration // 0 disables the sweeper
	HighRisk      []models.OperationType
}

// ConfirmRequest everything a mainnet confirmation must present
type ConfirmRequest struct {
	SecurityCode     string                      `json:"security_code" binding:"required"`
	UserID           string                      `json:"user_id"`
	Password         string                      `json:"password" binding:"required"`
	Acknowledgements models.RiskAcknowledgements `json:"acknowledgements"`
}

// DispatchResult outcome of Dispatch: either the operation ran, or it waits at the gate
type DispatchResult struct {
	Executed  bool                         `json:"executed"`
	Result    interface{}                  `json:"result,omitempty"`
	Operation *models.PendingOperationView `json:"operation,omitempty"`
}

// SecurityGateService holds mainnet operations until an admin confirms them with an
// out-of-band security code. Testnet operations run immediately.
type SecurityGateService struct {
	store       repository.PendingOperationStore
	credentials CredentialStore
	notifier    *NotificationRouter
	publisher   EventPublisher

	mu       sync.RWMutex
	handlers map[models.OperationType]OperationHandler

	highRisk      map[models.OperationType]bool
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSecurityGateService creates the gate
func NewSecurityGateService(store repository.PendingOperationStore, credentials CredentialStore, notifier *NotificationRouter, publisher EventPublisher, cfg SecurityGateConfig) *SecurityGateService {
	if cfg.TTL <= 0 {
		cfg.TTL = models.DefaultOperationTTL
	}
	highRisk := make(map[models.OperationType]bool, len(cfg.HighRisk))
	for _, t := range cfg.HighRisk {
		highRisk[t] = true
	}
	return &SecurityGateService{
		store:         store,
		credentials:   credentials,
		notifier:      notifier,
		publisher:     publisher,
		handlers:      make(map[models.OperationType]OperationHandler),
		highRisk:      highRisk,
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// RegisterHandler binds the handler that performs opType
func (g *SecurityGateService) RegisterHandler(opType models.OperationType, handler OperationHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[opType] = handler
}

func (g *SecurityGateService) handler(opType models.OperationType) (OperationHandler, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	handler, ok := g.handlers[opType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, opType)
	}
	return handler, nil
}

// IsHighRisk whether confirmations of opType need the acknowledgement flags
func (g *SecurityGateService) IsHighRisk(opType models.OperationType) bool {
	return g.highRisk[opType]
}

// Dispatch runs the operation right away on testnet and parks it at the gate on mainnet
func (g *SecurityGateService) Dispatch(ctx context.Context, nc models.NetworkContext, opType models.OperationType, payload interface{}) (*DispatchResult, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	handler, err := g.handler(opType)
	if err != nil {
		return nil, err
	}

	if !nc.Network.IsMainnet() {
		metrics.SecurityGateDecisions.WithLabelValues(string(opType), "bypassed").Inc()
		result, err := handler(ctx, nc, raw)
		return &DispatchResult{Executed: err == nil, Result: result}, err
	}

	view, err := g.CreateOperation(ctx, nc, opType, raw)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{Operation: view}, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidPayload)
		}
		return p, nil
	case nil:
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return raw, nil
}

// CreateOperation stores a pending operation. No code is issued yet.
func (g *SecurityGateService) CreateOperation(ctx context.Context, nc models.NetworkContext, opType models.OperationType, payload json.RawMessage) (*models.PendingOperationView, error) {
	if _, err := g.handler(opType); err != nil {
		return nil, err
	}
	now := g.now()
	op := &models.PendingOperation{
		OperationID: uuid.New().String(),
		Type:        opType,
		Network:     nc.Network,
		Payload:     payload,
		RequestedBy: nc.RequestedBy,
		IsHighRisk:  g.IsHighRisk(opType),
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}
	if err := g.store.Save(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to store pending operation: %w", err)
	}
	g.refreshGauge(ctx)

	metrics.SecurityGateDecisions.WithLabelValues(string(opType), "held").Inc()
	logrus.WithFields(logrus.Fields{
		"operation_id": op.OperationID,
		"type":         op.Type,
		"network":      op.Network,
		"requested_by": op.RequestedBy,
		"high_risk":    op.IsHighRisk,
		"expires_at":   op.ExpiresAt.Format(time.RFC3339),
	}).Warn("🔐 [SecurityGate] mainnet operation held for confirmation")

	view := op.View()
	publish(ctx, g.publisher, StatusEvent{
		Kind:      EventOperationCreated,
		Network:   op.Network,
		Reference: op.OperationID,
		Status:    "pending",
		Data:      view,
	})
	return &view, nil
}

// Get returns the operation without its code
func (g *SecurityGateService) Get(ctx context.Context, opID string) (*models.PendingOperationView, error) {
	op, err := g.load(ctx, opID)
	if err != nil {
		return nil, err
	}
	view := op.View()
	return &view, nil
}

// load fetches a live operation; an expired one is removed
func (g *SecurityGateService) load(ctx context.Context, opID string) (*models.PendingOperation, error) {
	op, err := g.store.Get(ctx, opID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, opID)
	}
	if err != nil {
		return nil, err
	}
	if op.Expired(g.now()) {
		if err := g.store.Delete(ctx, opID); err != nil {
			logrus.WithError(err).Warnf("⚠️ [SecurityGate] failed to remove expired operation %s", opID)
		}
		g.refreshGauge(ctx)
		metrics.SecurityGateDecisions.WithLabelValues(string(op.Type), "expired").Inc()
		return nil, fmt.Errorf("%w: %s", ErrOperationExpired, opID)
	}
	return op, nil
}

// IssueCode generates a fresh six digit code, delivers it to the issuing admin's
// registered contact and only then replaces the stored one. On delivery failure the
// operation keeps its previous state. An empty issuer means the requester.
func (g *SecurityGateService) IssueCode(ctx context.Context, opID, issuer, channel string) error {
	op, err := g.load(ctx, opID)
	if err != nil {
		return err
	}
	if issuer == "" {
		issuer = op.RequestedBy
	}
	if !g.credentials.IsAdmin(ctx, issuer) {
		logrus.WithFields(logrus.Fields{
			"operation_id": opID,
			"issuer":       issuer,
		}).Warn("🚫 [SecurityGate] code request from non-admin rejected")
		return ErrNotAdmin
	}
	notifier, channelName, err := g.notifier.Channel(channel)
	if err != nil {
		metrics.SecurityCodesIssued.WithLabelValues(channelName, "failed").Inc()
		return err
	}
	// 只发到凭据库登记的联系方式
	recipient, err := g.credentials.Contact(ctx, issuer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	code, err := generateSecurityCode()
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Security code for %s on %s", op.Type, op.Network)
	body := fmt.Sprintf("Your security code is %s. It expires at %s.", code, op.ExpiresAt.UTC().Format(time.RFC3339))
	if err := notifier.Deliver(ctx, recipient, subject, body); err != nil {
		metrics.SecurityCodesIssued.WithLabelValues(channelName, "failed").Inc()
		logrus.WithError(err).WithFields(logrus.Fields{
			"operation_id": opID,
			"channel":      channelName,
		}).Error("❌ [SecurityGate] security code delivery failed")
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	issuedAt := g.now()
	op.SecurityCode = code
	op.CodeIssuedAt = &issuedAt
	if err := g.store.Update(ctx, op); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOperationNotFound, opID)
		}
		return fmt.Errorf("failed to store security code: %w", err)
	}

	metrics.SecurityCodesIssued.WithLabelValues(channelName, "delivered").Inc()
	logrus.WithFields(logrus.Fields{
		"operation_id": opID,
		"channel":      channelName,
		"issuer":       issuer,
		"recipient":    recipient,
	}).Info("📨 [SecurityGate] security code issued")
	publish(ctx, g.publisher, StatusEvent{
		Kind:      EventOperationCodeSent,
		Network:   op.Network,
		Reference: opID,
		Status:    "code_issued",
	})
	return nil
}

func generateSecurityCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate security code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Confirm checks the code, the admin credentials and, for high-risk operations, the
// acknowledgements. A failed check leaves the operation in place. On success the
// operation is consumed and its handler runs exactly once; a replay finds nothing.
func (g *SecurityGateService) Confirm(ctx context.Context, opID string, req ConfirmRequest) (interface{}, error) {
	op, err := g.load(ctx, opID)
	if err != nil {
		return nil, err
	}

	if err := g.check(ctx, op, req); err != nil {
		metrics.SecurityGateDecisions.WithLabelValues(string(op.Type), "rejected").Inc()
		logrus.WithFields(logrus.Fields{
			"operation_id": opID,
			"type":         op.Type,
			"network":      op.Network,
			"requester":    op.RequestedBy,
			"confirmer":    req.UserID,
			"reason":       err.Error(),
			"timestamp":    g.now().UTC().Format(time.RFC3339),
		}).Warn("🚫 [SecurityGate] confirmation rejected")
		publish(ctx, g.publisher, StatusEvent{
			Kind:      EventOperationRejected,
			Network:   op.Network,
			Reference: opID,
			Status:    "rejected",
		})
		return nil, err
	}

	// resolved before Take so an unroutable operation stays confirmable
	handler, err := g.handler(op.Type)
	if err != nil {
		return nil, err
	}

	taken, err := g.store.Take(ctx, opID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, opID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending operation: %w", err)
	}
	g.refreshGauge(ctx)
	if subtle.ConstantTimeCompare([]byte(taken.SecurityCode), []byte(req.SecurityCode)) != 1 {
		// a new code was issued between the check and the take
		if err := g.store.Save(ctx, taken); err != nil {
			logrus.WithError(err).Errorf("❌ [SecurityGate] failed to restore operation %s", opID)
		}
		g.refreshGauge(ctx)
		return nil, ErrInvalidSecurityCode
	}

	metrics.SecurityGateDecisions.WithLabelValues(string(taken.Type), "confirmed").Inc()
	logrus.WithFields(logrus.Fields{
		"operation_id": opID,
		"type":         taken.Type,
		"network":      taken.Network,
		"requester":    taken.RequestedBy,
		"confirmer":    req.UserID,
	}).Warn("✅ [SecurityGate] operation confirmed, executing")

	result, err := handler(ctx, models.NewNetworkContext(taken.Network, taken.RequestedBy), taken.Payload)
	status := "executed"
	if err != nil {
		status = "failed"
		logrus.WithError(err).Errorf("❌ [SecurityGate] confirmed operation %s failed", opID)
	}
	publish(ctx, g.publisher, StatusEvent{
		Kind:      EventOperationConfirmed,
		Network:   taken.Network,
		Reference: opID,
		Status:    status,
	})
	return result, err
}

func (g *SecurityGateService) check(ctx context.Context, op *models.PendingOperation, req ConfirmRequest) error {
	if !op.CodeIssued() {
		return ErrCodeNotIssued
	}
	if subtle.ConstantTimeCompare([]byte(op.SecurityCode), []byte(req.SecurityCode)) != 1 {
		return ErrInvalidSecurityCode
	}
	userID := req.UserID
	if userID == "" {
		userID = op.RequestedBy
	}
	if !g.credentials.VerifyPassword(ctx, userID, req.Password) {
		return ErrInvalidPassword
	}
	if !g.credentials.IsAdmin(ctx, userID) {
		return ErrNotAdmin
	}
	if op.IsHighRisk && !req.Acknowledgements.Complete() {
		return ErrMissingAcknowledgment
	}
	return nil
}

// Start launches the expiry sweeper when configured
func (g *SecurityGateService) Start(ctx context.Context) {
	if g.sweepInterval <= 0 || g.started {
		return
	}
	g.started = true
	go func() {
		defer close(g.done)
		ticker := time.NewTicker(g.sweepInterval)
		defer ticker.Stop()
		logrus.Infof("🧹 [SecurityGate] sweeper started, interval %v", g.sweepInterval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.stop:
				return
			case <-ticker.C:
				g.Sweep(ctx)
			}
		}
	}()
}

// Stop ends the sweeper and waits for it
func (g *SecurityGateService) Stop() {
	if !g.started {
		return
	}
	g.stopOnce.Do(func() { close(g.stop) })
	<-g.done
}

// Sweep removes expired operations
func (g *SecurityGateService) Sweep(ctx context.Context) int {
	removed, err := g.store.PurgeExpired(ctx, g.now())
	if err != nil {
		logrus.WithError(err).Warn("⚠️ [SecurityGate] sweep failed")
		return 0
	}
	if removed > 0 {
		logrus.Infof("🧹 [SecurityGate] removed %d expired operations", removed)
	}
	g.refreshGauge(ctx)
	return removed
}

func (g *SecurityGateService) refreshGauge(ctx context.Context) {
	if count, err := g.store.Count(ctx); err == nil {
		metrics.PendingOperations.Set(float64(count))
	}
}
