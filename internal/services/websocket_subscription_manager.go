package services

import (
	"errors"
	"strings"
	"sync"

	"nvct-backend/internal/models"
)

// SubscriptionType defines the type of subscription; values match the first
// segment of a status event kind
type SubscriptionType string

const (
	SubscriptionTypeMultisig   SubscriptionType = "multisig"
	SubscriptionTypeSettlement SubscriptionType = "settlement"
	SubscriptionTypeOperation  SubscriptionType = "operation"
	SubscriptionTypeNetwork    SubscriptionType = "network"
)

var (
	ErrClientNotFound       = errors.New("client not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUnknownSubscription  = errors.New("unknown subscription type")
)

var knownSubscriptionTypes = map[SubscriptionType]bool{
	SubscriptionTypeMultisig:   true,
	SubscriptionTypeSettlement: true,
	SubscriptionTypeOperation:  true,
	SubscriptionTypeNetwork:    true,
}

// SubscriptionFilter contains filters for a subscription. Empty Network or
// Reference match everything.
type SubscriptionFilter struct {
	Type      SubscriptionType `json:"type"`
	Network   models.Network   `json:"network,omitempty"`
	Reference string           `json:"reference,omitempty"` // multisig id, settlement id or operation id
}

// Matches whether event passes the filter
func (f *SubscriptionFilter) Matches(event StatusEvent) bool {
	if eventSubscriptionType(event.Kind) != f.Type {
		return false
	}
	if f.Network != "" && event.Network != f.Network {
		return false
	}
	if f.Reference != "" && event.Reference != f.Reference {
		return false
	}
	return true
}

func eventSubscriptionType(kind string) SubscriptionType {
	if i := strings.IndexByte(kind, '.'); i > 0 {
		kind = kind[:i]
	}
	return SubscriptionType(kind)
}

// ClientSubscription represents a client's subscriptions
type ClientSubscription struct {
	ClientID      string
	Actor         string // authenticated user behind the connection
	Subscriptions map[SubscriptionType]*SubscriptionFilter
	mu            sync.RWMutex
}

// WebSocketSubscriptionManager manages all active subscriptions
type WebSocketSubscriptionManager struct {
	clients map[string]*ClientSubscription
	mu      sync.RWMutex

	// subscription type -> clientID set
	index          map[SubscriptionType]map[string]bool
	subscriptionMu sync.RWMutex
}

func NewWebSocketSubscriptionManager() *WebSocketSubscriptionManager {
	return &WebSocketSubscriptionManager{
		clients: make(map[string]*ClientSubscription),
		index:   make(map[SubscriptionType]map[string]bool),
	}
}

// RegisterClient registers a new client connection
func (m *WebSocketSubscriptionManager) RegisterClient(clientID, actor string) *ClientSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	client := &ClientSubscription{
		ClientID:      clientID,
		Actor:         actor,
		Subscriptions: make(map[SubscriptionType]*SubscriptionFilter),
	}
	m.clients[clientID] = client
	return client
}

// UnregisterClient removes a client and all its subscriptions
func (m *WebSocketSubscriptionManager) UnregisterClient(clientID string) {
	m.mu.Lock()
	_, exists := m.clients[clientID]
	delete(m.clients, clientID)
	m.mu.Unlock()

	if !exists {
		return
	}

	m.subscriptionMu.Lock()
	defer m.subscriptionMu.Unlock()
	for subType := range m.index {
		delete(m.index[subType], clientID)
	}
}

// Subscribe adds or replaces the client's subscription of filter.Type
func (m *WebSocketSubscriptionManager) Subscribe(clientID string, filter *SubscriptionFilter) error {
	if !knownSubscriptionTypes[filter.Type] {
		return ErrUnknownSubscription
	}

	m.mu.RLock()
	client, exists := m.clients[clientID]
	m.mu.RUnlock()
	if !exists {
		return ErrClientNotFound
	}

	client.mu.Lock()
	client.Subscriptions[filter.Type] = filter
	client.mu.Unlock()

	m.subscriptionMu.Lock()
	defer m.subscriptionMu.Unlock()
	if m.index[filter.Type] == nil {
		m.index[filter.Type] = make(map[string]bool)
	}
	m.index[filter.Type][clientID] = true
	return nil
}

// Unsubscribe removes a subscription for a client
func (m *WebSocketSubscriptionManager) Unsubscribe(clientID string, subType SubscriptionType) error {
	m.mu.RLock()
	client, exists := m.clients[clientID]
	m.mu.RUnlock()
	if !exists {
		return ErrClientNotFound
	}

	client.mu.Lock()
	_, exists = client.Subscriptions[subType]
	delete(client.Subscriptions, subType)
	client.mu.Unlock()
	if !exists {
		return ErrSubscriptionNotFound
	}

	m.subscriptionMu.Lock()
	defer m.subscriptionMu.Unlock()
	delete(m.index[subType], clientID)
	return nil
}

// ClientsFor returns the clients whose subscription matches event
func (m *WebSocketSubscriptionManager) ClientsFor(event StatusEvent) []string {
	subType := eventSubscriptionType(event.Kind)

	m.subscriptionMu.RLock()
	candidates := make([]string, 0, len(m.index[subType]))
	for clientID := range m.index[subType] {
		candidates = append(candidates, clientID)
	}
	m.subscriptionMu.RUnlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var clientIDs []string
	for _, clientID := range candidates {
		client, ok := m.clients[clientID]
		if !ok {
			continue
		}
		client.mu.RLock()
		filter := client.Subscriptions[subType]
		client.mu.RUnlock()
		if filter != nil && filter.Matches(event) {
			clientIDs = append(clientIDs, clientID)
		}
	}
	return clientIDs
}
