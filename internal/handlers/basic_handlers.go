package handlers

import (
	"context"
	"net/http"
	"time"

	"nvct-backend/internal/clients"
	"nvct-backend/internal/config"
	"nvct-backend/internal/db"
	"nvct-backend/internal/models"
	"nvct-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const healthTimeout = 3 * time.Second

// HealthHandler reports the state of the process and its dependencies.
// Every dependency is optional, so a missing one is reported, not failed.
type HealthHandler struct {
	database  *gorm.DB
	redis     redis.UniversalClient
	nats      *clients.NATSClient
	ledger    *services.LedgerConnector
	contracts *config.ContractRegistry
	push      *services.WebSocketPushService
}

func NewHealthHandler(database *gorm.DB, redisClient redis.UniversalClient, natsClient *clients.NATSClient, ledger *services.LedgerConnector, contracts *config.ContractRegistry, push *services.WebSocketPushService) *HealthHandler {
	return &HealthHandler{
		database:  database,
		redis:     redisClient,
		nats:      natsClient,
		ledger:    ledger,
		contracts: contracts,
		push:      push,
	}
}

// HealthCheck
// GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	healthy := true
	checks := gin.H{}

	switch {
	case h.database == nil:
		checks["database"] = "memory"
	case db.HealthCheck(ctx, h.database) != nil:
		checks["database"] = "unreachable"
		healthy = false
	default:
		checks["database"] = "ok"
	}

	switch {
	case h.redis == nil:
		checks["redis"] = "disabled"
	case h.redis.Ping(ctx).Err() != nil:
		checks["redis"] = "unreachable"
		healthy = false
	default:
		checks["redis"] = "ok"
	}

	switch {
	case h.nats == nil:
		checks["nats"] = "disabled"
	case !h.nats.IsConnected():
		// events degrade to local delivery
		checks["nats"] = "disconnected"
	default:
		checks["nats"] = "ok"
	}

	nodes := gin.H{}
	for _, network := range []models.Network{models.NetworkTestnet, models.NetworkMainnet} {
		if h.ledger != nil && h.ledger.HasNetwork(network) {
			nodes[string(network)] = "connected"
		} else {
			nodes[string(network)] = "unavailable"
		}
	}
	checks["ledger_nodes"] = nodes

	body := gin.H{
		"status":  "ok",
		"service": "nvct-backend",
		"checks":  checks,
	}
	if h.contracts != nil {
		body["current_network"] = h.contracts.CurrentNetwork()
	}
	if h.push != nil {
		body["websocket_connections"] = h.push.ActiveConnections()
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
