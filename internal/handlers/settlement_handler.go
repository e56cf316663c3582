package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"nvct-backend/internal/middleware"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"
	"nvct-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// SettlementHandler 结算处理器
type SettlementHandler struct {
	service *services.SettlementService
	gate    *services.SecurityGateService
	resolve NetworkResolver
}

func NewSettlementHandler(service *services.SettlementService, gate *services.SecurityGateService, resolve NetworkResolver) *SettlementHandler {
	return &SettlementHandler{
		service: service,
		gate:    gate,
		resolve: resolve,
	}
}

// Create 创建结算 (mainnet: waits at the security gate)
// POST /api/settlements
func (h *SettlementHandler) Create(c *gin.Context) {
	nc, ok := resolveNetwork(c, h.resolve)
	if !ok {
		return
	}
	var req services.CreateSettlementRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.gate.Dispatch(c.Request.Context(), nc, models.OperationSettlePayment, req)
	respondDispatch(c, res, err, http.StatusCreated)
}

// List GET /api/settlements?network=&status=&from_address=&limit=
func (h *SettlementHandler) List(c *gin.Context) {
	filter := repository.SettlementFilter{
		Status:      models.SettlementStatus(c.Query("status")),
		FromAddress: c.Query("from_address"),
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if raw := c.Query("network"); raw != "" {
		network, err := models.ParseNetwork(raw)
		if err != nil {
			respondError(c, err, nil)
			return
		}
		filter.Network = network
	}

	settlements, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    settlements,
		"count":   len(settlements),
	})
}

// Get GET /api/settlements/:id
func (h *SettlementHandler) Get(c *gin.Context) {
	settlement, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, settlement)
}

// Poll 刷新结算链上状态
// POST /api/settlements/:id/poll
func (h *SettlementHandler) Poll(c *gin.Context) {
	settlement, err := h.service.Poll(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, settlement)
		return
	}
	respondOK(c, http.StatusOK, settlement)
}

// Cancel 取消待处理结算
// POST /api/settlements/:id/cancel
func (h *SettlementHandler) Cancel(c *gin.Context) {
	settlement, err := h.service.Cancel(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		if errors.Is(err, services.ErrInvalidState) && settlement != nil {
			respondError(c, err, settlement)
			return
		}
		respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, settlement)
}
