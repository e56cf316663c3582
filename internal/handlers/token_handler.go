package handlers

import (
	"fmt"
	"net/http"

	"nvct-backend/internal/dto"
	"nvct-backend/internal/models"
	"nvct-backend/internal/services"
	"nvct-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// TokenHandler NVC 代币处理器
type TokenHandler struct {
	service *services.TokenService
	gate    *services.SecurityGateService
	resolve NetworkResolver
}

func NewTokenHandler(service *services.TokenService, gate *services.SecurityGateService, resolve NetworkResolver) *TokenHandler {
	return &TokenHandler{service: service, gate: gate, resolve: resolve}
}

// Transfer 代币转账
// POST /api/tokens/transfer
func (h *TokenHandler) Transfer(c *gin.Context) {
	nc, ok := resolveNetwork(c, h.resolve)
	if !ok {
		return
	}
	var req services.TokenTransferRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.gate.Dispatch(c.Request.Context(), nc, models.OperationTokenTransfer, req)
	respondDispatch(c, res, err, http.StatusOK)
}

// Mint 铸币 (admin)
// POST /api/tokens/mint
func (h *TokenHandler) Mint(c *gin.Context) {
	nc, ok := resolveNetwork(c, h.resolve)
	if !ok {
		return
	}
	var req services.TokenMintRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.gate.Dispatch(c.Request.Context(), nc, models.OperationTokenMint, req)
	respondDispatch(c, res, err, http.StatusOK)
}

// Burn 销毁 (admin)
// POST /api/tokens/burn
func (h *TokenHandler) Burn(c *gin.Context) {
	nc, ok := resolveNetwork(c, h.resolve)
	if !ok {
		return
	}
	var req services.TokenBurnRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.gate.Dispatch(c.Request.Context(), nc, models.OperationTokenBurn, req)
	respondDispatch(c, res, err, http.StatusOK)
}

// Balance 查询代币余额
// GET /api/tokens/:address/balance?network=
func (h *TokenHandler) Balance(c *gin.Context) {
	nc, ok := resolveNetwork(c, h.resolve)
	if !ok {
		return
	}
	address, err := utils.ParseAddress(c.Param("address"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: %s", services.ErrInvalidAddress, c.Param("address")), nil)
		return
	}
	balance, err := h.service.BalanceOf(c.Request.Context(), nc.Network, address)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, dto.BalanceResponse{
		Network: nc.Network,
		Address: address.Hex(),
		Balance: balance.String(),
	})
}
