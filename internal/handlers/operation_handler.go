package handlers

import (
	"net/http"

	"nvct-backend/internal/dto"
	"nvct-backend/internal/middleware"
	"nvct-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// OperationHandler pending mainnet operations at the security gate
type OperationHandler struct {
	gate *services.SecurityGateService
}

func NewOperationHandler(gate *services.SecurityGateService) *OperationHandler {
	return &OperationHandler{gate: gate}
}

// Get GET /api/operations/:id
func (h *OperationHandler) Get(c *gin.Context) {
	view, err := h.gate.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, view)
}

// IssueCode 发送安全码 to the calling admin's registered contact; a second call
// replaces the previous code
// POST /api/operations/:id/code
func (h *OperationHandler) IssueCode(c *gin.Context) {
	var req dto.IssueCodeRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if err := h.gate.IssueCode(c.Request.Context(), c.Param("id"), middleware.Actor(c), req.Channel); err != nil {
		respondError(c, err, nil)
		return
	}
	view, err := h.gate.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, view)
}

// Confirm 确认并执行待处理操作
// POST /api/operations/:id/confirm
func (h *OperationHandler) Confirm(c *gin.Context) {
	var req dto.ConfirmOperationRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.gate.Confirm(c.Request.Context(), c.Param("id"), services.ConfirmRequest{
		SecurityCode:     req.SecurityCode,
		UserID:           middleware.Actor(c),
		Password:         req.Password,
		Acknowledgements: req.Acknowledgements,
	})
	respondDispatch(c, &services.DispatchResult{Executed: err == nil, Result: result}, err, http.StatusOK)
}
