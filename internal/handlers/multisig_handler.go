package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"nvct-backend/internal/dto"
	"nvct-backend/internal/middleware"
	"nvct-backend/internal/models"
	"nvct-backend/internal/services"
	"nvct-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// OwnerDirectory maps an authenticated user to the wallet owner address it may act as
type OwnerDirectory interface {
	Address(ctx context.Context, userID string) (string, error)
}

type MultisigHandler struct {
	service *services.MultisigService
	gate    *services.SecurityGateService
	owners  OwnerDirectory
	resolve NetworkResolver
}

func NewMultisigHandler(service *services.MultisigService, gate *services.SecurityGateService, owners OwnerDirectory, resolve NetworkResolver) *MultisigHandler {
	return &MultisigHandler{
		service: service,
		gate:    gate,
		owners:  owners,
		resolve: resolve,
	}
}

// actingOwner the owner address bound to the caller's account. A claimed address in
// the body must match it; an empty claim means the bound address.
func (h *MultisigHandler) actingOwner(c *gin.Context, claimed string) (string, bool) {
	actor := middleware.Actor(c)
	bound, err := h.owners.Address(c.Request.Context(), actor)
	if err != nil {
		respondError(c, err, nil)
		return "", false
	}
	if claimed == "" {
		return bound, true
	}
	addr, err := utils.ParseAddress(claimed)
	if err != nil {
		respondError(c, fmt.Errorf("%w: %s", services.ErrInvalidAddress, claimed), nil)
		return "", false
	}
	if addr.Hex() != bound {
		logrus.WithFields(logrus.Fields{
			"actor":   actor,
			"bound":   bound,
			"claimed": addr.Hex(),
			"path":    c.FullPath(),
		}).Warn("🚫 [Multisig] caller claimed another owner's address")
		respondError(c, fmt.Errorf("%w: %s may not act as %s", services.ErrUnknownOwner, actor, addr.Hex()), nil)
		return "", false
	}
	return bound, true
}

// Submit 提交多签交易
// POST /api/multisig/transactions
func (h *MultisigHandler) Submit(c *gin.Context) {
	nc, ok := resolveNetwork(c, h.resolve)
	if !ok {
		return
	}
	var req services.SubmitMultisigRequest
	if !bindJSON(c, &req) {
		return
	}
	proposer, ok := h.actingOwner(c, req.Proposer)
	if !ok {
		return
	}
	req.Proposer = proposer
	res, err := h.gate.Dispatch(c.Request.Context(), nc, models.OperationMultisigSubmit, req)
	respondDispatch(c, res, err, http.StatusCreated)
}

// Confirm 确认多签交易
// POST /api/multisig/transactions/:id/confirm
func (h *MultisigHandler) Confirm(c *gin.Context) {
	var req dto.OwnerRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	owner, ok := h.actingOwner(c, req.Owner)
	if !ok {
		return
	}
	nc, ok := h.transactionNetwork(c)
	if !ok {
		return
	}
	res, err := h.gate.Dispatch(c.Request.Context(), nc, models.OperationMultisigConfirm, dto.ConfirmMultisigPayload{
		TransactionID: c.Param("id"),
		Owner:         owner,
	})
	respondDispatch(c, res, err, http.StatusOK)
}

// Execute 执行多签交易
// POST /api/multisig/transactions/:id/execute
func (h *MultisigHandler) Execute(c *gin.Context) {
	var req dto.CallerRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	caller, ok := h.actingOwner(c, req.Caller)
	if !ok {
		return
	}
	nc, ok := h.transactionNetwork(c)
	if !ok {
		return
	}
	res, err := h.gate.Dispatch(c.Request.Context(), nc, models.OperationMultisigExecute, dto.ExecuteMultisigPayload{
		TransactionID: c.Param("id"),
		Caller:        caller,
	})
	respondDispatch(c, res, err, http.StatusOK)
}

// transactionNetwork confirmations and executions run on the network the
// transaction was submitted to, whatever the current flag says
func (h *MultisigHandler) transactionNetwork(c *gin.Context) (models.NetworkContext, bool) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return models.NetworkContext{}, false
	}
	return models.NewNetworkContext(tx.Network, middleware.Actor(c)), true
}

// List 获取多签交易列表
// GET /api/multisig/transactions?network=&executed=&limit=
func (h *MultisigHandler) List(c *gin.Context) {
	nc, ok := resolveNetwork(c, h.resolve)
	if !ok {
		return
	}
	var executed *bool
	if raw := c.Query("executed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "executed must be true or false",
				"code":    "INVALID_REQUEST",
			})
			return
		}
		executed = &v
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	txs, err := h.service.List(c.Request.Context(), nc.Network, executed, limit)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    txs,
		"network": nc.Network,
		"count":   len(txs),
	})
}

// Get 获取多签交易详情 (reads through to the ledger for pending executions)
// GET /api/multisig/transactions/:id
func (h *MultisigHandler) Get(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, status)
}
