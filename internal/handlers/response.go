package handlers

import (
	"errors"
	"net/http"

	"nvct-backend/internal/config"
	"nvct-backend/internal/middleware"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"
	"nvct-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NetworkResolver turns the requested network (possibly empty) and the actor
// into the context passed to every operation
type NetworkResolver func(requested, actor string) (models.NetworkContext, error)

// resolveNetwork reads ?network= and the authenticated actor
func resolveNetwork(c *gin.Context, resolve NetworkResolver) (models.NetworkContext, bool) {
	nc, err := resolve(c.Query("network"), middleware.Actor(c))
	if err != nil {
		respondError(c, err, nil)
		return models.NetworkContext{}, false
	}
	return nc, true
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	// Validation
	{services.ErrInvalidAddress, http.StatusBadRequest, "INVALID_ADDRESS"},
	{services.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{services.ErrInvalidPayload, http.StatusBadRequest, "INVALID_PAYLOAD"},
	{services.ErrSignerUnavailable, http.StatusBadRequest, "SIGNER_UNAVAILABLE"},
	{services.ErrNetworkUnconfigured, http.StatusBadRequest, "NETWORK_UNCONFIGURED"},
	{services.ErrUnknownOperation, http.StatusBadRequest, "UNKNOWN_OPERATION"},
	{models.ErrUnknownNetwork, http.StatusBadRequest, "UNKNOWN_NETWORK"},
	{config.ErrContractNotFound, http.StatusBadRequest, "CONTRACT_NOT_FOUND"},
	// Authorization
	{services.ErrInvalidSecurityCode, http.StatusUnauthorized, "INVALID_SECURITY_CODE"},
	{services.ErrInvalidPassword, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{services.ErrNotAdmin, http.StatusForbidden, "NOT_ADMIN"},
	{services.ErrUnknownOwner, http.StatusForbidden, "UNKNOWN_OWNER"},
	{services.ErrMissingAcknowledgment, http.StatusForbidden, "ACKNOWLEDGEMENT_REQUIRED"},
	// Lookup
	{services.ErrMultisigNotFound, http.StatusNotFound, "MULTISIG_NOT_FOUND"},
	{services.ErrSettlementNotFound, http.StatusNotFound, "SETTLEMENT_NOT_FOUND"},
	{services.ErrOperationNotFound, http.StatusNotFound, "OPERATION_NOT_FOUND"},
	{services.ErrOperationExpired, http.StatusNotFound, "OPERATION_EXPIRED"},
	{repository.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	// State-conflict
	{services.ErrAlreadyConfirmed, http.StatusConflict, "ALREADY_CONFIRMED"},
	{services.ErrAlreadyExecuted, http.StatusConflict, "ALREADY_EXECUTED"},
	{services.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
	{services.ErrInsufficientConfirmations, http.StatusConflict, "INSUFFICIENT_CONFIRMATIONS"},
	{services.ErrCodeNotIssued, http.StatusConflict, "CODE_NOT_ISSUED"},
	{repository.ErrDuplicate, http.StatusConflict, "DUPLICATE"},
	// Connectivity
	{services.ErrConnection, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE"},
	{services.ErrDeliveryFailed, http.StatusServiceUnavailable, "DELIVERY_FAILED"},
	// Chain-execution
	{services.ErrExecutionReverted, http.StatusUnprocessableEntity, "EXECUTION_REVERTED"},
	{services.ErrTransactionRejected, http.StatusUnprocessableEntity, "TRANSACTION_REJECTED"},
	{services.ErrPendingTimeout, http.StatusAccepted, "PENDING_TIMEOUT"},
}

// statusFor maps an error to its HTTP status and code
func statusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// respondError writes the error envelope. data, when non-nil, is the record the
// failed operation left behind (a reverted settlement, a pending execution).
func respondError(c *gin.Context, err error, data interface{}) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).Error("❌ [API] request failed")
	}

	body := gin.H{
		"success": status < http.StatusBadRequest,
		"error":   err.Error(),
		"code":    code,
	}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondDispatch writes the outcome of a gated operation: 202 with the pending
// operation on mainnet, the handler result otherwise. Re-executing an executed
// multisig transaction returns the original receipt with 200.
func respondDispatch(c *gin.Context, res *services.DispatchResult, err error, created int) {
	var result interface{}
	if res != nil {
		result = res.Result
	}
	if err != nil {
		if errors.Is(err, services.ErrAlreadyExecuted) && result != nil {
			c.JSON(http.StatusOK, gin.H{
				"success":          true,
				"data":             result,
				"already_executed": true,
			})
			return
		}
		respondError(c, err, result)
		return
	}
	if !res.Executed {
		c.JSON(http.StatusAccepted, gin.H{
			"success":              true,
			"confirmation_pending": true,
			"operation":            res.Operation,
		})
		return
	}
	respondOK(c, created, result)
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return false
	}
	return true
}
