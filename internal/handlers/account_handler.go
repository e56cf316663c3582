package handlers

import (
	"fmt"
	"net/http"

	"nvct-backend/internal/dto"
	"nvct-backend/internal/services"
	"nvct-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// AccountHandler balance lookups of managed accounts
type AccountHandler struct {
	ledger  *services.LedgerConnector
	resolve NetworkResolver
}

func NewAccountHandler(ledger *services.LedgerConnector, resolve NetworkResolver) *AccountHandler {
	return &AccountHandler{ledger: ledger, resolve: resolve}
}

// Balance 查询账户余额
// GET /api/accounts/:address/balance?network=
func (h *AccountHandler) Balance(c *gin.Context) {
	nc, ok := resolveNetwork(c, h.resolve)
	if !ok {
		return
	}
	address, err := utils.ParseAddress(c.Param("address"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: %s", services.ErrInvalidAddress, c.Param("address")), nil)
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), nc.Network, address)
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
