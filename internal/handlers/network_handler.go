package handlers

import (
	"net/http"

	"nvct-backend/internal/config"
	"nvct-backend/internal/dto"
	"nvct-backend/internal/middleware"
	"nvct-backend/internal/models"
	"nvct-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NetworkHandler network flag and contract address registry
type NetworkHandler struct {
	contracts *config.ContractRegistry
	gate      *services.SecurityGateService
	publisher services.EventPublisher
}

func NewNetworkHandler(contracts *config.ContractRegistry, gate *services.SecurityGateService, publisher services.EventPublisher) *NetworkHandler {
	return &NetworkHandler{
		contracts: contracts,
		gate:      gate,
		publisher: publisher,
	}
}

// List 列出所有网络及合约地址
// GET /api/networks
func (h *NetworkHandler) List(c *gin.Context) {
	respondOK(c, http.StatusOK, h.contracts.Networks())
}

// Current GET /api/networks/current
func (h *NetworkHandler) Current(c *gin.Context) {
	network := h.contracts.CurrentNetwork()
	respondOK(c, http.StatusOK, gin.H{
		"network": network,
		"mainnet": network.IsMainnet(),
	})
}

// Switch 切换当前网络 (admin)
// PUT /api/networks/current
func (h *NetworkHandler) Switch(c *gin.Context) {
	var req dto.SwitchNetworkRequest
	if !bindJSON(c, &req) {
		return
	}
	network, err := models.ParseNetwork(req.Network)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	previous := h.contracts.CurrentNetwork()
	actor := middleware.Actor(c)
	if err := h.contracts.SetCurrentNetwork(network, actor); err != nil {
		respondError(c, err, nil)
		return
	}

	if previous != network && h.publisher != nil {
		if err := h.publisher.Publish(c.Request.Context(), services.StatusEvent{
			Kind:      services.EventNetworkSwitched,
			Network:   network,
			Reference: string(network),
			Status:    string(network),
			Data:      gin.H{"previous": previous, "actor": actor},
		}); err != nil {
			logrus.WithError(err).Warn("⚠️ [Network] failed to publish network switch")
		}
	}

	respondOK(c, http.StatusOK, gin.H{
		"network":  network,
		"previous": previous,
		"mainnet":  network.IsMainnet(),
	})
}

// GetContract GET /api/networks/:network/contracts/:name
func (h *NetworkHandler) GetContract(c *gin.Context) {
	network, err := models.ParseNetwork(c.Param("network"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	name := c.Param("name")
	address, err := h.contracts.Resolve(name, &network)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"network":       network,
		"contract_name": name,
		"address":       address,
	})
}

// UpdateContract 更新合约地址; mainnet updates wait at the security gate
// PUT /api/networks/:network/contracts/:name
func (h *NetworkHandler) UpdateContract(c *gin.Context) {
	network, err := models.ParseNetwork(c.Param("network"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	var req dto.AddressRequest
	if !bindJSON(c, &req) {
		return
	}

	nc := models.NewNetworkContext(network, middleware.Actor(c))
	res, err := h.gate.Dispatch(c.Request.Context(), nc, models.OperationContractUpdate, dto.UpdateContractPayload{
		ContractName: c.Param("name"),
		Address:      req.Address,
	})
	respondDispatch(c, res, err, http.StatusOK)
}
