package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"nvct-backend/internal/config"
	"nvct-backend/internal/dto"
	"nvct-backend/internal/middleware"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"
	"nvct-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const newAddress = "0xb2c857f7aecb1dead987ceb5323f88c3ef0b7c3e"

type stubCredentials struct{}

func (stubCredentials) VerifyPassword(_ context.Context, userID, password string) bool {
	return userID == "admin" && password == "secret"
}

func (stubCredentials) IsAdmin(_ context.Context, userID string) bool { return userID == "admin" }

func (stubCredentials) Contact(_ context.Context, userID string) (string, error) {
	return userID + "@example.com", nil
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type captureNotifier struct {
	mu    sync.Mutex
	codes []string
}

func (n *captureNotifier) Deliver(_ context.Context, _, _, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, codePattern.FindString(body))
	return nil
}

func (n *captureNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.codes) == 0 {
		return ""
	}
	return n.codes[len(n.codes)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []services.StatusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event services.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type testEnv struct {
	engine    *gin.Engine
	contracts *config.ContractRegistry
	notifier  *captureNotifier
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	contracts, err := config.NewContractRegistry("", models.NetworkTestnet)
	require.NoError(t, err)

	notifier := &captureNotifier{}
	router := services.NewNotificationRouter("capture")
	router.Register("capture", notifier)
	publisher := &recordingPublisher{}

	gate := services.NewSecurityGateService(repository.NewMemoryOperationStore(), stubCredentials{}, router, publisher, services.SecurityGateConfig{})
	gate.RegisterHandler(models.OperationContractUpdate, func(_ context.Context, nc models.NetworkContext, payload json.RawMessage) (interface{}, error) {
		var req dto.UpdateContractPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if err := contracts.Update(nc.Network, req.ContractName, req.Address); err != nil {
			return nil, err
		}
		return req, nil
	})

	networks := NewNetworkHandler(contracts, gate, publisher)
	operations := NewOperationHandler(gate)

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(middleware.ContextActor, "admin")
		c.Next()
	})
	engine.GET("/networks/current", networks.Current)
	engine.PUT("/networks/current", networks.Switch)
	engine.GET("/networks/:network/contracts/:name", networks.GetContract)
	engine.PUT("/networks/:network/contracts/:name", networks.UpdateContract)
	engine.GET("/operations/:id", operations.Get)
	engine.POST("/operations/:id/code", operations.IssueCode)
	engine.POST("/operations/:id/confirm", operations.Confirm)

	return &testEnv{engine: engine, contracts: contracts, notifier: notifier, publisher: publisher}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestUpdateContractOnTestnetRunsImmediately(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPut, "/networks/testnet/contracts/settlement_contract", dto.AddressRequest{Address: newAddress})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])

	testnet := models.NetworkTestnet
	addr, err := env.contracts.Resolve(models.ContractSettlement, &testnet)
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(newAddress, addr))
}

func TestUpdateContractOnMainnetWaitsForConfirmation(t *testing.T) {
	env := newTestEnv(t)
	mainnet := models.NetworkMainnet

	status, body := env.do(t, http.MethodPut, "/networks/mainnet/contracts/settlement_contract", dto.AddressRequest{Address: newAddress})
	require.Equal(t, http.StatusAccepted, status, body)
	assert.Equal(t, true, body["confirmation_pending"])
	op := body["operation"].(map[string]interface{})
	opID := op["operation_id"].(string)
	assert.NotContains(t, op, "security_code")

	// nothing changes before confirmation
	_, err := env.contracts.Resolve(models.ContractSettlement, &mainnet)
	assert.ErrorIs(t, err, config.ErrContractNotFound)

	status, body = env.do(t, http.MethodPost, "/operations/"+opID+"/confirm", dto.ConfirmOperationRequest{SecurityCode: "000000", Password: "secret"})
	assert.Equal(t, http.StatusConflict, status, body)
	assert.Equal(t, "CODE_NOT_ISSUED", body["code"])

	status, body = env.do(t, http.MethodPost, "/operations/"+opID+"/code", nil)
	require.Equal(t, http.StatusOK, status, body)
	code := env.notifier.last()
	require.Len(t, code, 6)

	status, body = env.do(t, http.MethodPost, "/operations/"+opID+"/confirm", dto.ConfirmOperationRequest{SecurityCode: code, Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status, body)

	status, body = env.do(t, http.MethodPost, "/operations/"+opID+"/confirm", dto.ConfirmOperationRequest{SecurityCode: code, Password: "secret"})
	require.Equal(t, http.StatusOK, status, body)

	addr, err := env.contracts.Resolve(models.ContractSettlement, &mainnet)
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(newAddress, addr))

	// the operation is consumed
	status, body = env.do(t, http.MethodPost, "/operations/"+opID+"/confirm", dto.ConfirmOperationRequest{SecurityCode: code, Password: "secret"})
	assert.Equal(t, http.StatusNotFound, status, body)
}

func TestGetContractUnknownNetwork(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/networks/devnet/contracts/settlement_contract", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "UNKNOWN_NETWORK", body["code"])
}

func TestSwitchNetworkPublishesEvent(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPut, "/networks/current", dto.SwitchNetworkRequest{Network: "mainnet"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, models.NetworkMainnet, env.contracts.CurrentNetwork())

	require.Len(t, env.publisher.events, 1)
	assert.Equal(t, services.EventNetworkSwitched, env.publisher.events[0].Kind)

	// switching to the current network again is silent
	status, _ = env.do(t, http.MethodPut, "/networks/current", dto.SwitchNetworkRequest{Network: "mainnet"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, env.publisher.events, 1)
}

func TestStatusForMapsErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", services.ErrInvalidAddress), http.StatusBadRequest},
		{services.ErrNotAdmin, http.StatusForbidden},
		{services.ErrInvalidSecurityCode, http.StatusUnauthorized},
		{fmt.Errorf("%w: x", services.ErrSettlementNotFound), http.StatusNotFound},
		{services.ErrAlreadyConfirmed, http.StatusConflict},
		{&services.LedgerError{Kind: services.ErrConnection, Err: errors.New("dial")}, http.StatusServiceUnavailable},
		{&services.LedgerError{Kind: services.ErrExecutionReverted}, http.StatusUnprocessableEntity},
		{services.ErrPendingTimeout, http.StatusAccepted},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}
