package app

import (
	"context"
	"encoding/json"
	"fmt"

	"nvct-backend/internal/config"
	"nvct-backend/internal/dto"
	"nvct-backend/internal/models"
	"nvct-backend/internal/services"
	"nvct-backend/internal/utils"
)

// registerOperationHandlers binds every gated operation type to the service call
// that performs it. The same handler runs directly on testnet and after
// confirmation on mainnet.
func registerOperationHandlers(gate *services.SecurityGateService, multisig *services.MultisigService, settlements *services.SettlementService, tokens *services.TokenService, contracts *config.ContractRegistry) {
	gate.RegisterHandler(models.OperationSettlePayment, func(ctx context.Context, nc models.NetworkContext, payload json.RawMessage) (interface{}, error) {
		var req services.CreateSettlementRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		settlement, err := settlements.Create(ctx, nc, req)
		return result(settlement, err)
	})

	gate.RegisterHandler(models.OperationMultisigSubmit, func(ctx context.Context, nc models.NetworkContext, payload json.RawMessage) (interface{}, error) {
		var req services.SubmitMultisigRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		tx, err := multisig.Submit(ctx, nc, req)
		return result(tx, err)
	})

	gate.RegisterHandler(models.OperationMultisigConfirm, func(ctx context.Context, _ models.NetworkContext, payload json.RawMessage) (interface{}, error) {
		var req dto.ConfirmMultisigPayload
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		tx, err := multisig.Confirm(ctx, req.TransactionID, req.Owner)
		return result(tx, err)
	})

	gate.RegisterHandler(models.OperationMultisigExecute, func(ctx context.Context, _ models.NetworkContext, payload json.RawMessage) (interface{}, error) {
		var req dto.ExecuteMultisigPayload
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		receipt, err := multisig.Execute(ctx, req.TransactionID, req.Caller)
		return result(receipt, err)
	})

	gate.RegisterHandler(models.OperationTokenTransfer, func(ctx context.Context, nc models.NetworkContext, payload json.RawMessage) (interface{}, error) {
		var req services.TokenTransferRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		tx, err := tokens.Transfer(ctx, nc, req)
		return result(tx, err)
	})

	gate.RegisterHandler(models.OperationTokenMint, func(ctx context.Context, nc models.NetworkContext, payload json.RawMessage) (interface{}, error) {
		var req services.TokenMintRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		tx, err := tokens.Mint(ctx, nc, req)
		return result(tx, err)
	})

	gate.RegisterHandler(models.OperationTokenBurn, func(ctx context.Context, nc models.NetworkContext, payload json.RawMessage) (interface{}, error) {
		var req services.TokenBurnRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		tx, err := tokens.Burn(ctx, nc, req)
		return result(tx, err)
	})

	gate.RegisterHandler(models.OperationContractUpdate, func(_ context.Context, nc models.NetworkContext, payload json.RawMessage) (interface{}, error) {
		var req dto.UpdateContractPayload
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		addr, err := utils.ParseAddress(req.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", services.ErrInvalidAddress, req.Address)
		}
		if err := contracts.Update(nc.Network, req.ContractName, addr.Hex()); err != nil {
			return nil, err
		}
		return map[string]string{
			"network":       nc.Network.String(),
			"contract_name": req.ContractName,
			"address":       addr.Hex(),
		}, nil
	})
}

func decode(payload json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", services.ErrInvalidPayload, err)
	}
	return nil
}

// result keeps a nil record from turning into a non-nil interface
func result[T any](v *T, err error) (interface{}, error) {
	if v == nil {
		return nil, err
	}
	return v, err
}
