package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OmniTransferToSpot moves custodied funds to the spot network. The user's
// balance (or the pool's, when FromPool is set) is debited amount+fee and the
// fee is retained. Multi-chain assets stay in custody as pool liquidity;
// every other asset is forwarded to the settlement gateway.
func (e *Engine) OmniTransferToSpot(ctx context.Context, caller common.Address, params BridgeParams, order *Order) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if err := e.guardReentry("omni transfer"); err != nil {
			return err
		}
		if err := validateBridgeParams(params); err != nil {
			return err
		}
		req := OmniRequest(DomainOmni, params.User, params.Amount, params.Asset, params.DestRef, params.Fee, orderExpire(order), orderID(order), e.instance)
		if err := e.relayAuthorize(caller, req, order); err != nil {
			return err
		}
		if err := e.bridge(ctx, params); err != nil {
			return err
		}
		e.emit(NewOmniTransferEvent(caller, params))
		return nil
	})
}

func validateBridgeParams(params BridgeParams) error {
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer amount must be positive", ErrInvalidArgument)
	}
	if params.Fee == nil || params.Fee.Sign() < 0 {
		return fmt.Errorf("%w: transfer fee must not be negative", ErrInvalidArgument)
	}
	if params.User == (common.Address{}) {
		return fmt.Errorf("%w: user required", ErrInvalidArgument)
	}
	if params.DestRef == ([32]byte{}) {
		return fmt.Errorf("%w: destination reference required", ErrInvalidArgument)
	}
	return nil
}

func (e *Engine) bridge(ctx context.Context, params BridgeParams) error {
	source, holder := ClassUser, params.User
	if params.FromPool {
		source, holder = ClassPool, common.Address{}
	}
	total := new(big.Int).Add(params.Amount, params.Fee)
	if err := e.debit(source, holder, params.Asset, total); err != nil {
		return err
	}
	if err := e.credit(ClassFee, common.Address{}, params.Asset, params.Fee); err != nil {
		return err
	}
	multiChain, err := e.IsMultiChainAsset(params.Asset)
	if err != nil {
		return err
	}
	if multiChain {
		return e.credit(ClassPool, common.Address{}, params.Asset, params.Amount)
	}
	return e.forward(ctx, params.User, params.Asset, params.Amount, params.DestRef)
}

func (e *Engine) forward(ctx context.Context, user, asset common.Address, amount *big.Int, destRef [32]byte) error {
	if e.gateway == nil {
		return fmt.Errorf("%w: settlement gateway not configured", ErrExternalCallFailed)
	}
	gatewayAddr := e.gateway.Address()
	if err := e.assets.Transfer(e.instance, gatewayAddr, asset, amount); err != nil {
		return fmt.Errorf("%w: deliver %s to gateway: %v", ErrExternalCallFailed, asset.Hex(), err)
	}
	deposit := SpotDeposit{
		From:    e.instance,
		User:    user,
		Asset:   asset,
		Amount:  new(big.Int).Set(amount),
		DestRef: destRef,
	}
	if err := e.callOut(func() error { return e.gateway.DepositToSpot(ctx, deposit) }); err != nil {
		return fmt.Errorf("%w: gateway %s: %v", ErrExternalCallFailed, gatewayAddr.Hex(), err)
	}
	return nil
}

// SwapAndBridge swaps the user's balance and forwards the entire measured
// output to the settlement gateway in one operation. The bridge leg carries no
// fee.
func (e *Engine) SwapAndBridge(ctx context.Context, caller common.Address, params SwapAndBridgeParams, order *Order) (*SwapResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var result *SwapResult
	err := e.atomic(func() error {
		if err := e.guardReentry("swap and bridge"); err != nil {
			return err
		}
		swapParams := params.Swap
		if err := validateSwapParams(swapParams); err != nil {
			return err
		}
		if params.DestRef == ([32]byte{}) {
			return fmt.Errorf("%w: destination reference required", ErrInvalidArgument)
		}
		req := OmniRequest(DomainSwapBridge, swapParams.Recipient, swapParams.Amount, swapParams.SrcAsset, params.DestRef, swapParams.Fee, orderExpire(order), orderID(order), e.instance)
		if err := e.relayAuthorize(caller, req, order); err != nil {
			return err
		}
		res, err := e.swap(ctx, ClassUser, caller, swapParams)
		if err != nil {
			return err
		}
		e.emit(NewSwapEvent(ClassUser, caller, swapParams, res, swapReference(swapParams.Router, order)))
		bridgeParams := BridgeParams{
			Asset:   res.DstAsset,
			Amount:  res.Received,
			DestRef: params.DestRef,
			User:    swapParams.Recipient,
			Fee:     new(big.Int),
		}
		if res.Received.Sign() == 0 {
			return fmt.Errorf("%w: swap delivered nothing to bridge", ErrSlippageNotMet)
		}
		if err := e.bridge(ctx, bridgeParams); err != nil {
			return err
		}
		e.emit(NewOmniTransferEvent(caller, bridgeParams))
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
