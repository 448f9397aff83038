package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EmergencyWithdrawETH releases raw native currency to recipient under an
// ETHER quorum. Pool, user and fee ledgers are left untouched; operators must
// reconcile them afterwards.
func (e *Engine) EmergencyWithdrawETH(ctx context.Context, caller, recipient common.Address, amount *big.Int, order Order) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if err := validateEmergency(recipient, amount); err != nil {
			return err
		}
		req := EtherRequest(recipient, amount, order.ExpireTime, order.OrderID, e.instance, e.chainID)
		if err := e.authorize(req, &order, false); err != nil {
			return err
		}
		if err := e.payout(recipient, NativeAsset, amount); err != nil {
			return err
		}
		e.emit(NewEmergencyWithdrawEvent(caller, recipient, NativeAsset, amount, order.OrderID))
		return nil
	})
}

// EmergencyWithdrawErc20 releases a raw token balance to recipient under an
// ERC20 quorum, bypassing the ledgers like EmergencyWithdrawETH.
func (e *Engine) EmergencyWithdrawErc20(ctx context.Context, caller, recipient common.Address, amount *big.Int, asset common.Address, order Order) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if err := validateEmergency(recipient, amount); err != nil {
			return err
		}
		if asset == NativeAsset {
			return fmt.Errorf("%w: token address required", ErrInvalidArgument)
		}
		req := ERC20Request(recipient, amount, asset, order.ExpireTime, order.OrderID, e.instance, e.chainID)
		if err := e.authorize(req, &order, false); err != nil {
			return err
		}
		if err := e.payout(recipient, asset, amount); err != nil {
			return err
		}
		e.emit(NewEmergencyWithdrawEvent(caller, recipient, asset, amount, order.OrderID))
		return nil
	})
}

func validateEmergency(recipient common.Address, amount *big.Int) error {
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: recipient required", ErrInvalidArgument)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	return nil
}
