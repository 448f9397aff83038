package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UserWithdraw pays amount of asset out of the recipient's custody balance,
// which is debited amount+fee. The USER order is always consumed; callers
// outside the whitelist, the recipient included, must present a quorum.
func (e *Engine) UserWithdraw(ctx context.Context, caller, recipient, asset common.Address, amount, fee *big.Int, order Order) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if recipient == (common.Address{}) {
			return fmt.Errorf("%w: recipient required", ErrInvalidArgument)
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidArgument)
		}
		if fee == nil || fee.Sign() < 0 {
			return fmt.Errorf("%w: withdraw fee must not be negative", ErrInvalidArgument)
		}
		req := UserWithdrawRequest(recipient, amount, asset, fee, order.ExpireTime, order.OrderID, e.instance)
		if err := e.relayAuthorize(caller, req, &order); err != nil {
			return err
		}
		total := new(big.Int).Add(amount, fee)
		if err := e.debit(ClassUser, recipient, asset, total); err != nil {
			return err
		}
		if err := e.payout(recipient, asset, amount); err != nil {
			return err
		}
		if err := e.credit(ClassFee, common.Address{}, asset, fee); err != nil {
			return err
		}
		e.emit(NewUserWithdrawEvent(recipient, asset, total, fee, order.OrderID))
		return nil
	})
}

// PoolWithdraw releases pool liquidity to recipient under a POOL quorum.
func (e *Engine) PoolWithdraw(ctx context.Context, caller, recipient common.Address, amount *big.Int, asset common.Address, order Order) error {
	return e.multisigWithdraw(ClassPool, DomainPool, caller, recipient, amount, asset, order)
}

// PoolFeeWithdraw releases accrued fees to recipient under a FEE quorum.
func (e *Engine) PoolFeeWithdraw(ctx context.Context, caller, recipient common.Address, amount *big.Int, asset common.Address, order Order) error {
	return e.multisigWithdraw(ClassFee, DomainFee, caller, recipient, amount, asset, order)
}

func (e *Engine) multisigWithdraw(class Class, domain string, caller, recipient common.Address, amount *big.Int, asset common.Address, order Order) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if recipient == (common.Address{}) {
			return fmt.Errorf("%w: recipient required", ErrInvalidArgument)
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidArgument)
		}
		req := WithdrawRequest(domain, recipient, amount, asset, order.ExpireTime, order.OrderID, e.instance)
		if err := e.authorize(req, &order, false); err != nil {
			return err
		}
		if err := e.debit(class, common.Address{}, asset, amount); err != nil {
			return err
		}
		if err := e.payout(recipient, asset, amount); err != nil {
			return err
		}
		e.emit(NewMultisigWithdrawEvent(class, caller, recipient, asset, amount, order.OrderID))
		return nil
	})
}

// payout transfers custodied asset from the pool instance.
func (e *Engine) payout(recipient, asset common.Address, amount *big.Int) error {
	if err := e.assets.Transfer(e.instance, recipient, asset, amount); err != nil {
		return fmt.Errorf("%w: transfer %s to %s: %v", ErrExternalCallFailed, asset.Hex(), recipient.Hex(), err)
	}
	return nil
}
