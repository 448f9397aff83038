package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DepositToPool moves the caller's funds into custody and credits the pool
// balance only. For the native asset the attached value is the amount and
// the stated amount is ignored.
func (e *Engine) DepositToPool(ctx context.Context, caller, asset common.Address, amount, value *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var credited *big.Int
	err := e.atomic(func() error {
		if err := e.guardReentry("deposit"); err != nil {
			return err
		}
		if caller == (common.Address{}) {
			return fmt.Errorf("%w: depositor required", ErrInvalidArgument)
		}
		deposit := amount
		if asset == NativeAsset {
			deposit = value
		} else if value != nil && value.Sign() != 0 {
			return fmt.Errorf("%w: native value attached to token deposit", ErrInvalidArgument)
		}
		if deposit == nil || deposit.Sign() <= 0 {
			return fmt.Errorf("%w: deposit amount must be positive", ErrInvalidArgument)
		}
		deposit = new(big.Int).Set(deposit)
		if err := e.assets.Transfer(caller, e.instance, asset, deposit); err != nil {
			return fmt.Errorf("%w: collect deposit: %v", ErrExternalCallFailed, err)
		}
		if err := e.credit(ClassPool, common.Address{}, asset, deposit); err != nil {
			return err
		}
		e.emit(NewDepositEvent(caller, asset, deposit))
		credited = deposit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credited, nil
}
