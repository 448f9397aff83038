package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolBalance returns the shared liquidity available for asset.
func (e *Engine) PoolBalance(asset common.Address) (*big.Int, error) {
	return e.balanceOf(ClassPool, common.Address{}, asset)
}

// UserBalance returns the custody balance of user in asset.
func (e *Engine) UserBalance(user, asset common.Address) (*big.Int, error) {
	return e.balanceOf(ClassUser, user, asset)
}

// FeeBalance returns the fees accrued in asset.
func (e *Engine) FeeBalance(asset common.Address) (*big.Int, error) {
	return e.balanceOf(ClassFee, common.Address{}, asset)
}

func (e *Engine) balanceOf(class Class, holder, asset common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if _, err := e.state.KVGet(balanceKey(class, holder, asset), amount); err != nil {
		return nil, fmt.Errorf("pool: load %s balance: %w", class, err)
	}
	return amount, nil
}

func (e *Engine) writeBalance(class Class, holder, asset common.Address, amount *big.Int) error {
	if err := e.state.KVPut(balanceKey(class, holder, asset), amount); err != nil {
		return fmt.Errorf("pool: store %s balance: %w", class, err)
	}
	if err := e.trackAsset(asset); err != nil {
		return err
	}
	if class == ClassUser {
		return e.state.KVAppend(userIndexKey(asset), holder.Bytes())
	}
	return nil
}

// credit adds amount to the balance. The caller has already secured the
// source of funds.
func (e *Engine) credit(class Class, holder, asset common.Address, amount *big.Int) error {
	if !class.Valid() {
		return fmt.Errorf("%w: unknown balance class", ErrInvalidArgument)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: credit amount must not be negative", ErrInvalidArgument)
	}
	if amount.Sign() == 0 {
		return nil
	}
	current, err := e.balanceOf(class, holder, asset)
	if err != nil {
		return err
	}
	return e.writeBalance(class, holder, asset, current.Add(current, amount))
}

// debit removes amount from the balance and never lets it go negative.
func (e *Engine) debit(class Class, holder, asset common.Address, amount *big.Int) error {
	if !class.Valid() {
		return fmt.Errorf("%w: unknown balance class", ErrInvalidArgument)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: debit amount must not be negative", ErrInvalidArgument)
	}
	current, err := e.balanceOf(class, holder, asset)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s balance of %s is %s, need %s", ErrInsufficientBalance, class, asset.Hex(), current, amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	return e.writeBalance(class, holder, asset, current.Sub(current, amount))
}

// SetPoolBalances overwrites the pool balance of every named asset. Owner
// only.
func (e *Engine) SetPoolBalances(caller common.Address, assets []common.Address, amounts []*big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if len(assets) != len(amounts) {
			return fmt.Errorf("%w: %d assets for %d amounts", ErrArgumentMismatch, len(assets), len(amounts))
		}
		for i, asset := range assets {
			if amounts[i] == nil || amounts[i].Sign() < 0 {
				return fmt.Errorf("%w: pool balance %d must not be negative", ErrInvalidArgument, i)
			}
			if err := e.writeBalance(ClassPool, common.Address{}, asset, new(big.Int).Set(amounts[i])); err != nil {
				return err
			}
		}
		e.emit(NewPoolBalancesSetEvent(caller, assets, amounts))
		return nil
	})
}

// SetUserBalances overwrites the custody balance of each (user, asset) pair.
// Whitelisted callers only.
func (e *Engine) SetUserBalances(caller common.Address, users, assets []common.Address, amounts []*big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if err := e.requireWhitelisted(caller); err != nil {
			return err
		}
		if len(users) != len(assets) || len(users) != len(amounts) {
			return fmt.Errorf("%w: %d users, %d assets, %d amounts", ErrArgumentMismatch, len(users), len(assets), len(amounts))
		}
		for i := range users {
			if amounts[i] == nil || amounts[i].Sign() < 0 {
				return fmt.Errorf("%w: user balance %d must not be negative", ErrInvalidArgument, i)
			}
			if err := e.writeBalance(ClassUser, users[i], assets[i], new(big.Int).Set(amounts[i])); err != nil {
				return err
			}
		}
		e.emit(NewUserBalancesSetEvent(caller, users, assets, amounts))
		return nil
	})
}

func (e *Engine) trackAsset(asset common.Address) error {
	return e.state.KVAppend(assetIndexKey, asset.Bytes())
}

// TrackedAssets lists every asset that has ever held a ledger balance or a
// multi-chain flag.
func (e *Engine) TrackedAssets() ([]common.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.addressList(assetIndexKey)
}

// Users lists every account that has held a custody balance in asset.
func (e *Engine) Users(asset common.Address) ([]common.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.addressList(userIndexKey(asset))
}

func (e *Engine) addressList(key []byte) ([]common.Address, error) {
	var raw [][]byte
	if err := e.state.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, common.BytesToAddress(b))
	}
	return out, nil
}
