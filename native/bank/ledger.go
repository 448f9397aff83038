package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientFunds is returned when a holder's custodied balance
	// cannot cover a transfer.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrInvalidAmount is returned for negative or nil amounts.
	ErrInvalidAmount = errors.New("bank: invalid amount")

	errNilState = errors.New("bank: state not configured")
)

var balancePrefix = []byte("bank/balance/")

// State is the key-value surface the ledger persists balances into. The pool
// journal satisfies it so asset movements revert together with the pool
// ledgers.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger tracks the real asset holdings of every account: the pool contract
// instance, routers, gateways and end users. The zero address asset denotes
// the native currency.
type Ledger struct {
	state State
}

// NewLedger binds a ledger to the supplied state.
func NewLedger(state State) *Ledger {
	return &Ledger{state: state}
}

func balanceKey(holder, asset common.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	key = append(key, balancePrefix...)
	key = append(key, holder.Bytes()...)
	key = append(key, asset.Bytes()...)
	return key
}

// BalanceOf returns the holder's custodied amount of asset.
func (l *Ledger) BalanceOf(holder, asset common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	amount := new(big.Int)
	if _, err := l.state.KVGet(balanceKey(holder, asset), amount); err != nil {
		return nil, fmt.Errorf("bank: load balance: %w", err)
	}
	return amount, nil
}

func (l *Ledger) setBalance(holder, asset common.Address, amount *big.Int) error {
	if err := l.state.KVPut(balanceKey(holder, asset), amount); err != nil {
		return fmt.Errorf("bank: store balance: %w", err)
	}
	return nil
}

// Transfer moves amount of asset from one holder to another. Zero amounts are
// a no-op.
func (l *Ledger) Transfer(from, to, asset common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBal, err := l.BalanceOf(from, asset)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, need %s", ErrInsufficientFunds, from.Hex(), fromBal, asset.Hex(), amount)
	}
	toBal, err := l.BalanceOf(to, asset)
	if err != nil {
		return err
	}
	if err := l.setBalance(from, asset, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.setBalance(to, asset, toBal.Add(toBal, amount))
}

// Mint credits holder with newly issued asset. It funds accounts from outside
// the pool's custody, e.g. when seeding a development network.
func (l *Ledger) Mint(holder, asset common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	bal, err := l.BalanceOf(holder, asset)
	if err != nil {
		return err
	}
	return l.setBalance(holder, asset, bal.Add(bal, amount))
}
